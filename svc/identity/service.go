package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	idstore "github.com/dmitrymomot/identitykit/pkg/identity"
	"github.com/dmitrymomot/identitykit/pkg/logger"
	"github.com/dmitrymomot/identitykit/pkg/provider"
)

// Service is the surface the routing layer talks to. It adds structured
// logging and an optional public-profile cache on top of a Store; all
// consistency guarantees live in the store itself.
type Service struct {
	store idstore.Store
	cache ProfileCache
	log   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger; nil loggers are ignored.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithProfileCache enables the read-through cache for GetUsersInfo.
func WithProfileCache(cache ProfileCache) Option {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// NewService wraps a store. Without options it logs through slog.Default
// and runs without a cache.
func NewService(store idstore.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) GetOrCreateSession(ctx context.Context, token *idstore.SessionToken, now time.Time) (idstore.SessionToken, *idstore.Session, bool, error) {
	tok, sess, created, err := s.store.GetOrCreateSession(ctx, token, now)
	if err != nil {
		s.logErr(ctx, "get_or_create_session", err)
		return idstore.SessionToken{}, nil, false, err
	}

	s.log.DebugContext(ctx, "session resolved",
		slog.String("operation", "get_or_create_session"),
		slog.String("session_id", sess.ID.String()),
		slog.Bool("created", created),
	)
	return tok, sess, created, nil
}

func (s *Service) GetSession(ctx context.Context, token idstore.SessionToken) (*idstore.Session, error) {
	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		s.logErr(ctx, "get_session", err)
		return nil, err
	}
	return sess, nil
}

func (s *Service) ExpireSession(ctx context.Context, token idstore.SessionToken, now time.Time, xsrfToken string) error {
	if err := s.store.ExpireSession(ctx, token, now, xsrfToken); err != nil {
		s.logErr(ctx, "expire_session", err)
		return err
	}

	s.log.DebugContext(ctx, "session expired",
		slog.String("operation", "expire_session"),
		slog.String("session_id", token.SessionID.String()),
	)
	return nil
}

func (s *Service) AgreeToCookiePolicy(ctx context.Context, token idstore.SessionToken, now time.Time, xsrfToken string) (*idstore.Session, error) {
	sess, err := s.store.AgreeToCookiePolicy(ctx, token, now, xsrfToken)
	if err != nil {
		s.logErr(ctx, "agree_to_cookie_policy", err)
		return nil, err
	}

	// The user row may have changed; its cached projection is stale now.
	if sess.UserID != nil {
		s.invalidateProfiles(ctx, *sess.UserID)
	}

	s.log.DebugContext(ctx, "cookie policy agreed",
		slog.String("operation", "agree_to_cookie_policy"),
		slog.String("session_id", sess.ID.String()),
	)
	return sess, nil
}

func (s *Service) GetOrCreateUserOnSession(ctx context.Context, token idstore.SessionToken, p provider.Profile, now time.Time, xsrfToken string) (idstore.SessionToken, *idstore.Session, bool, error) {
	tok, sess, created, err := s.store.GetOrCreateUserOnSession(ctx, token, p, now, xsrfToken)
	if err != nil {
		s.logErr(ctx, "get_or_create_user_on_session", err)
		return idstore.SessionToken{}, nil, false, err
	}

	if sess.UserID != nil {
		s.invalidateProfiles(ctx, *sess.UserID)
	}

	s.log.DebugContext(ctx, "user resolved on session",
		slog.String("operation", "get_or_create_user_on_session"),
		slog.String("session_id", sess.ID.String()),
		slog.Bool("created", created),
	)
	return tok, sess, created, nil
}

func (s *Service) GetUserOnSession(ctx context.Context, token idstore.SessionToken, p provider.Profile) (*idstore.Session, error) {
	sess, err := s.store.GetUserOnSession(ctx, token, p)
	if err != nil {
		s.logErr(ctx, "get_user_on_session", err)
		return nil, err
	}
	return sess, nil
}

// GetUsersInfo serves public profiles through the cache when one is
// configured. The batch cap is enforced before the cache is touched, so a
// capacity violation can never be masked by cached entries; the
// all-or-nothing contract is preserved because any store miss fails the
// whole call before results are assembled.
func (s *Service) GetUsersInfo(ctx context.Context, ids []int64) ([]idstore.PublicUser, error) {
	if len(ids) > idstore.MaxUsersPerLookup {
		s.logErr(ctx, "get_users_info", idstore.ErrTooManyUsers)
		return nil, idstore.ErrTooManyUsers
	}

	if s.cache == nil {
		users, err := s.store.GetUsersInfo(ctx, ids)
		if err != nil {
			s.logErr(ctx, "get_users_info", err)
			return nil, err
		}
		return users, nil
	}

	users, err := s.getUsersInfoCached(ctx, ids)
	if err != nil {
		s.logErr(ctx, "get_users_info", err)
		return nil, err
	}
	return users, nil
}

func (s *Service) getUsersInfoCached(ctx context.Context, ids []int64) ([]idstore.PublicUser, error) {
	// Cache errors are treated as misses throughout: the cache may never
	// fail a request the store could serve.
	byID := make(map[int64]idstore.PublicUser, len(ids))
	var missing []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if user, ok := s.cache.Get(ctx, id); ok {
			byID[id] = user
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		fetched, err := s.store.GetUsersInfo(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, user := range fetched {
			byID[user.ID] = user
			s.cache.Set(ctx, user)
		}
	}

	out := make([]idstore.PublicUser, 0, len(byID))
	for _, id := range ids {
		if user, ok := byID[id]; ok {
			out = append(out, user)
			delete(byID, id)
		}
	}
	return out, nil
}

func (s *Service) invalidateProfiles(ctx context.Context, ids ...int64) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(ctx, ids...)
}

func (s *Service) logErr(ctx context.Context, operation string, err error) {
	attrs := []any{
		slog.String("operation", operation),
		logger.Error(err),
	}
	if errors.Is(err, idstore.ErrStoreFailure) {
		s.log.ErrorContext(ctx, "identity store failure", attrs...)
		return
	}
	s.log.WarnContext(ctx, "identity operation rejected", attrs...)
}
