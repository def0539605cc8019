package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/identitykit/pkg/provider"
	"github.com/dmitrymomot/identitykit/pkg/token"
)

// MemoryStore implements Store with in-process maps. It mirrors the
// PostgreSQL store's semantics exactly — including the all-or-nothing
// behavior of each operation — so the transactional contract can be
// exercised without a database. A single mutex plays the role of the
// engine's row locks: each operation is one critical section, so partial
// effects of a failed operation are never observable.
type MemoryStore struct {
	mu sync.Mutex

	sessions    map[uuid.UUID]*Session
	usersByHash map[string]*User
	usersByID   map[int64]*User
	nextUserID  int64

	sessionEvents map[uuid.UUID][]SessionEvent
	userEvents    map[int64][]UserEvent
	nextEventID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[uuid.UUID]*Session),
		usersByHash:   make(map[string]*User),
		usersByID:     make(map[int64]*User),
		sessionEvents: make(map[uuid.UUID][]SessionEvent),
		userEvents:    make(map[int64][]UserEvent),
	}
}

func (m *MemoryStore) GetOrCreateSession(ctx context.Context, tok *SessionToken, now time.Time) (SessionToken, *Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tok != nil {
		if sess, ok := m.sessions[tok.SessionID]; ok && sess.State.IsLive() {
			out := copySession(sess)
			return out.Token(), out, false, nil
		}
	}

	xsrfToken, err := token.NewXsrfToken()
	if err != nil {
		return SessionToken{}, nil, false, wrapStoreErr(err)
	}

	sess := &Session{
		ID:              token.NewSessionID(),
		State:           SessionStateActive,
		XsrfToken:       xsrfToken,
		TimeCreated:     now,
		TimeLastUpdated: now,
	}
	m.sessions[sess.ID] = sess
	m.appendSessionEvent(sess.ID, SessionEventCreated, now)

	out := copySession(sess)
	return out.Token(), out, true, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, tok SessionToken) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[tok.SessionID]
	if !ok || !sess.State.IsLive() {
		return nil, ErrSessionNotFound
	}
	return copySession(sess), nil
}

func (m *MemoryStore) ExpireSession(ctx context.Context, tok SessionToken, now time.Time, xsrfToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[tok.SessionID]
	if !ok || !sess.State.IsLive() {
		return ErrSessionNotFound
	}

	// The postgres store transitions and verifies inside one transaction; a
	// mismatch rolls everything back. Checking before mutating here yields
	// the identical net effect.
	if !sess.VerifyXsrfToken(xsrfToken) {
		return ErrXsrfTokenMismatch
	}

	removed := now
	sess.State = SessionStateRemoved
	sess.TimeLastUpdated = now
	sess.TimeRemoved = &removed
	m.appendSessionEvent(sess.ID, SessionEventRemoved, now)
	return nil
}

func (m *MemoryStore) AgreeToCookiePolicy(ctx context.Context, tok SessionToken, now time.Time, xsrfToken string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[tok.SessionID]
	if !ok || !sess.State.IsLive() {
		return nil, ErrSessionNotFound
	}
	if !sess.VerifyXsrfToken(xsrfToken) {
		return nil, ErrXsrfTokenMismatch
	}

	// Resolve the linked user before mutating anything so a missing user
	// leaves the session untouched, as a rolled-back transaction would.
	var user *User
	if sess.UserID != nil {
		user, ok = m.usersByID[*sess.UserID]
		if !ok || user.State != UserStateActive {
			return nil, ErrUserNotFound
		}
	}

	sess.AgreedToCookiePolicy = true
	sess.TimeLastUpdated = now
	m.appendSessionEvent(sess.ID, SessionEventAgreedToCookiePolicy, now)

	if user != nil {
		user.AgreedToCookiePolicy = true
		user.TimeLastUpdated = now
		m.appendUserEvent(user.ID, UserEventAgreedToCookiePolicy, now)
	}

	return copySession(sess), nil
}

func (m *MemoryStore) GetOrCreateUserOnSession(ctx context.Context, tok SessionToken, p provider.Profile, now time.Time, xsrfToken string) (SessionToken, *Session, bool, error) {
	if err := p.Validate(); err != nil {
		return SessionToken{}, nil, false, wrapStoreErr(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[tok.SessionID]
	if !ok || !sess.State.IsLive() {
		return SessionToken{}, nil, false, ErrSessionNotFound
	}
	if !sess.VerifyXsrfToken(xsrfToken) {
		return SessionToken{}, nil, false, ErrXsrfTokenMismatch
	}

	hash := p.UserIDHash()
	existing := m.usersByHash[hash]

	// Cross-link rejection must not leave a half-applied upsert behind, so
	// it is decided before any mutation.
	if existing != nil && sess.UserID != nil && *sess.UserID != existing.ID {
		return SessionToken{}, nil, false, ErrSessionNotFound
	}
	if existing == nil && sess.UserID != nil {
		return SessionToken{}, nil, false, ErrSessionNotFound
	}

	var (
		user    *User
		created bool
	)
	if existing == nil {
		m.nextUserID++
		user = &User{
			ID:                   m.nextUserID,
			State:                UserStateActive,
			Role:                 RoleRegular,
			AgreedToCookiePolicy: sess.AgreedToCookiePolicy,
			ProviderUserID:       p.ProviderUserID,
			ProviderUserIDHash:   hash,
			Profile:              p,
			TimeCreated:          now,
			TimeLastUpdated:      now,
		}
		m.usersByHash[hash] = user
		m.usersByID[user.ID] = user
		created = true
	} else {
		user = existing
		user.State = UserStateActive
		user.TimeRemoved = nil
		user.AgreedToCookiePolicy = user.AgreedToCookiePolicy || sess.AgreedToCookiePolicy
		user.Profile = p
		user.TimeLastUpdated = now
	}

	eventType := UserEventRecreated
	if created {
		eventType = UserEventCreated
	}
	m.appendUserEvent(user.ID, eventType, now)

	if created && user.AgreedToCookiePolicy {
		m.appendUserEvent(user.ID, UserEventAgreedToCookiePolicy, now)
	}

	if !created && sess.AgreedToCookiePolicy && !user.AgreedToCookiePolicy {
		return SessionToken{}, nil, false, ErrPolicyRegressed
	}

	if sess.UserID == nil {
		uid := user.ID
		sess.State = SessionStateLinkedWithUser
		sess.AgreedToCookiePolicy = user.AgreedToCookiePolicy
		sess.UserID = &uid
		sess.TimeLastUpdated = now
		m.appendSessionEvent(sess.ID, SessionEventLinkedWithUser, now)
	}

	out := copySession(sess)
	out.User = user.privateUser(p)
	return out.Token(), out, created, nil
}

func (m *MemoryStore) GetUserOnSession(ctx context.Context, tok SessionToken, p provider.Profile) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, wrapStoreErr(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByHash[p.UserIDHash()]
	if !ok || user.State != UserStateActive {
		return nil, ErrUserNotFound
	}

	sess, ok := m.sessions[tok.SessionID]
	if !ok || sess.State != SessionStateLinkedWithUser {
		return nil, ErrSessionNotFound
	}
	if sess.UserID == nil || *sess.UserID != user.ID {
		return nil, ErrSessionNotFound
	}

	out := copySession(sess)
	out.User = user.privateUser(p)
	return out, nil
}

func (m *MemoryStore) GetUsersInfo(ctx context.Context, ids []int64) ([]PublicUser, error) {
	ids = dedupeIDs(ids)
	if len(ids) > MaxUsersPerLookup {
		return nil, ErrTooManyUsers
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PublicUser, 0, len(ids))
	for _, id := range ids {
		user, ok := m.usersByID[id]
		if !ok || user.State != UserStateActive {
			return nil, ErrUserNotFound
		}
		out = append(out, user.publicUser())
	}
	return out, nil
}

// SessionEvents returns the audit trail recorded for one session, oldest
// first. Intended for tests and diagnostics; the core operations never read
// events back.
func (m *MemoryStore) SessionEvents(sessionID uuid.UUID) []SessionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.sessionEvents[sessionID]
	out := make([]SessionEvent, len(events))
	copy(out, events)
	return out
}

// UserEvents returns the audit trail recorded for one user, oldest first.
func (m *MemoryStore) UserEvents(userID int64) []UserEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.userEvents[userID]
	out := make([]UserEvent, len(events))
	copy(out, events)
	return out
}

func (m *MemoryStore) appendSessionEvent(sessionID uuid.UUID, eventType SessionEventType, now time.Time) {
	m.nextEventID++
	m.sessionEvents[sessionID] = append(m.sessionEvents[sessionID], SessionEvent{
		ID:         m.nextEventID,
		Type:       eventType,
		OccurredAt: now,
		SessionID:  sessionID,
	})
}

func (m *MemoryStore) appendUserEvent(userID int64, eventType UserEventType, now time.Time) {
	m.nextEventID++
	m.userEvents[userID] = append(m.userEvents[userID], UserEvent{
		ID:         m.nextEventID,
		Type:       eventType,
		OccurredAt: now,
		UserID:     userID,
	})
}

func copySession(sess *Session) *Session {
	out := *sess
	if sess.UserID != nil {
		id := *sess.UserID
		out.UserID = &id
	}
	if sess.TimeRemoved != nil {
		t := *sess.TimeRemoved
		out.TimeRemoved = &t
	}
	out.User = nil
	return &out
}
