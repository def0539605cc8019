package identity

import "errors"

var (
	// ErrSessionNotFound indicates no live session matches the token
	ErrSessionNotFound = errors.New("identity.session_not_found")

	// ErrUserNotFound indicates no active user matches the lookup
	ErrUserNotFound = errors.New("identity.user_not_found")

	// ErrXsrfTokenMismatch indicates the supplied XSRF secret does not match the session's
	ErrXsrfTokenMismatch = errors.New("identity.xsrf_token_mismatch")

	// ErrTooManyUsers indicates a bulk lookup exceeding MaxUsersPerLookup
	ErrTooManyUsers = errors.New("identity.too_many_users")

	// ErrPolicyRegressed indicates a cookie-policy agreement flag moving from true
	// to false across a user recreate, which no valid execution can produce
	ErrPolicyRegressed = errors.New("identity.cookie_policy_regressed")

	// ErrStoreFailure wraps any underlying storage failure or constraint violation
	ErrStoreFailure = errors.New("identity.store_failure")
)

// wrapStoreErr passes domain errors through untouched and folds everything
// else into ErrStoreFailure so callers can match error kinds exhaustively.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{
		ErrSessionNotFound,
		ErrUserNotFound,
		ErrXsrfTokenMismatch,
		ErrTooManyUsers,
		ErrPolicyRegressed,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return errors.Join(ErrStoreFailure, err)
}
