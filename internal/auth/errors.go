package auth

import "errors"

var (
	ErrValidation             = errors.New("auth: invalid input")
	ErrConflict               = errors.New("auth: already exists")
	ErrInvalidCredentials     = errors.New("auth: invalid email or password")
	ErrAccountDisabled        = errors.New("auth: account disabled")
	ErrInvalidSession         = errors.New("auth: invalid or expired session")
	ErrMissingToken           = errors.New("auth: missing token")
	ErrPermissionDenied       = errors.New("auth: permission denied")
	ErrSelfModificationDenied = errors.New("auth: cannot modify own account")
	ErrNotFound               = errors.New("auth: not found")
	ErrStore                  = errors.New("auth: store failure")
)

// Audit reasons recorded for authentication attempts. They never leave the
// process except through the audit trail and logs.
const (
	ReasonUnknownEmail    = "unknown email"
	ReasonAccountDisabled = "account disabled"
	ReasonBadPassword     = "bad password"
	ReasonLogin           = "login"
	ReasonLogout          = "logout"
)

// CredentialError is returned by Login. Error() exposes only the public kind;
// Reason is kept for the audit trail and server-side logs.
type CredentialError struct {
	Kind   error
	Reason string
}

func (e *CredentialError) Error() string { return e.Kind.Error() }

func (e *CredentialError) Unwrap() error { return e.Kind }

// StoreError wraps an underlying store failure. It is surfaced as-is and
// never retried.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "auth: " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// storeErr passes domain errors through and wraps everything else.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrStore} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &StoreError{Op: op, Err: err}
}
