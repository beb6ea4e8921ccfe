package auth

// Error is a domain failure with a machine-readable code and an HTTP status
// hint. Frontends key off Code; the transport layer keys off Status.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Credential and token errors are intentionally vague: the message never
// distinguishes unknown email from wrong password, nor malformed from
// expired from revoked tokens.
var (
	ErrInvalidCredentials = &Error{Code: "AUTH_001", Status: 401, Message: "invalid email or password"}
	ErrEmailTaken         = &Error{Code: "AUTH_002", Status: 409, Message: "email is already registered"}
	ErrUsernameTaken      = &Error{Code: "AUTH_003", Status: 409, Message: "username is already taken"}
	ErrTokenInvalid       = &Error{Code: "AUTH_004", Status: 401, Message: "invalid or expired token"}

	// ErrTokenReuse marks a replayed refresh token. Its side effect (family
	// revocation) is stronger than its visible shape: handlers report it
	// exactly like ErrTokenInvalid.
	ErrTokenReuse = &Error{Code: "AUTH_005", Status: 401, Message: "invalid or expired token"}

	ErrUnauthenticated   = &Error{Code: "AUTH_006", Status: 401, Message: "authentication required"}
	ErrResetTokenInvalid = &Error{Code: "AUTH_007", Status: 400, Message: "invalid or expired reset token"}
	ErrForbidden         = &Error{Code: "FORBIDDEN_001", Status: 403, Message: "access denied"}
)
