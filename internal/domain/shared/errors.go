package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	// ErrInvalidCredentials is user-correctable and shown inline on the login form.
	ErrInvalidCredentials = NewDomainError("INVALID_CREDENTIALS", "Invalid username or password")

	// ErrProductUnavailable means the referenced product no longer exists remotely.
	// It is surfaced as a cart notice, never a fatal error.
	ErrProductUnavailable = NewDomainError("PRODUCT_UNAVAILABLE", "Product is no longer available")

	// ErrNetworkFailure is transient; the next scheduled refresh or validation
	// pass retries, never an immediate retry.
	ErrNetworkFailure = NewDomainError("NETWORK_FAILURE", "Could not reach the server")

	// ErrSessionExpired is terminal for the current session and forces local logout.
	ErrSessionExpired = NewDomainError("SESSION_EXPIRED", "Session has expired")

	// ErrInvalidUserContext is a precondition error: an operation was invoked
	// without a resolvable user identity. Logged and aborted, never ignored.
	ErrInvalidUserContext = NewDomainError("INVALID_USER_CONTEXT", "No user context for this operation")

	ErrInvalidInput = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrNotFound     = NewDomainError("NOT_FOUND", "Resource not found")
)
