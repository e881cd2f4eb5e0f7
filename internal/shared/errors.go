package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed    = fmt.Errorf("authentication failed")
	ErrForbidden     = fmt.Errorf("forbidden")
	ErrTokenExpired  = fmt.Errorf("access token expired")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrNoAccessToken = fmt.Errorf("no access token available")

	// Job coordination errors
	ErrAlreadyRunning    = fmt.Errorf("job already running for resource")
	ErrLockLost          = fmt.Errorf("resource lock lost")
	ErrWorkFailed        = fmt.Errorf("work failed")
	ErrNotFound          = fmt.Errorf("not found")
	ErrStoreUnavailable  = fmt.Errorf("state store unavailable")
	ErrCancelled         = fmt.Errorf("job cancelled")
	ErrInvalidKind       = fmt.Errorf("invalid job kind")
	ErrInvalidTransition = fmt.Errorf("invalid state transition")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
