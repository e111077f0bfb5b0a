package conversation

import "errors"

// Error taxonomy surfaced by the manager. Handlers translate these to
// HTTP status codes; adapter and store internals are never leaked raw.
var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrSessionNotFound        = errors.New("session not found")
	ErrAnalysisUnavailable    = errors.New("image analysis unavailable")
	ErrGenerationUnavailable  = errors.New("reply generation unavailable")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrConflict               = errors.New("session already exists")
	ErrInvalidTransition      = errors.New("session is not active")
)
