package conversation

import "time"

// Status tracks the session lifecycle. Transitions are monotonic:
// active may become completed or expired, both of which are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// Session is one time-boxed image-grounded conversation. ImageURL is set
// once at creation and never changes; EndTime is set exactly when the
// session leaves the active status.
type Session struct {
	ID               string     `json:"id"`
	ImageURL         string     `json:"imageUrl"`
	ImageDescription string     `json:"imageDescription,omitempty"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	Status           Status     `json:"status"`
}
