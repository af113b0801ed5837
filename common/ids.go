package common

import "github.com/google/uuid"

// NewAlertID returns a short identifier unique within this process: a
// uuid4 truncated to 8 hex characters.
func NewAlertID() string {
	return uuid.NewString()[:8]
}
