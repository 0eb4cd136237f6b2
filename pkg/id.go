package pkg

import "github.com/google/uuid"

// NewID returns a fresh random identifier for a fabric connection,
// device instance, or background operation.
func NewID() string {
	return uuid.NewString()
}
