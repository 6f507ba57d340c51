package utils

import (
	"github.com/google/uuid"
)

// GenerateID returns a new time-ordered (UUIDv7) identifier string.
// Falls back to a random UUIDv4 if the v7 generator fails.
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
