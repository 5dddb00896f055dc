package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a URL-safe random id (a v4 UUID without dashes).
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
