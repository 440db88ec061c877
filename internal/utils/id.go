package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID returns a random UUID used for chats, messages and media objects.
func NewID() string {
	return uuid.NewString()
}

// NewShortID returns a short best-effort unique identifier for connections and instances.
func NewShortID() string {
	const size = 6

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}
