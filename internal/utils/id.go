package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// NewID returns a best-effort unique identifier.
func NewID() string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// DeriveRoomID builds a fresh media room id for one call attempt on a chat.
// The millisecond suffix keeps room ids unique even when the same two
// parties call each other repeatedly on the same chat.
func DeriveRoomID(chatID string) string {
	return fmt.Sprintf("%s-%d", chatID, time.Now().UnixMilli())
}
