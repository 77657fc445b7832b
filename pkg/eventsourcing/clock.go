package eventsourcing

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// TimeFunc is a function that returns the current time.
// This can be overridden for testing.
var TimeFunc = time.Now

// Now returns the current time using the configured TimeFunc.
func Now() time.Time {
	return TimeFunc()
}

// generateRandomEventID generates a random unique event ID.
// Used as a fallback when no command context is set.
func generateRandomEventID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(b)
}

// GenerateID generates a unique identifier.
func GenerateID() string {
	return generateRandomEventID()
}
