// Package util provides utility functions for the VoicePipe application.
package util

import (
	"math/rand"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand; these IDs are for log correlation, not security.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// GenerateCallID generates a correlation ID with "call_" prefix for webhook
// requests that arrive without a carrier call identifier.
func GenerateCallID() string {
	return GenerateRandomID("call_", 24)
}
