package channel

import (
	"crypto/rand"
	"strings"
)

const roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RoomIDLength is the length of generated game ids.
const RoomIDLength = 7

// NewRoomID returns RoomIDLength lowercase base-36 characters.
func NewRoomID() (string, error) {
	b := make([]byte, RoomIDLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = roomIDAlphabet[int(b[i])%len(roomIDAlphabet)]
	}
	return string(b), nil
}

// NormalizeRoomID trims and lowercases a user-entered id.
func NormalizeRoomID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
