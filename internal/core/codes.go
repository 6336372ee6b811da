package core

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RoomCodeAlphabet is the character set for room codes. Visually confusable
// characters (0/O, 1/I) are excluded so codes survive being read aloud or
// retyped from a screen.
const RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewRoomCode produces a cryptographically random room code of the given
// length, drawn from RoomCodeAlphabet.
func NewRoomCode(length int) (string, error) {
	max := big.NewInt(int64(len(RoomCodeAlphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		code[i] = RoomCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
