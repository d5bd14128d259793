package vpn

import (
	"crypto/rand"
	"fmt"
)

// pskAlphabet avoids characters that need escaping in ipsec.secrets.
const pskAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GeneratePSK returns a random pre-shared key of the given length.
func GeneratePSK(length int) (string, error) {
	if length <= 0 {
		length = 32
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = pskAlphabet[int(b)%len(pskAlphabet)]
	}
	return string(buf), nil
}
