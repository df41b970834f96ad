package encryption

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandomHex returns length bytes from the system CSPRNG, hex encoded.
func RandomHex(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random string: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
