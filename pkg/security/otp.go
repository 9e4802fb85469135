package security

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const DefaultOTPLength = 6

// GenerateOTP returns a numeric one-time code of the given length drawn from crypto/rand.
func GenerateOTP(length int) (string, error) {
	if length <= 0 {
		length = DefaultOTPLength
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

// GenerateSessionID returns a random opaque session identifier.
func GenerateSessionID() string {
	return uuid.NewString()
}
