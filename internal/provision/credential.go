package provision

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	passwordLength   = 12
	passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%^&*"
)

// NewTemporaryPassword generates an initial credential for a new account.
// The plaintext exists only long enough to be delivered; the store keeps
// the hash.
func NewTemporaryPassword() (string, error) {
	buf := make([]byte, passwordLength)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("provision: generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// HashCredential hashes a plaintext credential using bcrypt.
func HashCredential(plaintext string) (string, error) {
	if len(plaintext) == 0 {
		return "", errors.New("provision: credential is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyCredential compares a plaintext credential with a stored hash.
func VerifyCredential(hash, plaintext string) error {
	if hash == "" {
		return errors.New("provision: credential hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
}
