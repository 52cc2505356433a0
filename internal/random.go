package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	refreshTokenRawSize = 32
	lockTokenRawSize    = 16
)

// NewRefreshToken returns an opaque refresh token and the hash that is
// persisted in its place. The plaintext is never stored.
func NewRefreshToken() (token string, hash string, err error) {
	var raw [refreshTokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", "", err
	}

	token = base64.RawURLEncoding.EncodeToString(raw[:])
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken maps a presented refresh token to its storage key.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidRefreshTokenShape rejects values that could never have been minted by
// NewRefreshToken before any store round trip.
func ValidRefreshTokenShape(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return len(raw) == refreshTokenRawSize
}

// NewLockToken returns a random owner token for short-lived Redis locks.
func NewLockToken() (string, error) {
	var raw [lockTokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// HashValue returns the hex sha256 of v. Used for user-agent keys and
// request body digests.
func HashValue(v []byte) string {
	sum := sha256.Sum256(v)
	return hex.EncodeToString(sum[:])
}

func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}
