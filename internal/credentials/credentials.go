// Package credentials generates RPC credentials for wallet and node configs.
package credentials

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Length of generated rpcuser and rpcpassword values.
const Length = 32

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a random string of length characters drawn uniformly
// from ASCII letters and digits.
func Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid credential length %d", length)
	}

	limit := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// RPC returns a fresh rpcuser and rpcpassword pair.
func RPC() (user, password string, err error) {
	if user, err = Generate(Length); err != nil {
		return "", "", err
	}
	if password, err = Generate(Length); err != nil {
		return "", "", err
	}
	return user, password, nil
}
