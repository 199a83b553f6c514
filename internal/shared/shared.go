// Package shared holds small helpers shared across the connection, session,
// and link layers that don't belong to any one of them.
package shared

import (
	"crypto/rand"
	"math/big"
)

const randCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandString returns a random alphanumeric string of length n, used to seed
// link names and delivery tags that must be unique per-connection but need
// not be cryptographically unpredictable.
func RandString(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(randCharset)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure means the platform RNG is broken; there's
			// no sane fallback that preserves the uniqueness guarantee.
			panic("shared: crypto/rand unavailable: " + err.Error())
		}
		b[i] = randCharset[idx.Int64()]
	}
	return string(b)
}
