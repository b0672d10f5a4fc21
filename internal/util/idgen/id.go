package idgen

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	idAlphabet    = "0123456789abcdefghjkmnpqrstvwxyz"
	tokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	TokenPrefix = "bkd_"
)

func init() {
	if len(idAlphabet) != 32 {
		panic("must not happen")
	}
	if len(tokenAlphabet) != 62 {
		panic("must not happen")
	}
}

// ID returns a 26-char lowercase ULID-like identifier. IDs generated in later
// milliseconds sort after earlier ones.
func ID() string {
	var b strings.Builder
	b.Grow(26)
	ts := uint64(time.Now().UnixMilli()) & ((1 << 48) - 1)
	for i := 45; i >= 0; i -= 5 {
		_ = b.WriteByte(idAlphabet[(ts>>i)&31])
	}
	for range 2 {
		r := rand.Uint64()
		for range 8 {
			_ = b.WriteByte(idAlphabet[r&31])
			r >>= 5
		}
	}
	return b.String()
}

func SecureToken() (string, error) {
	var b strings.Builder
	_, _ = b.WriteString(TokenPrefix)
	var bigLen = big.NewInt(int64(len(tokenAlphabet)))
	for range 32 {
		idx, err := crand.Int(crand.Reader, bigLen)
		if err != nil {
			return "", fmt.Errorf("crypto rand: %w", err)
		}
		_ = b.WriteByte(tokenAlphabet[int(idx.Int64())])
	}
	return b.String(), nil
}
