package captcha

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	mrand "math/rand"
	"strings"
)

// DefaultAlphabet leaves out the glyphs people confuse (0/O, 1/I).
const DefaultAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const DefaultLength = 6

// GenerateSecret draws length symbols uniformly from alphabet.
func GenerateSecret(length int, alphabet string) string {
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	if length <= 0 {
		length = DefaultLength
	}
	symbols := []rune(alphabet)
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteRune(symbols[randIndex(len(symbols))])
	}
	return b.String()
}

// Normalize keeps ASCII letters and digits and uppercases them.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Matches compares a submitted answer against the stored secret after
// normalising both. An answer that normalises to nothing never matches.
func Matches(answer, secret string) bool {
	got := Normalize(answer)
	want := Normalize(secret)
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func randIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return mrand.Intn(n)
	}
	return int(v.Int64())
}
