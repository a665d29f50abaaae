// Package sharecode implements the ShareCode entity (§3, §6): a
// 4-character case-insensitive token drawn from an unambiguous
// alphabet, canonicalized to uppercase on the wire.
package sharecode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sanchxt/ldrop/pkg/constants"
)

var upperCaser = cases.Upper(language.Und)

// Code is the canonical uppercase string form of a ShareCode.
type Code string

// New generates a fresh random 4-character share code from the
// canonical alphabet.
func New() (Code, error) {
	letters := make([]byte, constants.ShareCodeLength)
	alphabetLen := big.NewInt(int64(len(constants.ShareCodeAlphabet)))
	for i := range letters {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("generate share code: %w", err)
		}
		letters[i] = constants.ShareCodeAlphabet[n.Int64()]
	}
	return Code(letters), nil
}

// Parse canonicalizes user input (trimmed, case-insensitive) into a
// Code, rejecting any character outside the alphabet. Other width
// forms of the letters are not folded, so they are rejected too.
func Parse(input string) (Code, error) {
	normalized := upperCaser.String(strings.TrimSpace(input))
	if len(normalized) != constants.ShareCodeLength {
		return "", fmt.Errorf("share code must be %d characters, got %d", constants.ShareCodeLength, len(normalized))
	}
	for _, r := range normalized {
		if !strings.ContainsRune(constants.ShareCodeAlphabet, r) {
			return "", fmt.Errorf("share code contains invalid character %q", r)
		}
	}
	return Code(normalized), nil
}

// String returns the canonical uppercase form.
func (c Code) String() string { return string(c) }
