package services

import (
	"fmt"
	"strings"

	"telecare/internal/config"

	nanoid "github.com/jaevor/go-nanoid"
)

// CodeGenerator produces human-enterable meeting codes
type CodeGenerator func() string

// NewCodeGenerator builds a generator over an uppercase alphabet. The alphabet
// must hold at least two distinct printable ASCII characters and the length
// must be within the meeting code bounds; outside them the underlying
// generator never returns.
func NewCodeGenerator(alphabet string, length int) (CodeGenerator, error) {
	alphabet = strings.ToUpper(alphabet)
	if err := validateAlphabet(alphabet); err != nil {
		return nil, err
	}
	if length < config.MinMeetingCodeLength || length > config.MaxMeetingCodeLength {
		return nil, fmt.Errorf("meeting code generator: length must be between %d and %d, got %d",
			config.MinMeetingCodeLength, config.MaxMeetingCodeLength, length)
	}

	gen, err := nanoid.CustomASCII(alphabet, length)
	if err != nil {
		return nil, fmt.Errorf("meeting code generator: %w", err)
	}
	return CodeGenerator(gen), nil
}

func validateAlphabet(alphabet string) error {
	if len(alphabet) < 2 {
		return fmt.Errorf("meeting code generator: alphabet needs at least two characters")
	}
	seen := make(map[byte]bool, len(alphabet))
	for i := 0; i < len(alphabet); i++ {
		ch := alphabet[i]
		if ch <= ' ' || ch > '~' {
			return fmt.Errorf("meeting code generator: alphabet must be printable ASCII")
		}
		if seen[ch] {
			return fmt.Errorf("meeting code generator: duplicate %q in alphabet", ch)
		}
		seen[ch] = true
	}
	return nil
}

// NormalizeMeetingCode trims and upper-cases a code typed by a user
func NormalizeMeetingCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
