package vault

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
)

// Character sets for generated passwords
const (
	charsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	charsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsetDigits    = "0123456789"
)

// Generated password limits
const (
	MinGeneratedLength = MinPassphraseLength
	MaxGeneratedLength = 256
)

// GeneratePassword returns a random password of the given length.
//
// ratio is the share of lowercase letters. When includeDigits or
// includeUpper is set the result holds at least one character of that class,
// and the rest of the length is split between the enabled classes. Character
// placement is shuffled.
func GeneratePassword(length int, includeDigits, includeUpper bool, ratio float64) (string, error) {
	if length < MinGeneratedLength || length > MaxGeneratedLength {
		return "", fmt.Errorf("%w: must be between %d and %d", ErrInvalidLength, MinGeneratedLength, MaxGeneratedLength)
	}
	if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
		return "", ErrInvalidRatio
	}

	var digits, upper int
	if includeDigits {
		digits = 1
	}
	if includeUpper {
		upper = 1
	}
	lower := int(math.Floor(ratio * float64(length)))
	if lower+digits+upper > length {
		lower = length - digits - upper
	}

	for lower+digits+upper < length {
		switch {
		case includeDigits && includeUpper:
			coin, err := randomInt(2)
			if err != nil {
				return "", err
			}
			if coin == 0 {
				digits++
			} else {
				upper++
			}
		case includeDigits:
			digits++
		case includeUpper:
			upper++
		default:
			lower++
		}
	}

	password := make([]byte, 0, length)
	for _, part := range []struct {
		charset string
		count   int
	}{
		{charsetLowercase, lower},
		{charsetDigits, digits},
		{charsetUppercase, upper},
	} {
		for i := 0; i < part.count; i++ {
			idx, err := randomInt(len(part.charset))
			if err != nil {
				return "", err
			}
			password = append(password, part.charset[idx])
		}
	}

	// Fisher-Yates
	for i := len(password) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		password[i], password[j] = password[j], password[i]
	}

	return string(password), nil
}

// randomInt returns a uniform random integer in [0, n) from crypto/rand.
func randomInt(n int) (int, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("vault: failed to generate random number: %w", err)
	}
	return int(idx.Int64()), nil
}
