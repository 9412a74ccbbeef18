// Package security provides security analysis and scoring for vault records.
package security

import (
	"unicode"
	"unicode/utf8"
)

// MaxPoints is the grade of a password that cannot be improved.
const MaxPoints = 25

// lengthTiers award points by password length, longest first.
// Passwords shorter than the last tier score nothing.
var lengthTiers = []struct {
	minLength int
	points    int
}{
	{20, MaxPoints},
	{14, 17},
	{8, 8},
}

// Grade is the strength assessment of one record's password.
type Grade struct {
	Length  int `json:"length"`
	Classes int `json:"classes"`
	Points  int `json:"points"`
}

// Weak reports whether the password earns no points at all.
func (g Grade) Weak() bool {
	return g.Points == 0
}

// GradePassword grades a record password by length in characters. Mixing at
// least three of lowercase, uppercase, digits and other characters lifts a
// password of acceptable length one tier.
func GradePassword(password string) Grade {
	g := Grade{
		Length:  utf8.RuneCountInString(password),
		Classes: characterClasses(password),
	}

	tier := -1
	for i, t := range lengthTiers {
		if g.Length >= t.minLength {
			tier = i
			break
		}
	}
	if tier < 0 {
		return g
	}
	if g.Classes >= 3 && tier > 0 {
		tier--
	}
	g.Points = lengthTiers[tier].points
	return g
}

func characterClasses(password string) int {
	var lower, upper, digit, other bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}

	n := 0
	for _, present := range []bool{lower, upper, digit, other} {
		if present {
			n++
		}
	}
	return n
}
