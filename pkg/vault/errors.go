package vault

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrNotAuthenticated    = errors.New("vault: not authenticated")
	ErrValidation          = errors.New("vault: validation failed")
	ErrPasswordReused      = errors.New("vault: password was used before for this record")
	ErrCrypto              = errors.New("vault: cryptographic operation failed")
	ErrStore               = errors.New("vault: store operation failed")
	ErrIncompleteKnowledge = errors.New("vault: not every stored password is known, list records before changing the master key")
	ErrRecordNotFound      = errors.New("vault: record not found")
	ErrCooldownActive      = errors.New("vault: cooldown period active")
	ErrInvalidLength       = errors.New("vault: invalid password length")
	ErrInvalidRatio        = errors.New("vault: ratio must be between 0 and 1")
)

// ValidationResult is the outcome of a passphrase or record check.
type ValidationResult int

const (
	Legal ValidationResult = iota
	TooShort
	MissingCharacterClasses
	Empty
	EmptyName
	EmptyUserName
	EmptyPassword
	NameAlreadyExists
	// PasswordReused is a warning: the update may proceed once confirmed.
	PasswordReused
)

// String returns a human-readable representation of the result
func (r ValidationResult) String() string {
	switch r {
	case Legal:
		return "legal"
	case TooShort:
		return fmt.Sprintf("must be at least %d characters", MinPassphraseLength)
	case MissingCharacterClasses:
		return "must contain a digit, a lowercase and an uppercase letter"
	case Empty:
		return "must not be empty"
	case EmptyName:
		return "name must not be empty"
	case EmptyUserName:
		return "user name must not be empty"
	case EmptyPassword:
		return "password must not be empty"
	case NameAlreadyExists:
		return "a record with this name already exists"
	case PasswordReused:
		return "password was used before for this record"
	default:
		return "unknown"
	}
}

// ValidationError carries the reason a passphrase or record was rejected.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	return "vault: validation failed: " + e.Result.String()
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ValidationReason extracts the validation result from err, if any.
func ValidationReason(err error) (ValidationResult, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Result, true
	}
	return Legal, false
}
