package vault

import (
	"errors"
	"fmt"

	"github.com/forest6511/safelogger/pkg/store"
)

// MinPassphraseLength is the shortest acceptable master passphrase.
const MinPassphraseLength = 6

// ValidatePassphrase checks a candidate master passphrase: at least
// MinPassphraseLength characters with an ASCII digit, lowercase and uppercase
// letter.
func ValidatePassphrase(passphrase string) ValidationResult {
	if passphrase == "" {
		return Empty
	}
	if len([]rune(passphrase)) < MinPassphraseLength {
		return TooShort
	}

	var hasDigit, hasLower, hasUpper bool
	for _, r := range passphrase {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		}
	}
	if !hasDigit || !hasLower || !hasUpper {
		return MissingCharacterClasses
	}
	return Legal
}

// ValidatePassphrase is the method form of the package-level check.
func (v *Vault) ValidatePassphrase(passphrase string) ValidationResult {
	return ValidatePassphrase(passphrase)
}

// ValidateRecord checks the fields of a new record. Fields are checked in
// order name, user name, password; name uniqueness is checked last.
func (v *Vault) ValidateRecord(name, userName, password string) (ValidationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.validateRecord(name, userName, password)
}

func (v *Vault) validateRecord(name, userName, password string) (ValidationResult, error) {
	switch {
	case name == "":
		return EmptyName, nil
	case userName == "":
		return EmptyUserName, nil
	case password == "":
		return EmptyPassword, nil
	}

	unique, err := v.store.IsNameUnique(name)
	if err != nil {
		return Legal, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !unique {
		return NameAlreadyExists, nil
	}
	return Legal, nil
}

// ValidateUpdate checks an update of rec. Keeping the record's own name is
// always legal. If the new password differs from the current one and equals
// one in the record's own archive the result is PasswordReused, a warning the
// caller must confirm.
func (v *Vault) ValidateUpdate(rec PreviewRecord, name, userName, password string) (ValidationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isAuthenticated() {
		return Legal, ErrNotAuthenticated
	}

	row, err := v.store.GetRecord(rec.ID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return Legal, ErrRecordNotFound
		}
		return Legal, fmt.Errorf("%w: %w", ErrStore, err)
	}
	current, err := v.currentPlaintext(*row)
	if err != nil {
		return Legal, err
	}
	return v.validateUpdate(row, current, name, userName, password)
}

// validateUpdate checks an update of row, whose password is current.
// An unchanged password is never reported as reused.
func (v *Vault) validateUpdate(row *store.RecordRow, current, name, userName, password string) (ValidationResult, error) {
	result, err := v.validateRecord(name, userName, password)
	if err != nil {
		return result, err
	}
	if result == NameAlreadyExists && name == row.Name {
		result = Legal
	}
	if result != Legal || password == current {
		return result, nil
	}

	reused, err := v.isPasswordInArchive(row.ID, password)
	if err != nil {
		return Legal, err
	}
	if reused {
		return PasswordReused, nil
	}
	return Legal, nil
}

// isPasswordInArchive reports whether password equals any archived password
// of the record. Only the record's own archive is consulted.
func (v *Vault) isPasswordInArchive(recordID int64, password string) (bool, error) {
	rows, err := v.store.ListArchive(recordID)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	for _, row := range rows {
		plaintext, err := v.decrypt(row.Ciphertext, row.IV)
		if err != nil {
			return false, err
		}
		if plaintext == password {
			return true, nil
		}
	}
	return false, nil
}
