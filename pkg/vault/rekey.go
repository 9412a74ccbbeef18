package vault

import (
	"fmt"

	"github.com/forest6511/safelogger/pkg/audit"
	"github.com/forest6511/safelogger/pkg/crypto"
	"github.com/forest6511/safelogger/pkg/store"
)

// UpdateKey sets the master passphrase.
//
// On first use it stores the new master key and leaves the vault locked; the
// caller authenticates afterwards. Otherwise the vault must be unlocked and
// every record must have been listed since the last change, so that every
// stored password is known. All record and archive passwords are then
// re-encrypted under the new key and written together with the new master
// key in one transaction. On failure nothing changes and the old key stays
// in use.
func (v *Vault) UpdateKey(passphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if result := ValidatePassphrase(passphrase); result != Legal {
		return &ValidationError{Result: result}
	}

	first, err := v.IsFirstUse()
	if err != nil {
		return err
	}

	salt, err := crypto.RandomBytes(crypto.BlockSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	hash := crypto.Hash(passphrase, salt)

	if first {
		if err := v.store.InsertMasterKey(hash, salt, v.iterations); err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
		v.log.Info().Int("iterations", v.iterations).Msg("master key created")
		return nil
	}

	if !v.isAuthenticated() {
		return ErrNotAuthenticated
	}

	// Everything the new key must cover is known before the store is touched
	records, err := v.knownRecords()
	if err != nil {
		return err
	}
	archiveRows, err := v.store.ListAllArchive()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	archive := make([]string, len(archiveRows))
	for i, row := range archiveRows {
		plaintext, err := v.decrypt(row.Ciphertext, row.IV)
		if err != nil {
			return fmt.Errorf("%w: archive entry %d: %w", ErrIncompleteKnowledge, row.ID, err)
		}
		archive[i] = plaintext
	}

	newKey := crypto.DeriveKey(passphrase, salt, v.iterations)
	defer crypto.SecureWipe(newKey)

	recordUpdates := make([]store.CipherUpdate, len(records))
	for i, c := range records {
		ciphertext, iv, err := encryptWith(newKey, c.plaintext)
		if err != nil {
			return err
		}
		recordUpdates[i] = store.CipherUpdate{ID: c.row.ID, Ciphertext: ciphertext, IV: iv}
	}
	archiveUpdates := make([]store.CipherUpdate, len(archiveRows))
	for i, row := range archiveRows {
		ciphertext, iv, err := encryptWith(newKey, archive[i])
		if err != nil {
			return err
		}
		archiveUpdates[i] = store.CipherUpdate{ID: row.ID, Ciphertext: ciphertext, IV: iv}
	}

	if err := v.store.AtomicRekey(hash, salt, v.iterations, recordUpdates, archiveUpdates); err != nil {
		v.auditError(audit.OpKeyRotate, "", "STORE_FAILED", err.Error())
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	// Committed: switch the session and the audit chain to the new key
	if v.audit != nil {
		if err := v.audit.RotateKey(newKey); err != nil {
			v.log.Warn().Err(err).Msg("failed to rotate audit key")
		}
	}
	v.setSession(newKey)
	v.stale = true

	v.log.Info().
		Int("records", len(recordUpdates)).
		Int("archive_entries", len(archiveUpdates)).
		Msg("master key rotated")
	return nil
}

// knownRecords returns the cache if it is current and covers every stored
// record with a known plaintext. It never decrypts on its own.
func (v *Vault) knownRecords() ([]cachedRecord, error) {
	if v.stale {
		return nil, ErrIncompleteKnowledge
	}

	rows, err := v.store.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if len(rows) != len(v.cache) {
		return nil, ErrIncompleteKnowledge
	}

	index := v.cacheIndex()
	known := make([]cachedRecord, len(rows))
	for i, row := range rows {
		c, ok := lookup(index, row)
		if !ok {
			return nil, fmt.Errorf("%w: record %q", ErrIncompleteKnowledge, row.Name)
		}
		known[i] = c
	}
	return known, nil
}
