package vault

import (
	"errors"
	"fmt"

	"github.com/forest6511/safelogger/pkg/audit"
	"github.com/forest6511/safelogger/pkg/store"
)

// Freshness classifies how long ago a password was changed.
type Freshness int

const (
	Fresh Freshness = iota
	Aging
	Stale
)

// String returns a human-readable representation of the freshness
func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Aging:
		return "aging"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// PreviewRecord is a decrypted snapshot of one credential record.
type PreviewRecord struct {
	ID          int64
	Name        string
	UserName    string
	Password    string
	LastChanged store.Date
	AgeInDays   int
	Freshness   Freshness
}

// ArchiveEntry is a decrypted superseded password of a record.
type ArchiveEntry struct {
	ID          int64
	RecordID    int64
	ActiveFrom  store.Date
	ActiveUntil store.Date
	Password    string
}

// AddRecord validates, encrypts and stores a new record.
func (v *Vault) AddRecord(name, userName, password string) (PreviewRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isAuthenticated() {
		return PreviewRecord{}, ErrNotAuthenticated
	}

	result, err := v.validateRecord(name, userName, password)
	if err != nil {
		return PreviewRecord{}, err
	}
	if result != Legal {
		return PreviewRecord{}, &ValidationError{Result: result}
	}

	ciphertext, iv, err := v.encrypt(password)
	if err != nil {
		return PreviewRecord{}, err
	}

	today := v.today()
	id, err := v.store.InsertRecord(name, userName, ciphertext, iv, today)
	if err != nil {
		if errors.Is(err, store.ErrNameExists) {
			return PreviewRecord{}, &ValidationError{Result: NameAlreadyExists}
		}
		return PreviewRecord{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	v.stale = true

	v.auditSuccess(audit.OpRecordAdd, name)
	v.log.Debug().Int64("id", id).Msg("record added")

	return v.preview(cachedRecord{
		row: store.RecordRow{
			ID: id, Name: name, UserName: userName, Ciphertext: ciphertext, IV: iv,
			Day: today.Day, Month: today.Month, Year: today.Year,
		},
		plaintext: password,
		known:     true,
	}), nil
}

// ListRecords returns a snapshot of every record with its password
// decrypted. Rows whose identity is unchanged since the last listing are not
// decrypted again.
func (v *Vault) ListRecords() ([]PreviewRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	if err := v.refresh(); err != nil {
		return nil, err
	}

	v.auditSuccess(audit.OpRecordList, "")

	out := make([]PreviewRecord, len(v.cache))
	for i, c := range v.cache {
		out[i] = v.preview(c)
	}
	return out, nil
}

// FindRecord returns the record named name.
func (v *Vault) FindRecord(name string) (PreviewRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isAuthenticated() {
		return PreviewRecord{}, ErrNotAuthenticated
	}
	if err := v.refresh(); err != nil {
		return PreviewRecord{}, err
	}

	for _, c := range v.cache {
		if c.row.Name == name {
			return v.preview(c), nil
		}
	}
	return PreviewRecord{}, ErrRecordNotFound
}

// refresh reloads the cache from the store when it is stale. The new cache
// only replaces the old one once every row has been decrypted.
func (v *Vault) refresh() error {
	if !v.stale {
		return nil
	}

	rows, err := v.store.ListRecords()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	index := v.cacheIndex()
	next := make([]cachedRecord, len(rows))
	for i, row := range rows {
		if c, ok := lookup(index, row); ok {
			next[i] = c
			continue
		}
		plaintext, err := v.decrypt(row.Ciphertext, row.IV)
		if err != nil {
			return fmt.Errorf("record %q: %w", row.Name, err)
		}
		next[i] = cachedRecord{row: row, plaintext: plaintext, known: true}
	}

	v.cache = next
	v.stale = false
	return nil
}

// cacheIndex maps record IDs to their cache entries.
func (v *Vault) cacheIndex() map[int64]cachedRecord {
	index := make(map[int64]cachedRecord, len(v.cache))
	for _, c := range v.cache {
		index[c.row.ID] = c
	}
	return index
}

// lookup returns the indexed entry with the same identity as row.
func lookup(index map[int64]cachedRecord, row store.RecordRow) (cachedRecord, bool) {
	c, ok := index[row.ID]
	if !ok || !c.known || !sameRow(c.row, row) {
		return cachedRecord{}, false
	}
	c.row = row // keep the stored date
	return c, true
}

// currentPlaintext returns the plaintext of row, from the cache if possible.
func (v *Vault) currentPlaintext(row store.RecordRow) (string, error) {
	for _, c := range v.cache {
		if c.known && sameRow(c.row, row) {
			return c.plaintext, nil
		}
	}
	return v.decrypt(row.Ciphertext, row.IV)
}

// preview builds a snapshot of a cache entry.
func (v *Vault) preview(c cachedRecord) PreviewRecord {
	changed := c.row.LastChanged()
	age := changed.DaysUntil(v.now())
	return PreviewRecord{
		ID:          c.row.ID,
		Name:        c.row.Name,
		UserName:    c.row.UserName,
		Password:    c.plaintext,
		LastChanged: changed,
		AgeInDays:   age,
		Freshness:   v.classify(age),
	}
}

// classify maps an age in days onto a freshness class.
func (v *Vault) classify(ageInDays int) Freshness {
	switch {
	case ageInDays >= v.staleDays:
		return Stale
	case ageInDays >= v.agingDays:
		return Aging
	default:
		return Fresh
	}
}

// UpdateRecord changes the name, user name and/or password of rec. A new
// password archives the current one. If the new password was used before
// for this record, the update fails with ErrPasswordReused unless
// confirmReuse is set. Unchanged fields are not rewritten; an update that
// changes nothing is a no-op.
func (v *Vault) UpdateRecord(rec PreviewRecord, name, userName, password string, confirmReuse bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isAuthenticated() {
		return ErrNotAuthenticated
	}

	row, err := v.store.GetRecord(rec.ID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	current, err := v.currentPlaintext(*row)
	if err != nil {
		return err
	}

	result, err := v.validateUpdate(row, current, name, userName, password)
	if err != nil {
		return err
	}
	switch result {
	case Legal:
	case PasswordReused:
		if !confirmReuse {
			return ErrPasswordReused
		}
	default:
		return &ValidationError{Result: result}
	}

	u := store.RecordUpdate{ID: row.ID, Today: v.today()}
	if name != row.Name {
		u.Name = &name
	}
	if userName != row.UserName {
		u.UserName = &userName
	}
	if password != current {
		u.Ciphertext, u.IV, err = v.encrypt(password)
		if err != nil {
			return err
		}
	}
	if u.Name == nil && u.UserName == nil && u.Ciphertext == nil {
		return nil
	}

	if err := v.store.UpdateRecord(u); err != nil {
		if errors.Is(err, store.ErrNameExists) {
			return &ValidationError{Result: NameAlreadyExists}
		}
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	v.stale = true

	v.auditSuccess(audit.OpRecordUpdate, name)
	v.log.Debug().
		Int64("id", row.ID).
		Bool("password_changed", u.Ciphertext != nil).
		Msg("record updated")
	return nil
}

// RemoveRecord deletes rec and its archive.
func (v *Vault) RemoveRecord(rec PreviewRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isAuthenticated() {
		return ErrNotAuthenticated
	}

	if err := v.store.DeleteRecord(rec.ID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	v.stale = true

	v.auditSuccess(audit.OpRecordRemove, rec.Name)
	v.log.Debug().Int64("id", rec.ID).Msg("record removed")
	return nil
}

// GetArchive returns the decrypted archive of one record, newest first.
func (v *Vault) GetArchive(recordID int64) ([]ArchiveEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isAuthenticated() {
		return nil, ErrNotAuthenticated
	}

	rows, err := v.store.ListArchive(recordID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	entries, err := v.decryptArchive(rows)
	if err != nil {
		return nil, err
	}

	v.auditSuccess(audit.OpArchiveRead, "")
	return entries, nil
}

// GetAllArchiveEntries returns the decrypted archive of every record.
func (v *Vault) GetAllArchiveEntries() ([]ArchiveEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isAuthenticated() {
		return nil, ErrNotAuthenticated
	}

	rows, err := v.store.ListAllArchive()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	entries, err := v.decryptArchive(rows)
	if err != nil {
		return nil, err
	}

	v.auditSuccess(audit.OpArchiveRead, "")
	return entries, nil
}

func (v *Vault) decryptArchive(rows []store.ArchiveRow) ([]ArchiveEntry, error) {
	entries := make([]ArchiveEntry, len(rows))
	for i, row := range rows {
		plaintext, err := v.decrypt(row.Ciphertext, row.IV)
		if err != nil {
			return nil, fmt.Errorf("archive entry %d: %w", row.ID, err)
		}
		entries[i] = ArchiveEntry{
			ID:          row.ID,
			RecordID:    row.RecordID,
			ActiveFrom:  row.ActiveFrom(),
			ActiveUntil: row.ActiveUntil(),
			Password:    plaintext,
		}
	}
	return entries, nil
}
