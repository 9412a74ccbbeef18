// Package store persists master keys, credential records and their password
// archive in SQLite.
//
// The store never sees plaintext: it handles ciphertexts, IVs and dates only.
// Every multi-row change runs inside a single transaction.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Constants
const (
	DBFileName = "vault.db"
	FileMode   = 0600 // Owner read/write only
	DirMode    = 0700 // Owner read/write/execute only

	// MinDiskSpaceBytes is required free space before writing a backup.
	MinDiskSpaceBytes = 10 * 1024 * 1024
)

// Errors
var (
	ErrNoMasterKey      = errors.New("store: no master key stored")
	ErrRecordNotFound   = errors.New("store: record not found")
	ErrArchiveNotFound  = errors.New("store: archive entry not found")
	ErrNameExists       = errors.New("store: record name already exists")
	ErrIncompleteRekey  = errors.New("store: re-key does not cover every stored ciphertext")
	ErrInsufficientDisk = errors.New("store: insufficient disk space")
	ErrClosed           = errors.New("store: store is closed")
)

// Date is a calendar day as stored in the day/month/year columns.
type Date struct {
	Day   int
	Month int
	Year  int
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Day: d, Month: int(m), Year: y}
}

// Time returns midnight of the day in loc.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, loc)
}

// DaysUntil returns the number of whole days from d to now's calendar day.
func (d Date) DaysUntil(now time.Time) int {
	today := DateOf(now).Time(time.UTC)
	return int(today.Sub(d.Time(time.UTC)).Hours() / 24)
}

// IsZero reports whether d is unset.
func (d Date) IsZero() bool {
	return d == Date{}
}

// String formats d as day/month/year.
func (d Date) String() string {
	return fmt.Sprintf("%d/%d/%d", d.Day, d.Month, d.Year)
}

// MasterKey is one row of passphrase verification material.
type MasterKey struct {
	ID         int64     `db:"id"`
	Salt       []byte    `db:"salt"`
	Hash       []byte    `db:"hash"`
	Iterations int       `db:"iterations"`
	CreatedAt  time.Time `db:"created_at"`
}

// RecordRow is a raw credential row.
type RecordRow struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	UserName   string `db:"user_name"`
	Ciphertext []byte `db:"password"`
	IV         []byte `db:"iv"`
	Day        int    `db:"day"`
	Month      int    `db:"month"`
	Year       int    `db:"year"`
}

// LastChanged returns the day the current password was set.
func (r RecordRow) LastChanged() Date {
	return Date{Day: r.Day, Month: r.Month, Year: r.Year}
}

// ArchiveRow is a raw superseded-password row.
type ArchiveRow struct {
	ID         int64  `db:"id"`
	RecordID   int64  `db:"record_id"`
	StartDay   int    `db:"start_day"`
	StartMonth int    `db:"start_month"`
	StartYear  int    `db:"start_year"`
	EndDay     int    `db:"end_day"`
	EndMonth   int    `db:"end_month"`
	EndYear    int    `db:"end_year"`
	Ciphertext []byte `db:"password"`
	IV         []byte `db:"iv"`
}

// ActiveFrom returns the first day the archived password was in force.
func (a ArchiveRow) ActiveFrom() Date {
	return Date{Day: a.StartDay, Month: a.StartMonth, Year: a.StartYear}
}

// ActiveUntil returns the day the archived password was superseded.
func (a ArchiveRow) ActiveUntil() Date {
	return Date{Day: a.EndDay, Month: a.EndMonth, Year: a.EndYear}
}

// RecordUpdate describes a partial record update. Nil Name/UserName and an
// empty Ciphertext mean "no change" for that field.
type RecordUpdate struct {
	ID         int64
	Name       *string
	UserName   *string
	Ciphertext []byte
	IV         []byte
	Today      Date
}

// CipherUpdate replaces the ciphertext and IV of one record or archive row.
type CipherUpdate struct {
	ID         int64
	Ciphertext []byte
	IV         []byte
}

// SQLiteStore implements the vault store on a local SQLite file.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
}

// Open opens (creating if necessary) the store in dir.
func Open(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("store: failed to create vault directory: %w", err)
	}

	dbPath := filepath.Join(dir, DBFileName)
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	// Single connection: one writer, and pragmas stay on the connection in use
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(dbPath, FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to set database permissions: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// HasMasterKey reports whether any master key row exists.
func (s *SQLiteStore) HasMasterKey() (bool, error) {
	if s.db == nil {
		return false, ErrClosed
	}
	var n int
	if err := s.db.Get(&n, "SELECT COUNT(*) FROM master_keys"); err != nil {
		return false, fmt.Errorf("store: failed to count master keys: %w", err)
	}
	return n > 0, nil
}

// CurrentMasterKey returns the most recently inserted master key.
func (s *SQLiteStore) CurrentMasterKey() (*MasterKey, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var key MasterKey
	err := s.db.Get(&key, "SELECT id, salt, hash, iterations, created_at FROM master_keys ORDER BY id DESC LIMIT 1")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoMasterKey
		}
		return nil, fmt.Errorf("store: failed to read master key: %w", err)
	}
	return &key, nil
}

// InsertMasterKey appends a new master key row. Older rows are kept.
func (s *SQLiteStore) InsertMasterKey(hash, salt []byte, iterations int) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.Exec(insertMasterKeySQL, salt, hash, iterations); err != nil {
		return fmt.Errorf("store: failed to insert master key: %w", err)
	}
	return nil
}

// IsNameUnique reports whether no active record uses name.
func (s *SQLiteStore) IsNameUnique(name string) (bool, error) {
	if s.db == nil {
		return false, ErrClosed
	}
	var n int
	if err := s.db.Get(&n, "SELECT COUNT(*) FROM records WHERE name = ?", name); err != nil {
		return false, fmt.Errorf("store: failed to check name: %w", err)
	}
	return n == 0, nil
}

// InsertRecord inserts a new credential row and returns its id.
func (s *SQLiteStore) InsertRecord(name, userName string, ciphertext, iv []byte, date Date) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.Exec(`
		INSERT INTO records (name, user_name, password, iv, day, month, year)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		name, userName, ciphertext, iv, date.Day, date.Month, date.Year)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrNameExists
		}
		return 0, fmt.Errorf("store: failed to insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: failed to read record id: %w", err)
	}
	return id, nil
}

// ListRecords returns every credential row ordered by id.
func (s *SQLiteStore) ListRecords() ([]RecordRow, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var rows []RecordRow
	if err := s.db.Select(&rows, selectRecordsSQL+" ORDER BY id"); err != nil {
		return nil, fmt.Errorf("store: failed to query records: %w", err)
	}
	return rows, nil
}

// GetRecord returns a single credential row.
func (s *SQLiteStore) GetRecord(id int64) (*RecordRow, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var row RecordRow
	if err := s.db.Get(&row, selectRecordsSQL+" WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("store: failed to read record: %w", err)
	}
	return &row, nil
}

// UpdateRecord applies a partial update in one transaction. When a new
// ciphertext is supplied, the row's current ciphertext/iv is archived with
// the interval [last changed, u.Today] before being overwritten.
func (s *SQLiteStore) UpdateRecord(u RecordUpdate) error {
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current RecordRow
	if err := tx.Get(&current, selectRecordsSQL+" WHERE id = ?", u.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("store: failed to read record: %w", err)
	}

	if u.Name != nil {
		if _, err := tx.Exec("UPDATE records SET name = ? WHERE id = ?", *u.Name, u.ID); err != nil {
			if isUniqueViolation(err) {
				return ErrNameExists
			}
			return fmt.Errorf("store: failed to update name: %w", err)
		}
	}

	if u.UserName != nil {
		if _, err := tx.Exec("UPDATE records SET user_name = ? WHERE id = ?", *u.UserName, u.ID); err != nil {
			return fmt.Errorf("store: failed to update user name: %w", err)
		}
	}

	if len(u.Ciphertext) > 0 {
		from := current.LastChanged()
		_, err := tx.Exec(`
			INSERT INTO archive (record_id, start_day, start_month, start_year,
				end_day, end_month, end_year, password, iv)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, from.Day, from.Month, from.Year,
			u.Today.Day, u.Today.Month, u.Today.Year,
			current.Ciphertext, current.IV)
		if err != nil {
			return fmt.Errorf("store: failed to archive password: %w", err)
		}

		_, err = tx.Exec(`
			UPDATE records SET password = ?, iv = ?, day = ?, month = ?, year = ?
			WHERE id = ?`,
			u.Ciphertext, u.IV, u.Today.Day, u.Today.Month, u.Today.Year, u.ID)
		if err != nil {
			return fmt.Errorf("store: failed to update password: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteRecord deletes a record; its archive rows cascade.
func (s *SQLiteStore) DeleteRecord(id int64) error {
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: failed to delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return nil
}

// ListArchive returns the archive of one record, newest first.
func (s *SQLiteStore) ListArchive(recordID int64) ([]ArchiveRow, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var rows []ArchiveRow
	if err := s.db.Select(&rows, selectArchiveSQL+" WHERE record_id = ? ORDER BY id DESC", recordID); err != nil {
		return nil, fmt.Errorf("store: failed to query archive: %w", err)
	}
	return rows, nil
}

// ListAllArchive returns every archive row ordered by id.
func (s *SQLiteStore) ListAllArchive() ([]ArchiveRow, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var rows []ArchiveRow
	if err := s.db.Select(&rows, selectArchiveSQL+" ORDER BY id"); err != nil {
		return nil, fmt.Errorf("store: failed to query archive: %w", err)
	}
	return rows, nil
}

// AtomicRekey stores a new master key and replaces every record and archive
// ciphertext in one transaction. The update sets must cover every stored row
// exactly once; otherwise nothing is changed.
func (s *SQLiteStore) AtomicRekey(hash, salt []byte, iterations int, records, archives []CipherUpdate) error {
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(insertMasterKeySQL, salt, hash, iterations); err != nil {
		return fmt.Errorf("store: failed to insert master key: %w", err)
	}

	if err := rewriteCiphers(tx, "records", records); err != nil {
		return err
	}
	if err := rewriteCiphers(tx, "archive", archives); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return nil
}

// rewriteCiphers updates password/iv of every row in table, checking that
// updates name each row exactly once.
func rewriteCiphers(tx *sqlx.Tx, table string, updates []CipherUpdate) error {
	var total int
	if err := tx.Get(&total, "SELECT COUNT(*) FROM "+table); err != nil {
		return fmt.Errorf("store: failed to count %s: %w", table, err)
	}
	if total != len(updates) {
		return fmt.Errorf("%w: %s has %d rows, got %d updates", ErrIncompleteRekey, table, total, len(updates))
	}

	stmt, err := tx.Preparex("UPDATE " + table + " SET password = ?, iv = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("store: failed to prepare %s update: %w", table, err)
	}
	defer stmt.Close()

	seen := make(map[int64]bool, len(updates))
	for _, u := range updates {
		if seen[u.ID] {
			return fmt.Errorf("%w: duplicate %s id %d", ErrIncompleteRekey, table, u.ID)
		}
		seen[u.ID] = true

		res, err := stmt.Exec(u.Ciphertext, u.IV, u.ID)
		if err != nil {
			return fmt.Errorf("store: failed to update %s %d: %w", table, u.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: failed to get rows affected: %w", err)
		}
		if n != 1 {
			if table == "records" {
				return fmt.Errorf("%w: id %d", ErrRecordNotFound, u.ID)
			}
			return fmt.Errorf("%w: id %d", ErrArchiveNotFound, u.ID)
		}
	}
	return nil
}

// Backup writes a consistent copy of the database to dest, replacing any
// previous backup at that path.
func (s *SQLiteStore) Backup(dest string) error {
	if s.db == nil {
		return ErrClosed
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("store: failed to stat database: %w", err)
	}
	if err := checkDiskSpaceForWrite(filepath.Dir(dest), info.Size()); err != nil {
		return err
	}

	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: failed to remove previous backup: %w", err)
	}
	if _, err := s.db.Exec("VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("store: failed to write backup: %w", err)
	}
	if err := os.Chmod(dest, FileMode); err != nil {
		return fmt.Errorf("store: failed to set backup permissions: %w", err)
	}
	return nil
}

// checkDiskSpaceForWrite verifies there is room for a write of size bytes.
func checkDiskSpaceForWrite(dir string, size int64) error {
	available, err := availableDiskSpace(dir)
	if err != nil {
		// Unknown free space does not block the write
		return nil
	}

	required := uint64(MinDiskSpaceBytes)
	if uint64(size*2) > required {
		required = uint64(size * 2)
	}
	if available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk, available/(1024*1024), required/(1024*1024))
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

const (
	insertMasterKeySQL = "INSERT INTO master_keys (salt, hash, iterations) VALUES (?, ?, ?)"

	selectRecordsSQL = "SELECT id, name, user_name, password, iv, day, month, year FROM records"

	selectArchiveSQL = `SELECT id, record_id, start_day, start_month, start_year,
		end_day, end_month, end_year, password, iv FROM archive`
)
