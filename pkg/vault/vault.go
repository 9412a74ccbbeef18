// Package vault is the credential vault engine: it authenticates the master
// passphrase, holds the session key, validates and encrypts records, and
// re-encrypts the whole corpus when the master passphrase changes.
//
// A Vault owns its decrypted record cache and session key. It never hands
// out references to either; every listing is a fresh snapshot.
package vault

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"

	"github.com/forest6511/safelogger/pkg/audit"
	"github.com/forest6511/safelogger/pkg/crypto"
	"github.com/forest6511/safelogger/pkg/store"
)

// Freshness thresholds in days since the password was last changed.
const (
	DefaultAgingDays = 150
	DefaultStaleDays = 240
)

// State is the authentication state of a vault.
type State int

const (
	// Uninitialized means no master key has been stored yet.
	Uninitialized State = iota
	// Locked means a master key exists but no session key is held.
	Locked
	// Unlocked means the session key is held.
	Unlocked
)

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Store is the persistence contract consumed by the engine.
// *store.SQLiteStore implements it.
type Store interface {
	HasMasterKey() (bool, error)
	CurrentMasterKey() (*store.MasterKey, error)
	InsertMasterKey(hash, salt []byte, iterations int) error
	IsNameUnique(name string) (bool, error)
	InsertRecord(name, userName string, ciphertext, iv []byte, date store.Date) (int64, error)
	ListRecords() ([]store.RecordRow, error)
	GetRecord(id int64) (*store.RecordRow, error)
	UpdateRecord(u store.RecordUpdate) error
	DeleteRecord(id int64) error
	ListArchive(recordID int64) ([]store.ArchiveRow, error)
	ListAllArchive() ([]store.ArchiveRow, error)
	AtomicRekey(hash, salt []byte, iterations int, records, archives []store.CipherUpdate) error
}

// Vault is the engine over one store.
type Vault struct {
	store         Store
	log           zerolog.Logger
	audit         *audit.Logger
	now           func() time.Time
	iterations    int
	agingDays     int
	staleDays     int
	lockStatePath string

	mu    sync.Mutex
	key   *memguard.LockedBuffer // session key, nil while locked
	cache []cachedRecord
	stale bool
}

// cachedRecord is a store row with its plaintext, once decrypted.
type cachedRecord struct {
	row       store.RecordRow
	plaintext string
	known     bool
}

// sameRow reports whether two rows have the same identity: id, name, user
// name and ciphertext.
func sameRow(a, b store.RecordRow) bool {
	return a.ID == b.ID && a.Name == b.Name && a.UserName == b.UserName &&
		bytes.Equal(a.Ciphertext, b.Ciphertext)
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the structured logger. Defaults to zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(v *Vault) { v.log = l }
}

// WithAudit enables audit logging of engine operations.
func WithAudit(a *audit.Logger) Option {
	return func(v *Vault) { v.audit = a }
}

// WithClock replaces time.Now, used for record dates and cooldowns.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// WithIterations sets the PBKDF2 iteration count for new master keys.
func WithIterations(n int) Option {
	return func(v *Vault) { v.iterations = n }
}

// WithFreshness sets the day thresholds at which a password becomes aging
// and stale.
func WithFreshness(agingDays, staleDays int) Option {
	return func(v *Vault) {
		v.agingDays = agingDays
		v.staleDays = staleDays
	}
}

// WithLockStatePath enables unlock throttling, persisting failed attempts
// to path.
func WithLockStatePath(path string) Option {
	return func(v *Vault) { v.lockStatePath = path }
}

// New creates an engine over s. The vault starts locked (or uninitialized).
func New(s Store, opts ...Option) *Vault {
	v := &Vault{
		store:      s,
		log:        zerolog.Nop(),
		now:        time.Now,
		iterations: crypto.DefaultIterations,
		agingDays:  DefaultAgingDays,
		staleDays:  DefaultStaleDays,
		stale:      true,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.iterations < crypto.MinIterations {
		v.iterations = crypto.MinIterations
	}
	return v
}

// IsFirstUse reports whether no master key has been stored.
func (v *Vault) IsFirstUse() (bool, error) {
	has, err := v.store.HasMasterKey()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return !has, nil
}

// State returns the current authentication state.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.isAuthenticated() {
		return Unlocked
	}
	first, err := v.IsFirstUse()
	if err != nil {
		v.log.Warn().Err(err).Msg("failed to read master key state")
		return Locked
	}
	if first {
		return Uninitialized
	}
	return Locked
}

// IsAuthenticated reports whether the session key is held.
func (v *Vault) IsAuthenticated() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.isAuthenticated()
}

func (v *Vault) isAuthenticated() bool {
	return v.key != nil && v.key.IsAlive()
}

// Authenticate verifies passphrase against the stored master key. On a match
// the session key is derived and held; on a mismatch any session key is
// dropped. A wrong passphrase is reported as false, not as an error.
func (v *Vault) Authenticate(passphrase string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if remaining, err := v.checkCooldown(); err != nil {
		if errors.Is(err, ErrCooldownActive) {
			return false, fmt.Errorf("%w: please wait %v", ErrCooldownActive, remaining.Round(time.Second))
		}
		return false, err
	}

	if ValidatePassphrase(passphrase) != Legal {
		return false, nil
	}

	mk, err := v.store.CurrentMasterKey()
	if err != nil {
		if errors.Is(err, store.ErrNoMasterKey) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrStore, err)
	}

	if subtle.ConstantTimeCompare(crypto.Hash(passphrase, mk.Salt), mk.Hash) != 1 {
		v.dropSession()
		v.auditError(audit.OpVaultUnlockFailed, "", "AUTH_FAILED", "invalid master passphrase")

		cooldown, err := v.recordFailedAttempt()
		if err != nil {
			v.log.Warn().Err(err).Msg("failed to record unlock attempt")
		}
		if cooldown > 0 {
			v.log.Warn().Dur("cooldown", cooldown).Msg("too many failed unlock attempts")
		}
		return false, nil
	}

	v.setSession(crypto.DeriveKey(passphrase, mk.Salt, mk.Iterations))

	if err := v.clearLockState(); err != nil {
		v.log.Warn().Err(err).Msg("failed to clear lock state")
	}
	v.startAudit()
	v.auditSuccess(audit.OpVaultUnlock, "")
	v.log.Debug().Msg("vault unlocked")
	return true, nil
}

// Logoff drops the session key. Idempotent.
func (v *Vault) Logoff() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.isAuthenticated() {
		v.auditSuccess(audit.OpVaultLock, "")
		v.log.Debug().Msg("vault locked")
	}
	v.dropSession()
}

// setSession replaces the session key with key, wiping key's source bytes.
func (v *Vault) setSession(key []byte) {
	old := v.key
	v.key = memguard.NewBufferFromBytes(key)
	if old != nil {
		old.Destroy()
	}
}

// dropSession destroys the session key and the decrypted cache.
func (v *Vault) dropSession() {
	if v.key != nil {
		v.key.Destroy()
		v.key = nil
	}
	v.cache = nil
	v.stale = true
}

// encrypt encrypts plaintext under the session key with a fresh IV.
func (v *Vault) encrypt(plaintext string) (ciphertext, iv []byte, err error) {
	return encryptWith(v.key.Bytes(), plaintext)
}

func encryptWith(key []byte, plaintext string) (ciphertext, iv []byte, err error) {
	iv, err = crypto.RandomBytes(crypto.BlockSize)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	ciphertext, err = crypto.Encrypt(plaintext, key, iv)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return ciphertext, iv, nil
}

// decrypt decrypts under the session key.
func (v *Vault) decrypt(ciphertext, iv []byte) (string, error) {
	plaintext, err := crypto.Decrypt(ciphertext, v.key.Bytes(), iv)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return plaintext, nil
}

// today returns the current calendar day from the vault clock.
func (v *Vault) today() store.Date {
	return store.DateOf(v.now())
}

// startAudit keys the audit log from the session key.
func (v *Vault) startAudit() {
	if v.audit == nil {
		return
	}
	if err := v.audit.SetHMACKey(v.key.Bytes()); err != nil {
		v.log.Warn().Err(err).Msg("failed to initialize audit logger")
	}
}

func (v *Vault) auditSuccess(op, name string) {
	if v.audit == nil {
		return
	}
	if err := v.audit.LogSuccess(op, name); err != nil {
		v.log.Debug().Err(err).Str("op", op).Msg("audit event not written")
	}
}

func (v *Vault) auditError(op, name, code, msg string) {
	if v.audit == nil {
		return
	}
	if err := v.audit.LogError(op, name, code, msg); err != nil {
		v.log.Debug().Err(err).Str("op", op).Msg("audit event not written")
	}
}
