// Package audit provides audit logging with HMAC chain for tamper detection.
//
// Events are appended to monthly JSONL files. Each event carries the HMAC of
// the previous one, keyed by a key derived from the vault session key. When
// the master key changes, a checkpoint event closes the chain segment under
// the old key and the chain continues under the new one.
package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Disk space constants
const (
	MinAuditDiskSpace = 1024 * 1024 // 1 MB minimum for audit logs
)

// Operation types for audit logging
const (
	// Vault operations
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
	OpVaultLock         = "vault.lock"

	// Record operations
	OpRecordAdd    = "record.add"
	OpRecordUpdate = "record.update"
	OpRecordRemove = "record.remove"
	OpRecordList   = "record.list"
	OpArchiveRead  = "archive.read"

	// MCP operations
	OpRecordExists    = "record.exists"
	OpRecordGetMasked = "record.get_masked"

	// Master key rotation checkpoint
	OpKeyRotate = "key.rotate"
)

// Source identifies where the operation originated
const (
	SourceCLI = "cli"
	SourceMCP = "mcp"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

const (
	genesisHash  = "genesis"
	hkdfInfo     = "audit-log-v1"
	metaFileName = "audit.meta"
	logFileMode  = 0600
	logDirMode   = 0700
)

// ErrKeyNotSet is returned when writing or verifying before SetHMACKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// AuditEvent represents a single audit log record
type AuditEvent struct {
	Version   int    `json:"v"`
	ID        string `json:"id"` // time-sortable
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision

	Operation string `json:"op"`
	Key       string `json:"key,omitempty"` // HMAC of the record name, never the name itself

	Actor Actor `json:"actor"`

	Result string     `json:"result"`
	Error  *ErrorInfo `json:"error,omitempty"`

	Context map[string]string `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// Actor represents who performed the operation
type Actor struct {
	Type      string `json:"type"`   // user | system
	Source    string `json:"source"` // cli | mcp
	SessionID string `json:"session_id"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain provides HMAC chain for tamper detection
type Chain struct {
	Sequence int64  `json:"seq"`
	Epoch    int    `json:"epoch"` // incremented on every key rotation
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// ChainState holds the persistent chain state
type ChainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	Epoch    int    `json:"epoch"`
}

// Logger handles audit log writing with HMAC chain
type Logger struct {
	path       string
	source     string
	hmacKey    []byte
	mu         sync.Mutex
	sequence   int64
	prevHash   string
	epoch      int
	sessionID  string
	hmacKeySet bool
	now        func() time.Time
}

// NewLogger creates a new audit logger writing to the directory path.
// source is recorded as the actor source of every event.
func NewLogger(path, source string) *Logger {
	return &Logger{
		path:      path,
		source:    source,
		prevHash:  genesisHash,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.path
}

// SessionID returns the identifier stamped on events of this logger.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// SetHMACKey derives the HMAC key from the session key using HKDF and loads
// the persisted chain state.
func (l *Logger) SetHMACKey(sessionKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key, err := deriveHMACKey(sessionKey)
	if err != nil {
		return err
	}
	l.hmacKey = key
	l.hmacKeySet = true

	if err := l.loadChainState(); err != nil {
		// First run
		l.sequence = 0
		l.prevHash = genesisHash
		l.epoch = 0
	}
	return nil
}

// RotateKey closes the current chain segment with a key.rotate checkpoint
// signed by the current key, then continues the chain under a key derived
// from newSessionKey.
func (l *Logger) RotateKey(newSessionKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hmacKeySet {
		return ErrKeyNotSet
	}

	next, err := deriveHMACKey(newSessionKey)
	if err != nil {
		return err
	}

	ctx := map[string]string{"next_epoch": strconv.Itoa(l.epoch + 1)}
	if err := l.append(OpKeyRotate, ResultSuccess, "", nil, ctx); err != nil {
		return err
	}

	l.hmacKey = next
	l.epoch++
	return l.saveChainState()
}

func deriveHMACKey(sessionKey []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, sessionKey, nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := reader.Read(key); err != nil {
		return nil, fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	return key, nil
}

// Log records an audit event
func (l *Logger) Log(op, result, name string, errInfo *ErrorInfo, ctx map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hmacKeySet {
		return ErrKeyNotSet
	}
	return l.append(op, result, name, errInfo, ctx)
}

// LogSuccess is a convenience method for successful operations
func (l *Logger) LogSuccess(op, name string) error {
	return l.Log(op, ResultSuccess, name, nil, nil)
}

// LogError is a convenience method for failed operations
func (l *Logger) LogError(op, name, errCode, errMsg string) error {
	return l.Log(op, ResultError, name, &ErrorInfo{Code: errCode, Message: errMsg}, nil)
}

// LogDenied is a convenience method for denied operations
func (l *Logger) LogDenied(op, name, reason string) error {
	return l.Log(op, ResultDenied, name, nil, map[string]string{"reason": reason})
}

// append chains and writes one event. Caller holds l.mu.
func (l *Logger) append(op, result, name string, errInfo *ErrorInfo, ctx map[string]string) error {
	if err := os.MkdirAll(l.path, logDirMode); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	now := l.now().UTC()
	event := AuditEvent{
		Version:   1,
		ID:        generateULID(now),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		Actor: Actor{
			Type:      "user",
			Source:    l.source,
			SessionID: l.sessionID,
		},
		Result:  result,
		Error:   errInfo,
		Context: ctx,
	}

	if name != "" {
		mac := hmac.New(sha256.New, l.hmacKey)
		mac.Write([]byte(name))
		event.Key = hex.EncodeToString(mac.Sum(nil))
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.Epoch = l.epoch
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = computeHMAC(l.hmacKey, &event)
	l.prevHash = event.Chain.HMAC

	if err := l.writeEvent(&event, now); err != nil {
		return err
	}
	return l.saveChainState()
}

// computeHMAC returns the hex HMAC over every significant field of event.
func computeHMAC(key []byte, event *AuditEvent) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(buildRecordData(event))
	return hex.EncodeToString(mac.Sum(nil))
}

// buildRecordData creates the data to be HMACed
func buildRecordData(event *AuditEvent) []byte {
	actorData := fmt.Sprintf("%s|%s|%s", event.Actor.Type, event.Actor.Source, event.Actor.SessionID)

	errorData := ""
	if event.Error != nil {
		errorData = fmt.Sprintf("%s|%s", event.Error.Code, event.Error.Message)
	}

	// Sorted keys for a deterministic HMAC
	var contextData strings.Builder
	keys := make([]string, 0, len(event.Context))
	for k := range event.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&contextData, "%s=%s|", k, event.Context[k])
	}

	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%d|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Key,
		actorData,
		event.Result,
		errorData,
		contextData.String(),
		event.Chain.Sequence,
		event.Chain.Epoch,
		event.Chain.PrevHash,
	)
	return []byte(data)
}

// writeEvent appends an event to the month's log file
func (l *Logger) writeEvent(event *AuditEvent, now time.Time) error {
	filename := filepath.Join(l.path, now.Format("2006-01")+".jsonl")

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, metaFileName))
	if err != nil {
		return err
	}

	var state ChainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	l.epoch = state.Epoch
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(ChainState{
		Sequence: l.sequence,
		PrevHash: l.prevHash,
		Epoch:    l.epoch,
	})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}

	if err := os.WriteFile(filepath.Join(l.path, metaFileName), data, logFileMode); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// generateULID creates a time-sortable identifier: 48-bit millisecond
// timestamp followed by 80 random bits.
func generateULID(now time.Time) string {
	ts := now.UnixMilli()
	b := make([]byte, 16)
	for i := 5; i >= 0; i-- {
		b[i] = byte(ts & 0xFF)
		ts >>= 8
	}
	if _, err := rand.Read(b[6:]); err != nil {
		return strconv.FormatInt(now.UnixNano(), 10)
	}
	return hex.EncodeToString(b)
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid bool `json:"valid"`
	// RecordsTotal counts every event on disk.
	RecordsTotal int `json:"records_total"`
	// RecordsVerified counts events whose HMAC was checked with the current key.
	RecordsVerified int `json:"records_verified"`
	// Epoch is the current key epoch.
	Epoch  int      `json:"epoch"`
	Errors []string `json:"errors,omitempty"`
}

// Verify checks the integrity of the audit log chain.
//
// Sequence numbers and previous-hash links are checked for every event.
// HMACs can only be checked for events written under the current key, that
// is, after the last key.rotate checkpoint.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hmacKeySet {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true, Epoch: l.epoch}
	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	expectedPrevHash := genesisHash
	var expectedSeq int64 = 1
	lastEpoch := 0

	for i := range events {
		event := &events[i]
		result.RecordsTotal++

		if event.Chain.Sequence != expectedSeq {
			fail("sequence gap at record %s: expected %d, got %d", event.ID, expectedSeq, event.Chain.Sequence)
		}
		if event.Chain.PrevHash != expectedPrevHash {
			fail("chain broken at record %s: expected prev %s, got %s", event.ID, expectedPrevHash, event.Chain.PrevHash)
		}
		if event.Chain.Epoch < lastEpoch || event.Chain.Epoch > l.epoch {
			fail("unexpected key epoch %d at record %s", event.Chain.Epoch, event.ID)
		}
		lastEpoch = event.Chain.Epoch

		if event.Chain.Epoch == l.epoch {
			if computeHMAC(l.hmacKey, event) != event.Chain.HMAC {
				fail("HMAC mismatch at record %s: possible tampering", event.ID)
			}
			result.RecordsVerified++
		}

		expectedPrevHash = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}

	if len(events) > 0 && expectedPrevHash != l.prevHash {
		fail("chain tail does not match saved state: events may have been removed")
	}

	return result, nil
}

// readAll reads every event in chronological order. Caller holds l.mu.
func (l *Logger) readAll() ([]AuditEvent, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM.jsonl sorts chronologically
	sort.Strings(files)

	var all []AuditEvent
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

// readLogFile reads all events from a log file
func readLogFile(path string) ([]AuditEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []AuditEvent
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var event AuditEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// ListEvents returns audit events with optional filtering
// limit: maximum number of events to return, most recent kept (0 = all)
// since: only return events after this time (zero = no filter)
func (l *Logger) ListEvents(limit int, since time.Time) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.readAll()
	if err != nil {
		return nil, err
	}

	filtered := all
	if !since.IsZero() {
		filtered = nil
		for _, event := range all {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, event)
			}
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Export exports audit events in the specified format (json or csv)
// since and until filter events by timestamp (zero values mean no filter)
func (l *Logger) Export(format string, since, until time.Time) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var filtered []AuditEvent
	for _, event := range all {
		ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
		if err != nil {
			continue
		}
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		filtered = append(filtered, event)
	}

	switch format {
	case FormatCSV:
		return formatCSV(filtered), nil
	case FormatJSON:
		return json.MarshalIndent(filtered, "", "  ")
	default:
		return nil, fmt.Errorf("audit: unsupported format: %s", format)
	}
}

// formatCSV formats events as CSV with proper escaping
func formatCSV(events []AuditEvent) []byte {
	var b strings.Builder
	b.WriteString("timestamp,operation,source,result,key_hash\n")

	for _, event := range events {
		keyHash := event.Key
		if len(keyHash) > 16 {
			keyHash = keyHash[:16] + "..."
		}
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s\n",
			csvEscape(event.Timestamp),
			csvEscape(event.Operation),
			csvEscape(event.Actor.Source),
			csvEscape(event.Result),
			csvEscape(keyHash),
		)
	}
	return []byte(b.String())
}

// csvEscape quotes a field when it contains separators, quotes or newlines,
// or starts with a formula character.
func csvEscape(field string) string {
	if field == "" {
		return field
	}

	needsQuoting := strings.ContainsAny(field[:1], "=+-@") || strings.ContainsAny(field, ",\"\n\r")
	if !needsQuoting {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
