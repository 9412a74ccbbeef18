package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/forest6511/safelogger/pkg/vault"
)

// DuplicateGroup represents a group of records sharing the same password.
type DuplicateGroup struct {
	// Names contains the record names with duplicate passwords.
	Names []string `json:"names"`
	// Count is the number of duplicates.
	Count int `json:"count"`
}

// FindDuplicates groups records whose passwords are equal.
// Passwords are compared through HMAC-SHA256 with a key that lives only for
// this call. Returns groups sorted by count (most duplicated first).
func FindDuplicates(records []vault.PreviewRecord) ([]DuplicateGroup, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	var order []string
	byHash := make(map[string][]string)
	for _, rec := range records {
		value := normalizeValue(rec.Password)
		if value == "" {
			continue
		}
		hash := computeValueHash(value, key)
		if _, seen := byHash[hash]; !seen {
			order = append(order, hash)
		}
		byHash[hash] = append(byHash[hash], rec.Name)
	}

	var groups []DuplicateGroup
	for _, hash := range order {
		names := byHash[hash]
		if len(names) <= 1 {
			continue
		}
		groups = append(groups, DuplicateGroup{Names: names, Count: len(names)})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})
	return groups, nil
}

// computeValueHash computes HMAC-SHA256 of a value with the given key.
func computeValueHash(value string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeValue trims leading/trailing whitespace.
func normalizeValue(value string) string {
	return strings.TrimSpace(value)
}
