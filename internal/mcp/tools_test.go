package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/forest6511/safelogger/pkg/store"
	"github.com/forest6511/safelogger/pkg/vault"
)

func TestRecordInfo(t *testing.T) {
	rec := vault.PreviewRecord{
		ID:          7,
		Name:        "bank",
		UserName:    "alice",
		Password:    "secret",
		LastChanged: store.Date{Day: 3, Month: 2, Year: 2025},
		AgeInDays:   160,
		Freshness:   vault.Aging,
	}

	info := recordInfo(rec)
	want := RecordInfo{
		Name:        "bank",
		UserName:    "alice",
		LastChanged: "3/2/2025",
		AgeInDays:   160,
		Freshness:   "aging",
	}
	if info != want {
		t.Errorf("recordInfo() = %+v, want %+v", info, want)
	}
}

func TestHandlersLockedVault(t *testing.T) {
	server := testServer(t, testConfig(t))
	server.vault.Logoff()
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"record_list", func() error {
			_, _, err := server.handleRecordList(ctx, nil, RecordListInput{})
			return err
		}},
		{"record_exists", func() error {
			_, _, err := server.handleRecordExists(ctx, nil, RecordNameInput{Name: "bank"})
			return err
		}},
		{"record_get_masked", func() error {
			_, _, err := server.handleRecordGetMasked(ctx, nil, RecordNameInput{Name: "bank"})
			return err
		}},
		{"record_archive", func() error {
			_, _, err := server.handleRecordArchive(ctx, nil, RecordNameInput{Name: "bank"})
			return err
		}},
		{"vault_health", func() error {
			_, _, err := server.handleVaultHealth(ctx, nil, VaultHealthInput{})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, vault.ErrNotAuthenticated) {
				t.Errorf("expected ErrNotAuthenticated, got %v", err)
			}
		})
	}
}

func TestHandlePasswordGenerate_InvalidRatio(t *testing.T) {
	server := testServer(t, testConfig(t))
	ratio := 1.5

	_, _, err := server.handlePasswordGenerate(context.Background(), nil, PasswordGenerateInput{Ratio: &ratio})
	if !errors.Is(err, vault.ErrInvalidRatio) {
		t.Errorf("expected ErrInvalidRatio, got %v", err)
	}
}
