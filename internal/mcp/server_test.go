package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/forest6511/safelogger/internal/cli"
	"github.com/forest6511/safelogger/internal/config"
	"github.com/forest6511/safelogger/pkg/audit"
	"github.com/forest6511/safelogger/pkg/crypto"
	"github.com/forest6511/safelogger/pkg/vault"
)

const testPassphrase = "Secret123"

// testConfig returns a config rooted in a temporary vault directory
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.VaultDir = t.TempDir()
	cfg.KDFIterations = crypto.MinIterations
	return cfg
}

// initVault creates the master key of the vault in cfg.VaultDir
func initVault(t *testing.T, cfg *config.Config) {
	t.Helper()
	session, err := cli.Open(cfg, zerolog.Nop(), audit.SourceCLI)
	if err != nil {
		t.Fatalf("failed to open vault: %v", err)
	}
	defer session.Close()

	if err := session.Vault.UpdateKey(testPassphrase); err != nil {
		t.Fatalf("failed to init vault: %v", err)
	}
}

// testServer creates an unlocked server over a fresh vault
func testServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	initVault(t, cfg)

	server, err := NewServer(&ServerOptions{Config: cfg, Passphrase: testPassphrase})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server
}

// addTestRecord adds a record to the vault for testing
func addTestRecord(t *testing.T, s *Server, name, user, password string) vault.PreviewRecord {
	t.Helper()
	rec, err := s.vault.AddRecord(name, user, password)
	if err != nil {
		t.Fatalf("failed to add record '%s': %v", name, err)
	}
	return rec
}

func TestNewServer_NoConfig(t *testing.T) {
	if _, err := NewServer(nil); err == nil {
		t.Error("expected error without config")
	}
}

func TestNewServer_NoPassphrase(t *testing.T) {
	cfg := testConfig(t)
	initVault(t, cfg)
	t.Setenv(config.EnvPassphrase, "")

	_, err := NewServer(&ServerOptions{Config: cfg})
	if !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("expected ErrNoPassphrase, got %v", err)
	}
}

func TestNewServer_InvalidPassphrase(t *testing.T) {
	cfg := testConfig(t)
	initVault(t, cfg)

	_, err := NewServer(&ServerOptions{Config: cfg, Passphrase: "Wrong123"})
	if err == nil {
		t.Error("expected error with invalid passphrase")
	}
}

func TestNewServer_Uninitialized(t *testing.T) {
	_, err := NewServer(&ServerOptions{Config: testConfig(t), Passphrase: testPassphrase})
	if err == nil {
		t.Error("expected error for a vault without master key")
	}
}

func TestNewServer_FromEnvironment(t *testing.T) {
	cfg := testConfig(t)
	initVault(t, cfg)
	t.Setenv(config.EnvPassphrase, testPassphrase)

	server, err := NewServer(&ServerOptions{Config: cfg})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	defer server.Close()

	if os.Getenv(config.EnvPassphrase) != "" {
		t.Error("SAFELOGGER_PASSPHRASE should be cleared after reading")
	}
	if !server.vault.IsAuthenticated() {
		t.Error("vault should be unlocked")
	}
}

func TestNewServer_ToolPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.MCP = config.MCPConfig{
		DefaultAction: config.ActionDeny,
		AllowedTools:  []string{"record_*", "vault_health"},
		DeniedTools:   []string{"record_get_masked"},
	}
	server := testServer(t, cfg)

	got := server.Tools()
	sort.Strings(got)
	want := []string{"record_archive", "record_exists", "record_list", "vault_health"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Tools() = %v, want %v", got, want)
	}
}

func TestServer_Close(t *testing.T) {
	cfg := testConfig(t)
	initVault(t, cfg)

	server, err := NewServer(&ServerOptions{Config: cfg, Passphrase: testPassphrase})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	if err := server.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
	if server.vault.IsAuthenticated() {
		t.Error("vault should be locked after Close")
	}
	if err := server.Close(); err != nil {
		t.Errorf("second Close returned error: %v", err)
	}
}

func TestHandleRecordList(t *testing.T) {
	server := testServer(t, testConfig(t))
	ctx := context.Background()

	_, output, err := server.handleRecordList(ctx, nil, RecordListInput{})
	if err != nil {
		t.Fatalf("handleRecordList failed: %v", err)
	}
	if len(output.Records) != 0 {
		t.Errorf("expected 0 records, got %d", len(output.Records))
	}

	addTestRecord(t, server, "work/mail", "alice", "mailpass1")
	addTestRecord(t, server, "bank", "alice", "bankpass2")

	_, output, err = server.handleRecordList(ctx, nil, RecordListInput{})
	if err != nil {
		t.Fatalf("handleRecordList failed: %v", err)
	}
	if len(output.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(output.Records))
	}
	if output.Records[0].Freshness != "fresh" || output.Records[0].AgeInDays != 0 {
		t.Errorf("unexpected metadata %+v", output.Records[0])
	}

	// Verify no passwords are exposed
	data, _ := json.Marshal(output)
	if strings.Contains(string(data), "mailpass1") || strings.Contains(string(data), "bankpass2") {
		t.Error("record_list output contains a password")
	}

	_, output, err = server.handleRecordList(ctx, nil, RecordListInput{Query: "work/*"})
	if err != nil {
		t.Fatalf("handleRecordList failed: %v", err)
	}
	if len(output.Records) != 1 || output.Records[0].Name != "work/mail" {
		t.Errorf("expected only work/mail, got %+v", output.Records)
	}
}

func TestHandleRecordExists(t *testing.T) {
	server := testServer(t, testConfig(t))
	addTestRecord(t, server, "bank", "alice", "bankpass2")
	ctx := context.Background()

	_, output, err := server.handleRecordExists(ctx, nil, RecordNameInput{Name: "bank"})
	if err != nil {
		t.Fatalf("handleRecordExists failed: %v", err)
	}
	if !output.Exists || output.Record == nil || output.Record.UserName != "alice" {
		t.Errorf("unexpected output %+v", output)
	}

	_, output, err = server.handleRecordExists(ctx, nil, RecordNameInput{Name: "shop"})
	if err != nil {
		t.Fatalf("handleRecordExists failed: %v", err)
	}
	if output.Exists || output.Record != nil {
		t.Errorf("expected missing record, got %+v", output)
	}

	if _, _, err := server.handleRecordExists(ctx, nil, RecordNameInput{}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestHandleRecordGetMasked(t *testing.T) {
	cfg := testConfig(t)
	server := testServer(t, cfg)
	addTestRecord(t, server, "bank", "alice", "bankpassWXYZ")
	ctx := context.Background()

	_, output, err := server.handleRecordGetMasked(ctx, nil, RecordNameInput{Name: "bank"})
	if err != nil {
		t.Fatalf("handleRecordGetMasked failed: %v", err)
	}
	if output.MaskedPassword != "********WXYZ" {
		t.Errorf("expected masked password '********WXYZ', got %s", output.MaskedPassword)
	}
	if output.PasswordLength != 12 {
		t.Errorf("expected length 12, got %d", output.PasswordLength)
	}

	if _, _, err := server.handleRecordGetMasked(ctx, nil, RecordNameInput{Name: "shop"}); err == nil {
		t.Error("expected error for missing record")
	}
	if _, _, err := server.handleRecordGetMasked(ctx, nil, RecordNameInput{}); err == nil {
		t.Error("expected error for empty name")
	}

	events, err := server.audit.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	last := events[len(events)-1]
	if last.Operation != audit.OpRecordGetMasked || last.Actor.Source != audit.SourceMCP {
		t.Errorf("expected record.get_masked from mcp, got %s from %s", last.Operation, last.Actor.Source)
	}
}

func TestHandleRecordArchive(t *testing.T) {
	server := testServer(t, testConfig(t))
	rec := addTestRecord(t, server, "bank", "alice", "bankpass1")
	if err := server.vault.UpdateRecord(rec, "bank", "alice", "bankpass2", false); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}
	ctx := context.Background()

	_, output, err := server.handleRecordArchive(ctx, nil, RecordNameInput{Name: "bank"})
	if err != nil {
		t.Fatalf("handleRecordArchive failed: %v", err)
	}
	if len(output.Periods) != 1 {
		t.Fatalf("expected 1 archived period, got %d", len(output.Periods))
	}
	data, _ := json.Marshal(output)
	if strings.Contains(string(data), "bankpass1") {
		t.Error("record_archive output contains a password")
	}
}

func TestHandlePasswordGenerate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generator.Length = 20
	server := testServer(t, cfg)
	ctx := context.Background()

	_, output, err := server.handlePasswordGenerate(ctx, nil, PasswordGenerateInput{})
	if err != nil {
		t.Fatalf("handlePasswordGenerate failed: %v", err)
	}
	if output.Length != 20 || len(output.Password) != 20 {
		t.Errorf("expected configured length 20, got %+v", output)
	}

	length, digits, upper := 8, false, false
	_, output, err = server.handlePasswordGenerate(ctx, nil, PasswordGenerateInput{Length: &length, Digits: &digits, Upper: &upper})
	if err != nil {
		t.Fatalf("handlePasswordGenerate failed: %v", err)
	}
	if output.Password != strings.ToLower(output.Password) || strings.ContainsAny(output.Password, "0123456789") {
		t.Errorf("expected lowercase only, got %s", output.Password)
	}

	tooShort := 3
	if _, _, err := server.handlePasswordGenerate(ctx, nil, PasswordGenerateInput{Length: &tooShort}); !errors.Is(err, vault.ErrInvalidLength) {
		t.Errorf("expected ErrInvalidLength, got %v", err)
	}
}

func TestHandleVaultHealth(t *testing.T) {
	server := testServer(t, testConfig(t))
	addTestRecord(t, server, "bank", "alice", "abc123")
	addTestRecord(t, server, "mail", "alice", "abc123")
	ctx := context.Background()

	_, report, err := server.handleVaultHealth(ctx, nil, VaultHealthInput{})
	if err != nil {
		t.Fatalf("handleVaultHealth failed: %v", err)
	}
	if report.Freshness.Fresh != 2 {
		t.Errorf("expected 2 fresh records, got %+v", report.Freshness)
	}
	if report.Overall >= 100 {
		t.Errorf("expected weak duplicate passwords to lower the score, got %d", report.Overall)
	}
	data, _ := json.Marshal(report)
	if strings.Contains(string(data), "abc123") {
		t.Error("vault_health output contains a password")
	}
}

func TestServerOverTransport(t *testing.T) {
	server := testServer(t, testConfig(t))
	addTestRecord(t, server, "bank", "alice", "bankpass2")
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect failed: %v", err)
	}
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect failed: %v", err)
	}
	defer clientSession.Close()

	tools, err := clientSession.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools.Tools) != 6 {
		t.Errorf("expected 6 tools, got %d", len(tools.Tools))
	}

	result, err := clientSession.CallTool(ctx, &mcp.CallToolParams{
		Name:      "record_exists",
		Arguments: map[string]any{"name": "bank"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("record_exists returned an error result: %+v", result.Content)
	}
	data, _ := json.Marshal(result.StructuredContent)
	if !strings.Contains(string(data), `"exists":true`) {
		t.Errorf("unexpected structured content %s", data)
	}
}
