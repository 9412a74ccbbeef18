package mcp

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/safelogger/internal/cli"
	"github.com/forest6511/safelogger/pkg/audit"
	"github.com/forest6511/safelogger/pkg/security"
	"github.com/forest6511/safelogger/pkg/vault"
)

// RecordListInput represents input for record_list tool.
type RecordListInput struct {
	Query string `json:"query,omitempty"`
}

// RecordListOutput represents output for record_list tool.
type RecordListOutput struct {
	Records []RecordInfo `json:"records"`
}

// RecordInfo represents metadata for a record (no password).
type RecordInfo struct {
	Name        string `json:"name"`
	UserName    string `json:"user_name"`
	LastChanged string `json:"last_changed"`
	AgeInDays   int    `json:"age_days"`
	Freshness   string `json:"freshness"`
}

// RecordNameInput represents input for tools addressing one record.
type RecordNameInput struct {
	Name string `json:"name"`
}

// RecordExistsOutput represents output for record_exists tool.
type RecordExistsOutput struct {
	Exists bool        `json:"exists"`
	Record *RecordInfo `json:"record,omitempty"`
}

// RecordGetMaskedOutput represents output for record_get_masked tool.
type RecordGetMaskedOutput struct {
	Name           string `json:"name"`
	MaskedPassword string `json:"masked_password"`
	PasswordLength int    `json:"password_length"`
}

// RecordArchiveOutput represents output for record_archive tool.
type RecordArchiveOutput struct {
	Name    string           `json:"name"`
	Periods []ArchivedPeriod `json:"periods"`
}

// ArchivedPeriod is the interval during which an earlier password was active.
type ArchivedPeriod struct {
	ActiveFrom  string `json:"active_from"`
	ActiveUntil string `json:"active_until"`
}

// PasswordGenerateInput represents input for password_generate tool.
// Unset fields fall back to the configured generator defaults.
type PasswordGenerateInput struct {
	Length *int     `json:"length,omitempty"`
	Digits *bool    `json:"digits,omitempty"`
	Upper  *bool    `json:"upper,omitempty"`
	Ratio  *float64 `json:"ratio,omitempty"`
}

// PasswordGenerateOutput represents output for password_generate tool.
type PasswordGenerateOutput struct {
	Password string `json:"password"`
	Length   int    `json:"length"`
}

// VaultHealthInput represents input for vault_health tool.
type VaultHealthInput struct {
	All bool `json:"all,omitempty"` // list every issue instead of a summary
}

func recordInfo(rec vault.PreviewRecord) RecordInfo {
	return RecordInfo{
		Name:        rec.Name,
		UserName:    rec.UserName,
		LastChanged: rec.LastChanged.String(),
		AgeInDays:   rec.AgeInDays,
		Freshness:   rec.Freshness.String(),
	}
}

// handleRecordList handles the record_list tool call.
func (s *Server) handleRecordList(_ context.Context, _ *mcp.CallToolRequest, input RecordListInput) (*mcp.CallToolResult, RecordListOutput, error) {
	records, err := s.vault.ListRecords()
	if err != nil {
		return nil, RecordListOutput{}, fmt.Errorf("failed to list records: %w", err)
	}

	records, err = cli.FilterRecords(input.Query, records)
	if err != nil {
		return nil, RecordListOutput{}, err
	}

	// Convert to output format (no passwords!)
	output := RecordListOutput{
		Records: make([]RecordInfo, 0, len(records)),
	}
	for _, rec := range records {
		output.Records = append(output.Records, recordInfo(rec))
	}
	return nil, output, nil
}

// handleRecordExists handles the record_exists tool call.
func (s *Server) handleRecordExists(_ context.Context, _ *mcp.CallToolRequest, input RecordNameInput) (*mcp.CallToolResult, RecordExistsOutput, error) {
	if input.Name == "" {
		return nil, RecordExistsOutput{}, errors.New("name is required")
	}

	rec, err := s.vault.FindRecord(input.Name)
	if err != nil {
		if errors.Is(err, vault.ErrRecordNotFound) {
			s.auditSuccess(audit.OpRecordExists, input.Name)
			return nil, RecordExistsOutput{Exists: false}, nil
		}
		return nil, RecordExistsOutput{}, fmt.Errorf("failed to find record: %w", err)
	}

	s.auditSuccess(audit.OpRecordExists, input.Name)
	info := recordInfo(rec)
	return nil, RecordExistsOutput{Exists: true, Record: &info}, nil
}

// handleRecordGetMasked handles the record_get_masked tool call.
func (s *Server) handleRecordGetMasked(_ context.Context, _ *mcp.CallToolRequest, input RecordNameInput) (*mcp.CallToolResult, RecordGetMaskedOutput, error) {
	if input.Name == "" {
		return nil, RecordGetMaskedOutput{}, errors.New("name is required")
	}

	rec, err := s.vault.FindRecord(input.Name)
	if err != nil {
		return nil, RecordGetMaskedOutput{}, fmt.Errorf("failed to find record: %w", err)
	}

	s.auditSuccess(audit.OpRecordGetMasked, input.Name)
	return nil, RecordGetMaskedOutput{
		Name:           rec.Name,
		MaskedPassword: cli.MaskPassword(rec.Password),
		PasswordLength: utf8.RuneCountInString(rec.Password),
	}, nil
}

// handleRecordArchive handles the record_archive tool call.
func (s *Server) handleRecordArchive(_ context.Context, _ *mcp.CallToolRequest, input RecordNameInput) (*mcp.CallToolResult, RecordArchiveOutput, error) {
	if input.Name == "" {
		return nil, RecordArchiveOutput{}, errors.New("name is required")
	}

	rec, err := s.vault.FindRecord(input.Name)
	if err != nil {
		return nil, RecordArchiveOutput{}, fmt.Errorf("failed to find record: %w", err)
	}

	entries, err := s.vault.GetArchive(rec.ID)
	if err != nil {
		return nil, RecordArchiveOutput{}, fmt.Errorf("failed to read archive: %w", err)
	}

	output := RecordArchiveOutput{
		Name:    rec.Name,
		Periods: make([]ArchivedPeriod, 0, len(entries)),
	}
	for _, e := range entries {
		output.Periods = append(output.Periods, ArchivedPeriod{
			ActiveFrom:  e.ActiveFrom.String(),
			ActiveUntil: e.ActiveUntil.String(),
		})
	}
	return nil, output, nil
}

// handlePasswordGenerate handles the password_generate tool call.
func (s *Server) handlePasswordGenerate(_ context.Context, _ *mcp.CallToolRequest, input PasswordGenerateInput) (*mcp.CallToolResult, PasswordGenerateOutput, error) {
	gen := s.cfg.Generator
	if input.Length != nil {
		gen.Length = *input.Length
	}
	if input.Digits != nil {
		gen.Digits = *input.Digits
	}
	if input.Upper != nil {
		gen.Upper = *input.Upper
	}
	if input.Ratio != nil {
		gen.Ratio = *input.Ratio
	}

	password, err := vault.GeneratePassword(gen.Length, gen.Digits, gen.Upper, gen.Ratio)
	if err != nil {
		return nil, PasswordGenerateOutput{}, err
	}
	return nil, PasswordGenerateOutput{Password: password, Length: len(password)}, nil
}

// handleVaultHealth handles the vault_health tool call.
func (s *Server) handleVaultHealth(_ context.Context, _ *mcp.CallToolRequest, input VaultHealthInput) (*mcp.CallToolResult, security.Report, error) {
	records, err := s.vault.ListRecords()
	if err != nil {
		return nil, security.Report{}, fmt.Errorf("failed to list records: %w", err)
	}

	limits := security.SummaryLimits()
	if input.All {
		limits = security.Unlimited()
	}
	report, err := security.Analyze(records, limits)
	if err != nil {
		return nil, security.Report{}, fmt.Errorf("failed to analyze vault: %w", err)
	}
	return nil, *report, nil
}

func (s *Server) auditSuccess(op, name string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogSuccess(op, name); err != nil {
		s.log.Warn().Err(err).Str("op", op).Msg("failed to write audit event")
	}
}
