package security

import (
	"reflect"
	"testing"

	"github.com/forest6511/safelogger/pkg/vault"
)

func record(name, password string, age int, f vault.Freshness) vault.PreviewRecord {
	return vault.PreviewRecord{Name: name, Password: password, AgeInDays: age, Freshness: f}
}

func TestAnalyzeEmpty(t *testing.T) {
	report, err := Analyze(nil, Unlimited())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if report.Overall != 100 {
		t.Errorf("expected perfect score for empty vault, got %d", report.Overall)
	}
	if report.Issues == nil || report.Suggestions == nil || report.Overdue == nil {
		t.Error("expected empty, non-nil lists")
	}
}

func TestAnalyzeHealthyVault(t *testing.T) {
	records := []vault.PreviewRecord{
		record("bank", "correct-horse-battery-staple", 3, vault.Fresh),
		record("mail", "another-long-passphrase-here", 10, vault.Fresh),
	}

	report, err := Analyze(records, Unlimited())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if report.Overall != 100 {
		t.Errorf("expected score 100, got %d (%+v)", report.Overall, report.Components)
	}
	if len(report.Issues) != 0 {
		t.Errorf("expected no issues, got %+v", report.Issues)
	}
	if report.Freshness != (FreshnessCounts{Fresh: 2}) {
		t.Errorf("unexpected freshness counts %+v", report.Freshness)
	}
}

func TestAnalyzeFindsIssues(t *testing.T) {
	records := []vault.PreviewRecord{
		record("bank", "abc123", 10, vault.Fresh),
		record("mail", "abc123", 160, vault.Aging),
		record("shop", "a-very-long-unique-passphrase", 300, vault.Stale),
		record("work", "another-long-unique-passphrase", 200, vault.Aging),
	}

	report, err := Analyze(records, Unlimited())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if report.Freshness != (FreshnessCounts{Fresh: 1, Aging: 2, Stale: 1}) {
		t.Errorf("unexpected freshness counts %+v", report.Freshness)
	}

	var names []string
	for _, o := range report.Overdue {
		names = append(names, o.Name)
	}
	if want := []string{"shop", "work", "mail"}; !reflect.DeepEqual(names, want) {
		t.Errorf("expected overdue oldest first %v, got %v", want, names)
	}

	byType := make(map[IssueType][]Issue)
	for _, issue := range report.Issues {
		byType[issue.Type] = append(byType[issue.Type], issue)
	}
	if len(byType[IssueWeakPassword]) != 2 {
		t.Errorf("expected 2 weak issues, got %d", len(byType[IssueWeakPassword]))
	}
	dups := byType[IssueDuplicatePassword]
	if len(dups) != 1 || !reflect.DeepEqual(dups[0].Names, []string{"bank", "mail"}) {
		t.Errorf("expected bank and mail to share a password, got %+v", dups)
	}
	if len(byType[IssueStale]) != 1 || byType[IssueStale][0].Severity != SeverityCritical {
		t.Errorf("expected one critical stale issue, got %+v", byType[IssueStale])
	}
	if len(byType[IssueAging]) != 2 {
		t.Errorf("expected 2 aging issues, got %d", len(byType[IssueAging]))
	}

	// 3 of 4 unique, freshness (1 + 2*0.5) / 4
	if report.Components.Uniqueness != 22 {
		t.Errorf("expected uniqueness 22, got %d", report.Components.Uniqueness)
	}
	if report.Components.Freshness != 20 {
		t.Errorf("expected freshness 20, got %d", report.Components.Freshness)
	}
	if report.Overall != report.Components.Strength+report.Components.Uniqueness+report.Components.Freshness {
		t.Errorf("overall %d is not the sum of %+v", report.Overall, report.Components)
	}
	if len(report.Suggestions) != 4 {
		t.Errorf("expected 4 suggestions, got %v", report.Suggestions)
	}
}

func TestAnalyzeLimits(t *testing.T) {
	var records []vault.PreviewRecord
	for i, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		records = append(records, record(name, "short"+name, 300+i, vault.Stale))
	}

	report, err := Analyze(records, SummaryLimits())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !report.Limited {
		t.Error("expected report to be limited")
	}
	if len(report.Overdue) != SummaryLimits().OverdueLimit {
		t.Errorf("expected %d overdue records, got %d", SummaryLimits().OverdueLimit, len(report.Overdue))
	}
	if report.Overdue[0].Name != "g" {
		t.Errorf("expected oldest record first, got %s", report.Overdue[0].Name)
	}
	if report.Freshness.Stale != 7 {
		t.Errorf("expected counts over every record, got %+v", report.Freshness)
	}
	if report.Components.Strength != 0 {
		t.Errorf("expected strength 0 for only weak passwords, got %d", report.Components.Strength)
	}
}

func TestFindDuplicates(t *testing.T) {
	records := []vault.PreviewRecord{
		record("a", "same", 0, vault.Fresh),
		record("b", "other", 0, vault.Fresh),
		record("c", " same ", 0, vault.Fresh),
		record("d", "other", 0, vault.Fresh),
		record("e", "same", 0, vault.Fresh),
		record("f", "", 0, vault.Fresh),
		record("g", "", 0, vault.Fresh),
	}

	groups, err := FindDuplicates(records)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	want := []DuplicateGroup{
		{Names: []string{"a", "c", "e"}, Count: 3},
		{Names: []string{"b", "d"}, Count: 2},
	}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("FindDuplicates() = %+v, want %+v", groups, want)
	}
}
