package security

import (
	"sort"
	"strconv"

	"github.com/forest6511/safelogger/pkg/vault"
)

// Component weights of the overall score (total: 100).
const (
	StrengthWeight   = 30
	UniquenessWeight = 30
	FreshnessWeight  = 40
)

// Report represents the security assessment of a set of records.
type Report struct {
	// Overall is the total score (0-100).
	Overall int `json:"overall"`
	// Components breaks down the score into categories.
	Components ScoreComponents `json:"components"`
	// Freshness counts records per freshness class.
	Freshness FreshnessCounts `json:"freshness"`
	// Overdue lists aging and stale records, oldest first.
	Overdue []OverdueRecord `json:"overdue"`
	// Issues contains the detected security issues.
	Issues []Issue `json:"issues"`
	// Suggestions provides actionable recommendations.
	Suggestions []string `json:"suggestions"`
	// Limited indicates if any list was truncated.
	Limited bool `json:"limited"`
}

// ScoreComponents breaks down the security score into categories.
type ScoreComponents struct {
	// Strength is based on average password strength (0-StrengthWeight).
	Strength int `json:"strength"`
	// Uniqueness is based on the share of unique passwords (0-UniquenessWeight).
	Uniqueness int `json:"uniqueness"`
	// Freshness is based on password age (0-FreshnessWeight).
	Freshness int `json:"freshness"`
}

// FreshnessCounts counts records per freshness class.
type FreshnessCounts struct {
	Fresh int `json:"fresh"`
	Aging int `json:"aging"`
	Stale int `json:"stale"`
}

// OverdueRecord is a record whose password should be changed.
type OverdueRecord struct {
	Name        string `json:"name"`
	LastChanged string `json:"last_changed"`
	AgeInDays   int    `json:"age_days"`
	Freshness   string `json:"freshness"`

	freshness vault.Freshness
}

// IssueType identifies the type of security issue.
type IssueType string

const (
	// IssueWeakPassword indicates a password with insufficient strength.
	IssueWeakPassword IssueType = "weak"
	// IssueDuplicatePassword indicates passwords reused across records.
	IssueDuplicatePassword IssueType = "duplicate"
	// IssueAging indicates a password that should be changed soon.
	IssueAging IssueType = "aging"
	// IssueStale indicates a password that is overdue for a change.
	IssueStale IssueType = "stale"
)

// Severity indicates the urgency of a security issue.
type Severity string

const (
	// SeverityCritical requires immediate attention.
	SeverityCritical Severity = "critical"
	// SeverityWarning should be addressed soon.
	SeverityWarning Severity = "warning"
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"
)

// Issue represents a detected security problem.
type Issue struct {
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	Names       []string  `json:"names"`
	Description string    `json:"description"`
	Suggestion  string    `json:"suggestion,omitempty"`
}

// Analyze computes the security report for records as returned by
// vault.ListRecords. Scores cover every record; limits only truncate the
// listed issues.
func Analyze(records []vault.PreviewRecord, limits Limits) (*Report, error) {
	report := &Report{
		Overdue:     []OverdueRecord{},
		Issues:      []Issue{},
		Suggestions: []string{},
	}

	// Empty vault: perfect score
	if len(records) == 0 {
		report.Components = ScoreComponents{
			Strength:   StrengthWeight,
			Uniqueness: UniquenessWeight,
			Freshness:  FreshnessWeight,
		}
		report.Overall = 100
		return report, nil
	}

	strength, weak := strengthScore(records)
	duplicates, err := FindDuplicates(records)
	if err != nil {
		return nil, err
	}
	uniqueness := uniquenessScore(records, duplicates)
	freshness, counts, overdue := freshnessScore(records)

	report.Components = ScoreComponents{
		Strength:   strength,
		Uniqueness: uniqueness,
		Freshness:  freshness,
	}
	report.Overall = strength + uniqueness + freshness
	report.Freshness = counts

	var limited bool
	weak, limited = truncate(weak, limits.WeakLimit, limited)
	duplicates, limited = truncate(duplicates, limits.DuplicateLimit, limited)
	overdue, limited = truncate(overdue, limits.OverdueLimit, limited)
	report.Limited = limited
	report.Overdue = overdue

	for _, rec := range weak {
		report.Issues = append(report.Issues, Issue{
			Type:        IssueWeakPassword,
			Severity:    SeverityWarning,
			Names:       []string{rec.Name},
			Description: "Password has insufficient strength (" + formatLength(len([]rune(rec.Password))) + ")",
			Suggestion:  "Use a longer password (14+ characters recommended)",
		})
	}
	for _, dup := range duplicates {
		report.Issues = append(report.Issues, Issue{
			Type:        IssueDuplicatePassword,
			Severity:    SeverityWarning,
			Names:       dup.Names,
			Description: strconv.Itoa(dup.Count) + " records share the same password",
			Suggestion:  "Use unique passwords for each record",
		})
	}
	for _, rec := range overdue {
		issue := Issue{
			Type:        IssueAging,
			Severity:    SeverityInfo,
			Names:       []string{rec.Name},
			Description: "Password last changed " + formatDays(rec.AgeInDays) + " ago",
			Suggestion:  "Plan to change this password",
		}
		if rec.freshness == vault.Stale {
			issue.Type = IssueStale
			issue.Severity = SeverityCritical
			issue.Suggestion = "Change this password now"
		}
		report.Issues = append(report.Issues, issue)
	}

	report.Suggestions = generateSuggestions(report.Issues)
	return report, nil
}

// strengthScore returns the strength component and the weak records.
func strengthScore(records []vault.PreviewRecord) (int, []vault.PreviewRecord) {
	var weak []vault.PreviewRecord
	totalPoints := 0
	for _, rec := range records {
		g := GradePassword(rec.Password)
		totalPoints += g.Points
		if g.Weak() {
			weak = append(weak, rec)
		}
	}

	avg := float64(totalPoints) / float64(len(records)) / float64(MaxPoints)
	return int(avg * StrengthWeight), weak
}

// uniquenessScore scales the share of records holding a unique password.
func uniquenessScore(records []vault.PreviewRecord, duplicates []DuplicateGroup) int {
	shared := 0
	for _, dup := range duplicates {
		shared += dup.Count - 1
	}
	unique := len(records) - shared
	return int(float64(unique) / float64(len(records)) * UniquenessWeight)
}

// freshnessScore gives full points to fresh records, half to aging ones and
// none to stale ones. Overdue records are returned oldest first.
func freshnessScore(records []vault.PreviewRecord) (int, FreshnessCounts, []OverdueRecord) {
	var counts FreshnessCounts
	var overdue []OverdueRecord
	for _, rec := range records {
		switch rec.Freshness {
		case vault.Fresh:
			counts.Fresh++
			continue
		case vault.Aging:
			counts.Aging++
		case vault.Stale:
			counts.Stale++
		}
		overdue = append(overdue, OverdueRecord{
			Name:        rec.Name,
			LastChanged: rec.LastChanged.String(),
			AgeInDays:   rec.AgeInDays,
			Freshness:   rec.Freshness.String(),
			freshness:   rec.Freshness,
		})
	}

	sort.SliceStable(overdue, func(i, j int) bool {
		return overdue[i].AgeInDays > overdue[j].AgeInDays
	})

	points := float64(counts.Fresh) + float64(counts.Aging)/2
	score := int(points / float64(len(records)) * FreshnessWeight)
	return score, counts, overdue
}

func truncate[T any](items []T, limit int, limited bool) ([]T, bool) {
	if limit > 0 && len(items) > limit {
		return items[:limit], true
	}
	return items, limited
}

// generateSuggestions creates actionable recommendations based on issues.
func generateSuggestions(issues []Issue) []string {
	var suggestions []string
	hasWeak := false
	hasDuplicate := false
	hasAging := false
	hasStale := false

	for _, issue := range issues {
		switch issue.Type {
		case IssueWeakPassword:
			hasWeak = true
		case IssueDuplicatePassword:
			hasDuplicate = true
		case IssueAging:
			hasAging = true
		case IssueStale:
			hasStale = true
		}
	}

	if hasWeak {
		suggestions = append(suggestions, "Update weak passwords with stronger alternatives (14+ characters)")
	}
	if hasDuplicate {
		suggestions = append(suggestions, "Replace duplicate passwords with unique values")
	}
	if hasStale {
		suggestions = append(suggestions, "Change stale passwords immediately")
	}
	if hasAging {
		suggestions = append(suggestions, "Plan to change aging passwords before they become stale")
	}
	if suggestions == nil {
		return []string{}
	}
	return suggestions
}

// formatLength returns a human-readable length description.
func formatLength(n int) string {
	if n == 1 {
		return "1 character"
	}
	return strconv.Itoa(n) + " characters"
}

// formatDays returns a human-readable day count.
func formatDays(days int) string {
	if days == 1 {
		return "1 day"
	}
	return strconv.Itoa(days) + " days"
}
