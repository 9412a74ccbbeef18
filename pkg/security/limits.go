package security

// Limits caps how many issues of each kind a report lists. Zero means
// unlimited. Scores are always computed over every record.
type Limits struct {
	// DuplicateLimit is the max duplicate groups to show.
	DuplicateLimit int
	// WeakLimit is the max weak passwords to show.
	WeakLimit int
	// OverdueLimit is the max aging or stale records to show.
	OverdueLimit int
}

// SummaryLimits returns the limits used for short reports.
func SummaryLimits() Limits {
	return Limits{
		DuplicateLimit: 3,
		WeakLimit:      3,
		OverdueLimit:   5,
	}
}

// Unlimited returns limits that list every issue.
func Unlimited() Limits {
	return Limits{}
}

// IsLimited returns true if the results may be truncated.
func (l Limits) IsLimited() bool {
	return l.DuplicateLimit > 0 || l.WeakLimit > 0 || l.OverdueLimit > 0
}
