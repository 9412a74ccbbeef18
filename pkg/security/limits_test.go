package security

import "testing"

func TestLimits_IsLimited(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		want   bool
	}{
		{
			name:   "summary_is_limited",
			limits: SummaryLimits(),
			want:   true,
		},
		{
			name:   "unlimited",
			limits: Unlimited(),
			want:   false,
		},
		{
			name:   "custom_limited",
			limits: Limits{OverdueLimit: 5},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.limits.IsLimited(); got != tt.want {
				t.Errorf("Limits.IsLimited() = %v, want %v", got, tt.want)
			}
		})
	}
}
