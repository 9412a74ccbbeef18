package security

import "testing"

func TestGradePassword(t *testing.T) {
	tests := []struct {
		name        string
		password    string
		wantPoints  int
		wantClasses int
	}{
		{"empty", "", 0, 0},
		{"too short", "abc123", 0, 2},
		{"too short mixed", "Ab1-xyz", 0, 4},
		{"8 lowercase", "abcdefgh", 8, 1},
		{"8 mixed", "Abcdef12", 17, 3},
		{"14 chars", "1234567890abcd", 17, 2},
		{"14 mixed", "Secret-Pass-12", MaxPoints, 4},
		{"20 chars", "1234567890abcdefghij", MaxPoints, 2},
		{"20 mixed stays at max", "Abcdefghij1234567890", MaxPoints, 3},
		// Counted in characters, not bytes
		{"multibyte 7 chars", "äöüäöüä", 0, 1},
		{"multibyte 8 chars", "äöüäöüäö", 8, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GradePassword(tt.password)
			if got.Points != tt.wantPoints {
				t.Errorf("GradePassword(%q).Points = %d, want %d", tt.password, got.Points, tt.wantPoints)
			}
			if got.Classes != tt.wantClasses {
				t.Errorf("GradePassword(%q).Classes = %d, want %d", tt.password, got.Classes, tt.wantClasses)
			}
			if got.Weak() != (tt.wantPoints == 0) {
				t.Errorf("GradePassword(%q).Weak() = %v", tt.password, got.Weak())
			}
		})
	}
}
