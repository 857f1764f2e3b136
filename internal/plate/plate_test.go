package plate

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Key
		wantErr bool
	}{
		{"already normalized", "AB12CDE", "AB12CDE", false},
		{"space separated", "AB12 CDE", "AB12CDE", false},
		{"lowercase", "ab12cde", "AB12CDE", false},
		{"surrounding whitespace", "  ab12 cde\n", "AB12CDE", false},
		{"tabs inside", "AB\t12\tCDE", "AB12CDE", false},
		{"exactly five", "AB123", "AB123", false},
		{"too short", "AB12", "", true},
		{"too short after strip", " A B 1 ", "", true},
		{"empty", "", "", true},
		{"punctuation", "AB-12CDE", "", true},
		{"non ascii letter", "ÄB12CDE", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPlate) {
					t.Fatalf("Normalize(%q) error = %v, want ErrInvalidPlate", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestMustNormalizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected MustNormalize to panic on invalid plate")
		}
	}()
	MustNormalize("x")
}
