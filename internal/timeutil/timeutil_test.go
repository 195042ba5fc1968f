package timeutil

import "testing"

func TestFromUnix(t *testing.T) {
	tests := []struct {
		name    string
		input   int64
		wantErr bool
	}{
		{"seconds", 1700000000, false},
		{"millis", 1700000000000, false},
		{"zero", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromUnix(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromUnix(%d) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && !IsCanonical(got) {
				t.Errorf("FromUnix(%d) = %q, not canonical", tt.input, got)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "2024-03-15 10:30:00", false},
		{"empty", "", true},
		{"bad format", "2024/03/15 10:30:00", true},
		{"fractional seconds", "2024-03-15 10:30:00.123", true},
		{"impossible date", "2024-02-30 10:30:00", true},
		{"impossible month", "2024-13-01 10:30:00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestFromUnixMillisDetectionBoundary(t *testing.T) {
	secStr, err := FromUnix(9_999_999_999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	milliStr, err := FromUnix(10_000_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secStr == milliStr {
		t.Errorf("expected different rendering across the magnitude threshold, got %q for both", secStr)
	}
}
