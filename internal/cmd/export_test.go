package cmd

import "testing"

func TestParseBBoxFlag(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    [4]float64
		wantErr bool
	}{
		{
			name:  "valid bbox",
			input: "9.7,52.3,9.9,52.4",
			want:  [4]float64{9.7, 52.3, 9.9, 52.4},
		},
		{
			name:  "valid bbox with spaces",
			input: "9.7, 52.3, 9.9, 52.4",
			want:  [4]float64{9.7, 52.3, 9.9, 52.4},
		},
		{
			name:  "negative coordinates",
			input: "-122.5,37.7,-122.3,37.9",
			want:  [4]float64{-122.5, 37.7, -122.3, 37.9},
		},
		{
			name:    "too few values",
			input:   "9.7,52.3,9.9",
			wantErr: true,
		},
		{
			name:    "too many values",
			input:   "9.7,52.3,9.9,52.4,10.0",
			wantErr: true,
		},
		{
			name:    "invalid number",
			input:   "abc,52.3,9.9,52.4",
			wantErr: true,
		},
		{
			name:    "minLon >= maxLon",
			input:   "10.0,52.3,9.9,52.4",
			wantErr: true,
		},
		{
			name:    "minLat >= maxLat",
			input:   "9.7,52.5,9.9,52.4",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBBoxFlag(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseBBoxFlag(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseBBoxFlag(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseBBoxFlag(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRefreshFlag(t *testing.T) {
	if _, err := parseRefreshFlag("unconditional"); err != nil {
		t.Errorf("unconditional: unexpected error %v", err)
	}
	if _, err := parseRefreshFlag(""); err != nil {
		t.Errorf("empty defaults to unconditional: unexpected error %v", err)
	}
	if _, err := parseRefreshFlag("hash"); err != nil {
		t.Errorf("hash: unexpected error %v", err)
	}
	if _, err := parseRefreshFlag("2024-01-01T00:00:00Z"); err != nil {
		t.Errorf("RFC3339 time: unexpected error %v", err)
	}
	if _, err := parseRefreshFlag("not-a-time"); err == nil {
		t.Error("garbage refresh value: expected error, got nil")
	}
}
