package utils

import "testing"

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"console debug", "debug", "console", false},
		{"default format", "warn", "", false},
		{"bad level", "loud", "json", true},
		{"bad format", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := InitLogger(tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for level=%q format=%q", tt.level, tt.format)
				}
				return
			}
			if err != nil {
				t.Fatalf("InitLogger failed: %v", err)
			}
			if logger == nil {
				t.Fatal("nil logger")
			}
		})
	}
}
