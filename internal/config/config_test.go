package config

import (
	"reflect"
	"testing"
	"time"
)

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"https://a.example", []string{"https://a.example"}},
		{" https://a.example , ,https://b.example ", []string{"https://a.example", "https://b.example"}},
		{",", []string{}},
	}
	for _, tt := range tests {
		if got := parseOrigins(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseOrigins(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("PROCTOR_TEST_INT", "42")
	if got := getEnvInt("PROCTOR_TEST_INT", 7); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	t.Setenv("PROCTOR_TEST_INT", "forty-two")
	if got := getEnvInt("PROCTOR_TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with garbage = %d, want fallback 7", got)
	}
	if got := getEnvInt("PROCTOR_TEST_UNSET", 7); got != 7 {
		t.Errorf("getEnvInt() unset = %d, want 7", got)
	}
}

func TestGetEnvLocation(t *testing.T) {
	t.Setenv("PROCTOR_TEST_TZ", "UTC")
	if got := getEnvLocation("PROCTOR_TEST_TZ", time.Local); got != time.UTC {
		t.Errorf("getEnvLocation() = %v, want UTC", got)
	}
	t.Setenv("PROCTOR_TEST_TZ", "Nowhere/Imaginary")
	if got := getEnvLocation("PROCTOR_TEST_TZ", time.Local); got != time.Local {
		t.Errorf("getEnvLocation() unknown zone = %v, want fallback", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", StoreDriverMemory)
	t.Setenv("VIOLATION_DEBOUNCE_MS", "500")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "0")
	t.Setenv("ALLOWED_ORIGINS", "https://exam.example")

	cfg := Load()
	if cfg.StoreDriver != StoreDriverMemory {
		t.Errorf("StoreDriver = %q", cfg.StoreDriver)
	}
	if cfg.ViolationDebounce != 500*time.Millisecond {
		t.Errorf("ViolationDebounce = %v, want 500ms", cfg.ViolationDebounce)
	}
	if cfg.SweepInterval != 0 {
		t.Errorf("SweepInterval = %v, want disabled", cfg.SweepInterval)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://exam.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}
