package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value      string
		defaultVal bool
		want       bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"off", true, false},
		{"", true, true},
		{"garbage", true, true},
		{"garbage", false, false},
	}
	for _, tt := range tests {
		t.Setenv("COACHFLOW_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("COACHFLOW_TEST_BOOL", tt.defaultVal); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.defaultVal, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		value      string
		defaultVal int
		want       int
	}{
		{"20", 5, 20},
		{"  42 ", 5, 42},
		{"", 5, 5},
		{"not-a-number", 5, 5},
		{"-3", 5, -3},
	}
	for _, tt := range tests {
		t.Setenv("COACHFLOW_TEST_INT", tt.value)
		if got := ParseIntEnv("COACHFLOW_TEST_INT", tt.defaultVal); got != tt.want {
			t.Errorf("ParseIntEnv(%q, %d) = %d, want %d", tt.value, tt.defaultVal, got, tt.want)
		}
	}
}
