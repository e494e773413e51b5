package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestEndpointName(t *testing.T) {
	valid := []string{
		"lan0",
		"wan-uplink",
		"a",
		"a1",
		"family",
		"guest-net",
		"x",
		"alpha-beta-gamma",
		"test123",
	}
	for _, name := range valid {
		if err := EndpointName(name); err != nil {
			t.Errorf("EndpointName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []struct {
		name string
		desc string
	}{
		{"", "empty"},
		{"My-Crew", "uppercase"},
		{"GAMING", "all uppercase"},
		{"my crew", "space"},
		{"-dash-start", "starts with hyphen"},
		{"dash-end-", "ends with hyphen"},
		{"-", "single hyphen"},
		{"has.dots", "dot"},
		{"has/slash", "slash"},
		{"has\\back", "backslash"},
		{"new\nline", "newline"},
		{"foo\tbar", "tab"},
		{"foo/../../etc", "path traversal"},
		{strings.Repeat("a", 64), "too long (64 chars)"},
		{"hello!", "exclamation"},
	}
	for _, tc := range invalid {
		if err := EndpointName(tc.name); err == nil {
			t.Errorf("EndpointName(%q) [%s] = nil, want error", tc.name, tc.desc)
		}
	}
}

func TestEndpointName_MaxLength(t *testing.T) {
	// 63 chars should be valid
	name63 := strings.Repeat("a", 63)
	if err := EndpointName(name63); err != nil {
		t.Errorf("EndpointName(63 chars) = %v, want nil", err)
	}

	// 64 chars should be invalid
	name64 := strings.Repeat("a", 64)
	if err := EndpointName(name64); err == nil {
		t.Error("EndpointName(64 chars) = nil, want error")
	}
}

func TestEndpointName_SentinelError(t *testing.T) {
	err := EndpointName("INVALID")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrInvalidEndpointName) {
		t.Errorf("error should wrap ErrInvalidEndpointName, got: %v", err)
	}
}
