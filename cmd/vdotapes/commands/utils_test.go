package commands

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestIsYes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		answer string
		want   bool
	}{
		{"y\n", true},
		{"YES", true},
		{"  yes  ", true},
		{"n", false},
		{"", false},
		{"yep", false},
	}

	for _, tt := range tests {
		if got := isYes(tt.answer); got != tt.want {
			t.Errorf("isYes(%q) = %v, want %v", tt.answer, got, tt.want)
		}
	}
}

func TestConfirm(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if !confirm(strings.NewReader("y\n"), &out, "Proceed?") {
		t.Error("Expected confirmation for y")
	}
	if !strings.Contains(out.String(), "Proceed? [y/N]") {
		t.Errorf("Prompt not written: %q", out.String())
	}

	if confirm(strings.NewReader(""), &out, "Proceed?") {
		t.Error("Empty input must not confirm")
	}
	if confirm(strings.NewReader("no\n"), &out, "Proceed?") {
		t.Error("no must not confirm")
	}
}

func TestParseSettingValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"42", "42"},
		{"true", "true"},
		{`{"a":1}`, `{"a":1}`},
		{`"quoted"`, `"quoted"`},
		{"plain text", `"plain text"`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(parseSettingValue(tt.in))
		if err != nil {
			t.Fatalf("Marshal(%q) failed: %v", tt.in, err)
		}
		if string(data) != tt.want {
			t.Errorf("parseSettingValue(%q) marshals to %s, want %s", tt.in, data, tt.want)
		}
	}
}

func TestPrintJSON(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := printJSON(&out, map[string]int{"synced": 3}); err != nil {
		t.Fatalf("printJSON() failed: %v", err)
	}
	if out.String() != "{\n  \"synced\": 3\n}\n" {
		t.Errorf("Unexpected output: %q", out.String())
	}
}
