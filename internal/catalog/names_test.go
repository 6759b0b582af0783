package catalog

import (
	"strings"
	"testing"
)

func TestGenerateNameDeterministic(t *testing.T) {
	a := GenerateName("employees", "id", "valid")
	b := GenerateName("employees", "id", "valid")
	if a != b {
		t.Errorf("name generation must be deterministic: %s vs %s", a, b)
	}
	if a != "era__employees__id__valid" {
		t.Errorf("unexpected name %s", a)
	}
}

func TestGenerateNameSanitizes(t *testing.T) {
	n := GenerateName("weird table", "col-name")
	if strings.ContainsAny(n, " -") {
		t.Errorf("unsanitized name %s", n)
	}
}

func TestGenerateNameBounded(t *testing.T) {
	long := strings.Repeat("verylongsegment", 10)
	n := GenerateName(long, long, "valid")
	if len(n) > maxIdentifier {
		t.Errorf("name %q exceeds %d bytes (%d)", n, maxIdentifier, len(n))
	}
	if !strings.HasPrefix(n, "era__") {
		t.Errorf("fixed prefix must survive truncation: %s", n)
	}
}

func TestUniqueNameSuffixCounter(t *testing.T) {
	taken := map[string]bool{
		"era__t__c":   true,
		"era__t__c_1": true,
	}
	n := uniqueName(func(s string) bool { return taken[s] }, "t", "c")
	if n != "era__t__c_2" {
		t.Errorf("suffix counter must probe past collisions, got %s", n)
	}
}

func TestKindForDeclaredType(t *testing.T) {
	tests := []struct {
		declared string
		want     string
		fails    bool
	}{
		{"INTEGER", "integer", false},
		{"BIGINT", "integer", false},
		{"REAL", "real", false},
		{"DOUBLE PRECISION", "real", false},
		{"TEXT", "text", false},
		{"DATETIME", "text", false},
		{"DATE", "text", false},
		{"BLOB", "", true},
	}
	for _, tt := range tests {
		kind, err := KindForDeclaredType(tt.declared)
		if tt.fails {
			if err == nil {
				t.Errorf("%s: want error", tt.declared)
			}
			continue
		}
		if err != nil || string(kind) != tt.want {
			t.Errorf("%s: got %s, %v; want %s", tt.declared, kind, err, tt.want)
		}
	}
}
