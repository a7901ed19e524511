package workflow

import "testing"

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"main", "main", true},
		{"main", "mainline", false},
		{"release/*", "release/1.2", true},
		{"release/*", "release/1.2/hotfix", false},
		{"onstove/*", "onstove/loader.py", true},
		{"onstove/*", "onstove/tests/test_loader.py", false},
		{"onstove/tests/*", "onstove/tests/test_loader.py", true},
		{"onstove/**", "onstove/tests/deep/file.py", true},
		{"**/*.py", "a/b/c.py", true},
		{"*.py", "a/b/c.py", false},
		{"test?.py", "test1.py", true},
		{"test?.py", "test/a.py", false},
		{"docs/[a]", "docs/[a]", true},
	}
	for _, tc := range cases {
		if got := matchPattern(tc.pattern, tc.name); got != tc.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tc.pattern, tc.name, got, tc.want)
		}
	}
}

func TestCheckPatternRejectsEmpty(t *testing.T) {
	if err := checkPattern("  "); err == nil {
		t.Fatalf("blank pattern should be rejected")
	}
	if err := checkPattern("onstove/*"); err != nil {
		t.Fatalf("valid pattern rejected: %v", err)
	}
}
