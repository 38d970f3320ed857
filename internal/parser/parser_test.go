package parser

import (
	"errors"
	"testing"

	"github.com/starford/generalrules/internal/apperr"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\nid: firebase\nname: Firebase\ncompany: Google\nkeywords:\n  - com.google.firebase\n  - firebase\nsafe_to_block: true\n---\nAnalytics SDK.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rule := r.Rule()
	if rule.ID != "firebase" || rule.Name != "Firebase" || rule.Company != "Google" {
		t.Errorf("rule = %+v", rule)
	}
	if len(rule.Keywords) != 2 || rule.Keywords[0] != "com.google.firebase" {
		t.Errorf("keywords = %v", rule.Keywords)
	}
	if !rule.SafeToBlock {
		t.Error("safe_to_block not decoded")
	}
	if rule.Description != "Analytics SDK." {
		t.Errorf("description = %q", rule.Description)
	}
	if rule.MatchedAppCount != 0 {
		t.Errorf("matched count = %d, want 0", rule.MatchedAppCount)
	}
}

func TestParse_NameFromHeading(t *testing.T) {
	input := []byte("---\nid: ads\nkeywords: [ads]\n---\n# Ad networks\nBody.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Header.Name != "Ad networks" {
		t.Errorf("name = %q, want %q", r.Header.Name, "Ad networks")
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"no frontmatter":  "# Just a heading\n",
		"unterminated":    "---\nid: x\n",
		"bad yaml":        "---\n: invalid: yaml: {{{\n---\nBody\n",
		"missing id":      "---\nname: X\nkeywords: [a]\n---\n",
		"missing keyword": "---\nid: x\nname: X\nkeywords: [' ']\n---\n",
		"bad id":          "---\nid: ../x\nname: X\nkeywords: [a]\n---\n",
		"bad regex":       "---\nid: x\nname: X\nuse_regex: true\nkeywords: ['(']\n---\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input))
			if !errors.Is(err, apperr.ErrInvalidRule) {
				t.Errorf("err = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestCompact(t *testing.T) {
	got := compact([]string{" a ", "b", "a", "", "c"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRender_RoundTrip(t *testing.T) {
	h := Header{
		ID:          "workmanager",
		Name:        "WorkManager",
		Company:     "Google",
		SideEffect:  "Background sync stops.",
		Keywords:    []string{`^androidx\.work\.`, " "},
		UseRegex:    true,
		SafeToBlock: false,
	}
	data, err := Render(h, "Runs deferred work.\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Render): %v\n%s", err, data)
	}
	if r.Header.ID != h.ID || r.Header.SideEffect != h.SideEffect || !r.Header.UseRegex {
		t.Errorf("header = %+v", r.Header)
	}
	if len(r.Header.Keywords) != 1 || r.Header.Keywords[0] != `^androidx\.work\.` {
		t.Errorf("keywords = %q", r.Header.Keywords)
	}
	if r.Body != "Runs deferred work.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestRender_Invalid(t *testing.T) {
	_, err := Render(Header{ID: "x"}, "")
	if !errors.Is(err, apperr.ErrInvalidRule) {
		t.Fatalf("err = %v, want ErrInvalidRule", err)
	}
}
