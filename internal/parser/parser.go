// Package parser reads rule documents: Markdown files with a YAML frontmatter
// header describing the rule and a body holding its description.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/generalrules/internal/apperr"
	"github.com/starford/generalrules/internal/models"
)

var idRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Header is the frontmatter block of a rule document.
type Header struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Company      string   `yaml:"company,omitempty"`
	Icon         string   `yaml:"icon,omitempty"`
	SafeToBlock  bool     `yaml:"safe_to_block,omitempty"`
	SideEffect   string   `yaml:"side_effect,omitempty"`
	Contributors []string `yaml:"contributors,omitempty"`
	Keywords     []string `yaml:"keywords"`
	UseRegex     bool     `yaml:"use_regex,omitempty"`
}

// Validate checks the fields every rule must carry.
func (h *Header) Validate() error {
	return validation.ValidateStruct(h,
		validation.Field(&h.ID, validation.Required, validation.Match(idRe)),
		validation.Field(&h.Name, validation.Required),
		validation.Field(&h.Keywords, validation.Required, validation.Each(validation.Required)),
	)
}

// Result holds the output of parsing a rule document.
type Result struct {
	Header Header
	Body   string
}

// Rule converts the parsed document into a models.Rule. MatchedAppCount is
// left at zero; it is owned by the matcher.
func (r *Result) Rule() models.Rule {
	return models.Rule{
		ID:           r.Header.ID,
		Name:         r.Header.Name,
		Company:      r.Header.Company,
		IconURL:      r.Header.Icon,
		Description:  strings.TrimSpace(r.Body),
		SafeToBlock:  r.Header.SafeToBlock,
		SideEffect:   r.Header.SideEffect,
		Contributors: r.Header.Contributors,
		Keywords:     r.Header.Keywords,
		UseRegex:     r.Header.UseRegex,
	}
}

// Parse extracts and validates the frontmatter and body of a rule document.
func Parse(data []byte) (*Result, error) {
	block, body, ok := splitFrontmatter(data)
	if !ok {
		return nil, fmt.Errorf("%w: missing frontmatter", apperr.ErrInvalidRule)
	}

	var h Header
	if err := yaml.Unmarshal(block, &h); err != nil {
		return nil, fmt.Errorf("%w: frontmatter: %v", apperr.ErrInvalidRule, err)
	}
	if h.Name == "" {
		h.Name = deriveTitle(body)
	}
	h.Keywords = compact(h.Keywords)
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidRule, err)
	}
	if err := checkPatterns(h); err != nil {
		return nil, err
	}

	return &Result{Header: h, Body: body}, nil
}

// checkPatterns compiles the keywords of a regex rule.
func checkPatterns(h Header) error {
	if !h.UseRegex {
		return nil
	}
	for _, k := range h.Keywords {
		if _, err := regexp.Compile(k); err != nil {
			return fmt.Errorf("%w: keyword %q: %v", apperr.ErrInvalidRule, k, err)
		}
	}
	return nil
}

// splitFrontmatter separates the YAML block (between leading --- delimiters)
// from the Markdown body.
func splitFrontmatter(data []byte) ([]byte, string, bool) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), false
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), false
	}

	block := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")
	return block, body, true
}

// compact trims keywords and drops empty and duplicate entries, keeping order.
func compact(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// deriveTitle returns the first H1 heading of body, or empty string.
func deriveTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
