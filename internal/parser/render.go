package parser

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/generalrules/internal/apperr"
)

// Render produces a rule document from a header and a Markdown body. The
// header is validated first, so the output always parses back.
func Render(h Header, body string) ([]byte, error) {
	h.Keywords = compact(h.Keywords)
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidRule, err)
	}
	if err := checkPatterns(h); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&h); err != nil {
		return nil, fmt.Errorf("parser: encode header: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("parser: encode header: %w", err)
	}
	buf.WriteString("---\n")
	if body = strings.TrimSpace(body); body != "" {
		buf.WriteString(body)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
