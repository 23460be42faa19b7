// Package textgen abstracts the text generation provider behind a one-method
// interface so the positioning service can be tested with a fake.
package textgen

import (
	"context"
	"strings"

	"github.com/inkfold/pilot/backend/internal/fault"
)

// Writer produces text from a prompt.
type Writer interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// UnavailableWriter is the stand-in used when no generation provider is
// configured. Every call fails upstream, which chat turns surface and
// advisory passes degrade around.
type UnavailableWriter struct{}

// GenerateText always reports the provider as unconfigured.
func (UnavailableWriter) GenerateText(context.Context, string) (string, error) {
	return "", fault.Upstream("textgen.generate", "provider_not_configured", nil)
}

// CleanJSON strips markdown code fences that generation models wrap around
// JSON payloads.
func CleanJSON(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
