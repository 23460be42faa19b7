// Package extract turns uploaded assets into plain text. Extraction never
// fails hard: unreadable or unsupported input yields a descriptive
// placeholder so the caller always has something to store.
package extract

import (
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// maxExtractBytes caps how much of an asset is read. Positioning interviews
// only need representative text, not the whole manuscript.
const maxExtractBytes = 1 << 20

var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".json":     true,
	".html":     true,
	".htm":      true,
}

// Extractor reads text out of uploaded assets.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor constructs the extractor.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Text extracts plain text from the named asset. The returned string is
// either the content or a placeholder describing why extraction was skipped;
// the method has no error return by design of its callers.
func (e *Extractor) Text(filename string, reader io.Reader) string {
	extension := strings.ToLower(path.Ext(filename))
	if !textExtensions[extension] {
		e.logger.Debug("unsupported asset type", zap.String("filename", filename))
		return placeholder(filename, "unsupported file type "+extension)
	}
	if reader == nil {
		return placeholder(filename, "no content")
	}

	content, err := io.ReadAll(io.LimitReader(reader, maxExtractBytes))
	if err != nil {
		e.logger.Warn("asset read failed", zap.String("filename", filename), zap.Error(err))
		return placeholder(filename, "file could not be read")
	}
	if len(content) == 0 {
		return placeholder(filename, "file is empty")
	}
	if !utf8.Valid(content) {
		return placeholder(filename, "file is not valid text")
	}
	return string(content)
}

func placeholder(filename, why string) string {
	return fmt.Sprintf("[no text extracted from %s: %s]", filename, why)
}
