package loader

import (
	"context"
	"path/filepath"
	"strings"
)

// TextLoader loads plain text and Markdown files verbatim.
// For Markdown the first ATX heading is recorded as the document title.
type TextLoader struct{}

// NewTextLoader creates a TextLoader.
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

// Load reads the whole file as one Document.
func (l *TextLoader) Load(ctx context.Context, source string) (*Document, error) {
	data, err := readSource(ctx, "text", source)
	if err != nil {
		return nil, err
	}

	text := string(data)
	if strings.EqualFold(filepath.Ext(source), ".md") {
		meta := baseMetadata(source, "text/markdown", "markdown")
		if title := firstHeading(text); title != "" {
			meta["title"] = title
		}
		return &Document{Text: text, Metadata: meta}, nil
	}
	return &Document{Text: text, Metadata: baseMetadata(source, "text/plain", "text")}, nil
}

// SupportedTypes returns the extensions handled by TextLoader.
func (l *TextLoader) SupportedTypes() []string {
	return []string{".txt", ".md"}
}

func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if heading, _ := parseHeading(line); heading != "" {
			return heading
		}
	}
	return ""
}

// parseHeading detects ATX-style headings (# Heading).
// Returns the heading text and level (1-6), or ("", 0) if not a heading.
func parseHeading(line string) (heading string, level int) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", 0
	}
	for _, ch := range trimmed {
		if ch != '#' {
			break
		}
		level++
	}
	if level > 6 {
		return "", 0
	}
	heading = strings.TrimSpace(trimmed[level:])
	if heading == "" {
		return "", 0
	}
	return heading, level
}
