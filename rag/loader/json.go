package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// JSONLoaderConfig configures the JSON/JSONL loader.
type JSONLoaderConfig struct {
	// ContentField is the field holding the document text (e.g. OCR output).
	// When empty or missing, the object is flattened into "key: value" lines.
	ContentField string
}

// JSONLoader loads JSON (single object or array) and JSONL files.
// All objects in the file are joined into one Document, separated by blank lines.
type JSONLoader struct {
	config JSONLoaderConfig
}

// NewJSONLoader creates a JSONLoader.
func NewJSONLoader(config JSONLoaderConfig) *JSONLoader {
	return &JSONLoader{config: config}
}

// Load reads a JSON or JSONL file and returns its text.
func (l *JSONLoader) Load(ctx context.Context, source string) (*Document, error) {
	data, err := readSource(ctx, "json", source)
	if err != nil {
		return nil, err
	}

	var items []map[string]any
	if strings.EqualFold(filepath.Ext(source), ".jsonl") {
		items, err = parseJSONL(data)
	} else {
		items, err = parseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("json loader: parsing %s: %w", source, err)
	}

	parts := make([]string, 0, len(items))
	for _, obj := range items {
		if text := l.extractContent(obj); text != "" {
			parts = append(parts, text)
		}
	}

	meta := baseMetadata(source, "application/json", "json")
	meta["objects"] = len(items)
	return &Document{Text: strings.Join(parts, "\n\n"), Metadata: meta}, nil
}

func parseJSON(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var items []map[string]any
		err := json.Unmarshal(data, &items)
		return items, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return []map[string]any{obj}, nil
}

func parseJSONL(data []byte) ([]map[string]any, error) {
	var items []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		items = append(items, obj)
	}
	return items, scanner.Err()
}

func (l *JSONLoader) extractContent(obj map[string]any) string {
	if l.config.ContentField != "" {
		if val, ok := obj[l.config.ContentField]; ok {
			return strings.TrimSpace(fmt.Sprint(val))
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := obj[k].(type) {
		case nil:
			continue
		case string:
			lines = append(lines, k+": "+v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			lines = append(lines, k+": "+string(b))
		}
	}
	return strings.Join(lines, "\n")
}

// SupportedTypes returns the extensions handled by JSONLoader.
func (l *JSONLoader) SupportedTypes() []string {
	return []string{".json", ".jsonl"}
}
