package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ============================================================
// LoaderRegistry Tests
// ============================================================

func TestNewLoaderRegistry_HasBuiltinLoaders(t *testing.T) {
	t.Parallel()

	r := NewLoaderRegistry()
	assert.Equal(t, []string{".csv", ".json", ".jsonl", ".md", ".txt"}, r.SupportedTypes())
}

type stubLoader struct{}

func (stubLoader) Load(_ context.Context, source string) (*Document, error) {
	return &Document{Text: "stub:" + source}, nil
}

func (stubLoader) SupportedTypes() []string { return []string{".xml"} }

func TestLoaderRegistry_Register_CustomLoader(t *testing.T) {
	t.Parallel()

	r := NewLoaderRegistry()
	r.Register(".XML", stubLoader{})

	doc, err := r.Load(context.Background(), "/tmp/manifest.xml")
	require.NoError(t, err)
	assert.Equal(t, "stub:/tmp/manifest.xml", doc.Text)
}

func TestLoaderRegistry_Load_Errors(t *testing.T) {
	t.Parallel()

	r := NewLoaderRegistry()
	_, err := r.Load(context.Background(), "/tmp/noext")
	assert.ErrorContains(t, err, "no extension")

	_, err = r.Load(context.Background(), "/tmp/file.pdf")
	assert.ErrorContains(t, err, "no loader registered")
}

func TestLoaderRegistry_Load_CaseInsensitive(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "NOTES.TXT", "Container MSKU1234567 discharged at Santos.")
	doc, err := NewLoaderRegistry().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Container MSKU1234567 discharged at Santos.", doc.Text)
	assert.Equal(t, "NOTES.TXT", doc.Metadata["file_name"])
}

// ============================================================
// TextLoader Tests
// ============================================================

func TestTextLoader_Load(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "bl.txt", "Bill of lading\nPort of loading: Santos")
	doc, err := NewTextLoader().Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "Bill of lading\nPort of loading: Santos", doc.Text)
	assert.Equal(t, "bl.txt", doc.Metadata["file_name"])
	assert.Equal(t, "text/plain", doc.Metadata["content_type"])
}

func TestTextLoader_Markdown_Title(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "invoice.md", "intro\n\n## Commercial Invoice 42\n\nTotal: 1200 USD\n")
	doc, err := NewTextLoader().Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "Commercial Invoice 42", doc.Metadata["title"])
	assert.Equal(t, "markdown", doc.Metadata["loader"])
	assert.Contains(t, doc.Text, "Total: 1200 USD")
}

func TestTextLoader_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := NewTextLoader().Load(context.Background(), "/nonexistent/file.txt")
	assert.Error(t, err)
}

func TestTextLoader_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTextLoader().Load(ctx, writeFile(t, "a.txt", "x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseHeading(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line    string
		heading string
		level   int
	}{
		{"# Title", "Title", 1},
		{"  ### Sub  ", "Sub", 3},
		{"####### too deep", "", 0},
		{"#", "", 0},
		{"plain", "", 0},
	}
	for _, tt := range tests {
		heading, level := parseHeading(tt.line)
		assert.Equal(t, tt.heading, heading, tt.line)
		assert.Equal(t, tt.level, level, tt.line)
	}
}

// ============================================================
// CSVLoader Tests
// ============================================================

func TestCSVLoader_Load(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "packing.csv", "container,weight,port\nMSKU1,1200,Santos\nMSKU2,,Hamburg\n")
	doc, err := NewCSVLoader(CSVLoaderConfig{}).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "container: MSKU1; weight: 1200; port: Santos\ncontainer: MSKU2; port: Hamburg", doc.Text)
	assert.Equal(t, 2, doc.Metadata["rows"])
}

func TestCSVLoader_ContentColumnsAndDelimiter(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "m.csv", "Container;Port;Notes\nMSKU1;Santos;fragile\n")
	doc, err := NewCSVLoader(CSVLoaderConfig{Delimiter: ';', ContentColumns: []string{"port"}}).
		Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Port: Santos", doc.Text)
}

func TestCSVLoader_HeaderOnly(t *testing.T) {
	t.Parallel()

	doc, err := NewCSVLoader(CSVLoaderConfig{}).Load(context.Background(), writeFile(t, "h.csv", "a,b\n"))
	require.NoError(t, err)
	assert.Empty(t, doc.Text)
}

// ============================================================
// JSONLoader Tests
// ============================================================

func TestJSONLoader_ContentField(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "ocr.json", `[{"text":"page one"},{"text":"page two"},{"other":1}]`)
	doc, err := NewJSONLoader(JSONLoaderConfig{ContentField: "text"}).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "page one\n\npage two\n\nother: 1", doc.Text)
	assert.Equal(t, 3, doc.Metadata["objects"])
}

func TestJSONLoader_FlattenObject(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "bl.json", `{"vessel":"MSC Aurora","port":"Santos","teu":2,"note":null}`)
	doc, err := NewJSONLoader(JSONLoaderConfig{}).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "port: Santos\nteu: 2\nvessel: MSC Aurora", doc.Text)
}

func TestJSONLoader_JSONL(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "events.jsonl", "{\"text\":\"a\"}\n\n{\"text\":\"b\"}\n")
	doc, err := NewJSONLoader(JSONLoaderConfig{ContentField: "text"}).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "a\n\nb", doc.Text)
}

func TestJSONLoader_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewJSONLoader(JSONLoaderConfig{}).Load(context.Background(), writeFile(t, "bad.json", "{nope"))
	assert.Error(t, err)

	_, err = NewJSONLoader(JSONLoaderConfig{}).Load(context.Background(), writeFile(t, "bad.jsonl", "{}\n{nope\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestJSONLoader_Empty(t *testing.T) {
	t.Parallel()

	doc, err := NewJSONLoader(JSONLoaderConfig{}).Load(context.Background(), writeFile(t, "e.json", "  "))
	require.NoError(t, err)
	assert.Empty(t, doc.Text)
}
