// Package loader extracts plain text from document files before ingestion.
//
// Each loader turns one file into one Document whose metadata carries the
// file_name used as the display name of retrieved chunks.
//
// Supported formats out of the box:
//   - Plain text and Markdown (.txt, .md)
//   - CSV (.csv)
//   - JSON / JSONL (.json, .jsonl)
//
// Use LoaderRegistry to route loading by file extension:
//
//	registry := loader.NewLoaderRegistry()
//	doc, err := registry.Load(ctx, "/path/to/packing-list.csv")
package loader
