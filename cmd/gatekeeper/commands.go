package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/gatekeeper/rag"
	"github.com/BaSui01/gatekeeper/rag/loader"
)

// =============================================================================
// 📥 ingest / search / delete / event 命令
// =============================================================================

// metaFlag 可重复的 key=value 参数
type metaFlag map[string]any

func (m metaFlag) String() string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (m metaFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	m[strings.TrimSpace(k)] = v
	return nil
}

// splitList 逗号分隔, 去掉空项
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- ingest ---

type ingestParams struct {
	OrderID    string
	DocumentID string // 仅单个文件时可指定
	Category   string
	Metadata   map[string]any
	Workers    int
}

func runIngest(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	p := ingestParams{Metadata: map[string]any{}}
	fs.StringVar(&p.OrderID, "order", "", "Order id the documents belong to (required)")
	fs.StringVar(&p.DocumentID, "doc", "", "Document id (single file only, default: file name without extension)")
	fs.StringVar(&p.Category, "category", "", "Source category, e.g. arrival_notice")
	fs.IntVar(&p.Workers, "workers", 4, "Files ingested concurrently")
	fs.Var(metaFlag(p.Metadata), "meta", "Extra metadata key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if p.OrderID == "" || fs.NArg() == 0 {
		fmt.Fprintln(fs.Output(), "usage: gatekeeper ingest --order <id> [--doc <id>] [--category <c>] <file>...")
		return errUsage
	}

	return withApp(ctx, *configPath, func(a *app) error {
		return ingestFiles(ctx, a.svc.Ingestor, loader.NewLoaderRegistry(), p, fs.Args(), out)
	})
}

// ingestFiles 并发加载并写入文件, 单个文件失败不影响其他文件.
func ingestFiles(ctx context.Context, ing *rag.Ingestor, reg *loader.LoaderRegistry, p ingestParams, files []string, out io.Writer) error {
	if p.DocumentID != "" && len(files) > 1 {
		return errors.New("--doc can only be used with a single file")
	}
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}

	results := make([]*rag.IngestResult, len(files))
	errs := make([]error, len(files))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, file := range files {
		g.Go(func() error {
			results[i], errs[i] = ingestFile(ctx, ing, reg, p, file)
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for i, file := range files {
		if errs[i] != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", file, errs[i])
			failed = append(failed, fmt.Errorf("%s: %w", file, errs[i]))
			continue
		}
		r := results[i]
		fmt.Fprintf(out, "OK   %s doc=%s chunks=%d embedded=%d pruned=%d\n",
			file, r.DocumentID, r.Chunks, r.Embedded, r.Pruned)
	}
	return errors.Join(failed...)
}

func ingestFile(ctx context.Context, ing *rag.Ingestor, reg *loader.LoaderRegistry, p ingestParams, file string) (*rag.IngestResult, error) {
	doc, err := reg.Load(ctx, file)
	if err != nil {
		return nil, err
	}

	docID := p.DocumentID
	if docID == "" {
		base := filepath.Base(file)
		docID = strings.TrimSuffix(base, filepath.Ext(base))
	}

	meta := maps.Clone(doc.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	maps.Copy(meta, p.Metadata)

	return ing.IngestDocument(ctx, rag.IngestRequest{
		OrderID:    p.OrderID,
		DocumentID: docID,
		Text:       doc.Text,
		Category:   p.Category,
		Metadata:   meta,
	})
}

// --- search ---

type searchParams struct {
	Query string
	JSON  bool
	rag.RetrieveOptions
}

func runSearch(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	var p searchParams
	fs.StringVar(&p.Query, "query", "", "Natural language query (required)")
	fs.StringVar(&p.OrderID, "order", "", "Restrict to one order")
	fs.StringVar(&p.Category, "category", "", "Restrict to one source category")
	fs.IntVar(&p.Limit, "limit", 0, "Maximum results (default: retrieval.limit)")
	fs.Float64Var(&p.MinSimilarity, "min", 0, "Minimum similarity, negative disables (default: retrieval.min_similarity)")
	fs.BoolVar(&p.JSON, "json", false, "Print results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(p.Query) == "" {
		fmt.Fprintln(fs.Output(), "usage: gatekeeper search --query <text> [--order <id>] [--limit n] [--min s] [--json]")
		return errUsage
	}

	return withApp(ctx, *configPath, func(a *app) error {
		return searchContext(ctx, a.svc.Retriever, p, out)
	})
}

func searchContext(ctx context.Context, r *rag.Retriever, p searchParams, out io.Writer) error {
	items := r.RetrieveSemanticContext(ctx, p.Query, p.RetrieveOptions)
	if p.JSON {
		if items == nil {
			items = []rag.ContextItem{}
		}
		return writeJSON(out, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "no relevant context found")
		return nil
	}
	fmt.Fprintln(out, rag.FormatContext(items))
	return nil
}

// --- delete ---

func runDelete(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	docID := fs.String("doc", "", "Delete every chunk of this document")
	eventID := fs.String("event", "", "Delete this event vector")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*docID == "") == (*eventID == "") {
		fmt.Fprintln(fs.Output(), "usage: gatekeeper delete (--doc <id> | --event <id>)")
		return errUsage
	}

	return withApp(ctx, *configPath, func(a *app) error {
		return deleteVectors(ctx, a.svc, *docID, *eventID, out)
	})
}

func deleteVectors(ctx context.Context, svc *rag.Service, docID, eventID string, out io.Writer) error {
	if docID != "" {
		n, err := svc.Ingestor.DeleteDocument(ctx, docID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %d chunk(s) of document %s\n", n, docID)
		return nil
	}
	ok, err := svc.Store.DeleteOrderEventVector(ctx, eventID)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(out, "event %s not found\n", eventID)
		return nil
	}
	fmt.Fprintf(out, "deleted event %s\n", eventID)
	return nil
}

// --- event / events ---

func runEvent(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("event", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	req := rag.EventRequest{Metadata: map[string]any{}}
	fs.StringVar(&req.OrderID, "order", "", "Order id (required)")
	fs.StringVar(&req.EventID, "id", "", "Event id (required)")
	fs.StringVar(&req.EventType, "type", "", "Event type, e.g. delay")
	fs.StringVar(&req.Summary, "summary", "", "Event summary text")
	at := fs.String("at", "", "Event time, RFC3339 (default: now)")
	related := fs.String("related", "", "Comma separated related document ids")
	fs.Var(metaFlag(req.Metadata), "meta", "Extra metadata key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.OrderID == "" || req.EventID == "" {
		fmt.Fprintln(fs.Output(), "usage: gatekeeper event --order <id> --id <id> [--type t] --summary <text>")
		return errUsage
	}

	req.EventTimestamp = time.Now().UTC()
	if *at != "" {
		ts, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		req.EventTimestamp = ts.UTC()
	}
	req.RelatedDocumentIDs = splitList(*related)

	return withApp(ctx, *configPath, func(a *app) error {
		return registerEvent(ctx, a.svc.Ingestor, req, out)
	})
}

func registerEvent(ctx context.Context, ing *rag.Ingestor, req rag.EventRequest, out io.Writer) error {
	rec, err := ing.RegisterEvent(ctx, req)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Fprintf(out, "event %s skipped: empty summary or embedding unavailable\n", req.EventID)
		return nil
	}
	fmt.Fprintf(out, "registered event %s for order %s (model %s)\n", rec.EventID, rec.OrderID, rec.EmbeddingModel)
	return nil
}

func runEvents(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	orderID := fs.String("order", "", "Order id (required)")
	limit := fs.Int("limit", 20, "Maximum events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *orderID == "" {
		fmt.Fprintln(fs.Output(), "usage: gatekeeper events --order <id> [--limit n]")
		return errUsage
	}

	return withApp(ctx, *configPath, func(a *app) error {
		return listEvents(ctx, a.svc.Store, *orderID, *limit, out)
	})
}

// eventView 事件列表输出, 不含向量
type eventView struct {
	EventID            string    `json:"event_id"`
	EventType          string    `json:"event_type,omitempty"`
	EventTimestamp     time.Time `json:"event_timestamp"`
	Summary            string    `json:"summary"`
	EmbeddingModel     string    `json:"embedding_model"`
	RelatedDocumentIDs []string  `json:"related_document_ids,omitempty"`
}

func listEvents(ctx context.Context, store rag.VectorStore, orderID string, limit int, out io.Writer) error {
	events, err := store.ListOrderEventVectors(ctx, orderID, limit)
	if err != nil {
		return err
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			EventID:            e.EventID,
			EventType:          e.EventType,
			EventTimestamp:     e.EventTimestamp,
			Summary:            e.Summary,
			EmbeddingModel:     e.EmbeddingModel,
			RelatedDocumentIDs: e.RelatedDocumentIDs,
		})
	}
	return writeJSON(out, views)
}
