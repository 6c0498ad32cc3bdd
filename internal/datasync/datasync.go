// Package datasync copies whole Firestore databases to and from JSON dumps shaped as
// {collection: {docId: fields}}.
package datasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

const (
	productsCollection = "products"
	legacyMeltCategory = "melt"
	waxMeltCategory    = "wax-melt"

	defaultBatchSize = 200
)

// Dump is the in-memory form of an export file.
type Dump map[string]map[string]map[string]any

// Source enumerates top-level collections and their documents.
type Source interface {
	Collections(ctx context.Context) ([]string, error)
	Documents(ctx context.Context, collection string, fn func(id string, data map[string]any) error) error
}

// Sink writes documents, overwriting any existing document with the same id.
type Sink interface {
	Write(ctx context.Context, collection string, docs map[string]map[string]any) error
}

// Logger receives progress events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Report summarises an export or import run.
type Report struct {
	Collections int
	Documents   int
	Normalized  int
}

// Export reads every collection from src and writes the dump as indented JSON to w.
func Export(ctx context.Context, src Source, w io.Writer) (Report, error) {
	if src == nil {
		return Report{}, errors.New("datasync: source is required")
	}
	collections, err := src.Collections(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("datasync: list collections: %w", err)
	}
	sort.Strings(collections)

	dump := make(Dump, len(collections))
	var report Report
	for _, name := range collections {
		docs := make(map[string]map[string]any)
		err := src.Documents(ctx, name, func(id string, data map[string]any) error {
			docs[id] = data
			return nil
		})
		if err != nil {
			return Report{}, fmt.Errorf("datasync: read %s: %w", name, err)
		}
		dump[name] = docs
		report.Collections++
		report.Documents += len(docs)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		return Report{}, fmt.Errorf("datasync: encode dump: %w", err)
	}
	return report, nil
}

// ImportOption customises Import.
type ImportOption func(*importConfig)

type importConfig struct {
	batchSize int
	logger    Logger
}

// WithBatchSize caps the number of documents handed to the sink per write.
func WithBatchSize(size int) ImportOption {
	return func(cfg *importConfig) {
		if size > 0 {
			cfg.batchSize = size
		}
	}
}

// WithLogger reports normalisations and per-collection progress.
func WithLogger(logger Logger) ImportOption {
	return func(cfg *importConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// Import decodes a dump from r and writes it to dst in batches. Products still using the legacy
// "melt" category are rewritten to "wax-melt" on the way in.
func Import(ctx context.Context, dst Sink, r io.Reader, opts ...ImportOption) (Report, error) {
	if dst == nil {
		return Report{}, errors.New("datasync: sink is required")
	}
	cfg := importConfig{
		batchSize: defaultBatchSize,
		logger:    func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var dump Dump
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		return Report{}, fmt.Errorf("datasync: decode dump: %w", err)
	}

	names := make([]string, 0, len(dump))
	for name := range dump {
		names = append(names, name)
	}
	sort.Strings(names)

	var report Report
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return report, errors.New("datasync: dump contains an unnamed collection")
		}
		docs := dump[name]
		ids := make([]string, 0, len(docs))
		for id := range docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		batch := make(map[string]map[string]any, cfg.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := dst.Write(ctx, name, batch); err != nil {
				return fmt.Errorf("datasync: write %s: %w", name, err)
			}
			report.Documents += len(batch)
			batch = make(map[string]map[string]any, cfg.batchSize)
			return nil
		}

		for _, id := range ids {
			data := docs[id]
			if data == nil {
				data = map[string]any{}
			}
			if NormalizeDocument(name, data) {
				report.Normalized++
				cfg.logger(ctx, "datasync.category.normalized", map[string]any{
					"collection": name,
					"docID":      id,
					"category":   waxMeltCategory,
				})
			}
			batch[id] = data
			if len(batch) >= cfg.batchSize {
				if err := flush(); err != nil {
					return report, err
				}
			}
		}
		if err := flush(); err != nil {
			return report, err
		}
		report.Collections++
		cfg.logger(ctx, "datasync.collection.imported", map[string]any{
			"collection": name,
			"documents":  len(ids),
		})
	}
	return report, nil
}

// NormalizeDocument rewrites legacy field values in place and reports whether anything changed.
func NormalizeDocument(collection string, data map[string]any) bool {
	if collection != productsCollection {
		return false
	}
	category, ok := data["category"].(string)
	if !ok || category != legacyMeltCategory {
		return false
	}
	data["category"] = waxMeltCategory
	return true
}
