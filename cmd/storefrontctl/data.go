package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/southernsense/storefront/internal/datasync"
	"github.com/southernsense/storefront/internal/platform/observability"
	"github.com/southernsense/storefront/internal/platform/storage"
)

const (
	defaultLocalDump = "./firestore-export.json"
	latestAlias      = "latest"
)

// dumpStore is the subset of storage.Dumps the data commands need.
type dumpStore interface {
	Create(ctx context.Context, loc storage.Location) (io.WriteCloser, error)
	Open(ctx context.Context, loc storage.Location) (io.ReadCloser, error)
}

// latestCopier refreshes the latest alias after a remote export.
type latestCopier interface {
	Copy(ctx context.Context, src, dst storage.Location) error
}

func newExportCmd(a *app) *cobra.Command {
	var (
		out    string
		prefix string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump every top-level collection to a JSON file or gs:// object",
		Long: `Writes {collection: {docId: data}} JSON for the whole database.

Without --out the dump goes to the exports bucket under a timestamped name and the
latest alias is refreshed; with no bucket configured it goes to ./firestore-export.json.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.setup(ctx); err != nil {
				return err
			}
			loc, err := exportLocation(out, a.cfg.Storage.ExportsBucket, prefix, time.Now())
			if err != nil {
				return err
			}
			store, err := datasync.NewFirestoreStore(a.firestoreProvider())
			if err != nil {
				return err
			}
			dumps := storage.NewDumps()
			a.closers = append(a.closers, func() { _ = dumps.Close() })

			var copier latestCopier
			if loc.IsRemote() && out == "" {
				if copier, err = dumps.Copier(ctx); err != nil {
					return err
				}
			}
			return runExport(ctx, store, dumps, copier, loc, prefix, cmd.OutOrStdout(), a.logger)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "destination path or gs://bucket/object")
	cmd.Flags().StringVar(&prefix, "prefix", "exports", "object prefix inside the exports bucket")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		in     string
		prefix string
		batch  int
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a JSON dump into Firestore",
		Long: `Reads a dump produced by export and writes every document, overwriting existing ones.
Products with category "melt" are stored as "wax-melt".

--in latest reads the latest alias from the exports bucket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.setup(ctx); err != nil {
				return err
			}
			loc, err := importLocation(in, a.cfg.Storage.ExportsBucket, prefix)
			if err != nil {
				return err
			}
			store, err := datasync.NewFirestoreStore(a.firestoreProvider())
			if err != nil {
				return err
			}
			dumps := storage.NewDumps()
			a.closers = append(a.closers, func() { _ = dumps.Close() })
			return runImport(ctx, store, dumps, loc, batch, cmd.OutOrStdout(), a.logger)
		},
	}
	cmd.Flags().StringVar(&in, "in", defaultLocalDump, "source path, gs://bucket/object, or \"latest\"")
	cmd.Flags().StringVar(&prefix, "prefix", "exports", "object prefix inside the exports bucket")
	cmd.Flags().IntVar(&batch, "batch", 200, "documents per bulk write")
	return cmd
}

func exportLocation(out, bucket, prefix string, now time.Time) (storage.Location, error) {
	if out != "" {
		return storage.ParseLocation(out)
	}
	if bucket == "" {
		return storage.ParseLocation(defaultLocalDump)
	}
	return storage.Location{Bucket: bucket, Object: storage.DumpObjectName(prefix, now)}, nil
}

func importLocation(in, bucket, prefix string) (storage.Location, error) {
	if in != latestAlias {
		return storage.ParseLocation(in)
	}
	if bucket == "" {
		return storage.Location{}, fmt.Errorf("--in %s needs API_STORAGE_EXPORTS_BUCKET", latestAlias)
	}
	return storage.Location{Bucket: bucket, Object: storage.LatestObjectName(prefix)}, nil
}

func runExport(ctx context.Context, src datasync.Source, dumps dumpStore, copier latestCopier, loc storage.Location, prefix string, out io.Writer, logger *zap.Logger) error {
	w, err := dumps.Create(ctx, loc)
	if err != nil {
		return fmt.Errorf("open %s: %w", loc, err)
	}
	report, err := datasync.Export(ctx, src, w)
	if closeErr := w.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("write %s: %w", loc, closeErr)
	}
	if err != nil {
		return err
	}

	if copier != nil {
		latest := storage.Location{Bucket: loc.Bucket, Object: storage.LatestObjectName(prefix)}
		if err := copier.Copy(ctx, loc, latest); err != nil {
			return fmt.Errorf("refresh %s: %w", latest, err)
		}
	}

	if logger != nil {
		logger.Info("firestore export complete",
			zap.String("location", loc.String()),
			zap.Int("collections", report.Collections),
			zap.Int("documents", report.Documents),
		)
	}
	_, err = fmt.Fprintf(out, "exported %d documents from %d collections to %s\n", report.Documents, report.Collections, loc)
	return err
}

func runImport(ctx context.Context, dst datasync.Sink, dumps dumpStore, loc storage.Location, batch int, out io.Writer, logger *zap.Logger) error {
	r, err := dumps.Open(ctx, loc)
	if err != nil {
		return fmt.Errorf("open %s: %w", loc, err)
	}
	defer r.Close()

	opts := []datasync.ImportOption{datasync.WithBatchSize(batch)}
	if logger != nil {
		opts = append(opts, datasync.WithLogger(datasync.Logger(observability.NewEventLogger(logger, "datasync"))))
	}
	report, err := datasync.Import(ctx, dst, r, opts...)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "imported %d documents into %d collections (%d normalised)\n", report.Documents, report.Collections, report.Normalized)
	return err
}
