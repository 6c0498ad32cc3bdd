package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Dumps opens readers and writers for dump locations. The Cloud Storage client is created on the
// first remote access so local-only runs need no credentials.
type Dumps struct {
	opts []option.ClientOption

	mu     sync.Mutex
	client *gcs.Client
}

// NewDumps constructs Dumps with optional client options.
func NewDumps(opts ...option.ClientOption) *Dumps {
	return &Dumps{opts: opts}
}

// Create returns a writer for loc. Remote objects are committed on Close.
func (d *Dumps) Create(ctx context.Context, loc Location) (io.WriteCloser, error) {
	if !loc.IsRemote() {
		if dir := filepath.Dir(loc.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("storage: create directory: %w", err)
			}
		}
		return os.Create(loc.Path)
	}
	client, err := d.gcsClient(ctx)
	if err != nil {
		return nil, err
	}
	w := client.Bucket(loc.Bucket).Object(loc.Object).NewWriter(ctx)
	w.ContentType = dumpContentType
	return w, nil
}

// Open returns a reader for loc.
func (d *Dumps) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	if !loc.IsRemote() {
		return os.Open(loc.Path)
	}
	client, err := d.gcsClient(ctx)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(loc.Bucket).Object(loc.Object).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("storage: %s: %w", loc, os.ErrNotExist)
	}
	return r, err
}

// Copier returns a Copier sharing the lazily created client.
func (d *Dumps) Copier(ctx context.Context) (*Copier, error) {
	client, err := d.gcsClient(ctx)
	if err != nil {
		return nil, err
	}
	return NewCopier(client)
}

// Close releases the Cloud Storage client if one was created.
func (d *Dumps) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

func (d *Dumps) gcsClient(ctx context.Context) (*gcs.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	client, err := gcs.NewClient(ctx, d.opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	d.client = client
	return client, nil
}
