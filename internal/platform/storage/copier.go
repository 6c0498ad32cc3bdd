package storage

import (
	"context"
	"errors"
	"fmt"

	gcs "cloud.google.com/go/storage"
)

// Copier points the latest-export alias at a fresh dump with a server-side copy, so large
// dumps are never streamed back through the CLI.
type Copier struct {
	client *gcs.Client
}

// NewCopier constructs a Copier backed by the provided Cloud Storage client.
func NewCopier(client *gcs.Client) (*Copier, error) {
	if client == nil {
		return nil, errors.New("storage copier: client is required")
	}
	return &Copier{client: client}, nil
}

// Copy overwrites dst with src and records the source object name in dst's metadata, which is
// how operators tell which dump "latest" currently is.
func (c *Copier) Copy(ctx context.Context, src, dst Location) error {
	if c == nil || c.client == nil {
		return errors.New("storage copier: client is not initialised")
	}
	if !src.IsRemote() || !dst.IsRemote() || src.Object == "" || dst.Object == "" {
		return fmt.Errorf("storage copier: %s -> %s: both must be gs:// objects", src, dst)
	}
	if src == dst {
		return nil
	}

	from := c.client.Bucket(src.Bucket).Object(src.Object)
	copier := c.client.Bucket(dst.Bucket).Object(dst.Object).CopierFrom(from)
	copier.ContentType = dumpContentType
	copier.Metadata = map[string]string{"source-object": src.Object}
	if _, err := copier.Run(ctx); err != nil {
		return fmt.Errorf("storage copier: %s -> %s: %w", src, dst, err)
	}
	return nil
}
