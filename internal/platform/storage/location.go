// Package storage reads and writes data-tool dumps on the local disk or in Cloud Storage.
package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	gcsScheme       = "gs://"
	dumpContentType = "application/json"
)

// Location addresses a dump either as a local path or a Cloud Storage object.
type Location struct {
	Bucket string
	Object string
	Path   string
}

// IsRemote reports whether the location is a Cloud Storage object.
func (l Location) IsRemote() bool {
	return l.Bucket != ""
}

func (l Location) String() string {
	if l.IsRemote() {
		return gcsScheme + l.Bucket + "/" + l.Object
	}
	return l.Path
}

// ParseLocation accepts gs://bucket/object or a filesystem path.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, errors.New("storage: location is required")
	}
	if !strings.HasPrefix(raw, gcsScheme) {
		return Location{Path: raw}, nil
	}
	bucket, object, _ := strings.Cut(strings.TrimPrefix(raw, gcsScheme), "/")
	object = strings.Trim(object, "/")
	if bucket == "" || object == "" {
		return Location{}, fmt.Errorf("storage: %q must name a bucket and an object", raw)
	}
	return Location{Bucket: bucket, Object: object}, nil
}

// DumpObjectName builds a sortable object name for a Firestore export taken at now.
func DumpObjectName(prefix string, now time.Time) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "exports"
	}
	return path.Join(prefix, "firestore-"+now.UTC().Format("20060102T150405Z")+".json")
}

// LatestObjectName is the stable alias refreshed after every export.
func LatestObjectName(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "exports"
	}
	return path.Join(prefix, "latest.json")
}
