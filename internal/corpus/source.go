package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Source lists the local paths of the documents the index is built from.
type Source interface {
	Fetch(ctx context.Context) ([]string, error)
}

// DirSource serves the supported files found directly under Dir.
type DirSource struct {
	Dir string
}

func (s DirSource) Fetch(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !supported(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(s.Dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Bucket is the part of the object store S3Source needs.
type Bucket interface {
	ListByExtension(ctx context.Context, ext string) ([]string, error)
	Download(ctx context.Context, key, dir string) (path string, fresh bool, err error)
}

// S3Source mirrors the bucket's PDFs into Dir. Files already present
// locally are not downloaded again.
type S3Source struct {
	bucket Bucket
	dir    string
	logger *slog.Logger
}

func NewS3Source(bucket Bucket, dir string, logger *slog.Logger) *S3Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Source{bucket: bucket, dir: dir, logger: logger}
}

func (s *S3Source) Fetch(ctx context.Context) ([]string, error) {
	paths, _, err := s.Sync(ctx)
	return paths, err
}

// Sync downloads missing PDFs and reports how many were new. Objects that
// fail to download are skipped.
func (s *S3Source) Sync(ctx context.Context) (paths []string, fresh int, err error) {
	keys, err := s.bucket.ListByExtension(ctx, ".pdf")
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	for _, key := range keys {
		p, isNew, err := s.bucket.Download(ctx, key, s.dir)
		if err != nil {
			s.logger.Warn("document download failed", "key", key, "error", err)
			continue
		}
		if isNew {
			fresh++
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, fresh, nil
}
