package transcribe

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"

	"github.com/google/uuid"
)

// Uploader stores an object and returns its URI.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// S3Stager copies the audio from its download URL into the bucket under a
// unique key.
type S3Stager struct {
	store  Uploader
	http   *http.Client
	prefix string
	format string
}

func NewS3Stager(store Uploader, client *http.Client, prefix, format string) *S3Stager {
	if client == nil {
		client = http.DefaultClient
	}
	return &S3Stager{store: store, http: client, prefix: prefix, format: format}
}

func (s *S3Stager) Stage(ctx context.Context, ref AudioRef) (string, error) {
	data, err := downloadAudio(ctx, s.http, ref.URL)
	if err != nil {
		return "", err
	}
	key := path.Join(s.prefix, uuid.NewString()+"."+s.format)
	return s.store.Upload(ctx, key, bytes.NewReader(data), "audio/"+s.format)
}
