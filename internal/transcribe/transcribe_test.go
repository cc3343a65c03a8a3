package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

type fakeStager struct {
	uri string
	err error
}

func (f fakeStager) Stage(context.Context, AudioRef) (string, error) { return f.uri, f.err }

// scriptedJobs returns the statuses in order, repeating the last one.
type scriptedJobs struct {
	mu        sync.Mutex
	statuses  []Status
	resultURI string
	reason    string
	started   []string
	gets      int
}

func (s *scriptedJobs) Start(_ context.Context, name, mediaURI, language, format string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, strings.Join([]string{name, mediaURI, language, format}, "|"))
	return nil
}

func (s *scriptedJobs) Get(_ context.Context, name string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[min(s.gets, len(s.statuses)-1)]
	s.gets++
	j := Job{ID: name, Status: st}
	switch st {
	case StatusCompleted:
		j.ResultURI = s.resultURI
	case StatusFailed:
		j.FailureReason = s.reason
	}
	return j, nil
}

func resultServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fastOptions() Options {
	return Options{PollInterval: time.Millisecond, MaxPollInterval: 5 * time.Millisecond, Timeout: 2 * time.Second}
}

func TestTranscribeRunningThenCompleted(t *testing.T) {
	srv := resultServer(t, `{"jobName":"x","results":{"transcripts":[{"transcript":"O que diz a cláusula 4?"}],"items":[]}}`)
	jobs := &scriptedJobs{
		statuses:  []Status{StatusRunning, StatusRunning, StatusCompleted},
		resultURI: srv.URL + "/result.json",
	}
	svc := NewService(fakeStager{uri: "s3://b/audios/a.ogg"}, jobs, fastOptions())

	text, err := svc.Transcribe(context.Background(), AudioRef{URL: "https://files/voice.oga"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "O que diz a cláusula 4?" {
		t.Fatalf("unexpected transcript %q", text)
	}
	if jobs.gets != 3 {
		t.Fatalf("expected 3 polls, got %d", jobs.gets)
	}
	parts := strings.Split(jobs.started[0], "|")
	if !strings.HasPrefix(parts[0], "job_name_") || parts[1] != "s3://b/audios/a.ogg" || parts[2] != "pt-BR" || parts[3] != "ogg" {
		t.Fatalf("unexpected job start: %v", parts)
	}
}

func TestTranscribeRunningThenFailed(t *testing.T) {
	jobs := &scriptedJobs{statuses: []Status{StatusRunning, StatusFailed}, reason: "unsupported media"}
	svc := NewService(fakeStager{uri: "s3://b/a.ogg"}, jobs, fastOptions())

	text, err := svc.Transcribe(context.Background(), AudioRef{URL: "https://files/voice.oga"})
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("expected ErrTranscription, got %v", err)
	}
	if text != "" {
		t.Fatalf("failed job must not produce text, got %q", text)
	}
	if !strings.Contains(err.Error(), "unsupported media") {
		t.Fatalf("expected failure reason in error, got %v", err)
	}
}

func TestTranscribeTimesOut(t *testing.T) {
	jobs := &scriptedJobs{statuses: []Status{StatusRunning}}
	opts := fastOptions()
	opts.Timeout = 50 * time.Millisecond
	svc := NewService(fakeStager{uri: "s3://b/a.ogg"}, jobs, opts)

	start := time.Now()
	_, err := svc.Transcribe(context.Background(), AudioRef{URL: "https://files/voice.oga"})
	if !errors.Is(err, ErrTranscription) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not honoured")
	}
}

func TestTranscribeStageFailure(t *testing.T) {
	jobs := &scriptedJobs{statuses: []Status{StatusCompleted}}
	svc := NewService(fakeStager{err: errors.New("access denied")}, jobs, fastOptions())
	if _, err := svc.Transcribe(context.Background(), AudioRef{}); !errors.Is(err, ErrTranscription) {
		t.Fatalf("expected ErrTranscription, got %v", err)
	}
	if len(jobs.started) != 0 {
		t.Fatalf("no job must start when staging fails")
	}
}

func TestTranscribeEmptyResult(t *testing.T) {
	for _, body := range []string{`{"results":{"transcripts":[]}}`, `{"results":{"transcripts":[{"transcript":"  "}]}}`, `not json`} {
		srv := resultServer(t, body)
		jobs := &scriptedJobs{statuses: []Status{StatusCompleted}, resultURI: srv.URL}
		svc := NewService(fakeStager{uri: "s3://b/a.ogg"}, jobs, fastOptions())
		if _, err := svc.Transcribe(context.Background(), AudioRef{}); !errors.Is(err, ErrTranscription) {
			t.Fatalf("body %q: expected ErrTranscription, got %v", body, err)
		}
	}
}

func TestJobNameUnique(t *testing.T) {
	a, b := JobName(), JobName()
	if a == b || len(a) != len("job_name_")+32 || strings.Contains(a, "-") {
		t.Fatalf("unexpected job names %q %q", a, b)
	}
}

type recordingUploader struct {
	key, contentType string
	body             string
}

func (r *recordingUploader) Upload(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, _ := io.ReadAll(body)
	r.key, r.body, r.contentType = key, string(data), contentType
	return "s3://b/" + key, nil
}

func TestS3StagerUploadsUnderPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "OggS-data")
	}))
	defer srv.Close()
	up := &recordingUploader{}
	st := NewS3Stager(up, srv.Client(), "audios/", "ogg")

	uri, err := st.Stage(context.Background(), AudioRef{URL: srv.URL + "/voice/file_1.oga"})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if !strings.HasPrefix(up.key, "audios/") || !strings.HasSuffix(up.key, ".ogg") {
		t.Fatalf("unexpected key %q", up.key)
	}
	if up.body != "OggS-data" || up.contentType != "audio/ogg" || uri != "s3://b/"+up.key {
		t.Fatalf("unexpected upload: %+v uri=%s", up, uri)
	}
}

type fakeWhisper struct {
	req  openai.AudioRequest
	body string
	text string
}

func (f *fakeWhisper) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.req = req
	data, _ := io.ReadAll(req.Reader)
	f.body = string(data)
	return openai.AudioResponse{Text: f.text}, nil
}

func TestWhisperService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "OggS")
	}))
	defer srv.Close()
	api := &fakeWhisper{text: " E a cláusula 5? "}
	w := &WhisperService{api: api, http: srv.Client(), language: "pt-BR"}

	text, err := w.Transcribe(context.Background(), AudioRef{URL: srv.URL, FileName: "voice.ogg"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "E a cláusula 5?" || api.req.Language != "pt" || api.body != "OggS" || api.req.FilePath != "voice.ogg" {
		t.Fatalf("unexpected result %q req=%+v", text, api.req)
	}

	api.text = ""
	if _, err := w.Transcribe(context.Background(), AudioRef{URL: srv.URL}); !errors.Is(err, ErrTranscription) {
		t.Fatalf("expected ErrTranscription for empty text, got %v", err)
	}
}
