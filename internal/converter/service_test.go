package converter

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/audioconv/internal/engine"
	"github.com/your-org/audioconv/internal/workspace"
)

type stubTranscoder struct {
	convertFn func(ctx context.Context, ws *workspace.Workspace, inputPath string, opts engine.TranscodeOptions) (string, error)
	status    engine.Status
	selfTest  engine.SelfTestResult
	calls     atomic.Int32
}

func (s *stubTranscoder) Convert(ctx context.Context, ws *workspace.Workspace, inputPath string, opts engine.TranscodeOptions) (string, error) {
	s.calls.Add(1)
	return s.convertFn(ctx, ws, inputPath, opts)
}

func (s *stubTranscoder) Probe(context.Context) engine.Status           { return s.status }
func (s *stubTranscoder) SelfTest(context.Context) engine.SelfTestResult { return s.selfTest }

type stubFetcher struct {
	downloadFn func(ctx context.Context, ws *workspace.Workspace, url string, opts engine.FetchOptions) (string, error)
	metadataFn func(ctx context.Context, ws *workspace.Workspace, url string, opts engine.FetchOptions) (string, error)
}

func (s *stubFetcher) Download(ctx context.Context, ws *workspace.Workspace, url string, opts engine.FetchOptions) (string, error) {
	return s.downloadFn(ctx, ws, url, opts)
}

func (s *stubFetcher) Metadata(ctx context.Context, ws *workspace.Workspace, url string, opts engine.FetchOptions) (string, error) {
	return s.metadataFn(ctx, ws, url, opts)
}

// writeOutput is a stub transcode that produces a real output file.
func writeOutput(content string) func(context.Context, *workspace.Workspace, string, engine.TranscodeOptions) (string, error) {
	return func(_ context.Context, ws *workspace.Workspace, _ string, opts engine.TranscodeOptions) (string, error) {
		path := ws.OutputPath(opts.TargetFormat)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", err
		}
		return path, nil
	}
}

func newTestService(t *testing.T, tr TranscodeEngine, f FetchEngine, opts ...func(*Params)) (*Service, string) {
	t.Helper()

	root := t.TempDir()
	manager, err := workspace.NewManager(root, zap.NewNop())
	require.NoError(t, err)

	params := Params{
		Workspaces:     manager,
		Transcoder:     tr,
		Fetcher:        f,
		Logger:         zap.NewNop(),
		MaxUploadBytes: 500 * 1024 * 1024,
		Version:        "test",
		MaxConcurrent:  4,
	}
	for _, opt := range opts {
		opt(&params)
	}
	return NewService(params), root
}

func assertNoWorkspaceLeft(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "no workspace directory may survive a terminal outcome")
}

func TestConvert_StreamsAndCleansUp(t *testing.T) {
	tr := &stubTranscoder{convertFn: writeOutput("encoded audio bytes")}
	svc, root := newTestService(t, tr, &stubFetcher{})

	artifact, err := svc.Convert(context.Background(), strings.NewReader("input"), UploadRequest{
		Filename:     "song.wav",
		Size:         10 * 1024 * 1024,
		TargetFormat: "mp3",
		Quality:      "192",
	})
	require.NoError(t, err)

	assert.Equal(t, "audio/mpeg", artifact.MIMEType)
	assert.Equal(t, "converted.mp3", artifact.Filename)
	assert.Equal(t, int64(len("encoded audio bytes")), artifact.Size)

	body, err := io.ReadAll(artifact)
	require.NoError(t, err)
	assert.Equal(t, "encoded audio bytes", string(body))

	// Workspace survives until the stream is closed.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, artifact.Close())
	assertNoWorkspaceLeft(t, root)
}

func TestConvert_ValidationFailureSpawnsNothing(t *testing.T) {
	tr := &stubTranscoder{convertFn: writeOutput("x")}
	svc, root := newTestService(t, tr, &stubFetcher{})

	_, err := svc.Convert(context.Background(), strings.NewReader("input"), UploadRequest{
		Filename:     "huge.mp4",
		Size:         600 * 1024 * 1024,
		TargetFormat: "mp3",
	})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "File size exceeds 500MB limit", vErr.Reason)
	assert.Zero(t, tr.calls.Load(), "no subprocess may be spawned after a validation failure")
	assertNoWorkspaceLeft(t, root)
}

func TestConvert_EngineFailureCleansUp(t *testing.T) {
	tr := &stubTranscoder{
		convertFn: func(context.Context, *workspace.Workspace, string, engine.TranscodeOptions) (string, error) {
			return "", &engine.Error{Kind: engine.KindCorruptInput, Message: "input file appears to be corrupted or invalid"}
		},
	}
	svc, root := newTestService(t, tr, &stubFetcher{})

	_, err := svc.Convert(context.Background(), strings.NewReader("junk"), UploadRequest{
		Filename:     "broken.mp4",
		Size:         1024,
		TargetFormat: "mp3",
	})

	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engine.KindCorruptInput, engErr.Kind)
	assertNoWorkspaceLeft(t, root)
}

func TestConvert_ConcurrentRequestsAreIsolated(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}

	tr := &stubTranscoder{
		convertFn: func(_ context.Context, ws *workspace.Workspace, inputPath string, opts engine.TranscodeOptions) (string, error) {
			mu.Lock()
			seen[ws.Dir] = true
			mu.Unlock()

			// The input written for this request must be visible here.
			if _, err := os.Stat(inputPath); err != nil {
				return "", err
			}
			return writeOutput("out-" + ws.Dir)(context.Background(), ws, inputPath, opts)
		},
	}
	svc, root := newTestService(t, tr, &stubFetcher{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			artifact, err := svc.Convert(context.Background(), strings.NewReader("same input"), UploadRequest{
				Filename:     "same.wav",
				Size:         1024,
				TargetFormat: "mp3",
				Quality:      "192",
			})
			if assert.NoError(t, err) {
				body, readErr := io.ReadAll(artifact)
				assert.NoError(t, readErr)
				assert.NotEmpty(t, body)
				assert.NoError(t, artifact.Close())
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 8, "identical concurrent requests must never share a workspace")
	assertNoWorkspaceLeft(t, root)
}

func TestConvert_SlotAcquisitionHonorsCancellation(t *testing.T) {
	block := make(chan struct{})
	tr := &stubTranscoder{
		convertFn: func(ctx context.Context, ws *workspace.Workspace, inputPath string, opts engine.TranscodeOptions) (string, error) {
			<-block
			return writeOutput("x")(ctx, ws, inputPath, opts)
		},
	}
	svc, _ := newTestService(t, tr, &stubFetcher{}, func(p *Params) { p.MaxConcurrent = 1 })

	done := make(chan struct{})
	go func() {
		defer close(done)
		artifact, err := svc.Convert(context.Background(), strings.NewReader("a"), UploadRequest{
			Filename: "a.wav", Size: 1, TargetFormat: "mp3",
		})
		if err == nil {
			artifact.Close()
		}
	}()

	// Give the first request time to occupy the only slot.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Convert(ctx, strings.NewReader("b"), UploadRequest{
		Filename: "b.wav", Size: 1, TargetFormat: "mp3",
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(block)
	<-done
}

func TestDownload_StreamsAndCleansUp(t *testing.T) {
	f := &stubFetcher{
		downloadFn: func(_ context.Context, ws *workspace.Workspace, _ string, _ engine.FetchOptions) (string, error) {
			path := ws.Join("My Track.mp3")
			if err := os.WriteFile(path, []byte("fetched audio"), 0o644); err != nil {
				return "", err
			}
			return path, nil
		},
	}
	svc, root := newTestService(t, &stubTranscoder{}, f)

	artifact, err := svc.Download(context.Background(), "https://example.com/watch?v=x", "128k", "")
	require.NoError(t, err)

	assert.Equal(t, "audio/mpeg", artifact.MIMEType)
	assert.Equal(t, "My Track.mp3", artifact.Filename)

	body, err := io.ReadAll(artifact)
	require.NoError(t, err)
	assert.Equal(t, "fetched audio", string(body))

	require.NoError(t, artifact.Close())
	assertNoWorkspaceLeft(t, root)
}

func TestDownload_MissingURL(t *testing.T) {
	svc, root := newTestService(t, &stubTranscoder{}, &stubFetcher{})

	_, err := svc.Download(context.Background(), "", "128k", "")

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Missing url", vErr.Reason)
	assertNoWorkspaceLeft(t, root)
}

func TestDownload_FetchFailureCleansUp(t *testing.T) {
	f := &stubFetcher{
		downloadFn: func(context.Context, *workspace.Workspace, string, engine.FetchOptions) (string, error) {
			return "", &engine.Error{Kind: engine.KindNoOutput, Message: "remote fetch produced no audio file"}
		},
	}
	svc, root := newTestService(t, &stubTranscoder{}, f)

	_, err := svc.Download(context.Background(), "https://example.com", "128k", "")
	require.Error(t, err)
	assertNoWorkspaceLeft(t, root)
}

func TestMetadata_CredentialPriority(t *testing.T) {
	var captured engine.FetchOptions
	f := &stubFetcher{
		metadataFn: func(_ context.Context, _ *workspace.Workspace, _ string, opts engine.FetchOptions) (string, error) {
			captured = opts
			return `{"title":"t"}`, nil
		},
	}
	svc, root := newTestService(t, &stubTranscoder{}, f, func(p *Params) { p.DefaultCookies = "env-blob" })

	_, err := svc.Metadata(context.Background(), "https://example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "env-blob", captured.CookiesBase64, "process-wide credentials apply by default")

	_, err = svc.Metadata(context.Background(), "https://example.com", "header-blob")
	require.NoError(t, err)
	assert.Equal(t, "header-blob", captured.CookiesBase64, "request header overrides process-wide credentials")

	assertNoWorkspaceLeft(t, root)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		tr := &stubTranscoder{status: engine.Status{Available: true, Version: "ffmpeg version 6.1"}}
		svc, _ := newTestService(t, tr, &stubFetcher{})

		status := svc.Health(context.Background())
		assert.Equal(t, "healthy", status.Status)
		assert.True(t, status.Transcoder.Available)
		assert.Equal(t, "test", status.Version)
	})

	t.Run("unhealthy without engine", func(t *testing.T) {
		tr := &stubTranscoder{status: engine.Status{Available: false, Error: "ffmpeg not found"}}
		svc, _ := newTestService(t, tr, &stubFetcher{})

		status := svc.Health(context.Background())
		assert.Equal(t, "unhealthy", status.Status)
	})
}

type capturingProducer struct {
	mu     sync.Mutex
	events []string
}

func (p *capturingProducer) Publish(_ context.Context, _ []byte, value []byte, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, string(value))
	return nil
}

func TestConvert_EmitsLifecycleEvent(t *testing.T) {
	producer := &capturingProducer{}
	tr := &stubTranscoder{convertFn: writeOutput("x")}
	svc, _ := newTestService(t, tr, &stubFetcher{}, func(p *Params) { p.Producer = producer })

	artifact, err := svc.Convert(context.Background(), strings.NewReader("in"), UploadRequest{
		Filename: "a.wav", Size: 1, TargetFormat: "mp3", Quality: "320",
	})
	require.NoError(t, err)
	require.NoError(t, artifact.Close())

	require.Len(t, producer.events, 1)
	assert.Contains(t, producer.events[0], `"outcome":"succeeded"`)
	assert.Contains(t, producer.events[0], `"quality":"highest"`)
}
