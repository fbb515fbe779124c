// Package converter orchestrates media conversion requests: validation,
// workspace lifetime, external engine supervision, and response streaming.
package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/audioconv/internal/engine"
	"github.com/your-org/audioconv/internal/workspace"
	"github.com/your-org/audioconv/pkg/metrics"
	"github.com/your-org/audioconv/pkg/storage/objectstore"
)

// TranscodeEngine is the external transcoding collaborator.
type TranscodeEngine interface {
	Convert(ctx context.Context, ws *workspace.Workspace, inputPath string, opts engine.TranscodeOptions) (string, error)
	Probe(ctx context.Context) engine.Status
	SelfTest(ctx context.Context) engine.SelfTestResult
}

// FetchEngine is the external remote fetch collaborator.
type FetchEngine interface {
	Download(ctx context.Context, ws *workspace.Workspace, url string, opts engine.FetchOptions) (string, error)
	Metadata(ctx context.Context, ws *workspace.Workspace, url string, opts engine.FetchOptions) (string, error)
}

// Service wires together workspaces, engines, events, and archiving.
type Service struct {
	workspaces *workspace.Manager
	transcoder TranscodeEngine
	fetcher    FetchEngine
	producer   EventProducer
	archive    objectstore.Client
	logger     *zap.Logger

	maxUpload      int64
	defaultCookies string
	version        string
	slots          chan struct{}
	startedAt      time.Time
}

type Params struct {
	Workspaces *workspace.Manager
	Transcoder TranscodeEngine
	Fetcher    FetchEngine
	// Producer may be nil; lifecycle events are then disabled.
	Producer EventProducer
	// Archive may be nil; artifact archiving is then disabled.
	Archive objectstore.Client
	Logger  *zap.Logger

	MaxUploadBytes int64
	// DefaultCookies is the process-wide credential blob; a request
	// header overrides it per call.
	DefaultCookies string
	Version        string
	// MaxConcurrent bounds concurrently running engine subprocesses.
	MaxConcurrent int
}

// NewService constructs a converter Service.
func NewService(p Params) *Service {
	slots := p.MaxConcurrent
	if slots < 1 {
		slots = 1
	}
	return &Service{
		workspaces:     p.Workspaces,
		transcoder:     p.Transcoder,
		fetcher:        p.Fetcher,
		producer:       p.Producer,
		archive:        p.Archive,
		logger:         p.Logger,
		maxUpload:      p.MaxUploadBytes,
		defaultCookies: p.DefaultCookies,
		version:        p.Version,
		slots:          make(chan struct{}, slots),
		startedAt:      time.Now(),
	}
}

// Artifact is a converted audio file ready to stream. Close releases
// the backing workspace, so the output file stays valid for the full
// duration of transmission and is removed exactly once afterwards.
type Artifact struct {
	MIMEType string
	Filename string
	Size     int64

	file    *os.File
	release func()
}

func (a *Artifact) Read(p []byte) (int, error) {
	return a.file.Read(p)
}

// Close closes the output file and tears down its workspace. Safe to
// call more than once.
func (a *Artifact) Close() error {
	err := a.file.Close()
	if a.release != nil {
		a.release()
		a.release = nil
	}
	return err
}

// Convert validates the upload, writes it into a fresh workspace, runs
// the transcoding engine under its deadline, and returns the artifact.
// The workspace is torn down on every failure path here and on the
// success path when the artifact is closed.
func (s *Service) Convert(ctx context.Context, file io.Reader, req UploadRequest) (*Artifact, error) {
	validated, err := validateUpload(req, s.maxUpload)
	if err != nil {
		return nil, err
	}

	ws, err := s.workspaces.Acquire()
	if err != nil {
		return nil, fmt.Errorf("acquire workspace: %w", err)
	}

	streaming := false
	defer func() {
		if !streaming {
			s.workspaces.Release(ws)
		}
	}()

	inputPath := ws.InputPath(validated.InputExt)
	if err := writeInput(inputPath, file); err != nil {
		return nil, err
	}

	if err := s.acquireSlot(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	outputPath, convErr := s.transcoder.Convert(ctx, ws, inputPath, engine.TranscodeOptions{
		TargetFormat: validated.TargetFormat,
		Bitrate:      validated.Tier.Bitrate(),
		Compress:     validated.Compress,
	})
	s.releaseSlot()

	if convErr != nil {
		s.observe(ctx, "upload", validated.TargetFormat, string(validated.Tier), 0, start, convErr)
		return nil, convErr
	}

	artifact, err := s.openArtifact(ws, outputPath, validated.TargetFormat, "converted."+validated.TargetFormat)
	if err != nil {
		s.observe(ctx, "upload", validated.TargetFormat, string(validated.Tier), 0, start, err)
		return nil, err
	}

	s.observe(ctx, "upload", validated.TargetFormat, string(validated.Tier), artifact.Size, start, nil)
	s.archiveArtifact(ctx, outputPath, artifact)

	streaming = true
	return artifact, nil
}

// Download fetches the best audio stream of a remote URL into a fresh
// workspace and returns the artifact. Cleanup follows the same
// discipline as Convert.
func (s *Service) Download(ctx context.Context, url, bitrate, cookiesHeader string) (*Artifact, error) {
	if url == "" {
		return nil, validationErrorf("Missing url")
	}

	tier := ResolveQualityTier(bitrate)

	ws, err := s.workspaces.Acquire()
	if err != nil {
		return nil, fmt.Errorf("acquire workspace: %w", err)
	}

	streaming := false
	defer func() {
		if !streaming {
			s.workspaces.Release(ws)
		}
	}()

	if err := s.acquireSlot(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	outputPath, fetchErr := s.fetcher.Download(ctx, ws, url, engine.FetchOptions{
		Bitrate:       tier.Bitrate(),
		CookiesBase64: s.cookies(cookiesHeader),
	})
	s.releaseSlot()

	if fetchErr != nil {
		s.observe(ctx, "remote", "mp3", string(tier), 0, start, fetchErr)
		return nil, fetchErr
	}

	artifact, err := s.openArtifact(ws, outputPath, "mp3", filepath.Base(outputPath))
	if err != nil {
		s.observe(ctx, "remote", "mp3", string(tier), 0, start, err)
		return nil, err
	}

	s.observe(ctx, "remote", "mp3", string(tier), artifact.Size, start, nil)
	s.archiveArtifact(ctx, outputPath, artifact)

	streaming = true
	return artifact, nil
}

// Metadata runs the fetch engine in dump-only mode and returns the raw
// structured metadata. It obeys the same credential rules as Download.
func (s *Service) Metadata(ctx context.Context, url, cookiesHeader string) (string, error) {
	if url == "" {
		return "", validationErrorf("Missing url")
	}

	ws, err := s.workspaces.Acquire()
	if err != nil {
		return "", fmt.Errorf("acquire workspace: %w", err)
	}
	defer s.workspaces.Release(ws)

	if err := s.acquireSlot(ctx); err != nil {
		return "", err
	}
	defer s.releaseSlot()

	return s.fetcher.Metadata(ctx, ws, url, engine.FetchOptions{
		CookiesBase64: s.cookies(cookiesHeader),
	})
}

// HealthStatus reports engine availability and basic process metrics.
type HealthStatus struct {
	Status        string        `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Version       string        `json:"version"`
	Transcoder    engine.Status `json:"transcoder"`
	Goroutines    int           `json:"goroutines"`
	HeapMB        uint64        `json:"heap_mb"`
}

// Health probes the transcoding engine and snapshots process stats.
func (s *Service) Health(ctx context.Context) HealthStatus {
	probe := s.transcoder.Probe(ctx)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := "healthy"
	if !probe.Available {
		status = "unhealthy"
	}

	return HealthStatus{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Version:       s.version,
		Transcoder:    probe,
		Goroutines:    runtime.NumGoroutine(),
		HeapMB:        mem.HeapAlloc / 1024 / 1024,
	}
}

// Diagnostics runs the engine self test alongside the availability probe.
type Diagnostics struct {
	Timestamp  time.Time             `json:"timestamp"`
	Transcoder engine.Status         `json:"transcoder"`
	SelfTest   engine.SelfTestResult `json:"self_test"`
}

func (s *Service) Diagnose(ctx context.Context) Diagnostics {
	return Diagnostics{
		Timestamp:  time.Now().UTC(),
		Transcoder: s.transcoder.Probe(ctx),
		SelfTest:   s.transcoder.SelfTest(ctx),
	}
}

// Close releases event and archive resources.
func (s *Service) Close() error {
	var errs []error
	if closer, ok := s.producer.(interface{ Close() error }); ok && s.producer != nil {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) cookies(header string) string {
	if header != "" {
		return header
	}
	return s.defaultCookies
}

// acquireSlot bounds concurrent engine subprocesses; it blocks until a
// slot frees up or the request is canceled.
func (s *Service) acquireSlot(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) releaseSlot() {
	<-s.slots
}

// openArtifact confirms the output exists and is non-empty, then wraps
// it with workspace teardown bound to Close.
func (s *Service) openArtifact(ws *workspace.Workspace, outputPath, format, filename string) (*Artifact, error) {
	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return nil, &engine.Error{
			Kind:    engine.KindEmptyOutput,
			Message: "conversion produced no usable output",
		}
	}

	f, err := os.Open(outputPath)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}

	return &Artifact{
		MIMEType: mimeTypeFor(format),
		Filename: filename,
		Size:     info.Size(),
		file:     f,
		release:  func() { s.workspaces.Release(ws) },
	}, nil
}

// observe records the terminal outcome in metrics and, when configured,
// as a lifecycle event.
func (s *Service) observe(ctx context.Context, source, format, quality string, outputBytes int64, start time.Time, err error) {
	outcome := "succeeded"
	errMsg := ""
	if err != nil {
		outcome = "failed"
		errMsg = err.Error()
		var engErr *engine.Error
		if errors.As(err, &engErr) {
			outcome = string(engErr.Kind)
		}
	}

	metrics.ConversionsTotal.WithLabelValues(source, outcome).Inc()

	s.emitEvent(ctx, ConversionEvent{
		ID:           uuid.NewString(),
		Source:       source,
		TargetFormat: format,
		Quality:      quality,
		OutputBytes:  outputBytes,
		DurationMS:   time.Since(start).Milliseconds(),
		Outcome:      outcome,
		Error:        errMsg,
		CreatedAt:    time.Now().UTC(),
	})
}

// archiveArtifact copies a successful output to the archive sink when
// one is configured. Failures are logged and never fail the request.
func (s *Service) archiveArtifact(ctx context.Context, outputPath string, artifact *Artifact) {
	if s.archive == nil {
		return
	}

	f, err := os.Open(outputPath)
	if err != nil {
		s.logger.Warn("open artifact for archiving", zap.Error(err))
		return
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s%s",
		time.Now().UTC().Format("2006/01/02"),
		uuid.NewString(),
		filepath.Ext(outputPath))

	metadata := map[string]string{
		"original_filename": artifact.Filename,
	}
	if err := s.archive.Put(ctx, key, artifact.MIMEType, f, artifact.Size, metadata); err != nil {
		s.logger.Warn("archive artifact",
			zap.String("key", key),
			zap.Error(err))
		return
	}

	s.logger.Info("artifact archived", zap.String("key", key))
}

// writeInput persists the uploaded payload into the workspace.
func writeInput(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create input file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("write input file: %w", err)
	}
	return dst.Close()
}
