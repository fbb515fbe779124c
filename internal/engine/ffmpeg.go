package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/audioconv/internal/workspace"
)

// TranscodeOptions are the validated knobs for one conversion.
type TranscodeOptions struct {
	// TargetFormat is one of the supported output audio formats.
	TargetFormat string
	// Bitrate is the resolved tier bitrate, e.g. "192k". Ignored for
	// lossless formats.
	Bitrate string
	// Compress applies a stronger compression level.
	Compress bool
}

// Transcoder invokes ffmpeg to convert media files to audio.
type Transcoder struct {
	bin     string
	timeout time.Duration
	logger  *zap.Logger
}

// NewTranscoder constructs a Transcoder around the given ffmpeg binary.
func NewTranscoder(bin string, timeout time.Duration, logger *zap.Logger) *Transcoder {
	return &Transcoder{bin: bin, timeout: timeout, logger: logger}
}

// Convert transcodes inputPath into the workspace's output path and
// returns it. The invocation runs under the configured deadline; the
// process is killed on expiry. Convert never retries.
func (t *Transcoder) Convert(ctx context.Context, ws *workspace.Workspace, inputPath string, opts TranscodeOptions) (string, error) {
	outputPath := ws.OutputPath(opts.TargetFormat)
	args := transcodeArgs(inputPath, outputPath, opts)

	t.logger.Debug("invoking transcoding engine",
		zap.String("bin", t.bin),
		zap.Strings("args", args))

	res, err := run(ctx, invocation{bin: t.bin, args: args, dir: ws.Dir, timeout: t.timeout})
	if err != nil {
		return "", err
	}

	if res.exitCode != 0 {
		engErr := classifyExit("transcoding engine", res.stderr)
		t.logger.Error("transcoding engine failed",
			zap.Int("exit_code", res.exitCode),
			zap.String("kind", string(engErr.Kind)),
			zap.String("stderr", res.stderr))
		return "", engErr
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil || info.Size() == 0 {
		return "", &Error{
			Kind:    KindEmptyOutput,
			Message: "conversion produced no usable output",
			Stderr:  res.stderr,
		}
	}

	t.logger.Info("conversion finished",
		zap.String("format", opts.TargetFormat),
		zap.Int64("output_bytes", info.Size()),
		zap.Duration("took", res.duration))

	return outputPath, nil
}

// transcodeArgs builds the ffmpeg argument vector for one conversion:
// codec per target format, tier bitrate for lossy formats, stripped
// video streams, stereo at 44.1kHz.
func transcodeArgs(inputPath, outputPath string, opts TranscodeOptions) []string {
	args := []string{"-i", inputPath, "-y", "-loglevel", "error"}

	switch opts.TargetFormat {
	case "mp3":
		args = append(args, "-codec:a", "libmp3lame", "-b:a", opts.Bitrate, "-joint_stereo", "1")
	case "m4a":
		args = append(args, "-codec:a", "aac", "-b:a", opts.Bitrate, "-movflags", "+faststart")
	case "wav":
		args = append(args, "-codec:a", "pcm_s16le")
	case "flac":
		args = append(args, "-codec:a", "flac", "-compression_level", "5")
	case "aac":
		args = append(args, "-codec:a", "aac", "-b:a", opts.Bitrate, "-profile:a", "aac_low")
	case "ogg":
		args = append(args, "-codec:a", "libvorbis", "-b:a", opts.Bitrate, "-q:a", "4")
	case "wma":
		args = append(args, "-codec:a", "wmav2", "-b:a", opts.Bitrate)
	}

	if opts.Compress {
		args = append(args, "-compression_level", "6")
		if opts.TargetFormat == "mp3" {
			args = append(args, "-q:a", "2")
		}
	}

	args = append(args, "-vn", "-ac", "2", "-ar", "44100", outputPath)
	return args
}

// Status reports the availability of an external engine binary.
type Status struct {
	Available bool   `json:"available"`
	Version   string `json:"version"`
	Error     string `json:"error,omitempty"`
}

// Probe checks that ffmpeg is installed and responsive.
func (t *Transcoder) Probe(ctx context.Context) Status {
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	res, err := run(probeCtx, invocation{bin: t.bin, args: []string{"-version"}})
	if err != nil {
		return Status{Available: false, Version: "not available", Error: err.Error()}
	}
	if res.exitCode != 0 {
		return Status{Available: false, Version: "not available", Error: "transcoding engine is not working properly"}
	}

	version := res.stdout
	if idx := strings.IndexByte(version, '\n'); idx > 0 {
		version = version[:idx]
	}
	return Status{Available: true, Version: strings.TrimSpace(version)}
}

// SelfTestResult reports the outcome of an end-to-end encode check.
type SelfTestResult struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// SelfTest generates a one-second sine tone and encodes it to mp3 in a
// throwaway directory, proving the encoder chain works end to end.
func (t *Transcoder) SelfTest(ctx context.Context) SelfTestResult {
	dir, err := os.MkdirTemp("", "audioconv-selftest-")
	if err != nil {
		return SelfTestResult{OK: false, Detail: fmt.Sprintf("create test dir: %v", err)}
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "test.mp3")
	testCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := run(testCtx, invocation{
		bin: t.bin,
		args: []string{
			"-f", "lavfi",
			"-i", "sine=frequency=1000:duration=1",
			"-c:a", "libmp3lame",
			"-t", "1",
			"-y", out,
		},
		dir: dir,
	})
	if err != nil {
		return SelfTestResult{OK: false, Detail: err.Error()}
	}
	if res.exitCode != 0 {
		return SelfTestResult{OK: false, Detail: res.stderr}
	}

	info, statErr := os.Stat(out)
	if statErr != nil || info.Size() == 0 {
		return SelfTestResult{OK: false, Detail: "self test produced no output"}
	}
	return SelfTestResult{OK: true}
}
