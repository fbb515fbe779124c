package engine

import (
	"context"
	"encoding/base64"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/audioconv/internal/workspace"
)

// fetchedFormat is the single intermediate format every remote fetch is
// extracted and re-encoded to.
const fetchedFormat = "mp3"

// userAgents is a small fixed pool of browser-like agents, rotated to
// reduce upstream bot-detection false positives.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0 Safari/537.36",
}

// FetchOptions are the knobs for one remote fetch.
type FetchOptions struct {
	// Bitrate is the requested tier bitrate, e.g. "128k".
	Bitrate string
	// CookiesBase64 is opaque base64 Netscape cookies.txt content.
	// Empty means the fetch proceeds unauthenticated.
	CookiesBase64 string
}

// Fetcher invokes yt-dlp to download and extract audio from remote URLs.
type Fetcher struct {
	bin     string
	timeout time.Duration
	logger  *zap.Logger
	pickUA  func() string
}

// NewFetcher constructs a Fetcher around the given yt-dlp binary.
func NewFetcher(bin string, timeout time.Duration, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		bin:     bin,
		timeout: timeout,
		logger:  logger,
		pickUA: func() string {
			return userAgents[rand.IntN(len(userAgents))]
		},
	}
}

// Download fetches the best audio stream of url into the workspace,
// re-encoded to mp3 at the requested quality, and returns the produced
// file path. Exactly one output file is expected; if the engine leaves
// several the first directory-listing match is taken.
func (f *Fetcher) Download(ctx context.Context, ws *workspace.Workspace, url string, opts FetchOptions) (string, error) {
	args := f.fetchArgs(ws, url, opts, false)

	f.logger.Debug("invoking remote fetch engine",
		zap.String("bin", f.bin),
		zap.String("url", url))

	res, err := run(ctx, invocation{bin: f.bin, args: args, dir: ws.Dir, timeout: f.timeout})
	if err != nil {
		return "", err
	}

	if res.exitCode != 0 {
		engErr := classifyExit("remote fetch engine", res.stderr)
		f.logger.Error("remote fetch engine failed",
			zap.Int("exit_code", res.exitCode),
			zap.String("stderr", res.stderr))
		return "", engErr
	}

	matches, globErr := filepath.Glob(ws.Join("*." + fetchedFormat))
	if globErr != nil || len(matches) == 0 {
		return "", &Error{
			Kind:    KindNoOutput,
			Message: "remote fetch produced no audio file",
			Stderr:  res.stderr,
		}
	}

	return matches[0], nil
}

// Metadata runs the fetch engine in dump-only mode and returns the raw
// structured metadata for url without downloading any media.
func (f *Fetcher) Metadata(ctx context.Context, ws *workspace.Workspace, url string, opts FetchOptions) (string, error) {
	args := f.fetchArgs(ws, url, opts, true)

	res, err := run(ctx, invocation{bin: f.bin, args: args, dir: ws.Dir, timeout: f.timeout})
	if err != nil {
		return "", err
	}
	if res.exitCode != 0 {
		return "", classifyExit("remote fetch engine", res.stderr)
	}

	return res.stdout, nil
}

// fetchArgs builds the yt-dlp argument vector shared by download and
// metadata modes: best audio selection, playlist expansion disabled,
// rotated user agent, static browser-like headers, and credentials when
// supplied.
func (f *Fetcher) fetchArgs(ws *workspace.Workspace, url string, opts FetchOptions, metadataOnly bool) []string {
	var args []string
	if metadataOnly {
		args = append(args, "-J", "--no-check-certificate")
	} else {
		args = append(args,
			"-f", "bestaudio/best",
			"-x", "--audio-format", fetchedFormat,
			"--audio-quality", audioQuality(opts.Bitrate),
			"-o", ws.Join("%(title)s.%(ext)s"),
		)
	}

	args = append(args,
		"--no-warnings", "--no-playlist",
		"--add-header", "Accept-Language: en-US,en;q=0.9",
		"--user-agent", f.pickUA(),
		"--extractor-args", "youtube:player_client=android",
	)

	if cookiesPath := f.writeCookies(ws, opts.CookiesBase64); cookiesPath != "" {
		args = append(args, "--cookies", cookiesPath)
	}

	return append(args, url)
}

// writeCookies decodes the credential blob into a workspace-local file.
// A missing or undecodable blob is not an error; the fetch proceeds
// unauthenticated.
func (f *Fetcher) writeCookies(ws *workspace.Workspace, cookiesBase64 string) string {
	if cookiesBase64 == "" {
		return ""
	}

	raw, err := base64.StdEncoding.DecodeString(cookiesBase64)
	if err != nil {
		f.logger.Warn("discarding undecodable credential blob", zap.Error(err))
		return ""
	}

	path := ws.Join("cookies.txt")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		f.logger.Warn("failed to write credential file", zap.Error(err))
		return ""
	}
	return path
}

// audioQuality maps a tier bitrate to the fetch engine's quality flag.
func audioQuality(bitrate string) string {
	switch bitrate {
	case "64k":
		return "64K"
	case "128k":
		return "128K"
	case "192k":
		return "192K"
	case "320k":
		return "320K"
	default:
		return "128K"
	}
}
