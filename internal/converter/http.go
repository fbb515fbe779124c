package converter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/audioconv/internal/engine"
	"github.com/your-org/audioconv/internal/ratelimit"
	"github.com/your-org/audioconv/pkg/metrics"
)

// cookiesHeader carries an opaque base64 credential blob per request,
// overriding the process-wide one.
const cookiesHeader = "X-Ytdlp-Cookies-B64"

// RouteLimits holds the per-route fixed-window rate limits.
type RouteLimits struct {
	Window   time.Duration
	Convert  int
	Download int
	Info     int
}

// HTTPHandler exposes the REST endpoints of the converter service.
type HTTPHandler struct {
	service      *Service
	limiter      *ratelimit.Limiter
	logger       *zap.Logger
	limits       RouteLimits
	maxSizeBytes int64
	formMemBytes int64
	router       chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, limiter *ratelimit.Limiter, logger *zap.Logger, limits RouteLimits, maxSizeBytes, formMemBytes int64) *HTTPHandler {
	h := &HTTPHandler{
		service:      service,
		limiter:      limiter,
		logger:       logger,
		limits:       limits,
		maxSizeBytes: maxSizeBytes,
		formMemBytes: formMemBytes,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", h.handleHealth)
	r.Get("/diagnostics", h.handleDiagnostics)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/convert", h.withRateLimit("convert", h.limits.Convert, h.handleConvert))
	r.Post("/download", h.withRateLimit("download", h.limits.Download, h.handleDownload))
	r.Post("/info", h.withRateLimit("info", h.limits.Info, h.handleInfo))

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

// withRateLimit keys admission on route name plus the caller's address.
// Denials are a normal outcome: 429 plus reset headers, no error logged.
func (h *HTTPHandler) withRateLimit(route string, limit int, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := route + ":" + clientKey(r)
		decision := h.limiter.Admit(key, limit, h.limits.Window)

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			writeError(w, http.StatusTooManyRequests, (&RateLimitError{ResetAt: decision.ResetAt}).Error())
			return
		}
		next(w, r)
	}
}

// clientKey identifies the caller. RealIP middleware has already folded
// X-Forwarded-For into RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "local"
	}
	return host
}

func (h *HTTPHandler) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > 0 && r.ContentLength > h.maxSizeBytes+h.formMemBytes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("File size exceeds %dMB limit", h.maxSizeBytes/(1024*1024)))
		return
	}

	if err := r.ParseMultipartForm(h.formMemBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	format := r.FormValue("format")
	if format == "" {
		format = r.FormValue("outputFormat")
	}
	quality := r.FormValue("quality")
	if quality == "" {
		quality = "192"
	}

	artifact, err := h.service.Convert(r.Context(), file, UploadRequest{
		Filename:     header.Filename,
		Size:         header.Size,
		TargetFormat: format,
		Quality:      quality,
		Compress:     r.FormValue("compression") == "true",
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.streamArtifact(w, r, artifact)
}

func (h *HTTPHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string `json:"url"`
		Bitrate string `json:"bitrate"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	artifact, err := h.service.Download(r.Context(), req.URL, req.Bitrate, r.Header.Get(cookiesHeader))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.streamArtifact(w, r, artifact)
}

func (h *HTTPHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	raw, err := h.service.Metadata(r.Context(), req.URL, r.Header.Get(cookiesHeader))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"raw": raw})
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.service.Health(r.Context())

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *HTTPHandler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Diagnose(r.Context()))
}

// streamArtifact sets transport metadata and streams the output file.
// Workspace teardown is bound to the end of the stream via Close, so a
// mid-transfer failure still cleans up.
func (h *HTTPHandler) streamArtifact(w http.ResponseWriter, r *http.Request, artifact *Artifact) {
	defer artifact.Close()

	w.Header().Set("Content-Type", artifact.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, artifact); err != nil {
		// Headers are gone; nothing to send. Usually the client left.
		h.logger.Debug("stream interrupted",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
}

// writeFailure maps an error to its HTTP status and JSON payload. Raw
// engine stderr never reaches the caller; typed messages do.
func (h *HTTPHandler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		writeError(w, http.StatusBadRequest, vErr.Reason)
		return
	}

	var engErr *engine.Error
	if errors.As(err, &engErr) {
		h.logger.Error("engine failure",
			zap.String("path", r.URL.Path),
			zap.String("kind", string(engErr.Kind)),
			zap.String("stderr", engErr.Stderr))
		writeError(w, http.StatusInternalServerError, engErr.Message)
		return
	}

	h.logger.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
