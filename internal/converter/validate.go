package converter

import (
	"path/filepath"
	"strings"
)

// supportedAudioFormats are the formats a conversion may target. Inputs
// may also be any of these.
var supportedAudioFormats = map[string]bool{
	"mp3":  true,
	"m4a":  true,
	"wav":  true,
	"flac": true,
	"aac":  true,
	"ogg":  true,
	"wma":  true,
}

// supportedVideoFormats are accepted as inputs only; output is always audio.
var supportedVideoFormats = map[string]bool{
	"mp4":  true,
	"avi":  true,
	"mkv":  true,
	"mov":  true,
	"wmv":  true,
	"flv":  true,
	"webm": true,
}

// QualityTier is a named bucket mapping to a fixed encoder bitrate.
type QualityTier string

const (
	TierLow     QualityTier = "low"
	TierMedium  QualityTier = "medium"
	TierHigh    QualityTier = "high"
	TierHighest QualityTier = "highest"
)

// Bitrate returns the encoder bitrate for the tier.
func (t QualityTier) Bitrate() string {
	switch t {
	case TierLow:
		return "64k"
	case TierMedium:
		return "128k"
	case TierHighest:
		return "320k"
	default:
		return "192k"
	}
}

// nominalTiers collapses the nominal bitrate values clients send into
// tiers. Tier names themselves are accepted too.
var nominalTiers = map[string]QualityTier{
	"64":      TierLow,
	"96":      TierLow,
	"128":     TierMedium,
	"192":     TierHigh,
	"256":     TierHigh,
	"320":     TierHighest,
	"low":     TierLow,
	"medium":  TierMedium,
	"high":    TierHigh,
	"highest": TierHighest,
}

// ResolveQualityTier normalizes a nominal quality value to a tier.
// Unmapped values fall back to TierHigh.
func ResolveQualityTier(quality string) QualityTier {
	key := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(quality, "k")))
	if tier, ok := nominalTiers[key]; ok {
		return tier
	}
	return TierHigh
}

// UploadRequest is an incoming file conversion request before validation.
type UploadRequest struct {
	Filename string
	Size     int64
	// TargetFormat is the requested output audio format.
	TargetFormat string
	// Quality is a nominal bitrate or tier name.
	Quality  string
	Compress bool
}

// ValidatedUpload is an UploadRequest that passed every policy check.
type ValidatedUpload struct {
	InputExt     string
	TargetFormat string
	Tier         QualityTier
	Compress     bool
}

// validateUpload applies the request policy in order: payload presence,
// size cap, input extension allowlist, output format allowlist, quality
// tier resolution. The first violation wins.
func validateUpload(req UploadRequest, maxSize int64) (*ValidatedUpload, error) {
	if req.Size <= 0 {
		return nil, validationErrorf("No file provided")
	}
	if req.Size > maxSize {
		return nil, validationErrorf("File size exceeds %dMB limit", maxSize/(1024*1024))
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(req.Filename), "."))
	if !supportedAudioFormats[ext] && !supportedVideoFormats[ext] {
		return nil, validationErrorf("Unsupported file format: %s", ext)
	}

	format := strings.ToLower(strings.TrimSpace(req.TargetFormat))
	if format == "" {
		format = "mp3"
	}
	if !supportedAudioFormats[format] {
		return nil, validationErrorf("Unsupported output format: %s", format)
	}

	return &ValidatedUpload{
		InputExt:     ext,
		TargetFormat: format,
		Tier:         ResolveQualityTier(req.Quality),
		Compress:     req.Compress,
	}, nil
}

// mimeTypes maps output formats to transport content types. Formats
// without an entry fall back to a generic binary type.
var mimeTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"aac":  "audio/aac",
	"ogg":  "audio/ogg",
}

func mimeTypeFor(format string) string {
	if mt, ok := mimeTypes[format]; ok {
		return mt
	}
	return "application/octet-stream"
}
