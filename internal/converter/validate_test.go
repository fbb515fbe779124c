package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxUpload = 500 * 1024 * 1024

func TestValidateUpload_Accepts(t *testing.T) {
	tests := []struct {
		name           string
		req            UploadRequest
		expectedExt    string
		expectedFormat string
		expectedTier   QualityTier
	}{
		{"wav to mp3", UploadRequest{Filename: "song.wav", Size: 10 << 20, TargetFormat: "mp3", Quality: "192"}, "wav", "mp3", TierHigh},
		{"video input", UploadRequest{Filename: "clip.mkv", Size: 1 << 20, TargetFormat: "flac", Quality: "320"}, "mkv", "flac", TierHighest},
		{"uppercase extension", UploadRequest{Filename: "TRACK.MP4", Size: 1024, TargetFormat: "ogg", Quality: "64"}, "mp4", "ogg", TierLow},
		{"default format", UploadRequest{Filename: "a.webm", Size: 1, Quality: "128"}, "webm", "mp3", TierMedium},
		{"unmapped quality falls back to high", UploadRequest{Filename: "a.mov", Size: 1, TargetFormat: "aac", Quality: "999"}, "mov", "aac", TierHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validated, err := validateUpload(tt.req, maxUpload)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedExt, validated.InputExt)
			assert.Equal(t, tt.expectedFormat, validated.TargetFormat)
			assert.Equal(t, tt.expectedTier, validated.Tier)
		})
	}
}

func TestValidateUpload_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		req     UploadRequest
		message string
	}{
		{"empty payload", UploadRequest{Filename: "a.mp3", Size: 0}, "No file provided"},
		{"oversize", UploadRequest{Filename: "a.mp4", Size: 600 * 1024 * 1024, TargetFormat: "mp3"}, "File size exceeds 500MB limit"},
		{"unknown input extension", UploadRequest{Filename: "a.txt", Size: 1, TargetFormat: "mp3"}, "Unsupported file format: txt"},
		{"no extension", UploadRequest{Filename: "archive", Size: 1, TargetFormat: "mp3"}, "Unsupported file format: "},
		{"video output", UploadRequest{Filename: "a.mp3", Size: 1, TargetFormat: "mp4"}, "Unsupported output format: mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateUpload(tt.req, maxUpload)
			require.Error(t, err)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.message, vErr.Reason)
		})
	}
}

func TestResolveQualityTier(t *testing.T) {
	tests := []struct {
		input    string
		expected QualityTier
	}{
		{"64", TierLow},
		{"96", TierLow},
		{"128", TierMedium},
		{"192", TierHigh},
		{"256", TierHigh},
		{"320", TierHighest},
		{"320k", TierHighest},
		{"highest", TierHighest},
		{"LOW", TierLow},
		{"", TierHigh},
		{"garbage", TierHigh},
	}

	for _, tt := range tests {
		t.Run("q_"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveQualityTier(tt.input))
		})
	}
}

func TestQualityTier_Bitrate(t *testing.T) {
	assert.Equal(t, "64k", TierLow.Bitrate())
	assert.Equal(t, "128k", TierMedium.Bitrate())
	assert.Equal(t, "192k", TierHigh.Bitrate())
	assert.Equal(t, "320k", TierHighest.Bitrate())
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, "audio/mpeg", mimeTypeFor("mp3"))
	assert.Equal(t, "audio/flac", mimeTypeFor("flac"))
	assert.Equal(t, "application/octet-stream", mimeTypeFor("wma"))
	assert.Equal(t, "application/octet-stream", mimeTypeFor("unknown"))
}
