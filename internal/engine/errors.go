package engine

import "strings"

// Kind classifies how an external engine invocation failed.
type Kind string

const (
	// KindSpawn means the engine binary is missing or not runnable.
	KindSpawn Kind = "spawn"
	// KindTimeout means the invocation exceeded its deadline and was killed.
	KindTimeout Kind = "timeout"
	// KindUnsupportedCodec means the engine lacks an encoder for the target format.
	KindUnsupportedCodec Kind = "unsupported_codec"
	// KindCorruptInput means the engine rejected the input as invalid media.
	KindCorruptInput Kind = "corrupt_input"
	// KindExit means the engine exited non-zero for an unclassified reason.
	KindExit Kind = "exit"
	// KindEmptyOutput means the engine exited zero but the expected output
	// file is missing or empty.
	KindEmptyOutput Kind = "empty_output"
	// KindNoOutput means the engine exited zero but produced no matching
	// output file at all.
	KindNoOutput Kind = "no_output"
)

// Error is a classified engine failure. Message is safe to echo to
// callers; Stderr carries raw engine diagnostics for logging only.
type Error struct {
	Kind    Kind
	Message string
	Stderr  string
}

func (e *Error) Error() string {
	return e.Message
}

// exitPatterns maps known engine stderr fragments to failure kinds.
// Matching free-text output is inherently best effort; anything
// unmatched falls back to KindExit rather than being miscategorized.
var exitPatterns = []struct {
	fragment string
	kind     Kind
	message  string
}{
	{"Unknown encoder", KindUnsupportedCodec, "audio codec not available for the requested format, try a different format"},
	{"Encoder not found", KindUnsupportedCodec, "audio codec not available for the requested format, try a different format"},
	{"Invalid data found", KindCorruptInput, "input file appears to be corrupted or invalid"},
	{"moov atom not found", KindCorruptInput, "input file appears to be corrupted or invalid"},
}

// classifyExit turns a non-zero engine exit into a typed Error.
func classifyExit(name, stderr string) *Error {
	for _, p := range exitPatterns {
		if strings.Contains(stderr, p.fragment) {
			return &Error{Kind: p.kind, Message: p.message, Stderr: stderr}
		}
	}
	return &Error{
		Kind:    KindExit,
		Message: name + " failed to process the input",
		Stderr:  stderr,
	}
}
