// Package analysis submits media files to the external analysis service
// and records results in the library.
package analysis

import "fmt"

// Kind identifies an analysis operation.
type Kind string

const (
	// KindDetect runs object detection on the media file.
	KindDetect Kind = "detect"

	// KindSummarize produces a content summary.
	KindSummarize Kind = "summarize"

	// KindTranscribe produces a transcript of the audio track.
	KindTranscribe Kind = "transcribe"

	// KindTranscode converts the file to the library's delivery format.
	KindTranscode Kind = "transcode"
)

// Kinds lists all supported analysis kinds.
func Kinds() []Kind {
	return []Kind{KindDetect, KindSummarize, KindTranscribe, KindTranscode}
}

// Valid reports whether k is a supported analysis kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDetect, KindSummarize, KindTranscribe, KindTranscode:
		return true
	}
	return false
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown analysis kind %q", s)
	}
	return k, nil
}
