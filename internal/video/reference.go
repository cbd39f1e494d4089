package video

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidReference is returned when no 11-character video id can be
// extracted from the input URL.
var ErrInvalidReference = errors.New("invalid video reference")

// Stream classifies a video as a regular upload or an ongoing broadcast.
type Stream string

const (
	StreamRegular Stream = "regular"
	StreamLive    Stream = "live"
)

// Reference is an immutable, parsed video URL.
type Reference struct {
	URL    string `json:"url"`
	ID     string `json:"video_id"`
	Stream Stream `json:"stream"`
}

// IsLive reports whether the reference points at a live broadcast.
func (r Reference) IsLive() bool { return r.Stream == StreamLive }

// Handles youtu.be short links, watch?v=, embed/, v/, shorts/ and live/ paths.
var idPattern = regexp.MustCompile(`(?:youtu\.be/|youtube\.com/(?:watch\?(?:.*&)?v=|embed/|v/|shorts/|live/))([\w-]{11})`)

// livePattern matches the path form YouTube uses for broadcasts.
var livePattern = regexp.MustCompile(`youtube\.com/live/[\w-]{11}`)

// ExtractID returns the 11-character video id in rawURL, or "" if none.
func ExtractID(rawURL string) string {
	m := idPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// Classify returns the stream type implied by the URL shape.
func Classify(rawURL string) Stream {
	if livePattern.MatchString(rawURL) {
		return StreamLive
	}
	return StreamRegular
}

// Parse derives a Reference from a raw URL. forceLive overrides the URL-based
// classification for callers that know the video is a broadcast.
func Parse(rawURL string, forceLive bool) (Reference, error) {
	rawURL = strings.TrimSpace(rawURL)
	id := ExtractID(rawURL)
	if id == "" {
		return Reference{}, ErrInvalidReference
	}
	stream := Classify(rawURL)
	if forceLive {
		stream = StreamLive
	}
	return Reference{URL: rawURL, ID: id, Stream: stream}, nil
}
