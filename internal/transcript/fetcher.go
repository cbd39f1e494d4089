package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quam/quam-engine/internal/metrics"
	"github.com/rs/zerolog"
)

// KeyPool is an ordered set of primary API credentials. A pool is a snapshot:
// the rotation cursor lives inside a single Fetch call and is never stored.
type KeyPool []string

// Segment is one element of the primary API response. The first segment's
// text carries the full transcript.
type Segment struct {
	Text  string `json:"transcriptionAsText"`
	Title string `json:"title,omitempty"`
}

// ValidPayload reports whether segments is a usable primary result: non-empty
// with non-empty transcript text on the first element. Whitespace counts as
// text.
func ValidPayload(segments []Segment) bool {
	return len(segments) > 0 && segments[0].Text != ""
}

// FetcherOptions configures the primary transcript API client.
type FetcherOptions struct {
	BaseURL   string            // e.g. "https://youtube-transcriptor.p.rapidapi.com"
	Host      string            // value for the x-rapidapi-host header
	LangRemap map[string]string // request lang -> primary API lang
	Timeout   time.Duration
	Log       zerolog.Logger
}

// Fetcher calls the primary transcript API, rotating through a key pool when
// a key is rate-limited.
type Fetcher struct {
	baseURL string
	host    string
	remap   map[string]string
	client  *http.Client
	log     zerolog.Logger
}

// NewFetcher creates a primary API client.
func NewFetcher(opts FetcherOptions) *Fetcher {
	return &Fetcher{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		host:    opts.Host,
		remap:   opts.LangRemap,
		client:  &http.Client{Timeout: opts.Timeout},
		log:     opts.Log,
	}
}

// RemapLang returns the primary API's code for lang. The input is not modified.
func (f *Fetcher) RemapLang(lang string) string {
	if mapped, ok := f.remap[lang]; ok && mapped != "" {
		return mapped
	}
	return lang
}

// Fetch tries each key in order. A 429 moves on to the next key; any other
// failure stops rotation with a *PrimaryAPIError. Returns ErrKeysExhausted
// after len(keys) rate-limited attempts.
func (f *Fetcher) Fetch(ctx context.Context, videoID, lang string, keys KeyPool) ([]Segment, error) {
	apiLang := f.RemapLang(lang)

	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		segments, err := f.attempt(ctx, videoID, apiLang, key)
		if errors.Is(err, errRateLimited) {
			metrics.PrimaryAttemptsTotal.WithLabelValues("rate_limited").Inc()
			f.log.Debug().
				Str("video_id", videoID).
				Int("key_index", i).
				Int("keys", len(keys)).
				Msg("primary key rate-limited, rotating")
			continue
		}
		if err != nil {
			metrics.PrimaryAttemptsTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		metrics.PrimaryAttemptsTotal.WithLabelValues("ok").Inc()
		f.log.Debug().
			Str("video_id", videoID).
			Int("key_index", i).
			Int("segments", len(segments)).
			Msg("primary transcript fetched")
		return segments, nil
	}

	return nil, ErrKeysExhausted
}

var errRateLimited = errors.New("rate limited")

func (f *Fetcher) attempt(ctx context.Context, videoID, lang, key string) ([]Segment, error) {
	q := url.Values{}
	q.Set("video_id", videoID)
	q.Set("lang", lang)
	endpoint := f.baseURL + "/transcript?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &PrimaryAPIError{Err: fmt.Errorf("create request: %w", err)}
	}
	if f.host != "" {
		req.Header.Set("x-rapidapi-host", f.host)
	}
	req.Header.Set("x-rapidapi-key", key)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &PrimaryAPIError{Err: fmt.Errorf("primary request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, errRateLimited
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &PrimaryAPIError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &PrimaryAPIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	// The API answers some misses with a JSON object instead of an array.
	// Those are well-formed but carry nothing, so return an empty payload.
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "[") {
		if !json.Valid(body) {
			return nil, &PrimaryAPIError{Err: fmt.Errorf("decode response: invalid JSON")}
		}
		return nil, nil
	}

	var segments []Segment
	if err := json.Unmarshal(body, &segments); err != nil {
		return nil, &PrimaryAPIError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return segments, nil
}
