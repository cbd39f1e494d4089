package transcript

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quam/quam-engine/internal/video"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrimary struct {
	calls    int
	langs    []string
	segments []Segment
	err      error
}

func (f *fakePrimary) Fetch(ctx context.Context, videoID, lang string, keys KeyPool) ([]Segment, error) {
	f.calls++
	f.langs = append(f.langs, lang)
	return f.segments, f.err
}

func newTestCoordinator(primary PrimaryFetcher, jobs *fakeJobs) *Coordinator {
	return NewCoordinator(primary, StaticKeys{"k1", "k2"}, newTestOrchestrator(jobs, 5, 5), zerolog.Nop())
}

func TestCoordinator_PrimarySuccessSkipsJobService(t *testing.T) {
	primary := &fakePrimary{segments: []Segment{{Text: "hello"}}}
	jobs := newFakeJobs(script(running("")))
	c := newTestCoordinator(primary, jobs)
	sink := &recordingSink{}

	res, err := c.Transcribe(context.Background(), NewRegistry(jobs, zerolog.Nop()), regularRequest(), sink)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, SourcePrimary, res.Source)
	assert.Equal(t, []string{"hello"}, sink.finals)
	assert.Equal(t, []bool{true, false}, sink.loading)
	assert.Empty(t, jobs.callLog())
}

func TestCoordinator_LiveNeverCallsPrimary(t *testing.T) {
	primary := &fakePrimary{segments: []Segment{{Text: "should not be used"}}}
	jobs := newFakeJobs(script(&JobStatusResponse{Status: "done", Transcript: "live words"}))
	c := newTestCoordinator(primary, jobs)

	res, err := c.Transcribe(context.Background(), NewRegistry(jobs, zerolog.Nop()), liveRequest(), &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, 0, primary.calls)
	assert.Equal(t, SourceJob, res.Source)
	assert.Equal(t, "live words"+ProvenanceMarker, res.Text)
}

func TestCoordinator_FallsBackOnPrimaryFailure(t *testing.T) {
	tests := []struct {
		name     string
		segments []Segment
		err      error
	}{
		{"keys_exhausted", nil, ErrKeysExhausted},
		{"api_error", nil, &PrimaryAPIError{StatusCode: 500, Body: "oops"}},
		{"empty_array", []Segment{}, nil},
		{"blank_text", []Segment{{Text: " "}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &fakePrimary{segments: tt.segments, err: tt.err}
			jobs := newFakeJobs(script(&JobStatusResponse{Status: "done", Transcript: "from audio"}))
			c := newTestCoordinator(primary, jobs)

			req := regularRequest()
			req.Lang = "zh-CN"
			res, err := c.Transcribe(context.Background(), NewRegistry(jobs, zerolog.Nop()), req, &recordingSink{})
			require.NoError(t, err)
			assert.Equal(t, 1, primary.calls)
			assert.Equal(t, SourceJob, res.Source)
			require.Len(t, jobs.submitted, 1)
			assert.Equal(t, "zh-CN", jobs.submitted[0].Lang)
		})
	}
}

func TestCoordinator_TimeoutClearsAndNotifiesOnce(t *testing.T) {
	primary := &fakePrimary{err: ErrKeysExhausted}
	jobs := newFakeJobs(script(running("part"), running("partial")))
	c := newTestCoordinator(primary, jobs)
	sink := &recordingSink{}

	res, err := c.Transcribe(context.Background(), NewRegistry(jobs, zerolog.Nop()), regularRequest(), sink)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, sink.clears)
	require.Len(t, sink.notices, 1)
	assert.Equal(t, NoticeError, sink.notices[0].Level)
	assert.Equal(t, "Whisper transcription timed out.", sink.notices[0].Message)
	assert.Empty(t, sink.finals)
}

func TestCoordinator_InvalidURLTouchesNoBackend(t *testing.T) {
	primary := &fakePrimary{}
	jobs := newFakeJobs(script(running("")))
	c := newTestCoordinator(primary, jobs)
	sink := &recordingSink{}

	_, err := c.TranscribeURL(context.Background(), NewRegistry(jobs, zerolog.Nop()), "https://example.com/watch?v=nope", "en", "", false, sink)
	assert.ErrorIs(t, err, video.ErrInvalidReference)
	assert.Equal(t, 0, primary.calls)
	assert.Empty(t, jobs.callLog())
	require.Len(t, sink.notices, 1)
	assert.Equal(t, "Invalid YouTube URL.", sink.notices[0].Message)
}

func TestCoordinator_CancelledDuringPrimary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := &fakePrimary{err: context.Canceled}
	jobs := newFakeJobs(script(running("")))
	c := newTestCoordinator(primary, jobs)

	res, err := c.Transcribe(ctx, NewRegistry(jobs, zerolog.Nop()), regularRequest(), &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Empty(t, jobs.callLog())
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Whisper transcription timed out.", UserMessage(ErrTimeout))
	assert.Equal(t, "Invalid YouTube URL.", UserMessage(video.ErrInvalidReference))
	assert.Equal(t, "Whisper error: boom", UserMessage(&JobError{JobID: "j", Message: "boom"}))
	assert.Contains(t, UserMessage(&SubmissionError{Err: errors.New("503")}), "Whisper error: ")
}

func TestCoordinator_SupersededSubmitIsInformational(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	jobs := newFakeJobs(script(running("")))
	jobs.onSubmit = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}
	c := newTestCoordinator(&fakePrimary{}, jobs)
	sink := &recordingSink{}

	res, err := c.Transcribe(ctx, NewRegistry(jobs, zerolog.Nop()), liveRequest(), sink)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, 0, sink.clears)
	require.Len(t, sink.notices, 1)
	assert.Equal(t, NoticeInfo, sink.notices[0].Level)
	assert.Equal(t, "cancelled", sink.notices[0].Reason)
}

func TestCoordinator_PrimaryResultCancelsSupersededJob(t *testing.T) {
	// A live flow superseded after two polls leaves its job current.
	ctx, cancel := context.WithCancel(context.Background())
	jobs := newFakeJobs(func(n int) (*JobStatusResponse, error) {
		if n == 2 {
			cancel()
		}
		return running("partial"), nil
	})
	reg := NewRegistry(jobs, zerolog.Nop())
	c := newTestCoordinator(&fakePrimary{segments: []Segment{{Text: "hello"}}}, jobs)

	first, err := c.Transcribe(ctx, reg, liveRequest(), &recordingSink{})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, first.Status)
	require.Equal(t, "job-1", reg.Current())

	second, err := c.Transcribe(context.Background(), reg, regularRequest(), &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, "hello", second.Text)
	assert.Equal(t, "", reg.Current())
	select {
	case id := <-jobs.notified:
		assert.Equal(t, "job-1", id)
	case <-time.After(time.Second):
		t.Fatal("superseded job was never cancelled")
	}
}
