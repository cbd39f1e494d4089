package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/quam/quam-engine/internal/transcript"
	"github.com/rs/zerolog"
)

// writerSink streams transcript text to out as it arrives. Status updates go
// to the logger so out carries only the transcript.
type writerSink struct {
	mu      sync.Mutex
	out     io.Writer
	log     zerolog.Logger
	written bool
}

func newWriterSink(out io.Writer, log zerolog.Logger) *writerSink {
	return &writerSink{out: out, log: log}
}

func (s *writerSink) Loading(on bool) {}

func (s *writerSink) Append(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, delta)
	s.written = true
}

func (s *writerSink) Final(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, text)
	s.written = true
}

func (s *writerSink) Progress(msg string) {
	s.log.Info().Msg(msg)
}

// Clear cannot retract printed text, so it only ends the line.
func (s *writerSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written {
		fmt.Fprintln(s.out)
		s.written = false
	}
}

func (s *writerSink) Notify(n transcript.Notice) {
	if n.Level == transcript.NoticeError {
		s.log.Error().Str("reason", n.Reason).Msg(n.Message)
		return
	}
	s.log.Info().Str("reason", n.Reason).Msg(n.Message)
}

// finish terminates the transcript with a newline.
func (s *writerSink) finish() {
	s.Clear()
}
