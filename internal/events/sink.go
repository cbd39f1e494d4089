package events

import "github.com/quam/quam-engine/internal/transcript"

// Sink publishes a transcript flow's presentation updates as session events.
type Sink struct {
	bus       *Bus
	session   string
	requestID string
}

// Sink returns a transcript.Sink bound to one session and request.
func (b *Bus) Sink(session, requestID string) *Sink {
	return &Sink{bus: b, session: session, requestID: requestID}
}

var _ transcript.Sink = (*Sink)(nil)

type textPayload struct {
	Text string `json:"text"`
}

func (s *Sink) Loading(on bool) {
	s.bus.Publish(s.session, s.requestID, TypeLoading, struct {
		On bool `json:"on"`
	}{on})
}

func (s *Sink) Append(delta string) {
	s.bus.Publish(s.session, s.requestID, TypeAppend, textPayload{Text: delta})
}

func (s *Sink) Final(text string) {
	s.bus.Publish(s.session, s.requestID, TypeFinal, textPayload{Text: text})
}

func (s *Sink) Progress(msg string) {
	s.bus.Publish(s.session, s.requestID, TypeProgress, struct {
		Message string `json:"message"`
	}{msg})
}

func (s *Sink) Clear() {
	s.bus.Publish(s.session, s.requestID, TypeClear, struct{}{})
}

func (s *Sink) Notify(n transcript.Notice) {
	s.bus.Publish(s.session, s.requestID, TypeNotice, n)
}

// Result publishes the terminal outcome of the flow.
func (s *Sink) Result(res *transcript.Result) {
	s.bus.Publish(s.session, s.requestID, TypeResult, res)
}
