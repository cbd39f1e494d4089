package transcript

// NoticeLevel separates failures from informational outcomes.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a user-visible notification.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	Reason  string      `json:"reason,omitempty"`
}

// Sink receives presentation updates for one request. Implementations must
// not block for long: calls happen on the orchestration goroutine.
type Sink interface {
	Loading(on bool)
	Append(delta string)
	Final(text string)
	Progress(msg string)
	Clear()
	Notify(n Notice)
}

// NopSink discards all updates.
type NopSink struct{}

func (NopSink) Loading(bool)    {}
func (NopSink) Append(string)   {}
func (NopSink) Final(string)    {}
func (NopSink) Progress(string) {}
func (NopSink) Clear()          {}
func (NopSink) Notify(Notice)   {}

// MultiSink fans updates out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Loading(on bool) {
	for _, s := range m {
		s.Loading(on)
	}
}

func (m MultiSink) Append(delta string) {
	for _, s := range m {
		s.Append(delta)
	}
}

func (m MultiSink) Final(text string) {
	for _, s := range m {
		s.Final(text)
	}
}

func (m MultiSink) Progress(msg string) {
	for _, s := range m {
		s.Progress(msg)
	}
}

func (m MultiSink) Clear() {
	for _, s := range m {
		s.Clear()
	}
}

func (m MultiSink) Notify(n Notice) {
	for _, s := range m {
		s.Notify(n)
	}
}
