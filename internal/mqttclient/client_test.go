package mqttclient

import "testing"

func TestSessionFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    string
		matches bool
	}{
		{"quam/abc/teardown", "abc", true},
		{"quam/abc/def/teardown", "", false},
		{"quam//teardown", "", false},
		{"other/abc/teardown", "", false},
		{"quam/abc/final", "", false},
	}
	for _, tt := range tests {
		got, ok := SessionFromTopic("quam/", tt.topic, "teardown")
		if ok != tt.matches || got != tt.want {
			t.Errorf("SessionFromTopic(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.matches)
		}
	}
}

func TestConnectRequiresBroker(t *testing.T) {
	if _, err := Connect(Options{ClientID: "quam-test"}); err == nil {
		t.Error("Connect with empty broker URL succeeded")
	}
}
