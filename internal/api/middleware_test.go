package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// serve runs req through h and returns the recorded response.
func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func fromAddr(method, target, addr string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = addr
	return req
}

func TestRequestID(t *testing.T) {
	rec := serve(RequestID(okHandler), httptest.NewRequest("GET", "/", nil))
	if id := rec.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated id %q is not a UUID", id)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "upstream-7")
	if id := serve(RequestID(okHandler), req).Header().Get("X-Request-ID"); id != "upstream-7" {
		t.Errorf("id = %q, want upstream id preserved", id)
	}
}

func TestCORS(t *testing.T) {
	rec := serve(CORS(okHandler), httptest.NewRequest("GET", "/", nil))
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" || rec.Code != http.StatusOK {
		t.Errorf("GET: code %d, allow-origin %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID") {
		t.Error("Last-Event-ID not allowed; EventSource reconnects would fail preflight")
	}

	reached := false
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true })
	rec = serve(CORS(inner), httptest.NewRequest("OPTIONS", "/", nil))
	if rec.Code != http.StatusNoContent || reached {
		t.Errorf("preflight: code %d, inner reached %v", rec.Code, reached)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("burst_then_429", func(t *testing.T) {
		h := RateLimiter(1, 2, ClientIP)(okHandler)
		want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
		for i, code := range want {
			rec := serve(h, fromAddr("POST", "/", "5.6.7.8:1234"))
			if rec.Code != code {
				t.Fatalf("request %d: code %d, want %d", i, rec.Code, code)
			}
			if code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "1" {
				t.Error("429 without Retry-After")
			}
		}
	})

	t.Run("clients_independent", func(t *testing.T) {
		h := RateLimiter(1, 1, ClientIP)(okHandler)
		serve(h, fromAddr("POST", "/", "10.0.0.1:1"))
		if code := serve(h, fromAddr("POST", "/", "10.0.0.1:2")).Code; code != http.StatusTooManyRequests {
			t.Errorf("same host, new port: code %d, want 429", code)
		}
		if code := serve(h, fromAddr("POST", "/", "10.0.0.2:1")).Code; code != http.StatusOK {
			t.Errorf("other host: code %d, want 200", code)
		}
	})

	t.Run("zero_rps_disables", func(t *testing.T) {
		h := RateLimiter(0, 0, ClientIP)(okHandler)
		for i := range 10 {
			if code := serve(h, httptest.NewRequest("POST", "/", nil)).Code; code != http.StatusOK {
				t.Fatalf("request %d: code %d", i, code)
			}
		}
	})

	t.Run("sessions_independent", func(t *testing.T) {
		r := chi.NewRouter()
		r.With(RateLimiter(1, 1, SessionKey)).Post("/sessions/{session}", okHandler)
		post := func(session string) int {
			return serve(r, fromAddr("POST", "/sessions/"+session, "10.0.0.9:1234")).Code
		}
		if post("a") != http.StatusOK || post("a") != http.StatusTooManyRequests {
			t.Error("session a: expected 200 then 429")
		}
		if code := post("b"); code != http.StatusOK {
			t.Errorf("session b shares a's bucket: code %d", code)
		}
	})
}

func TestSessionKey(t *testing.T) {
	req := fromAddr("GET", "/", "192.0.2.4:5555")
	if got := SessionKey(req); got != "192.0.2.4" {
		t.Errorf("no session param: key %q, want client IP", got)
	}

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("session", "tab-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	if got := SessionKey(req); got != "session:tab-1" {
		t.Errorf("key %q, want session:tab-1", got)
	}
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		target string
		header string
		want   int
	}{
		{"auth_disabled", "", "/", "", http.StatusOK},
		{"header_ok", "s3cret", "/", "Bearer s3cret", http.StatusOK},
		{"header_wrong", "s3cret", "/", "Bearer nope", http.StatusUnauthorized},
		{"missing", "s3cret", "/", "", http.StatusUnauthorized},
		{"query_ok", "s3cret", "/events?token=s3cret", "", http.StatusOK},
		{"query_wrong", "s3cret", "/events?token=nope", "", http.StatusUnauthorized},
		{"basic_scheme", "s3cret", "/", "Basic czNjcmV0", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if code := serve(BearerAuth(tt.token)(okHandler), req).Code; code != tt.want {
				t.Errorf("code %d, want %d", code, tt.want)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	if code := serve(Recoverer(okHandler), httptest.NewRequest("GET", "/", nil)).Code; code != http.StatusOK {
		t.Errorf("no panic: code %d", code)
	}

	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("flow exploded") })
	rec := serve(Recoverer(boom), httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("panic: code %d, content-type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error != "internal server error" {
		t.Errorf("body %q (%v)", rec.Body.String(), err)
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query   string
		want    Pagination
		wantErr bool
	}{
		{"", Pagination{Limit: 50}, false},
		{"limit=10&offset=20", Pagination{Limit: 10, Offset: 20}, false},
		{"limit=9000", Pagination{Limit: maxLimit}, false},
		{"limit=0", Pagination{}, true},
		{"limit=ten", Pagination{}, true},
		{"offset=-1", Pagination{}, true},
	}
	for _, tt := range tests {
		got, err := ParsePagination(httptest.NewRequest("GET", "/?"+tt.query, nil))
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v, wantErr %v", tt.query, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("%q: got %+v, want %+v", tt.query, got, tt.want)
		}
	}
}
