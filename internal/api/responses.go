package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// maxBodyBytes caps JSON request bodies. Transcript requests are a URL and
// two short strings.
const maxBodyBytes = 64 << 10

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// Pagination is a limit/offset window over a listing.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// ParsePagination reads ?limit= and ?offset=. Limits above maxLimit are
// clamped; malformed or negative values are an error.
func ParsePagination(r *http.Request) (Pagination, error) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit", defaultLimit, 1)
	if err != nil {
		return Pagination{}, err
	}
	offset, err := intParam(q.Get("offset"), "offset", 0, 0)
	if err != nil {
		return Pagination{}, err
	}
	return Pagination{Limit: min(limit, maxLimit), Offset: offset}, nil
}

func intParam(raw, name string, def, lowest int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer", name, raw)
	}
	if n < lowest {
		return 0, fmt.Errorf("%s must be at least %d", name, lowest)
	}
	return n, nil
}

var errNoBody = errors.New("request body is empty")

// DecodeJSON decodes a size-capped request body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errNoBody
	}
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}
