package keyring

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/quam/quam-engine/internal/transcript"
)

// Source hands out snapshots of the primary API key pool.
type Source interface {
	Keys() transcript.KeyPool
	Len() int
}

// Static is a fixed pool loaded once at startup.
type Static struct {
	keys transcript.KeyPool
}

// NewStatic dedupes keys and drops blanks, preserving order.
func NewStatic(keys []string) Static {
	return Static{keys: normalize(keys)}
}

// Keys returns a copy of the pool.
func (s Static) Keys() transcript.KeyPool {
	return append(transcript.KeyPool(nil), s.keys...)
}

func (s Static) Len() int { return len(s.keys) }

// Chain concatenates several sources. Duplicates across sources keep their
// first position.
type Chain []Source

func (c Chain) Keys() transcript.KeyPool {
	var all []string
	for _, s := range c {
		all = append(all, s.Keys()...)
	}
	return normalize(all)
}

func (c Chain) Len() int { return len(c.Keys()) }

// ParseKeys reads one key per line. Blank lines and lines starting with '#'
// are skipped; a line may also hold several comma-separated keys.
func ParseKeys(r io.Reader) ([]string, error) {
	var keys []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, k := range strings.Split(line, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}
	return normalize(keys), nil
}

// LoadFile parses the key file at path.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()
	return ParseKeys(f)
}

func normalize(keys []string) transcript.KeyPool {
	seen := make(map[string]struct{}, len(keys))
	out := make(transcript.KeyPool, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
