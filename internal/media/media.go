package media

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrNoStream is returned when a reference resolves but carries no
// playable audio.
var ErrNoStream = errors.New("no playable audio stream")

// Metadata describes a reference. Duration is in whole seconds and is 0
// when unknown.
type Metadata struct {
	Title     string
	SourceID  string
	Duration  int
	Thumbnail string
}

// ContainerHint tells the transcoder whether the stream can be passed
// through without re-encoding.
type ContainerHint int

const (
	HintTranscode ContainerHint = iota
	HintOpus
)

func (h ContainerHint) String() string {
	switch h {
	case HintOpus:
		return "opus"
	default:
		return "transcode"
	}
}

// Source is a resolved, time-limited location for a track's audio.
type Source struct {
	URL  string
	Hint ContainerHint
}

type Resolver interface {
	ResolveMetadata(ctx context.Context, ref string) (Metadata, error)
	ResolveStream(ctx context.Context, ref string) (Source, error)
}

// SearchResult is a single hit from a free text search.
type SearchResult struct {
	URL      string
	Title    string
	Duration int
}

type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// ParseDuration reads a duration reported by an extractor. It accepts
// plain or fractional seconds ("302", "302.7") and clock notation
// ("5:02", "1:02:03"). Anything else, including negative values, is 0.
func ParseDuration(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}

	if strings.Contains(raw, ":") {
		total := 0
		for _, part := range strings.Split(raw, ":") {
			n, err := strconv.Atoi(part)
			if err != nil || n < 0 {
				return 0
			}
			total = total*60 + n
		}
		return total
	}

	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0
	}
	if seconds > math.MaxInt32 {
		return 0
	}
	return int(seconds)
}
