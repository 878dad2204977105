package playback

import (
	"fmt"
	"strings"
)

type LoopMode int

const (
	LoopOff LoopMode = iota
	LoopSong
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopSong:
		return "song"
	case LoopQueue:
		return "queue"
	default:
		return "off"
	}
}

// Next cycles off, song, queue, off.
func (m LoopMode) Next() LoopMode {
	switch m {
	case LoopOff:
		return LoopSong
	case LoopSong:
		return LoopQueue
	default:
		return LoopOff
	}
}

func ParseLoopMode(s string) (LoopMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "":
		return LoopOff, nil
	case "song", "track", "one":
		return LoopSong, nil
	case "queue", "all":
		return LoopQueue, nil
	default:
		return LoopOff, fmt.Errorf("unknown loop mode %q", s)
	}
}

func (m LoopMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *LoopMode) UnmarshalText(text []byte) error {
	parsed, err := ParseLoopMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
