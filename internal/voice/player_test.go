package voice_test

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/glizzus/alfira/internal/voice"
)

type fakeSender struct {
	ch chan []byte

	mu       sync.Mutex
	speaking []bool
}

func newFakeSender(buffer int) *fakeSender {
	return &fakeSender{ch: make(chan []byte, buffer)}
}

func (f *fakeSender) OpusSend() chan<- []byte { return f.ch }

func (f *fakeSender) Speaking(speaking bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speaking = append(f.speaking, speaking)
	return nil
}

// sliceSource yields its packets then io.EOF.
type sliceSource struct {
	mu      sync.Mutex
	packets [][]byte
	err     error
}

func (s *sliceSource) ReadPacket() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packets) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	p := s.packets[0]
	s.packets = s.packets[1:]
	return p, nil
}

// stallSource never yields.
type stallSource struct {
	release chan struct{}
}

func (s *stallSource) ReadPacket() ([]byte, error) {
	<-s.release
	return nil, io.EOF
}

type idleEvent struct {
	gen uint64
	err error
}

func recordIdle(p *voice.Player) chan idleEvent {
	events := make(chan idleEvent, 8)
	p.OnIdle(func(gen uint64, err error) {
		events <- idleEvent{gen, err}
	})
	return events
}

func waitIdle(t *testing.T, events chan idleEvent) idleEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for idle")
		return idleEvent{}
	}
}

func expectNoIdle(t *testing.T, events chan idleEvent) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected idle event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPlayerPlaysToEnd(t *testing.T) {
	sender := newFakeSender(8)
	player := voice.NewPlayer(sender, time.Second)
	events := recordIdle(player)

	gen := player.Play(&sliceSource{packets: [][]byte{{1}, {2}, {3}}})
	if err := player.WaitPlaying(t.Context(), gen); err != nil {
		t.Fatalf("WaitPlaying returned error: %v", err)
	}

	ev := waitIdle(t, events)
	if ev.gen != gen || ev.err != nil {
		t.Errorf("idle = %+v; want gen %d with no error", ev, gen)
	}
	if len(sender.ch) != 3 {
		t.Errorf("expected 3 packets sent, got %d", len(sender.ch))
	}
}

func TestPlayerReportsSourceError(t *testing.T) {
	boom := errors.New("demux failed")
	player := voice.NewPlayer(newFakeSender(8), time.Second)
	events := recordIdle(player)

	gen := player.Play(&sliceSource{packets: [][]byte{{1}}, err: boom})

	ev := waitIdle(t, events)
	if ev.gen != gen || !errors.Is(ev.err, boom) {
		t.Errorf("idle = %+v; want gen %d with %v", ev, gen, boom)
	}
}

func TestPlayerSendTimeout(t *testing.T) {
	// Unbuffered and never drained.
	player := voice.NewPlayer(newFakeSender(0), 20*time.Millisecond)
	events := recordIdle(player)

	player.Play(&sliceSource{packets: [][]byte{{1}}})

	ev := waitIdle(t, events)
	if !errors.Is(ev.err, voice.ErrSendTimeout) {
		t.Errorf("expected ErrSendTimeout, got %v", ev.err)
	}
}

func TestPlayerStop(t *testing.T) {
	t.Run("stop fires idle", func(t *testing.T) {
		player := voice.NewPlayer(newFakeSender(8), time.Second)
		events := recordIdle(player)

		src := &stallSource{release: make(chan struct{})}
		defer close(src.release)
		gen := player.Play(src)

		if !player.Stop(false) {
			t.Fatal("expected Stop to report an active run")
		}
		ev := waitIdle(t, events)
		if ev.gen != gen || ev.err != nil {
			t.Errorf("idle = %+v; want gen %d with no error", ev, gen)
		}
	})

	t.Run("suppressed stop is silent", func(t *testing.T) {
		player := voice.NewPlayer(newFakeSender(8), time.Second)
		events := recordIdle(player)

		src := &stallSource{release: make(chan struct{})}
		defer close(src.release)
		player.Play(src)

		player.Stop(true)
		expectNoIdle(t, events)
	})

	t.Run("stop without a run", func(t *testing.T) {
		player := voice.NewPlayer(newFakeSender(8), time.Second)
		if player.Stop(false) {
			t.Error("expected Stop to report no active run")
		}
	})
}

func TestPlayerPlayReplacesSilently(t *testing.T) {
	player := voice.NewPlayer(newFakeSender(8), time.Second)
	events := recordIdle(player)

	stalled := &stallSource{release: make(chan struct{})}
	defer close(stalled.release)
	first := player.Play(stalled)
	second := player.Play(&sliceSource{packets: [][]byte{{1}}})

	if second <= first {
		t.Fatalf("expected generation to grow, got %d then %d", first, second)
	}
	ev := waitIdle(t, events)
	if ev.gen != second {
		t.Errorf("idle gen = %d; want %d", ev.gen, second)
	}
	expectNoIdle(t, events)
}

func TestPlayerWaitPlaying(t *testing.T) {
	t.Run("empty source never plays", func(t *testing.T) {
		player := voice.NewPlayer(newFakeSender(8), time.Second)
		gen := player.Play(&sliceSource{})
		if err := player.WaitPlaying(t.Context(), gen); !errors.Is(err, voice.ErrNotPlaying) {
			t.Errorf("expected ErrNotPlaying, got %v", err)
		}
	})

	t.Run("stale generation", func(t *testing.T) {
		player := voice.NewPlayer(newFakeSender(8), time.Second)
		if err := player.WaitPlaying(t.Context(), 42); !errors.Is(err, voice.ErrNotPlaying) {
			t.Errorf("expected ErrNotPlaying, got %v", err)
		}
	})
}

func TestPlayerPauseResume(t *testing.T) {
	sender := newFakeSender(0)
	player := voice.NewPlayer(sender, time.Second)
	events := recordIdle(player)

	player.Play(&sliceSource{packets: [][]byte{{1}, {2}, {3}}})
	<-sender.ch

	if !player.Pause() {
		t.Fatal("expected Pause to succeed")
	}
	if player.Pause() {
		t.Error("expected a second Pause to fail")
	}

	// One packet may already be in flight when the pause lands.
	select {
	case <-sender.ch:
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case p := <-sender.ch:
		t.Fatalf("received packet %v while paused", p)
	case <-time.After(50 * time.Millisecond):
	}

	if !player.Resume() {
		t.Fatal("expected Resume to succeed")
	}
	go func() {
		for range sender.ch {
		}
	}()

	ev := waitIdle(t, events)
	if ev.err != nil {
		t.Errorf("expected clean end after resume, got %v", ev.err)
	}
}
