package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrSendTimeout means the transport stopped accepting packets.
	ErrSendTimeout = errors.New("voice connection send timeout")

	// ErrNotPlaying is returned by WaitPlaying when the run ended before
	// a single packet reached the transport.
	ErrNotPlaying = errors.New("playback ended before it started")
)

// PacketSource yields Opus packets until io.EOF.
type PacketSource interface {
	ReadPacket() ([]byte, error)
}

// Sender is the part of a Connection the player writes to.
type Sender interface {
	OpusSend() chan<- []byte
	Speaking(speaking bool) error
}

// IdleFunc is called once per run when it stops on its own, fails, or
// is stopped without suppression. err is nil for a normal end.
type IdleFunc func(gen uint64, err error)

// Player pumps one packet source at a time into a Sender. Every call to
// Play starts a new run identified by a generation number.
type Player struct {
	sender      Sender
	sendTimeout time.Duration

	mu     sync.Mutex
	gen    uint64
	active *run
	last   *run
	onIdle IdleFunc
}

type run struct {
	gen uint64
	src PacketSource

	stop     chan struct{}
	stopOnce sync.Once
	suppress bool

	playing     chan struct{}
	playingOnce sync.Once
	done        chan struct{}

	// guarded by Player.mu
	paused bool
	resume chan struct{}
}

func NewPlayer(sender Sender, sendTimeout time.Duration) *Player {
	return &Player{sender: sender, sendTimeout: sendTimeout}
}

func (p *Player) OnIdle(fn IdleFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onIdle = fn
}

// Play starts pumping src and returns the run's generation. A run that is
// still active is stopped without an idle signal.
func (p *Player) Play(src PacketSource) uint64 {
	p.mu.Lock()
	if p.active != nil {
		p.stopLocked(p.active, true)
	}
	p.gen++
	r := &run{
		gen:     p.gen,
		src:     src,
		stop:    make(chan struct{}),
		playing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.active = r
	p.last = r
	p.mu.Unlock()

	go p.pump(r)
	return r.gen
}

// Stop ends the active run. With suppressIdle the idle callback is not
// called for it. Stop reports whether there was an active run.
func (p *Player) Stop(suppressIdle bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return false
	}
	p.stopLocked(p.active, suppressIdle)
	return true
}

func (p *Player) stopLocked(r *run, suppress bool) {
	if suppress {
		r.suppress = true
	}
	if r.paused {
		r.paused = false
		close(r.resume)
	}
	r.stopOnce.Do(func() { close(r.stop) })
}

// WaitPlaying blocks until run gen has delivered its first packet to the
// transport.
func (p *Player) WaitPlaying(ctx context.Context, gen uint64) error {
	p.mu.Lock()
	r := p.last
	p.mu.Unlock()
	if r == nil || r.gen != gen {
		return ErrNotPlaying
	}

	select {
	case <-r.playing:
		return nil
	case <-r.done:
		select {
		case <-r.playing:
			return nil
		default:
			return ErrNotPlaying
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Player) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.active
	if r == nil || r.paused {
		return false
	}
	r.paused = true
	r.resume = make(chan struct{})
	return true
}

func (p *Player) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.active
	if r == nil || !r.paused {
		return false
	}
	r.paused = false
	close(r.resume)
	return true
}

// pauseGate returns a channel to wait on while r is paused, or nil.
func (p *Player) pauseGate(r *run) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !r.paused {
		return nil
	}
	return r.resume
}

type readResult struct {
	packet []byte
	err    error
}

func (p *Player) pump(r *run) {
	defer close(r.done)

	// ReadPacket can block for as long as the source stalls, so it runs
	// apart from the stop signal.
	packets := make(chan readResult)
	go func() {
		for {
			packet, err := r.src.ReadPacket()
			select {
			case packets <- readResult{packet, err}:
			case <-r.stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	speaking := false
	timer := time.NewTimer(p.sendTimeout)
	defer timer.Stop()

	for {
		if gate := p.pauseGate(r); gate != nil {
			if speaking {
				p.setSpeaking(false)
				speaking = false
			}
			select {
			case <-gate:
			case <-r.stop:
				p.finish(r, nil)
				return
			}
		}

		var res readResult
		select {
		case res = <-packets:
		case <-r.stop:
			p.finish(r, nil)
			return
		}
		if res.err != nil {
			if errors.Is(res.err, io.EOF) || errors.Is(res.err, io.ErrUnexpectedEOF) {
				p.finish(r, nil)
			} else {
				p.finish(r, res.err)
			}
			return
		}

		if !speaking {
			p.setSpeaking(true)
			speaking = true
		}

		timer.Reset(p.sendTimeout)
		select {
		case p.sender.OpusSend() <- res.packet:
			timer.Stop()
			r.playingOnce.Do(func() { close(r.playing) })
		case <-r.stop:
			p.finish(r, nil)
			return
		case <-timer.C:
			p.finish(r, ErrSendTimeout)
			return
		}
	}
}

func (p *Player) setSpeaking(speaking bool) {
	if err := p.sender.Speaking(speaking); err != nil {
		slog.Warn("failed to set speaking state", "speaking", speaking, "error", err)
	}
}

func (p *Player) finish(r *run, err error) {
	p.mu.Lock()
	wasActive := p.active == r
	if wasActive {
		p.active = nil
	}
	suppress := r.suppress
	onIdle := p.onIdle
	p.mu.Unlock()

	if wasActive {
		p.setSpeaking(false)
	}
	if suppress || onIdle == nil {
		return
	}
	onIdle(r.gen, err)
}
