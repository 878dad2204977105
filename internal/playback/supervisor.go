package playback

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glizzus/alfira/internal/voice"
)

type supervisor struct {
	engine *Engine
	conn   voice.Connection
	window time.Duration

	recovering atomic.Bool
	removeOnce sync.Once
	registered chan struct{}
	remove     func()
	deregister func()
}

// Supervise watches conn for the lifetime of e. A disconnect gets window
// to start renegotiating before the connection is destroyed; a destroy
// that Stop did not ask for resets the engine. Either way deregister runs
// exactly once after the connection is destroyed.
func Supervise(e *Engine, conn voice.Connection, window time.Duration, deregister func()) {
	s := &supervisor{
		engine:     e,
		conn:       conn,
		window:     window,
		deregister: deregister,
		registered: make(chan struct{}),
	}
	s.remove = conn.OnStateChange(s.onStateChange)
	close(s.registered)

	// The connection may have died before the listener was attached.
	switch conn.State() {
	case voice.StateDisconnected:
		s.onStateChange(voice.StateReady, voice.StateDisconnected)
	case voice.StateDestroyed:
		s.onStateChange(voice.StateReady, voice.StateDestroyed)
	}
}

func (s *supervisor) onStateChange(from, to voice.ConnState) {
	switch to {
	case voice.StateDisconnected:
		if !s.recovering.CompareAndSwap(false, true) {
			return
		}
		go s.awaitReconnect()
	case voice.StateDestroyed:
		s.onDestroyed()
	}
}

func resuming(state voice.ConnState) bool {
	return state == voice.StateSignalling || state == voice.StateConnecting || state == voice.StateReady
}

// awaitReconnect runs until the connection is no longer disconnected. A
// disconnect that lands while a recovery is finishing is picked up by the
// re-check instead of being dropped by the reentrancy guard.
func (s *supervisor) awaitReconnect() {
	for {
		s.waitForRenegotiation()
		s.recovering.Store(false)
		if s.conn.State() != voice.StateDisconnected || !s.recovering.CompareAndSwap(false, true) {
			return
		}
	}
}

func (s *supervisor) waitForRenegotiation() {
	resumed := make(chan struct{})
	var once sync.Once
	remove := s.conn.OnStateChange(func(_, to voice.ConnState) {
		if resuming(to) {
			once.Do(func() { close(resumed) })
		}
	})
	defer remove()

	if resuming(s.conn.State()) {
		return
	}

	timer := time.NewTimer(s.window)
	defer timer.Stop()

	select {
	case <-resumed:
		slog.Info("voice connection is reconnecting", "guildID", s.engine.GuildID())
		return
	case <-timer.C:
	}

	if s.conn.State() == voice.StateDestroyed {
		return
	}
	slog.Warn("voice connection did not recover, destroying it", "guildID", s.engine.GuildID(), "window", s.window)
	if err := s.conn.Destroy(); err != nil {
		slog.Warn("failed to destroy voice connection", "guildID", s.engine.GuildID(), "error", err)
	}
}

func (s *supervisor) onDestroyed() {
	if s.engine.handleTransportLost() {
		slog.Warn("voice connection lost", "guildID", s.engine.GuildID())
	}
	s.removeOnce.Do(func() {
		<-s.registered
		s.remove()
		s.deregister()
	})
}
