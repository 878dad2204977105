package playback

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/glizzus/alfira/internal/media"
	"github.com/glizzus/alfira/internal/voice"
)

// Deps are shared by every engine a Registry creates.
type Deps struct {
	Resolver   media.Resolver
	Transcoder Transcoder

	// NewPlayer builds the audio player for a fresh connection.
	NewPlayer func(conn voice.Connection) AudioPlayer

	Options Options
}

// Registry holds at most one live Engine per guild.
type Registry struct {
	deps        Deps
	broadcaster atomic.Pointer[Broadcaster]

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		deps:    deps,
		engines: make(map[string]*Engine),
	}
	r.SetBroadcaster(nopBroadcaster)
	return r
}

// SetBroadcaster replaces the snapshot sink for all engines, including
// those already running.
func (r *Registry) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = nopBroadcaster
	}
	r.broadcaster.Store(&b)
}

func (r *Registry) publish(s State) {
	(*r.broadcaster.Load())(s)
}

// GetOrCreate returns the guild's engine, creating it on conn if there is
// none. A live engine is never replaced, so conn is ignored in that case.
func (r *Registry) GetOrCreate(guildID string, conn voice.Connection, notifier Notifier) (*Engine, error) {
	r.mu.Lock()
	if e, ok := r.engines[guildID]; ok && !e.Closed() {
		r.mu.Unlock()
		return e, nil
	}
	if conn == nil || conn.State() == voice.StateDestroyed {
		r.mu.Unlock()
		return nil, ErrNoConnection
	}

	player := r.deps.NewPlayer(conn)
	e := newEngine(guildID, conn, player, r.deps, notifier, r.publish)
	r.engines[guildID] = e
	r.mu.Unlock()

	// Outside the lock: a connection that is already gone deregisters
	// synchronously.
	Supervise(e, conn, r.deps.Options.ReconnectWindow, func() {
		r.removeIf(guildID, e)
	})

	slog.Info("created playback engine", "guildID", guildID)
	return e, nil
}

func (r *Registry) Get(guildID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[guildID]
	return e, ok
}

func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, guildID)
}

// removeIf deletes the guild's entry only if it still points at e.
func (r *Registry) removeIf(guildID string, e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engines[guildID] == e {
		delete(r.engines, guildID)
	}
}

// Guilds lists the guilds with an engine, sorted.
func (r *Registry) Guilds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	guilds := make([]string, 0, len(r.engines))
	for id := range r.engines {
		guilds = append(guilds, id)
	}
	slices.Sort(guilds)
	return guilds
}

// StopAll stops every engine. Used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	for _, e := range engines {
		e.Stop()
	}
}
