package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/glizzus/alfira/internal/config"
	"github.com/glizzus/alfira/internal/media"
	"github.com/glizzus/alfira/internal/opus"
	"github.com/glizzus/alfira/internal/voice"
)

var (
	// ErrNoConnection is returned when an engine is requested without a
	// live voice connection.
	ErrNoConnection = errors.New("no voice connection")

	// ErrEngineClosed is returned by mutations on a stopped engine.
	ErrEngineClosed = errors.New("playback engine is closed")

	// ErrOutOfRange is returned by Jump for a position outside the queue.
	ErrOutOfRange = errors.New("queue position out of range")

	// ErrInvariant marks a queue state that should be impossible.
	ErrInvariant = errors.New("playback invariant violated")

	errSuperseded = errors.New("advance superseded")
)

// Transcoder starts a packet stream for a resolved source.
type Transcoder interface {
	Start(ctx context.Context, src media.Source) (opus.Stream, error)
}

// AudioPlayer plays one packet source at a time and reports when a run
// goes idle. *voice.Player implements it.
type AudioPlayer interface {
	Play(src voice.PacketSource) uint64
	Stop(suppressIdle bool) bool
	WaitPlaying(ctx context.Context, gen uint64) error
	Pause() bool
	Resume() bool
	OnIdle(fn voice.IdleFunc)
}

var _ AudioPlayer = (*voice.Player)(nil)

type Options struct {
	ResolveRetries    int
	ResolveRetryDelay time.Duration
	StartTimeout      time.Duration

	// MaxSkipStreak caps how many tracks in a row may fail to start
	// before the engine goes idle and waits for the next command.
	MaxSkipStreak int

	// ReconnectWindow is how long a disconnected transport gets to start
	// renegotiating before it is destroyed.
	ReconnectWindow time.Duration
}

func OptionsFromConfig(cfg *config.PlaybackConfig) Options {
	return Options{
		ResolveRetries:    cfg.ResolveRetries,
		ResolveRetryDelay: cfg.ResolveRetryDelay,
		StartTimeout:      cfg.StartTimeout,
		MaxSkipStreak:     cfg.MaxSkipStreak,
		ReconnectWindow:   cfg.ReconnectWindow,
	}
}

// intent records why the current track is about to end. It is read and
// cleared in one step by the track end handler.
type intent int

const (
	intentNone intent = iota
	intentSkip
	intentStop
)

type trackEnd struct {
	err error
}

// Engine is the playback state machine for one guild.
type Engine struct {
	guildID    string
	conn       voice.Connection
	player     AudioPlayer
	resolver   media.Resolver
	transcoder Transcoder
	notifier   Notifier
	opts       Options
	publish    func(State)

	// advanceMu serializes track advances.
	advanceMu sync.Mutex
	// broadcastMu keeps snapshots delivered in the order they were taken.
	broadcastMu sync.Mutex

	mu            sync.Mutex
	queue         []QueuedTrack
	current       *QueuedTrack
	loop          LoopMode
	intent        intent
	paused        bool
	startedAt     time.Time
	stream        opus.Stream
	playGen       uint64
	starting      bool
	earlyEnd      *trackEnd
	epoch         uint64
	cancelAdvance context.CancelFunc
	closed        bool
	textChannelID string
}

func newEngine(guildID string, conn voice.Connection, player AudioPlayer, deps Deps, notifier Notifier, publish func(State)) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	e := &Engine{
		guildID:    guildID,
		conn:       conn,
		player:     player,
		resolver:   deps.Resolver,
		transcoder: deps.Transcoder,
		notifier:   notifier,
		opts:       deps.Options,
		publish:    publish,
	}
	if e.opts.MaxSkipStreak < 1 {
		e.opts.MaxSkipStreak = 1
	}
	player.OnIdle(e.onTrackEnd)
	return e
}

func (e *Engine) GuildID() string {
	return e.guildID
}

// Enqueue appends tracks to the queue. An idle engine starts playing the
// head and returns once it has settled; otherwise the new queue is
// broadcast once.
func (e *Engine) Enqueue(tracks ...QueuedTrack) error {
	if len(tracks) == 0 {
		return nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if err := checkQueueIDs(e.heldLocked(), tracks); err != nil {
		e.mu.Unlock()
		return err
	}
	e.queue = append(e.queue, tracks...)
	e.textChannelID = tracks[len(tracks)-1].TextChannelID
	idle := e.current == nil
	e.mu.Unlock()

	if idle {
		e.playNext()
	} else {
		e.broadcast()
	}
	return nil
}

// checkQueueIDs rejects entries without a QueueID or whose QueueID is
// already held by the engine or repeated within tracks.
func checkQueueIDs(held []QueuedTrack, tracks []QueuedTrack) error {
	seen := make(map[string]struct{}, len(held)+len(tracks))
	for _, qt := range held {
		seen[qt.QueueID] = struct{}{}
	}
	for _, qt := range tracks {
		if qt.QueueID == "" {
			return fmt.Errorf("%w: track %q has no queue id", ErrInvariant, qt.Title)
		}
		if _, ok := seen[qt.QueueID]; ok {
			return fmt.Errorf("%w: queue id %s is already queued", ErrInvariant, qt.QueueID)
		}
		seen[qt.QueueID] = struct{}{}
	}
	return nil
}

func (e *Engine) heldLocked() []QueuedTrack {
	if e.current == nil {
		return e.queue
	}
	return append(slices.Clone(e.queue), *e.current)
}

// ReplaceAndPlay drops the queue and whatever is playing, without the
// usual track end handling, and starts tracks from the head.
func (e *Engine) ReplaceAndPlay(tracks []QueuedTrack) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if err := checkQueueIDs(nil, tracks); err != nil {
		e.mu.Unlock()
		return err
	}
	cancel, stream := e.resetLocked()
	e.queue = slices.Clone(tracks)
	if len(tracks) > 0 {
		e.textChannelID = tracks[0].TextChannelID
	}
	e.mu.Unlock()

	e.release(cancel, stream)
	e.playNext()
	return nil
}

// Jump plays the queue entry at index, dropping everything before it, and
// returns the entry it jumped to.
func (e *Engine) Jump(index int) (QueuedTrack, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return QueuedTrack{}, ErrEngineClosed
	}
	if index < 0 || index >= len(e.queue) {
		n := len(e.queue)
		e.mu.Unlock()
		return QueuedTrack{}, fmt.Errorf("position %d of %d: %w", index+1, n, ErrOutOfRange)
	}
	target := e.queue[index]
	tracks := slices.Clone(e.queue[index:])
	cancel, stream := e.resetLocked()
	e.queue = tracks
	e.textChannelID = target.TextChannelID
	e.mu.Unlock()

	e.release(cancel, stream)
	e.playNext()
	return target, nil
}

// Skip ends the current track. It reports false when nothing is current.
func (e *Engine) Skip() bool {
	e.mu.Lock()
	if e.closed || e.current == nil {
		e.mu.Unlock()
		return false
	}

	if e.playGen != 0 && !e.starting {
		e.intent = intentSkip
		e.mu.Unlock()
		// The player's idle signal consumes the intent and advances.
		e.player.Stop(false)
		return true
	}

	// Still resolving: supersede the advance and move on directly.
	skipped := *e.current
	cancel, stream := e.resetLocked()
	if e.loop == LoopQueue {
		e.queue = append(e.queue, skipped)
	}
	e.mu.Unlock()

	slog.Info("skipped track before it started", "guildID", e.guildID, "title", skipped.Title)
	e.release(cancel, stream)
	e.playNext()
	return true
}

// Stop clears the engine and destroys the voice connection. The engine
// cannot be used afterwards. Calling Stop again is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	alreadyClosed := e.closed
	// Must be set before Destroy, which runs the supervisor synchronously.
	e.intent = intentStop
	e.closed = true
	cancel, stream := e.resetLocked()
	e.queue = nil
	e.mu.Unlock()

	e.release(cancel, stream)

	if e.conn.State() != voice.StateDestroyed {
		if err := e.conn.Destroy(); err != nil {
			slog.Warn("failed to destroy voice connection", "guildID", e.guildID, "error", err)
		}
	}

	if !alreadyClosed {
		slog.Info("playback stopped", "guildID", e.guildID)
		e.broadcast()
	}
}

func (e *Engine) SetLoopMode(mode LoopMode) {
	e.mu.Lock()
	e.loop = mode
	e.mu.Unlock()
	e.broadcast()
}

// Shuffle reorders the upcoming queue. The current track is untouched.
func (e *Engine) Shuffle() {
	e.mu.Lock()
	rand.Shuffle(len(e.queue), func(i, j int) {
		e.queue[i], e.queue[j] = e.queue[j], e.queue[i]
	})
	e.mu.Unlock()
	e.broadcast()
}

func (e *Engine) Pause() bool {
	e.mu.Lock()
	if e.current == nil || e.paused || e.playGen == 0 || e.starting {
		e.mu.Unlock()
		return false
	}
	if !e.player.Pause() {
		e.mu.Unlock()
		return false
	}
	e.paused = true
	e.mu.Unlock()
	e.broadcast()
	return true
}

func (e *Engine) Resume() bool {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return false
	}
	e.player.Resume()
	e.paused = false
	e.mu.Unlock()
	e.broadcast()
	return true
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) Queue() []QueuedTrack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.queue)
}

func (e *Engine) Current() (QueuedTrack, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return QueuedTrack{}, false
	}
	return *e.current, true
}

func (e *Engine) LoopMode() LoopMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loop
}

// Closed reports whether the engine has been stopped or lost its
// connection.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Validate checks the queue invariants.
func (e *Engine) Validate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		for _, qt := range e.queue {
			if qt.QueueID == e.current.QueueID {
				return fmt.Errorf("%w: current track %s is also queued", ErrInvariant, qt.QueueID)
			}
		}
	}
	if e.playGen != 0 && e.current == nil {
		return fmt.Errorf("%w: player run %d has no current track", ErrInvariant, e.playGen)
	}
	return nil
}

func (e *Engine) snapshotLocked() State {
	s := State{
		GuildID:   e.guildID,
		IsPlaying: e.current != nil && e.playGen != 0 && !e.starting,
		IsPaused:  e.paused,
		LoopMode:  e.loop,
		Queue:     slices.Clone(e.queue),
	}
	if s.Queue == nil {
		s.Queue = []QueuedTrack{}
	}
	if e.current != nil {
		current := *e.current
		s.CurrentTrack = &current
	}
	if s.IsPlaying && !e.startedAt.IsZero() {
		startedAt := e.startedAt
		s.StartedAt = &startedAt
	}
	return s
}

func (e *Engine) broadcast() {
	e.broadcastMu.Lock()
	defer e.broadcastMu.Unlock()
	e.publish(e.State())
}

// resetLocked clears the current track and detaches any in-flight advance
// and transcode. The caller must pass the results to release after
// unlocking.
func (e *Engine) resetLocked() (context.CancelFunc, opus.Stream) {
	e.epoch++
	cancel := e.cancelAdvance
	e.cancelAdvance = nil
	stream := e.stream
	e.stream = nil
	e.current = nil
	e.playGen = 0
	e.starting = false
	e.earlyEnd = nil
	e.paused = false
	e.startedAt = time.Time{}
	if e.intent != intentStop {
		e.intent = intentNone
	}
	return cancel, stream
}

// release stops the player silently and kills the detached transcode.
func (e *Engine) release(cancel context.CancelFunc, stream opus.Stream) {
	if cancel != nil {
		cancel()
	}
	e.player.Stop(true)
	if stream != nil {
		stream.Kill()
	}
}

// playNext starts the next playable track if nothing is current. It skips
// tracks that fail to start, up to MaxSkipStreak in a row.
func (e *Engine) playNext() {
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()

	failures := 0
	for {
		if e.conn.State() == voice.StateDestroyed {
			return
		}

		e.mu.Lock()
		if e.closed || e.current != nil {
			e.mu.Unlock()
			return
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			e.broadcast()
			return
		}
		if failures >= e.opts.MaxSkipStreak {
			remaining := len(e.queue)
			e.mu.Unlock()
			slog.Error("too many tracks failed to start, going idle", "guildID", e.guildID, "failures", failures, "remaining", remaining)
			e.broadcast()
			return
		}

		next := e.queue[0]
		e.queue = slices.Delete(e.queue, 0, 1)
		e.current = &next
		e.intent = intentNone
		e.textChannelID = next.TextChannelID
		e.epoch++
		epoch := e.epoch
		ctx, cancel := context.WithCancel(context.Background())
		e.cancelAdvance = cancel
		e.mu.Unlock()

		err := e.start(ctx, epoch, next)
		cancel()
		if err == nil || errors.Is(err, errSuperseded) {
			return
		}

		failures++
		slog.Warn("skipping track", "guildID", e.guildID, "title", next.Title, "url", next.URL, "error", err)

		e.mu.Lock()
		if e.epoch != epoch {
			// Skip, Stop or ReplaceAndPlay already moved on.
			e.mu.Unlock()
			return
		}
		e.current = nil
		e.cancelAdvance = nil
		e.mu.Unlock()

		e.notifier.TrackSkipped(next, err)
	}
}

// start resolves, transcodes and hands track to the player. It returns
// errSuperseded when another operation took over meanwhile.
func (e *Engine) start(ctx context.Context, epoch uint64, track QueuedTrack) error {
	stream, err := e.spawnWithRetry(ctx, epoch, track)
	if err != nil {
		return err
	}

	gen := e.player.Play(stream)

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		e.player.Stop(true)
		stream.Kill()
		return errSuperseded
	}
	e.playGen = gen
	e.starting = true
	e.earlyEnd = nil
	e.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, e.opts.StartTimeout)
	err = e.player.WaitPlaying(waitCtx, gen)
	cancel()

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return errSuperseded
	}
	e.starting = false
	early := e.earlyEnd
	e.earlyEnd = nil
	if err != nil {
		e.playGen = 0
		if e.stream == stream {
			e.stream = nil
		}
		e.mu.Unlock()
		e.player.Stop(true)
		stream.Kill()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("playback did not start within %s", e.opts.StartTimeout)
		}
		return fmt.Errorf("playback did not start: %w", err)
	}
	e.startedAt = time.Now()
	e.paused = false
	e.mu.Unlock()

	slog.Info("now playing", "guildID", e.guildID, "title", track.Title, "requestedBy", track.RequestedBy)
	e.broadcast()
	e.notifier.NowPlaying(track)

	if early != nil {
		// The track ended while start was waiting; handle it now that the
		// advance lock is about to be released.
		go e.onTrackEnd(gen, early.err)
	}
	return nil
}

// spawnWithRetry treats resolution plus process spawn as one attempt.
func (e *Engine) spawnWithRetry(ctx context.Context, epoch uint64, track QueuedTrack) (opus.Stream, error) {
	attempts := e.opts.ResolveRetries + 1
	var err error
	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errSuperseded
			case <-time.After(e.opts.ResolveRetryDelay):
			}
		}

		var stream opus.Stream
		stream, err = e.spawn(ctx, epoch, track)
		if err == nil {
			return stream, nil
		}
		if errors.Is(err, errSuperseded) || ctx.Err() != nil {
			return nil, errSuperseded
		}
		slog.Warn("failed to start audio stream", "guildID", e.guildID, "title", track.Title, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("could not resolve the audio stream: %w", err)
}

func (e *Engine) spawn(ctx context.Context, epoch uint64, track QueuedTrack) (opus.Stream, error) {
	src, err := e.resolver.ResolveStream(ctx, track.URL)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return nil, errSuperseded
	}
	prev := e.stream
	e.stream = nil
	e.mu.Unlock()

	// Never two live processes per engine.
	if prev != nil {
		prev.Kill()
	}

	stream, err := e.transcoder.Start(ctx, src)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		stream.Kill()
		return nil, errSuperseded
	}
	e.stream = stream
	e.mu.Unlock()
	return stream, nil
}

// onTrackEnd is the player's idle callback.
func (e *Engine) onTrackEnd(gen uint64, err error) {
	e.mu.Lock()
	if e.closed || gen == 0 || gen != e.playGen {
		e.mu.Unlock()
		return
	}
	if e.starting {
		e.earlyEnd = &trackEnd{err: err}
		e.mu.Unlock()
		return
	}

	in := e.intent
	e.intent = intentNone
	finished := e.current
	e.current = nil
	e.playGen = 0
	e.paused = false
	e.startedAt = time.Time{}
	// The finished run's transcode must not outlive it, even when nothing
	// follows.
	stream := e.stream
	e.stream = nil
	if finished == nil || in == intentStop {
		e.mu.Unlock()
		if stream != nil {
			stream.Kill()
		}
		return
	}

	switch e.loop {
	case LoopSong:
		// A failed run is not replayed, otherwise a broken stream would
		// loop forever.
		if in != intentSkip && err == nil {
			e.queue = slices.Insert(e.queue, 0, *finished)
		}
	case LoopQueue:
		e.queue = append(e.queue, *finished)
	}
	e.mu.Unlock()

	if stream != nil {
		stream.Kill()
	}
	if err != nil {
		slog.Warn("player stopped with an error, advancing", "guildID", e.guildID, "title", finished.Title, "error", err)
	}
	e.playNext()
}

// handleTransportLost resets the engine after the connection was
// destroyed without Stop. It reports whether the engine was still live.
func (e *Engine) handleTransportLost() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.closed = true
	e.intent = intentStop
	cancel, stream := e.resetLocked()
	e.queue = nil
	textChannelID := e.textChannelID
	e.mu.Unlock()

	e.release(cancel, stream)
	e.broadcast()
	e.notifier.ConnectionLost(textChannelID)
	return true
}
