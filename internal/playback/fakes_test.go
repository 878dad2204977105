package playback_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glizzus/alfira/internal/media"
	"github.com/glizzus/alfira/internal/opus"
	"github.com/glizzus/alfira/internal/playback"
	"github.com/glizzus/alfira/internal/repository"
	"github.com/glizzus/alfira/internal/voice"
)

type fakeConn struct {
	mu        sync.Mutex
	state     voice.ConnState
	listeners map[int]func(from, to voice.ConnState)
	next      int
	destroys  int
	send      chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		state:     voice.StateReady,
		listeners: make(map[int]func(from, to voice.ConnState)),
		send:      make(chan []byte, 64),
	}
}

var _ voice.Connection = (*fakeConn)(nil)

func (c *fakeConn) State() voice.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) set(to voice.ConnState) {
	c.mu.Lock()
	from := c.state
	if from == to || from == voice.StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.state = to
	var fns []func(from, to voice.ConnState)
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(from, to)
	}
}

func (c *fakeConn) OnStateChange(fn func(from, to voice.ConnState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *fakeConn) OpusSend() chan<- []byte { return c.send }
func (c *fakeConn) Speaking(bool) error     { return nil }

func (c *fakeConn) destroyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroys
}

func (c *fakeConn) Destroy() error {
	c.mu.Lock()
	c.destroys++
	c.mu.Unlock()
	c.set(voice.StateDestroyed)
	return nil
}

// fakePlayer starts playing as soon as Play is called, unless neverPlays
// is set.
type fakePlayer struct {
	mu         sync.Mutex
	gen        uint64
	active     uint64
	onIdle     voice.IdleFunc
	neverPlays bool
	paused     bool
}

var _ playback.AudioPlayer = (*fakePlayer)(nil)

func (p *fakePlayer) Play(voice.PacketSource) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.active = p.gen
	p.paused = false
	return p.gen
}

func (p *fakePlayer) Stop(suppressIdle bool) bool {
	p.mu.Lock()
	gen := p.active
	p.active = 0
	fn := p.onIdle
	p.mu.Unlock()
	if gen == 0 {
		return false
	}
	if !suppressIdle {
		go fn(gen, nil)
	}
	return true
}

func (p *fakePlayer) WaitPlaying(ctx context.Context, gen uint64) error {
	p.mu.Lock()
	never := p.neverPlays
	ok := gen == p.active
	p.mu.Unlock()
	if never {
		<-ctx.Done()
		return ctx.Err()
	}
	if !ok {
		return voice.ErrNotPlaying
	}
	return nil
}

func (p *fakePlayer) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == 0 || p.paused {
		return false
	}
	p.paused = true
	return true
}

func (p *fakePlayer) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return false
	}
	p.paused = false
	return true
}

func (p *fakePlayer) OnIdle(fn voice.IdleFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onIdle = fn
}

func (p *fakePlayer) activeGen() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// finish ends the active run the way the pump goroutine would, and
// returns once the engine has handled it.
func (p *fakePlayer) finish(err error) {
	p.mu.Lock()
	gen := p.active
	p.active = 0
	fn := p.onIdle
	p.mu.Unlock()
	if gen != 0 {
		fn(gen, err)
	}
}

// fire delivers an idle signal for an arbitrary generation.
func (p *fakePlayer) fire(gen uint64, err error) {
	p.mu.Lock()
	fn := p.onIdle
	p.mu.Unlock()
	fn(gen, err)
}

type fakeStream struct {
	url    string
	killed atomic.Bool
}

func (s *fakeStream) ReadPacket() ([]byte, error) {
	if s.killed.Load() {
		return nil, io.EOF
	}
	return []byte{0xf8}, nil
}

func (s *fakeStream) Kill() { s.killed.Store(true) }

type fakeTranscoder struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (t *fakeTranscoder) Start(ctx context.Context, src media.Source) (opus.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &fakeStream{url: src.URL}
	t.streams = append(t.streams, s)
	return s, nil
}

func (t *fakeTranscoder) alive() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var urls []string
	for _, s := range t.streams {
		if !s.killed.Load() {
			urls = append(urls, s.url)
		}
	}
	return urls
}

func (t *fakeTranscoder) stream(url string) *fakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.streams {
		if s.url == url {
			return s
		}
	}
	return nil
}

var errResolve = errors.New("extractor returned 403")

type fakeResolver struct {
	mu sync.Mutex

	calls map[string]int
	// failures per reference; -1 fails forever
	failures map[string]int
	// blocked references wait for their context
	blocked map[string]bool
	started chan string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		calls:    make(map[string]int),
		failures: make(map[string]int),
		blocked:  make(map[string]bool),
		started:  make(chan string, 64),
	}
}

func (r *fakeResolver) ResolveMetadata(ctx context.Context, ref string) (media.Metadata, error) {
	return media.Metadata{Title: ref}, nil
}

func (r *fakeResolver) ResolveStream(ctx context.Context, ref string) (media.Source, error) {
	r.mu.Lock()
	r.calls[ref]++
	blocked := r.blocked[ref]
	fail := r.failures[ref]
	if fail > 0 {
		r.failures[ref]--
	}
	r.mu.Unlock()

	select {
	case r.started <- ref:
	default:
	}
	if blocked {
		<-ctx.Done()
		return media.Source{}, ctx.Err()
	}
	if fail != 0 {
		return media.Source{}, errResolve
	}
	return media.Source{URL: ref, Hint: media.HintOpus}, nil
}

func (r *fakeResolver) callCount(ref string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[ref]
}

type fakeNotifier struct {
	mu         sync.Mutex
	nowPlaying []string
	skipped    []string
	lost       []string
}

func (n *fakeNotifier) NowPlaying(track playback.QueuedTrack) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nowPlaying = append(n.nowPlaying, track.Title)
}

func (n *fakeNotifier) TrackSkipped(track playback.QueuedTrack, reason error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.skipped = append(n.skipped, track.Title)
}

func (n *fakeNotifier) ConnectionLost(textChannelID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lost = append(n.lost, textChannelID)
}

func (n *fakeNotifier) snapshot() (nowPlaying, skipped, lost []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.nowPlaying...), append([]string(nil), n.skipped...), append([]string(nil), n.lost...)
}

const guildID = "74241007174813750"

type harness struct {
	registry   *playback.Registry
	engine     *playback.Engine
	conn       *fakeConn
	player     *fakePlayer
	resolver   *fakeResolver
	transcoder *fakeTranscoder
	notifier   *fakeNotifier

	mu     sync.Mutex
	states []playback.State
}

func newHarness(t *testing.T, tweak ...func(*playback.Options)) *harness {
	t.Helper()
	h := &harness{
		conn:       newFakeConn(),
		player:     &fakePlayer{},
		resolver:   newFakeResolver(),
		transcoder: &fakeTranscoder{},
		notifier:   &fakeNotifier{},
	}

	opts := playback.Options{
		ResolveRetries:    2,
		ResolveRetryDelay: time.Millisecond,
		StartTimeout:      time.Second,
		MaxSkipStreak:     25,
		ReconnectWindow:   time.Second,
	}
	for _, fn := range tweak {
		fn(&opts)
	}

	h.registry = playback.NewRegistry(playback.Deps{
		Resolver:   h.resolver,
		Transcoder: h.transcoder,
		NewPlayer:  func(voice.Connection) playback.AudioPlayer { return h.player },
		Options:    opts,
	})
	h.registry.SetBroadcaster(func(s playback.State) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.states = append(h.states, s)
	})

	engine, err := h.registry.GetOrCreate(guildID, h.conn, h.notifier)
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	h.engine = engine

	t.Cleanup(func() {
		if err := engine.Validate(); err != nil && !engine.Closed() {
			t.Errorf("engine invariants: %v", err)
		}
	})
	return h
}

func (h *harness) broadcasts() []playback.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]playback.State(nil), h.states...)
}

func (h *harness) lastBroadcast(t *testing.T) playback.State {
	t.Helper()
	states := h.broadcasts()
	if len(states) == 0 {
		t.Fatal("no broadcasts")
	}
	return states[len(states)-1]
}

func track(title string) playback.QueuedTrack {
	return playback.QueuedTrack{
		Track: repository.Track{
			Title:    title,
			URL:      "https://example.com/" + title,
			Duration: 5,
		},
		RequestedBy:   "tester",
		QueueID:       title,
		TextChannelID: "text-" + title,
	}
}

func tracks(titles ...string) []playback.QueuedTrack {
	out := make([]playback.QueuedTrack, 0, len(titles))
	for _, title := range titles {
		out = append(out, track(title))
	}
	return out
}

func titles(qts []playback.QueuedTrack) []string {
	out := make([]string, 0, len(qts))
	for _, qt := range qts {
		out = append(out, qt.Title)
	}
	return out
}

func currentTitle(e *playback.Engine) string {
	if qt, ok := e.Current(); ok {
		return qt.Title
	}
	return ""
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
