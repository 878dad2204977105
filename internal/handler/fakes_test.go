package handler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/handler"
	"github.com/glizzus/alfira/internal/media"
	"github.com/glizzus/alfira/internal/opus"
	"github.com/glizzus/alfira/internal/playback"
	"github.com/glizzus/alfira/internal/repository"
	"github.com/glizzus/alfira/internal/voice"
)

const (
	guildID        = "517907971481534467"
	userID         = "180031228563357696"
	voiceChannelID = "517907971481534470"
	textChannelID  = "517907971481534468"
)

type mockSession struct {
	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
}

var _ handler.DiscordSession = (*mockSession)(nil)

func (m *mockSession) InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, opts ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockSession) InteractionResponseEdit(i *discordgo.Interaction, edit *discordgo.WebhookEdit, opts ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, edit)
	return &discordgo.Message{}, nil
}

// reply is the text the user ends up seeing: the last edit of a deferred
// response, or the last direct response.
func (m *mockSession) reply(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.edits) > 0 {
		edit := m.edits[len(m.edits)-1]
		if edit.Content == nil {
			return ""
		}
		return *edit.Content
	}
	if len(m.responses) == 0 {
		t.Fatal("the interaction was never answered")
	}
	resp := m.responses[len(m.responses)-1]
	if resp.Data == nil {
		return ""
	}
	return resp.Data.Content
}

func (m *mockSession) lastResponse(t *testing.T) *discordgo.InteractionResponse {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		t.Fatal("the interaction was never answered")
	}
	return m.responses[len(m.responses)-1]
}

type fakeConn struct {
	mu        sync.Mutex
	state     voice.ConnState
	listeners map[int]func(from, to voice.ConnState)
	next      int
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

func (c *fakeConn) Speaking(bool) error { return nil }

func (c *fakeConn) Destroy() error {
	c.mu.Lock()
	from := c.state
	if from == voice.StateDestroyed {
		c.mu.Unlock()
		return nil
	}
	c.state = voice.StateDestroyed
	var fns []func(from, to voice.ConnState)
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(from, voice.StateDestroyed)
	}
	return nil
}

// fakeJoiner puts the user in voiceChannelID unless absent is set.
type fakeJoiner struct {
	mu       sync.Mutex
	absent   bool
	busiest  string
	joined   []string
	joinErr  error
	lastConn *fakeConn
}

var _ handler.VoiceJoiner = (*fakeJoiner)(nil)

func (j *fakeJoiner) UserVoiceChannel(string, string) (string, error) {
	if j.absent {
		return "", voice.ErrNotInVoice
	}
	return voiceChannelID, nil
}

func (j *fakeJoiner) MostAttendedChannel(string) (string, error) {
	if j.busiest == "" {
		return "", handler.ErrNoListeners
	}
	return j.busiest, nil
}

func (j *fakeJoiner) Join(_ context.Context, _ string, channelID string) (voice.Connection, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.joinErr != nil {
		return nil, j.joinErr
	}
	j.joined = append(j.joined, channelID)
	j.lastConn = newFakeConn()
	return j.lastConn, nil
}

func (j *fakeJoiner) joins() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.joined...)
}

// fakePlayer plays every source until it is stopped.
type fakePlayer struct {
	mu     sync.Mutex
	gen    uint64
	active uint64
	paused bool
	onIdle voice.IdleFunc
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

func (p *fakePlayer) WaitPlaying(context.Context, uint64) error { return nil }

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
	was := p.paused
	p.paused = false
	return was
}

func (p *fakePlayer) OnIdle(fn voice.IdleFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onIdle = fn
}

type fakeStream struct{}

func (fakeStream) ReadPacket() ([]byte, error) { return []byte{0xf8}, nil }
func (fakeStream) Kill()                       {}

type fakeTranscoder struct{}

func (fakeTranscoder) Start(context.Context, media.Source) (opus.Stream, error) {
	return fakeStream{}, nil
}

// fakeResolver knows the tracks in titles by URL.
type fakeResolver struct {
	titles map[string]string
}

var errUnknownRef = errors.New("video unavailable")

func (r *fakeResolver) ResolveMetadata(_ context.Context, ref string) (media.Metadata, error) {
	title, ok := r.titles[ref]
	if !ok {
		return media.Metadata{}, errUnknownRef
	}
	return media.Metadata{Title: title, Duration: 225}, nil
}

func (r *fakeResolver) ResolveStream(_ context.Context, ref string) (media.Source, error) {
	if _, ok := r.titles[ref]; !ok {
		return media.Source{}, errUnknownRef
	}
	return media.Source{URL: ref}, nil
}

type fakeSearcher struct {
	results []media.SearchResult
	queries []string
}

func (s *fakeSearcher) Search(_ context.Context, query string, limit int) ([]media.SearchResult, error) {
	s.queries = append(s.queries, query)
	if len(s.results) > limit {
		return s.results[:limit], nil
	}
	return s.results, nil
}

type fakeCatalog struct {
	mu             sync.Mutex
	tracks         []repository.Track
	playlists      []repository.Playlist
	playlistTracks map[string][]repository.Track
	saveErr        error
}

var _ repository.CatalogRepository = (*fakeCatalog)(nil)

func (c *fakeCatalog) SaveTrack(_ context.Context, track repository.Track) (repository.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return repository.Track{}, c.saveErr
	}
	c.tracks = append(c.tracks, track)
	return track, nil
}

func (c *fakeCatalog) GetTrack(context.Context, string) (repository.Track, error) {
	return repository.Track{}, repository.ErrNotFound
}

func (c *fakeCatalog) ListTracks(context.Context, int) ([]repository.Track, error) {
	return c.tracks, nil
}

func (c *fakeCatalog) SavePlaylist(_ context.Context, p repository.Playlist) error {
	c.playlists = append(c.playlists, p)
	return nil
}

func (c *fakeCatalog) FindPlaylist(_ context.Context, guildID, name string) (repository.Playlist, error) {
	for _, p := range c.playlists {
		if p.GuildID == guildID && p.Name == name {
			return p, nil
		}
	}
	return repository.Playlist{}, repository.ErrNotFound
}

func (c *fakeCatalog) ListPlaylists(_ context.Context, guildID string) ([]repository.Playlist, error) {
	var out []repository.Playlist
	for _, p := range c.playlists {
		if p.GuildID == guildID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *fakeCatalog) AddToPlaylist(context.Context, string, string) error { return nil }

func (c *fakeCatalog) ListPlaylistTracks(_ context.Context, playlistID string) ([]repository.Track, error) {
	return c.playlistTracks[playlistID], nil
}

func (c *fakeCatalog) SaveSchedule(context.Context, repository.PlaylistSchedule) error { return nil }

func (c *fakeCatalog) ListSchedules(context.Context) ([]repository.PlaylistSchedule, error) {
	return nil, nil
}

func (c *fakeCatalog) saved() []repository.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]repository.Track(nil), c.tracks...)
}

type counterGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (g *counterGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%d", g.prefix, g.n), nil
}

type harness struct {
	session  *mockSession
	joiner   *fakeJoiner
	catalog  *fakeCatalog
	searcher *fakeSearcher
	registry *playback.Registry
	engines  *handler.Engines
	handle   func(handler.DiscordSession, *discordgo.InteractionCreate)
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	resolver := &fakeResolver{titles: map[string]string{
		"https://youtu.be/djV11Xbc914": "a-ha - Take On Me",
		"https://youtu.be/1L3MNBBS8Nw": "Wham! - Everything She Wants",
		"https://youtu.be/Zi_XLOBDo_Y": "Michael Jackson - Billie Jean",
	}}
	registry := playback.NewRegistry(playback.Deps{
		Resolver:   resolver,
		Transcoder: fakeTranscoder{},
		NewPlayer:  func(voice.Connection) playback.AudioPlayer { return &fakePlayer{} },
		Options: playback.Options{
			StartTimeout:    time.Second,
			MaxSkipStreak:   3,
			ReconnectWindow: time.Second,
		},
	})
	t.Cleanup(registry.StopAll)

	h := &harness{
		session:  &mockSession{},
		joiner:   &fakeJoiner{},
		catalog:  &fakeCatalog{playlistTracks: make(map[string][]repository.Track)},
		searcher: &fakeSearcher{},
		registry: registry,
	}
	h.engines = handler.NewEngines(registry, h.joiner, nil)
	h.handle = handler.NewInteractionHandler(handler.Deps{
		Catalog:    h.catalog,
		Engines:    h.engines,
		Resolver:   resolver,
		Searcher:   h.searcher,
		FlowIDs:    &determinsticIDGenerator{},
		QueueIDs:   &counterGenerator{prefix: "q"},
		CatalogIDs: &counterGenerator{prefix: "t"},
	})
	return h
}

// run handles i on a fresh session and returns it.
func (h *harness) run(i *discordgo.InteractionCreate) *mockSession {
	h.session = &mockSession{}
	h.handle(h.session, i)
	return h.session
}

func (h *harness) state(t *testing.T) playback.State {
	t.Helper()
	engine, ok := h.registry.Get(guildID)
	if !ok {
		t.Fatal("expected a playback engine for the guild")
	}
	return engine.State()
}

type determinsticIDGenerator struct{}

func (d *determinsticIDGenerator) Next() (string, error) {
	return "determinism", nil
}

func command(name string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   guildID,
			ChannelID: textChannelID,
			Member: &discordgo.Member{
				User: &discordgo.User{ID: userID, Username: "glizzus"},
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: options,
			},
		},
	}
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func intOpt(name string, value int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(value),
	}
}

func boolOpt(name string, value bool) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionBoolean,
		Value: value,
	}
}

func selectMenu(customID string, values ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionMessageComponent,
			GuildID:   guildID,
			ChannelID: textChannelID,
			Member: &discordgo.Member{
				User: &discordgo.User{ID: userID, Username: "glizzus"},
			},
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      customID,
				ComponentType: discordgo.SelectMenuComponent,
				Values:        values,
			},
		},
	}
}
