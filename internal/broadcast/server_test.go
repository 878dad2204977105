package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glizzus/alfira/internal/broadcast"
	"github.com/glizzus/alfira/internal/playback"
	"github.com/glizzus/alfira/internal/repository"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

const guildID = "517907971481534467"

type mapSource map[string]playback.State

func (m mapSource) Snapshot(_ context.Context, guildID string) (playback.State, error) {
	s, ok := m[guildID]
	if !ok {
		return playback.State{}, broadcast.ErrNoSnapshot
	}
	return s, nil
}

type failingSource struct{ err error }

func (f failingSource) Snapshot(context.Context, string) (playback.State, error) {
	return playback.State{}, f.err
}

func sampleState(title string) playback.State {
	started := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	current := playback.QueuedTrack{
		Track: repository.Track{
			Title:    title,
			URL:      "https://example.com/" + title,
			Duration: 212,
		},
		RequestedBy: "glizzus",
		QueueID:     "q-" + title,
	}
	return playback.State{
		GuildID:      guildID,
		IsPlaying:    true,
		LoopMode:     playback.LoopQueue,
		CurrentTrack: &current,
		Queue: []playback.QueuedTrack{{
			Track:   repository.Track{Title: "next", URL: "https://example.com/next"},
			QueueID: "q-next",
		}},
		StartedAt: &started,
	}
}

func newServer(t *testing.T, source broadcast.StateSource) (*broadcast.Hub, *httptest.Server) {
	t.Helper()
	hub := broadcast.NewHub()
	go hub.Run()
	srv := httptest.NewServer(broadcast.NewRouter(hub, source, nil))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, guildID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + guildID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readState(t *testing.T, conn *websocket.Conn) playback.State {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var s playback.State
	if err := conn.ReadJSON(&s); err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	return s
}

func TestWebsocketReceivesSnapshot(t *testing.T) {
	hub, srv := newServer(t, mapSource{})
	conn := dial(t, srv, guildID)

	want := sampleState("first")
	hub.Broadcast(want)

	got := readState(t, conn)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestWebsocketReceivesLatestOnConnect(t *testing.T) {
	hub, srv := newServer(t, mapSource{})

	hub.Broadcast(sampleState("before"))
	conn := dial(t, srv, guildID)

	got := readState(t, conn)
	if got.CurrentTrack == nil || got.CurrentTrack.Title != "before" {
		t.Fatalf("expected the cached snapshot on connect, got %+v", got)
	}

	hub.Broadcast(sampleState("after"))
	got = readState(t, conn)
	if got.CurrentTrack == nil || got.CurrentTrack.Title != "after" {
		t.Errorf("expected the new snapshot, got %+v", got)
	}
}

func TestWebsocketIgnoresOtherGuilds(t *testing.T) {
	hub, srv := newServer(t, mapSource{})
	conn := dial(t, srv, guildID)

	other := sampleState("elsewhere")
	other.GuildID = "1"
	hub.Broadcast(other)
	hub.Broadcast(sampleState("mine"))

	got := readState(t, conn)
	if got.GuildID != guildID || got.CurrentTrack.Title != "mine" {
		t.Errorf("expected only this guild's snapshot, got %+v", got)
	}
}

func TestStateEndpoint(t *testing.T) {
	want := sampleState("cached")
	_, srv := newServer(t, mapSource{guildID: want})

	tc := []struct {
		name   string
		guild  string
		status int
	}{
		{name: "known guild", guild: guildID, status: http.StatusOK},
		{name: "unknown guild", guild: "42", status: http.StatusNotFound},
	}

	for _, testCase := range tc {
		t.Run(testCase.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/state/" + testCase.guild)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != testCase.status {
				t.Fatalf("expected status %d, got %d", testCase.status, resp.StatusCode)
			}
			if testCase.status != http.StatusOK {
				return
			}

			var got playback.State
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStateEndpointSourceError(t *testing.T) {
	_, srv := newServer(t, failingSource{err: errors.New("connection refused")})

	resp, err := http.Get(srv.URL + "/state/" + guildID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}
}

func TestSources(t *testing.T) {
	want := sampleState("fallback")
	boom := errors.New("boom")

	tc := []struct {
		name    string
		sources broadcast.Sources
		want    playback.State
		err     error
	}{
		{
			name:    "falls through missing snapshots",
			sources: broadcast.Sources{mapSource{}, mapSource{guildID: want}},
			want:    want,
		},
		{
			name:    "nothing anywhere",
			sources: broadcast.Sources{mapSource{}, mapSource{}},
			err:     broadcast.ErrNoSnapshot,
		},
		{
			name:    "real errors stop the search",
			sources: broadcast.Sources{failingSource{err: boom}, mapSource{guildID: want}},
			err:     boom,
		},
	}

	for _, testCase := range tc {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := testCase.sources.Snapshot(t.Context(), guildID)
			if !errors.Is(err, testCase.err) {
				t.Fatalf("expected error %v, got %v", testCase.err, err)
			}
			if diff := cmp.Diff(testCase.want, got); diff != "" {
				t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegistrySourceWithoutEngine(t *testing.T) {
	source := broadcast.RegistrySource{Registry: playback.NewRegistry(playback.Deps{})}
	if _, err := source.Snapshot(t.Context(), guildID); !errors.Is(err, broadcast.ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestFanout(t *testing.T) {
	var got []string
	sink := func(name string) playback.Broadcaster {
		return func(s playback.State) { got = append(got, name+":"+s.GuildID) }
	}

	b := broadcast.Fanout(sink("a"), nil, sink("b"))
	b(playback.State{GuildID: guildID})

	want := []string{"a:" + guildID, "b:" + guildID}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fanout order mismatch (-want +got):\n%s", diff)
	}
}
