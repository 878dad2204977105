package handler_test

import (
	"errors"
	"testing"

	"github.com/glizzus/alfira/internal/handler"
	"github.com/glizzus/alfira/internal/repository"
	"github.com/google/go-cmp/cmp"
)

func fridaySchedule() repository.PlaylistSchedule {
	return repository.PlaylistSchedule{
		ID:            "s1",
		GuildID:       guildID,
		PlaylistID:    "p1",
		Cron:          "0 20 * * 5",
		TextChannelID: textChannelID,
	}
}

func TestScheduledPlayerJoinsBusiestChannel(t *testing.T) {
	h := newHarness(t)
	h.joiner.busiest = "517907971481534499"
	h.catalog.playlistTracks["p1"] = []repository.Track{
		{ID: "t1", Title: "a-ha - Take On Me", URL: "https://youtu.be/djV11Xbc914"},
		{ID: "t2", Title: "Wham! - Everything She Wants", URL: "https://youtu.be/1L3MNBBS8Nw"},
	}

	player := handler.NewScheduledPlayer(h.catalog, h.engines, nil)
	if err := player.Fire(t.Context(), fridaySchedule()); err != nil {
		t.Fatalf("Fire returned error: %v", err)
	}

	if diff := cmp.Diff([]string{"517907971481534499"}, h.joiner.joins()); diff != "" {
		t.Errorf("joins mismatch (-want +got):\n%s", diff)
	}
	state := h.state(t)
	if state.CurrentTrack == nil || state.CurrentTrack.RequestedBy != handler.ScheduledRequester {
		t.Fatalf("expected the scheduled playlist to play, got %+v", state.CurrentTrack)
	}
	if diff := cmp.Diff([]string{"Wham! - Everything She Wants"}, titles(state.Queue)); diff != "" {
		t.Errorf("queue mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduledPlayerReplacesLiveQueue(t *testing.T) {
	h := newHarness(t)
	h.run(command("play", stringOpt("query", "https://youtu.be/Zi_XLOBDo_Y")))
	h.catalog.playlistTracks["p1"] = []repository.Track{
		{ID: "t1", Title: "a-ha - Take On Me", URL: "https://youtu.be/djV11Xbc914"},
	}

	player := handler.NewScheduledPlayer(h.catalog, h.engines, nil)
	if err := player.Fire(t.Context(), fridaySchedule()); err != nil {
		t.Fatalf("Fire returned error: %v", err)
	}

	if got := len(h.joiner.joins()); got != 1 {
		t.Errorf("expected the live engine to be reused, got %d joins", got)
	}
	if current := h.state(t).CurrentTrack; current == nil || current.Title != "a-ha - Take On Me" {
		t.Errorf("expected the playlist to replace the current track, got %+v", current)
	}
}

func TestScheduledPlayerErrors(t *testing.T) {
	t.Run("nobody listening", func(t *testing.T) {
		h := newHarness(t)
		h.catalog.playlistTracks["p1"] = []repository.Track{{ID: "t1", Title: "x", URL: "https://youtu.be/djV11Xbc914"}}

		err := handler.NewScheduledPlayer(h.catalog, h.engines, nil).Fire(t.Context(), fridaySchedule())
		if !errors.Is(err, handler.ErrNoListeners) {
			t.Errorf("expected ErrNoListeners, got %v", err)
		}
	})

	t.Run("empty playlist", func(t *testing.T) {
		h := newHarness(t)
		h.joiner.busiest = "517907971481534499"

		if err := handler.NewScheduledPlayer(h.catalog, h.engines, nil).Fire(t.Context(), fridaySchedule()); err != nil {
			t.Fatalf("expected an empty playlist to be a no-op, got %v", err)
		}
		if got := len(h.joiner.joins()); got != 0 {
			t.Errorf("expected no voice join, got %d", got)
		}
	})

	t.Run("join fails", func(t *testing.T) {
		h := newHarness(t)
		h.joiner.busiest = "517907971481534499"
		h.joiner.joinErr = errors.New("voice connection timed out")
		h.catalog.playlistTracks["p1"] = []repository.Track{{ID: "t1", Title: "x", URL: "https://youtu.be/djV11Xbc914"}}

		if err := handler.NewScheduledPlayer(h.catalog, h.engines, nil).Fire(t.Context(), fridaySchedule()); err == nil {
			t.Error("expected an error when the voice join fails")
		}
		if _, ok := h.engines.Live(guildID); ok {
			t.Error("expected no engine after a failed join")
		}
	})
}
