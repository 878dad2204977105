package broadcast

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// NewRouter serves the websocket feed at /ws/{guildID} and the current
// snapshot at /state/{guildID}. An empty allowedOrigins accepts any origin.
func NewRouter(hub *Hub, source StateSource, allowedOrigins []string) *mux.Router {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws/{guildID}", func(w http.ResponseWriter, r *http.Request) {
		guildID := mux.Vars(r)["guildID"]
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "guildID", guildID, "error", err)
			return
		}

		client := NewClient(hub, conn, guildID)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	}).Methods(http.MethodGet)

	router.HandleFunc("/state/{guildID}", func(w http.ResponseWriter, r *http.Request) {
		guildID := mux.Vars(r)["guildID"]
		state, err := source.Snapshot(r.Context(), guildID)
		if errors.Is(err, ErrNoSnapshot) {
			http.Error(w, "no playback state for guild", http.StatusNotFound)
			return
		}
		if err != nil {
			slog.Error("failed to load playback snapshot", "guildID", guildID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(state); err != nil {
			slog.Warn("failed to write playback snapshot", "guildID", guildID, "error", err)
		}
	}).Methods(http.MethodGet)

	return router
}
