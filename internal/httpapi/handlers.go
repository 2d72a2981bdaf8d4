package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/guessparty/backend/internal/hub"
	"github.com/guessparty/backend/internal/room"
)

const listTimeout = 2 * time.Second

// ListRooms returns every public room with at least one connected player.
func ListRooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []*room.Actor, 1)
		h.Inbox() <- hub.ListRooms{Reply: reply}

		var actors []*room.Actor
		select {
		case actors = <-reply:
		case <-time.After(listTimeout):
			http.Error(w, "timed out", http.StatusServiceUnavailable)
			return
		}

		infos := make([]room.Info, 0, len(actors))
		deadline := time.After(listTimeout)
		for _, a := range actors {
			ir := make(chan room.Info, 1)
			select {
			case a.Inbox() <- room.GetInfo{Reply: ir}:
			default:
				continue // room shutting down, skip it
			}
			select {
			case info := <-ir:
				if info.IsPublic && info.Players > 0 {
					infos = append(infos, info)
				}
			case <-deadline:
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Rooms []room.Info `json:"rooms"`
		}{Rooms: infos})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
