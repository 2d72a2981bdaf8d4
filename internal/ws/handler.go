// Package ws bridges websocket connections to room actors. Each connection
// gets a uuid, a buffered outbox drained by a writer goroutine, and a
// reader loop that decodes command envelopes into actor messages.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guessparty/backend/internal/hub"
	"github.com/guessparty/backend/internal/protocol"
	"github.com/guessparty/backend/internal/room"
)

const (
	writeTimeout = 5 * time.Second
	outboxSize   = 16
)

func Handler(h *hub.Hub, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // origin checking is the proxy's job
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		out := make(chan protocol.ServerEvent, outboxSize)
		clg := log.With("conn", connID)

		// Writer goroutine. A closed outbox means the room dropped or
		// kicked us, so the connection ends too.
		writeCtx, writeCancel := context.WithCancel(context.Background())
		defer writeCancel()
		go func() {
			for ev := range out {
				payload, err := json.Marshal(ev)
				if err != nil {
					clg.Errorw("marshal event", "event", ev.Event, "err", err)
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				err = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					return
				}
			}
			conn.Close(websocket.StatusNormalClosure, "room closed")
		}()

		// On a completed join the actor owns the outbox and closes it on
		// detach; before that the handler must close it itself or the
		// writer goroutine blocks on the range forever.
		var actor *room.Actor
		defer func() {
			if actor != nil {
				actor.Inbox() <- room.Detach{ConnID: connID}
			} else {
				close(out)
			}
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}

			var cmd protocol.ClientCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				writeError(r.Context(), conn, "badJson", "malformed command")
				continue
			}

			if actor == nil {
				actor = admit(r.Context(), conn, h, connID, out, cmd, clg)
				continue
			}
			actor.Inbox() <- room.FromClient{ConnID: connID, Cmd: cmd}
		}
	}
}

// admit handles the first command of a connection, which must name a room.
// On a rejected join the connection stays open so the client can retry
// with a different name or room.
func admit(ctx context.Context, conn *websocket.Conn, h *hub.Hub, connID string,
	out chan protocol.ServerEvent, cmd protocol.ClientCommand, log *zap.SugaredLogger) *room.Actor {

	if cmd.RoomID == "" {
		writeError(ctx, conn, cmd.Type, "a room id is required")
		return nil
	}

	reply := make(chan hub.CreateReply, 1)
	switch cmd.Type {
	case protocol.CmdCreateRoom:
		h.Inbox() <- hub.CreateRoom{ID: cmd.RoomID, Reply: reply}
	case protocol.CmdJoinRoom:
		h.Inbox() <- hub.EnsureRoom{ID: cmd.RoomID, Reply: reply}
	default:
		writeError(ctx, conn, cmd.Type, "join a room first")
		return nil
	}

	res := <-reply
	if res.Err != nil {
		writeError(ctx, conn, cmd.Type, res.Err.Error())
		return nil
	}

	joined := make(chan error, 1)
	res.Actor.Inbox() <- room.Join{
		ConnID:      connID,
		Username:    cmd.Username,
		AvatarID:    cmd.AvatarID,
		AvatarImage: cmd.AvatarImage,
		Outbox:      out,
		Reply:       joined,
	}
	if err := <-joined; err != nil {
		writeError(ctx, conn, cmd.Type, err.Error())
		return nil
	}
	log.Infow("joined room", "room", cmd.RoomID, "player", cmd.Username)
	return res.Actor
}

func writeError(ctx context.Context, conn *websocket.Conn, code, message string) {
	payload, _ := json.Marshal(protocol.ServerEvent{
		Event:   protocol.EvtError,
		Payload: protocol.ErrorPayload{Code: code, Message: message},
	})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
