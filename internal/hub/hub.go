// Package hub keeps the registry of live room actors. The registry is
// itself an actor so room lifetime changes never race.
package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/guessparty/backend/internal/room"
)

var (
	ErrRoomExists = errors.New("room already exists")
	ErrServerFull = errors.New("room limit reached")
)

type HubMsg interface{ isHubMsg() }

// CreateRoom creates a fresh room. Reply receives an error when the id is
// taken or the server is at capacity.
type CreateRoom struct {
	ID    string
	Reply chan CreateReply
}

type CreateReply struct {
	Actor *room.Actor
	Err   error
}

// GetRoom looks a room up; Reply may receive nil.
type GetRoom struct {
	ID    string
	Reply chan *room.Actor
}

// EnsureRoom looks a room up, creating it when absent.
type EnsureRoom struct {
	ID    string
	Reply chan CreateReply
}

type RemoveRoom struct{ ID string }

// ListRooms requests a snapshot of the registered actors.
type ListRooms struct {
	Reply chan []*room.Actor
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

// Options bounds the hub and configures the rooms it spawns.
type Options struct {
	MaxRooms    int
	IdleTimeout time.Duration
	OnSettled   func(roomID string, payload []byte)
	Log         *zap.SugaredLogger
}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Actor
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Actor),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) spawn(id string) (*room.Actor, error) {
	if h.opts.MaxRooms > 0 && len(h.rooms) >= h.opts.MaxRooms {
		return nil, ErrServerFull
	}
	a := room.NewActor(h.ctx, id, room.Options{
		IdleTimeout: h.opts.IdleTimeout,
		OnSettled:   h.opts.OnSettled,
		OnClose: func(roomID string) {
			select {
			case h.inbox <- RemoveRoom{ID: roomID}:
			case <-h.ctx.Done():
			}
		},
		Log: h.log,
	})
	h.rooms[id] = a
	h.log.Infow("room created", "room", id, "rooms", len(h.rooms))
	return a, nil
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				if h.rooms[msg.ID] != nil {
					msg.Reply <- CreateReply{Err: ErrRoomExists}
					break
				}
				a, err := h.spawn(msg.ID)
				msg.Reply <- CreateReply{Actor: a, Err: err}

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID]

			case EnsureRoom:
				if a := h.rooms[msg.ID]; a != nil {
					msg.Reply <- CreateReply{Actor: a}
					break
				}
				a, err := h.spawn(msg.ID)
				msg.Reply <- CreateReply{Actor: a, Err: err}

			case RemoveRoom:
				if _, ok := h.rooms[msg.ID]; ok {
					delete(h.rooms, msg.ID)
					h.log.Infow("room removed", "room", msg.ID, "rooms", len(h.rooms))
				}

			case ListRooms:
				actors := make([]*room.Actor, 0, len(h.rooms))
				for _, a := range h.rooms {
					actors = append(actors, a)
				}
				msg.Reply <- actors

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, a := range h.rooms {
		select {
		case a.Inbox() <- room.Shutdown{}:
		default:
		}
	}
	clear(h.rooms)
	h.cancel()
}
