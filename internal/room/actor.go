package room

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/guessparty/backend/internal/protocol"
)

const rosterDebounce = 120 * time.Millisecond

// Msg is a message for a room actor's inbox.
type Msg interface{ isRoomMsg() }

// Join registers a connection and admits it as a player. Reply carries the
// admission error; on failure the outbox stays unregistered.
type Join struct {
	ConnID      string
	Username    string
	AvatarID    string
	AvatarImage string
	Outbox      chan protocol.ServerEvent
	Reply       chan error
}

func (Join) isRoomMsg() {}

// Detach reports that a connection dropped.
type Detach struct{ ConnID string }

func (Detach) isRoomMsg() {}

// FromClient carries a decoded command from a registered connection.
type FromClient struct {
	ConnID string
	Cmd    protocol.ClientCommand
}

func (FromClient) isRoomMsg() {}

// GetInfo requests a listing snapshot.
type GetInfo struct{ Reply chan Info }

func (GetInfo) isRoomMsg() {}

// Inspect runs fn on the loop goroutine. Test-only: it reflects internal
// state without data races.
type Inspect struct {
	Fn   func(*Room)
	Done chan struct{}
}

func (Inspect) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

// Info is the public listing view of a room.
type Info struct {
	ID       string `json:"id"`
	Name     string `json:"roomName"`
	IsPublic bool   `json:"isPublic"`
	Players  int    `json:"playerCount"`
	InRound  bool   `json:"inGame"`
}

// Options configures a room actor.
type Options struct {
	IdleTimeout time.Duration                       // destroy an empty room after this much inactivity
	OnClose     func(roomID string)                 // called once, off-loop, when the room dies
	OnSettled   func(roomID string, payload []byte) // settlement archive hook, called off-loop
	Log         *zap.SugaredLogger
}

// Actor owns one Room. All room state is touched only on the loop
// goroutine, so the Room methods need no locking.
type Actor struct {
	ID string

	inbox   chan Msg
	room    *Room
	clients map[string]chan protocol.ServerEvent
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc

	// roster debounce state
	rosterTimer *time.Timer
	rosterC     <-chan time.Time
	lastRoster  time.Time

	log *zap.SugaredLogger
}

// NewActor spawns a room actor with an empty room.
func NewActor(parent context.Context, id string, opts Options) *Actor {
	ctx, cancel := context.WithCancel(parent)
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &Actor{
		ID:      id,
		inbox:   make(chan Msg, 64),
		room:    New(id, log),
		clients: make(map[string]chan protocol.ServerEvent),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With("room", id),
	}
	go a.loop()
	return a
}

// Inbox exposes the actor's mailbox to the transport and to tests.
func (a *Actor) Inbox() chan<- Msg { return a.inbox }

func (a *Actor) loop() {
	idle := time.NewTicker(time.Minute)
	defer idle.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.shutdown()
			return

		case <-a.rosterC:
			a.rosterC = nil
			a.flushRoster()

		case <-idle.C:
			if a.opts.IdleTimeout > 0 && a.room.ConnectedCount() == 0 &&
				time.Since(a.room.LastActive) > a.opts.IdleTimeout {
				a.log.Infow("room idle, closing")
				a.close()
				return
			}

		case m := <-a.inbox:
			switch msg := m.(type) {
			case Join:
				a.clients[msg.ConnID] = msg.Outbox
				err := a.room.Join(a, msg.ConnID, msg.Username, msg.AvatarID, msg.AvatarImage)
				if err != nil {
					delete(a.clients, msg.ConnID)
				}
				msg.Reply <- err

			case Detach:
				if ch, ok := a.clients[msg.ConnID]; ok {
					delete(a.clients, msg.ConnID)
					close(ch)
				}
				if a.room.HandleDisconnect(a, msg.ConnID) {
					a.close()
					return
				}

			case FromClient:
				a.dispatch(msg.ConnID, msg.Cmd)

			case GetInfo:
				msg.Reply <- Info{
					ID:       a.room.ID,
					Name:     a.room.Name,
					IsPublic: a.room.IsPublic,
					Players:  a.room.ConnectedCount(),
					InRound:  a.room.Session != nil,
				}

			case Inspect:
				msg.Fn(a.room)
				close(msg.Done)

			case Shutdown:
				a.close()
				return
			}
		}
	}
}

func (a *Actor) dispatch(connID string, cmd protocol.ClientCommand) {
	var err error
	switch cmd.Type {
	case protocol.CmdToggleReady:
		err = a.room.ToggleReady(a, connID)
	case protocol.CmdUpdateSettings:
		if cmd.Settings != nil {
			err = a.room.UpdateSettings(a, connID, *cmd.Settings)
		}
	case protocol.CmdRequestSettings:
		err = a.room.RequestSettings(a, connID)
	case protocol.CmdStartRound:
		var target protocol.Target
		if cmd.Target != nil {
			target = *cmd.Target
		}
		err = a.room.StartRound(a, connID, target, cmd.Settings)
	case protocol.CmdEnterManualMode:
		err = a.room.EnterManualMode(a, connID)
	case protocol.CmdSetSetter:
		err = a.room.SetSetter(a, connID, cmd.PlayerID)
	case protocol.CmdSubmitTarget:
		var target protocol.Target
		if cmd.Target != nil {
			target = *cmd.Target
		}
		err = a.room.SubmitTarget(a, connID, target, cmd.Hints)
	case protocol.CmdSubmitGuess:
		if cmd.Guess != nil {
			err = a.room.SubmitGuess(a, connID, *cmd.Guess)
		}
	case protocol.CmdDeclareResult:
		err = a.room.DeclareResult(a, connID, cmd.Result)
	case protocol.CmdTimeout:
		err = a.room.Timeout(a, connID)
	case protocol.CmdEnterObserver:
		err = a.room.EnterObserver(a, connID)
	case protocol.CmdRevealTags:
		err = a.room.RevealTags(a, connID, cmd.Tags)
	case protocol.CmdKickPlayer:
		var kickedID string
		kickedID, err = a.room.Kick(a, connID, cmd.PlayerID)
		if err == nil {
			if ch, ok := a.clients[kickedID]; ok {
				close(ch)
				delete(a.clients, kickedID)
			}
		}
	case protocol.CmdTransferHost:
		err = a.room.TransferHost(a, connID, cmd.PlayerID)
	case protocol.CmdUpdateVisibility:
		err = a.room.UpdateVisibility(a, connID)
	case protocol.CmdUpdateRoomName:
		err = a.room.UpdateName(a, connID, cmd.RoomName)
	case protocol.CmdUpdatePlayerNote:
		err = a.room.UpdateNote(a, connID, cmd.Note)
	case protocol.CmdUpdatePlayerTeam:
		err = a.room.UpdateTeam(a, connID, cmd.Team)
	default:
		a.log.Warnw("unknown command", "type", cmd.Type)
		return
	}
	if err != nil {
		a.Player(connID, protocol.EvtError, protocol.ErrorPayload{Code: cmd.Type, Message: err.Error()})
	}
}

// encode marshals a payload on the loop goroutine. Outboxes must only
// ever carry immutable bytes: the writer goroutines marshal the envelope
// while the loop keeps mutating room state, so any live pointer or map in
// a payload is a data race.
func (a *Actor) encode(event string, payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		a.log.Errorw("marshal payload", "event", event, "err", err)
		return nil
	}
	return raw
}

// Room broadcasts an event to every registered connection. Slow clients
// are dropped rather than allowed to stall the loop.
func (a *Actor) Room(event string, payload any) {
	raw := a.encode(event, payload)
	if event == protocol.EvtRoundSettled && a.opts.OnSettled != nil {
		go a.opts.OnSettled(a.ID, raw)
	}
	ev := protocol.ServerEvent{Event: event}
	if raw != nil {
		ev.Payload = raw
	}
	for id, ch := range a.clients {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(a.clients, id)
		}
	}
}

// Player sends an event to one connection. Unknown IDs are ignored so room
// code can target disconnected players without checking.
func (a *Actor) Player(connID, event string, payload any) {
	ch, ok := a.clients[connID]
	if !ok {
		return
	}
	ev := protocol.ServerEvent{Event: event}
	if raw := a.encode(event, payload); raw != nil {
		ev.Payload = raw
	}
	select {
	case ch <- ev:
	default:
		close(ch)
		delete(a.clients, connID)
	}
}

// Roster schedules a players broadcast. Consecutive calls within the
// debounce window collapse into one; force flushes immediately.
func (a *Actor) Roster(force bool) {
	if force {
		a.stopRosterTimer()
		a.flushRoster()
		return
	}
	if a.rosterC != nil {
		return
	}
	wait := rosterDebounce - time.Since(a.lastRoster)
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	a.rosterTimer = time.NewTimer(wait)
	a.rosterC = a.rosterTimer.C
}

func (a *Actor) flushRoster() {
	a.lastRoster = time.Now()
	a.Room(protocol.EvtPlayersUpdated, a.room.RosterPayload())
}

func (a *Actor) stopRosterTimer() {
	if a.rosterTimer != nil {
		a.rosterTimer.Stop()
		a.rosterTimer = nil
		a.rosterC = nil
	}
}

// close tears the room down: every client learns the room is gone, then
// the owner is notified off-loop.
func (a *Actor) close() {
	a.Room(protocol.EvtRoomClosed, nil)
	a.shutdown()
	if a.opts.OnClose != nil {
		go a.opts.OnClose(a.ID)
	}
}

func (a *Actor) shutdown() {
	a.stopRosterTimer()
	for id, ch := range a.clients {
		close(ch)
		delete(a.clients, id)
	}
	a.cancel()
}
