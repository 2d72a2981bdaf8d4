package room

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/guessparty/backend/internal/protocol"
)

// helper: receive events until one matches, with a timeout so tests never
// hang
func recvEvent(t *testing.T, ch <-chan protocol.ServerEvent, event string, within time.Duration) protocol.ServerEvent {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed while waiting for %q", event)
			}
			if ev.Event == event {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", event)
		}
	}
}

func recvClosed(t *testing.T, ch <-chan protocol.ServerEvent, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected outbox to close within %v", within)
		}
	}
}

func joinActor(t *testing.T, a *Actor, connID, username string) chan protocol.ServerEvent {
	t.Helper()
	out := make(chan protocol.ServerEvent, 32)
	reply := make(chan error, 1)
	a.Inbox() <- Join{ConnID: connID, Username: username, Outbox: out, Reply: reply}
	select {
	case err := <-reply:
		if err != nil {
			t.Fatalf("join %s: %v", username, err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out joining %s", username)
	}
	return out
}

func TestActorJoinDeliversRoomStateAndRoster(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := NewActor(ctx, "r1", Options{})

	out := joinActor(t, a, "c1", "alice")
	recvEvent(t, out, protocol.EvtRoomNameUpdated, 500*time.Millisecond)
	recvEvent(t, out, protocol.EvtPlayersUpdated, 500*time.Millisecond)
}

func TestActorRejectsDuplicateName(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := NewActor(ctx, "r1", Options{})

	joinActor(t, a, "c1", "alice")

	out := make(chan protocol.ServerEvent, 32)
	reply := make(chan error, 1)
	a.Inbox() <- Join{ConnID: "c2", Username: "alice", Outbox: out, Reply: reply}
	select {
	case err := <-reply:
		if err == nil {
			t.Fatalf("expected duplicate name to be rejected")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for join reply")
	}

	info := make(chan Info, 1)
	a.Inbox() <- GetInfo{Reply: info}
	select {
	case v := <-info:
		if v.Players != 1 {
			t.Fatalf("want 1 player after rejected join, got %d", v.Players)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for info")
	}
}

func TestActorSendsErrorToOriginOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := NewActor(ctx, "r1", Options{})

	hostOut := joinActor(t, a, "c1", "alice")
	bobOut := joinActor(t, a, "c2", "bob")

	a.Inbox() <- FromClient{ConnID: "c2", Cmd: protocol.ClientCommand{Type: protocol.CmdStartRound}}

	ev := recvEvent(t, bobOut, protocol.EvtError, 500*time.Millisecond)
	raw, ok := ev.Payload.(json.RawMessage)
	if !ok {
		t.Fatalf("unexpected error payload %T", ev.Payload)
	}
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Code != protocol.CmdStartRound {
		t.Fatalf("want error code %q, got %q", protocol.CmdStartRound, payload.Code)
	}

	select {
	case other := <-hostOut:
		if other.Event == protocol.EvtError {
			t.Fatalf("host must not receive another player's error")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestActorKickClosesKickedOutbox(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := NewActor(ctx, "r1", Options{})

	joinActor(t, a, "c1", "alice")
	bobOut := joinActor(t, a, "c2", "bob")

	a.Inbox() <- FromClient{ConnID: "c1", Cmd: protocol.ClientCommand{Type: protocol.CmdKickPlayer, PlayerID: "c2"}}
	recvClosed(t, bobOut, time.Second)
}

func TestActorClosesRoomWhenLastClientDetaches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closed := make(chan string, 1)
	a := NewActor(ctx, "r1", Options{OnClose: func(id string) { closed <- id }})

	out := joinActor(t, a, "c1", "alice")
	a.Inbox() <- Detach{ConnID: "c1"}
	recvClosed(t, out, time.Second)

	select {
	case id := <-closed:
		if id != "r1" {
			t.Fatalf("want close callback for r1, got %q", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for close callback")
	}
}

func TestActorDebouncesRosterBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := NewActor(ctx, "r1", Options{})

	out := joinActor(t, a, "c1", "alice")
	recvEvent(t, out, protocol.EvtPlayersUpdated, 500*time.Millisecond)

	// a burst of note updates must collapse into few roster broadcasts
	for i := 0; i < 10; i++ {
		a.Inbox() <- FromClient{ConnID: "c1", Cmd: protocol.ClientCommand{Type: protocol.CmdUpdatePlayerNote, Note: "n"}}
	}
	recvEvent(t, out, protocol.EvtPlayersUpdated, 500*time.Millisecond)

	got := 0
	deadline := time.After(300 * time.Millisecond)
drain:
	for {
		select {
		case ev := <-out:
			if ev.Event == protocol.EvtPlayersUpdated {
				got++
			}
		case <-deadline:
			break drain
		}
	}
	if got > 2 {
		t.Fatalf("burst produced %d extra roster broadcasts, want at most 2", got)
	}
}

// A writer goroutine marshals events while the loop keeps mutating room
// state, so every enqueued payload must already be serialized bytes. This
// churns the roster and a team ledger under concurrent marshalling; run
// with -race.
func TestBroadcastPayloadsAreImmutable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := NewActor(ctx, "r1", Options{})

	aliceOut := joinActor(t, a, "c1", "alice")
	bobOut := joinActor(t, a, "c2", "bob")

	team := "1"
	a.Inbox() <- FromClient{ConnID: "c1", Cmd: protocol.ClientCommand{Type: protocol.CmdUpdatePlayerTeam, Team: &team}}
	a.Inbox() <- FromClient{ConnID: "c2", Cmd: protocol.ClientCommand{Type: protocol.CmdUpdatePlayerTeam, Team: &team}}
	a.Inbox() <- FromClient{ConnID: "c2", Cmd: protocol.ClientCommand{Type: protocol.CmdToggleReady}}
	a.Inbox() <- FromClient{ConnID: "c1", Cmd: protocol.ClientCommand{
		Type:     protocol.CmdStartRound,
		Target:   &protocol.Target{ID: "t1", Name: "secret"},
		Settings: &protocol.Settings{MaxAttempts: 1000},
	}}

	var wg sync.WaitGroup
	drain := func(ch chan protocol.ServerEvent) {
		defer wg.Done()
		for ev := range ch {
			if _, err := json.Marshal(ev); err != nil {
				t.Errorf("marshal %s: %v", ev.Event, err)
			}
		}
	}
	wg.Add(2)
	go drain(aliceOut)
	go drain(bobOut)

	for i := 0; i < 300; i++ {
		a.Inbox() <- FromClient{ConnID: "c2", Cmd: protocol.ClientCommand{
			Type:  protocol.CmdSubmitGuess,
			Guess: &protocol.Guess{Candidate: protocol.Candidate{ID: strconv.Itoa(i), Name: "miss"}},
		}}
		a.Inbox() <- FromClient{ConnID: "c1", Cmd: protocol.ClientCommand{
			Type: protocol.CmdUpdatePlayerNote,
			Note: strconv.Itoa(i),
		}}
	}

	a.Inbox() <- Shutdown{}
	wg.Wait()
}
