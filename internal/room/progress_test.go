package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guessparty/backend/internal/protocol"
)

func TestSyncBarrierAdvancesRound(t *testing.T) {
	rm, rec := newTestRoom(t, "alice", "bob", "carol")
	startRound(t, rm, rec, &protocol.Settings{SyncMode: true})
	require.Equal(t, 1, rm.Session.SyncRound)

	require.NoError(t, rm.SubmitGuess(rec, "conn-bob", wrongGuess("g1")))
	waiting, ok := rec.last(protocol.EvtSyncWaiting)
	require.True(t, ok)
	assert.Equal(t, 1, waiting.Payload.(map[string]any)["completedCount"])
	assert.Equal(t, 3, waiting.Payload.(map[string]any)["totalCount"])
	assert.Equal(t, 0, rec.count(protocol.EvtSyncRoundStarted))

	require.NoError(t, rm.SubmitGuess(rec, "conn-carol", wrongGuess("g2")))
	waiting, ok = rec.last(protocol.EvtSyncWaiting)
	require.True(t, ok)
	assert.Equal(t, 2, waiting.Payload.(map[string]any)["completedCount"])
	assert.Equal(t, 0, rec.count(protocol.EvtSyncRoundStarted))

	require.NoError(t, rm.SubmitGuess(rec, "conn-alice", wrongGuess("g3")))
	assert.Equal(t, 1, rec.count(protocol.EvtSyncRoundStarted), "barrier releases exactly once")
	assert.Equal(t, 2, rm.Session.SyncRound)
	assert.Empty(t, rm.Session.SyncCompleted, "completion set resets for the new round")
}

func TestSyncWinnerWaitsForBarrier(t *testing.T) {
	rm, rec := newTestRoom(t, "alice", "bob", "carol")
	startRound(t, rm, rec, &protocol.Settings{SyncMode: true})

	require.NoError(t, rm.SubmitGuess(rec, "conn-bob", wrongGuess("g1")))
	require.NoError(t, rm.SubmitGuess(rec, "conn-bob", correctGuess("t1")))
	require.NoError(t, rm.DeclareResult(rec, "conn-bob", protocol.ResultWin))

	assert.Equal(t, 0, rec.count(protocol.EvtRoundSettled), "winner waits for slower players")
	assert.GreaterOrEqual(t, rec.count(protocol.EvtSyncEnding), 1)

	require.NoError(t, rm.SubmitGuess(rec, "conn-alice", wrongGuess("g2")))
	assert.Equal(t, 0, rec.count(protocol.EvtRoundSettled))

	require.NoError(t, rm.SubmitGuess(rec, "conn-carol", wrongGuess("g3")))
	assert.Equal(t, 1, rec.count(protocol.EvtRoundSettled), "barrier completion settles")
	assert.Nil(t, rm.Session)
	assert.Equal(t, 4, rm.find("conn-bob").Score)
}

func TestSyncDisconnectReleasesBarrier(t *testing.T) {
	rm, rec := newTestRoom(t, "alice", "bob", "carol")
	startRound(t, rm, rec, &protocol.Settings{SyncMode: true})

	require.NoError(t, rm.SubmitGuess(rec, "conn-bob", wrongGuess("g1")))
	require.NoError(t, rm.SubmitGuess(rec, "conn-alice", wrongGuess("g2")))

	// the only player yet to act disconnects; the barrier must not deadlock
	rm.HandleDisconnect(rec, "conn-carol")
	assert.Equal(t, 1, rec.count(protocol.EvtSyncRoundStarted))
	assert.Equal(t, 2, rm.Session.SyncRound)
}

func TestSyncTagBansBufferUntilBarrier(t *testing.T) {
	rm, rec := newTestRoom(t, "alice", "bob", "carol")
	startRound(t, rm, rec, &protocol.Settings{SyncMode: true, TagBan: true})
	before := rec.count(protocol.EvtTagBanState)

	require.NoError(t, rm.RevealTags(rec, "conn-bob", []string{"fire"}))
	assert.Equal(t, before, rec.count(protocol.EvtTagBanState), "reveal stays buffered mid-round")
	require.Len(t, rm.Session.TagBanPending, 1)
	assert.Empty(t, rm.Session.TagBanState)

	require.NoError(t, rm.SubmitGuess(rec, "conn-bob", wrongGuess("g1")))
	require.NoError(t, rm.SubmitGuess(rec, "conn-alice", wrongGuess("g2")))
	require.NoError(t, rm.SubmitGuess(rec, "conn-carol", wrongGuess("g3")))

	assert.Greater(t, rec.count(protocol.EvtTagBanState), before, "flushed at the round boundary")
	require.Len(t, rm.Session.TagBanState, 1)
	assert.Equal(t, "fire", rm.Session.TagBanState[0].Tag)
	assert.Empty(t, rm.Session.TagBanPending)
}

func TestNonSyncTagBanBroadcastsImmediately(t *testing.T) {
	rm, rec := newTestRoom(t, "alice", "bob")
	startRound(t, rm, rec, &protocol.Settings{TagBan: true})
	before := rec.count(protocol.EvtTagBanState)

	require.NoError(t, rm.RevealTags(rec, "conn-bob", []string{"fire"}))
	assert.Equal(t, before+1, rec.count(protocol.EvtTagBanState))

	// a second reveal of the same tag changes nothing
	require.NoError(t, rm.RevealTags(rec, "conn-alice", []string{"fire"}))
	assert.Equal(t, before+1, rec.count(protocol.EvtTagBanState))
	require.Len(t, rm.Session.TagBanState, 1)
}
