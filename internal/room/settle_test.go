package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guessparty/backend/internal/ledger"
	"github.com/guessparty/backend/internal/protocol"
)

func TestAvatarMatchPromotesWinnerToBigWin(t *testing.T) {
	rm := New("test-room", nil)
	rec := newRecorder()
	require.NoError(t, rm.Join(rec, "c1", "alice", "av-1", ""))
	require.NoError(t, rm.Join(rec, "c2", "bob", "t1", ""))
	rm.find("c2").Ready = true
	require.NoError(t, rm.StartRound(rec, "c1", target("t1", "secret"), nil))

	require.NoError(t, rm.SubmitGuess(rec, "c2", wrongGuess("g1")))
	require.NoError(t, rm.SubmitGuess(rec, "c2", correctGuess("t1")))
	require.NoError(t, rm.DeclareResult(rec, "c2", protocol.ResultWin))

	bob := rm.find("c2")
	assert.True(t, ledger.Has(bob.Ledger, ledger.MarkBigWin), "winner whose avatar is the target is promoted")
	assert.False(t, ledger.Has(bob.Ledger, ledger.MarkWin))
	assert.Equal(t, 14, bob.Score)
}

func TestDeclaredBigWinBeatsAvatarMatch(t *testing.T) {
	rm := New("test-room", nil)
	rec := newRecorder()
	require.NoError(t, rm.Join(rec, "c1", "alice", "av-1", ""))
	require.NoError(t, rm.Join(rec, "c2", "bob", "t1", ""))
	require.NoError(t, rm.Join(rec, "c3", "carol", "av-3", ""))
	rm.find("c2").Ready = true
	rm.find("c3").Ready = true
	require.NoError(t, rm.StartRound(rec, "c1", target("t1", "secret"), nil))

	// carol's genuine first-attempt win settles before bob can benefit
	// from his matching avatar
	require.NoError(t, rm.SubmitGuess(rec, "c3", correctGuess("t1")))
	require.NoError(t, rm.DeclareResult(rec, "c3", protocol.ResultWin))

	assert.Equal(t, 14, rm.find("c3").Score)
	assert.Equal(t, 0, rm.find("c2").Score)
}

func TestMidRoundJoinerResetAtSettlement(t *testing.T) {
	rm, rec := newTestRoom(t, "alice", "bob")
	startRound(t, rm, rec, nil)
	require.NoError(t, rm.Join(rec, "c3", "carol", "", ""))
	require.Equal(t, ObserverTeam, rm.find("c3").Team)

	require.NoError(t, rm.SubmitGuess(rec, "conn-bob", wrongGuess("g1")))
	require.NoError(t, rm.SubmitGuess(rec, "conn-bob", correctGuess("t1")))
	require.NoError(t, rm.DeclareResult(rec, "conn-bob", protocol.ResultWin))

	carol := rm.find("c3")
	assert.Equal(t, "", carol.Team, "mid-round joiner returns to the floor")
	assert.False(t, carol.JoinedDuringGame)
	assert.False(t, carol.Ready)
}

func TestSettlementSharesScoreAmongSyncWinners(t *testing.T) {
	rm, rec := newTestRoom(t, "alice", "bob", "carol")
	startRound(t, rm, rec, &protocol.Settings{SyncMode: true})

	require.NoError(t, rm.SubmitGuess(rec, "conn-bob", wrongGuess("g1")))
	require.NoError(t, rm.SubmitGuess(rec, "conn-bob", correctGuess("t1")))
	require.NoError(t, rm.DeclareResult(rec, "conn-bob", protocol.ResultWin))

	require.NoError(t, rm.SubmitGuess(rec, "conn-carol", wrongGuess("g2")))
	require.NoError(t, rm.SubmitGuess(rec, "conn-carol", correctGuess("t1")))
	require.NoError(t, rm.DeclareResult(rec, "conn-carol", protocol.ResultWin))

	require.NoError(t, rm.SubmitGuess(rec, "conn-alice", wrongGuess("g3")))

	assert.Equal(t, 1, rec.count(protocol.EvtRoundSettled))
	assert.Equal(t, rm.find("conn-bob").Score, rm.find("conn-carol").Score,
		"every sync winner takes the primary winner's score")
	assert.Equal(t, 4, rm.find("conn-bob").Score)
}

func TestSettlementOmitsRosterChurn(t *testing.T) {
	rm, rec := newTestRoom(t, "alice", "bob")
	startRound(t, rm, rec, nil)
	forcedBefore := rec.rosterForce

	require.NoError(t, rm.SubmitGuess(rec, "conn-bob", wrongGuess("g1")))
	require.NoError(t, rm.SubmitGuess(rec, "conn-bob", correctGuess("t1")))
	require.NoError(t, rm.DeclareResult(rec, "conn-bob", protocol.ResultWin))

	assert.Greater(t, rec.rosterForce, forcedBefore, "settlement flushes the roster immediately")
}
