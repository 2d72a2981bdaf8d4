package room

import (
	"fmt"
	"strings"

	"github.com/guessparty/backend/internal/ledger"
	"github.com/guessparty/backend/internal/protocol"
)

type flowOptions struct {
	force      bool
	skipState  bool
	skipRoster bool
}

type syncStatusEntry struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Completed bool   `json:"completed"`
}

// syncParticipants are the players still subject to the sync barrier.
func (r *Room) syncParticipants() []*Player {
	var out []*Player
	for _, p := range r.Players {
		if p.IsSetter || p.Team == ObserverTeam || p.Disconnected || ledger.Ended(p.Ledger) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *Room) syncStatus(players []*Player) []syncStatusEntry {
	status := make([]syncStatusEntry, 0, len(players))
	for _, p := range players {
		status = append(status, syncStatusEntry{
			ID:        p.ID,
			Username:  p.Username,
			Completed: r.Session.SyncCompleted[p.ID],
		})
	}
	return status
}

func completedCount(status []syncStatusEntry) int {
	n := 0
	for _, s := range status {
		if s.Completed {
			n++
		}
	}
	return n
}

func syncWaitingPayload(round int, status []syncStatusEntry) map[string]any {
	return map[string]any{
		"round":          round,
		"syncStatus":     status,
		"completedCount": completedCount(status),
		"totalCount":     len(status),
	}
}

func (r *Room) syncEndingPayload() map[string]any {
	name := ""
	if r.Session.SyncWinner != nil {
		name = r.Session.SyncWinner.Username
	}
	return map[string]any{
		"winnerUsername": name,
		"message":        fmt.Sprintf("%s 已猜对！等待本轮结束...", name),
	}
}

// updateSyncProgress is the sync-mode barrier: once every participant shows
// round-complete it flushes buffered tag bans and either advances the round
// or, when a winner is already recorded outside nonstop mode, forces
// settlement so finished players are not kept waiting.
func (r *Room) updateSyncProgress(e Emitter) {
	s := r.Session
	if s == nil || !s.Settings.SyncMode || s.SyncCompleted == nil {
		return
	}

	players := r.syncParticipants()
	if len(players) == 0 {
		return
	}

	for _, p := range players {
		if p.syncCompletedRound != 0 && p.syncCompletedRound == s.SyncRound {
			s.SyncCompleted[p.ID] = true
		}
	}

	status := r.syncStatus(players)
	allCompleted := completedCount(status) == len(status)

	if !allCompleted {
		e.Room(protocol.EvtSyncWaiting, syncWaitingPayload(s.SyncRound, status))
		if !s.Settings.NonstopMode && s.SyncWinnerFound {
			e.Room(protocol.EvtSyncEnding, r.syncEndingPayload())
		}
		return
	}

	if flushed := r.flushPendingTagBans(dedupeByTag); flushed {
		e.Room(protocol.EvtTagBanState, r.tagBanPayload())
	}

	if !s.Settings.NonstopMode && s.SyncWinnerFound {
		s.SyncReadyToEnd = true
		e.Room(protocol.EvtSyncWaiting, syncWaitingPayload(s.SyncRound, status))
		e.Room(protocol.EvtSyncEnding, r.syncEndingPayload())
		r.finalizeStandard(e, true)
		return
	}

	s.SyncReadyToEnd = false
	s.SyncRound++
	s.SyncCompleted = make(map[string]bool)
	for _, p := range r.Players {
		p.syncCompletedRound = 0
	}
	if s.Settings.NonstopMode {
		s.SyncRoundStartRank = len(s.NonstopWinners) + 1
	}

	next := r.syncStatus(r.syncParticipants())
	e.Room(protocol.EvtSyncRoundStarted, map[string]any{"round": s.SyncRound})
	e.Room(protocol.EvtSyncWaiting, syncWaitingPayload(s.SyncRound, next))
}

// tag-ban flush strategies: at the round barrier only brand-new tags are
// admitted; at settlement revealer lists additionally merge into existing
// entries.
const (
	dedupeByTag = iota
	mergeRevealers
)

func (r *Room) flushPendingTagBans(mode int) bool {
	s := r.Session
	if len(s.TagBanPending) == 0 {
		return false
	}
	changed := false
	for _, pending := range s.TagBanPending {
		if pending == nil {
			continue
		}
		tag := strings.TrimSpace(pending.Tag)
		if tag == "" {
			continue
		}
		existing := findTag(s.TagBanState, tag)
		if existing == nil {
			revealers := make([]string, 0, len(pending.Revealers))
			for _, id := range pending.Revealers {
				if id != "" && !containsString(revealers, id) {
					revealers = append(revealers, id)
				}
			}
			s.TagBanState = append(s.TagBanState, &protocol.TagBanEntry{Tag: tag, Revealers: revealers})
			changed = true
			continue
		}
		if mode == mergeRevealers {
			for _, id := range pending.Revealers {
				if id != "" && !containsString(existing.Revealers, id) {
					existing.Revealers = append(existing.Revealers, id)
					changed = true
				}
			}
		}
	}
	s.TagBanPending = nil
	return changed
}

// broadcastModeState pushes the current sync/nonstop progress to the room.
func (r *Room) broadcastModeState(e Emitter) {
	s := r.Session
	if s == nil {
		return
	}

	if s.Settings.SyncMode {
		status := r.syncStatus(r.syncParticipants())
		e.Room(protocol.EvtSyncWaiting, syncWaitingPayload(s.SyncRound, status))
		if s.SyncWinnerFound && !s.Settings.NonstopMode {
			e.Room(protocol.EvtSyncEnding, r.syncEndingPayload())
		}
	}

	if s.Settings.NonstopMode {
		active, remaining := 0, 0
		for _, p := range r.Players {
			if p.IsSetter || p.Team == ObserverTeam || p.Disconnected {
				continue
			}
			active++
			if !ledger.Ended(p.Ledger) {
				remaining++
			}
		}
		winners := make([]map[string]any, 0, len(s.NonstopWinners))
		for i, w := range s.NonstopWinners {
			winners = append(winners, map[string]any{
				"username": w.Username,
				"rank":     i + 1,
				"score":    w.Score,
			})
		}
		e.Room(protocol.EvtNonstopProgress, map[string]any{
			"winners":        winners,
			"remainingCount": remaining,
			"totalCount":     active,
		})
	}
}

// runFlow is the settlement orchestrator called after every state-changing
// event: advance the sync barrier, broadcast progress, then attempt the
// mode-appropriate finalization.
func (r *Room) runFlow(e Emitter, opts flowOptions) bool {
	if r.Session == nil {
		return false
	}

	if r.Session.Settings.SyncMode {
		r.updateSyncProgress(e)
	}
	if !opts.skipState {
		r.broadcastModeState(e)
	}

	var finalized bool
	if r.Session != nil && r.Session.Settings.NonstopMode {
		finalized = r.finalizeNonstop(e)
	} else if r.Session != nil {
		finalized = r.finalizeStandard(e, opts.force)
	}

	if !finalized && !opts.skipRoster {
		e.Roster(false)
	}
	return finalized
}
