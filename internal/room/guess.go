package room

import (
	"fmt"

	"github.com/guessparty/backend/internal/engine"
	"github.com/guessparty/backend/internal/ledger"
	"github.com/guessparty/backend/internal/protocol"
)

func (r *Room) teammates(team string, excludeID string) []*Player {
	var out []*Player
	for _, p := range r.Players {
		if p.Team == team && !p.IsSetter && !p.Disconnected && (excludeID == "" || p.ID != excludeID) {
			out = append(out, p)
		}
	}
	return out
}

// fanOutTeamLedger copies the shared team ledger onto every eligible
// teammate.
func (r *Room) fanOutTeamLedger(team string) {
	shared := r.Session.TeamLedgers[team]
	for _, tm := range r.teammates(team, "") {
		tm.Ledger = shared
	}
}

// SubmitGuess records one guess: history append with targeted visibility,
// ledger mark with team fan-out, exhaustion handling and sync completion.
func (r *Room) SubmitGuess(e Emitter, connID string, g protocol.Guess) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if r.Session == nil {
		return ErrNoRound
	}
	r.touch()
	if p.Team == ObserverTeam || p.TempObserver {
		return ErrObserving
	}
	if ledger.Ended(p.Ledger) {
		return nil
	}

	s := r.Session
	limit := s.Settings.AttemptLimit()

	if s.Settings.GlobalPick && !s.Settings.SyncMode {
		claimed := false
		for _, h := range s.Histories {
			if h.Username == p.Username {
				continue
			}
			for _, rec := range h.Guesses {
				if rec.Candidate.ID == g.Candidate.ID {
					claimed = true
					break
				}
			}
		}
		if claimed && (!s.Settings.NonstopMode || !g.IsCorrect) {
			return ErrCandidateClaimed
		}
	}

	if hist := s.history(p.Username); hist != nil {
		hist.Guesses = append(hist.Guesses, GuessRecord{PlayerID: connID, PlayerName: p.Username, Guess: g})
		// Only the submitter, teammates, the setter and observers may see
		// the updated history; everyone else keeps guessing blind.
		for _, target := range r.Players {
			if target.ID == connID || target.IsSetter || target.Team == ObserverTeam ||
				target.Team == p.Team || target.TempObserver {
				e.Player(target.ID, protocol.EvtGuessHistory, r.historyPayload())
			}
		}
	}

	for _, recipient := range r.Players {
		if recipient.ID == connID {
			continue
		}
		sameTeam := recipient.Team != "" && recipient.Team == p.Team && !recipient.IsSetter
		if sameTeam || recipient.Team == ObserverTeam || recipient.IsSetter {
			e.Player(recipient.ID, protocol.EvtGuessShared, map[string]any{
				"candidate":  g.Candidate,
				"playerId":   connID,
				"playerName": p.Username,
			})
		}
	}

	mark := ledger.MarkIncorrect
	if g.IsCorrect {
		mark = ledger.MarkCorrect
	} else if g.IsPartialCorrect {
		mark = ledger.MarkPartial
	}

	if p.Team != "" && p.Team != ObserverTeam {
		s.TeamLedgers[p.Team] = ledger.Append(s.TeamLedgers[p.Team], mark)
		r.fanOutTeamLedger(p.Team)

		if s.Settings.SyncMode && ledger.Attempts(s.TeamLedgers[p.Team]) >= limit {
			for _, tm := range r.teammates(p.Team, "") {
				if !ledger.Ended(tm.Ledger) {
					tm.Ledger = ledger.Append(tm.Ledger, ledger.MarkDead)
				}
				s.SyncCompleted[tm.ID] = true
			}
			r.updateSyncProgress(e)
		}
	} else {
		p.Ledger = ledger.Append(p.Ledger, mark)
	}

	if s.Settings.SyncMode {
		if !g.IsCorrect {
			s.SyncCompleted[connID] = true
			if p.Team != "" && p.Team != ObserverTeam {
				for _, tm := range r.teammates(p.Team, connID) {
					s.SyncCompleted[tm.ID] = true
				}
			}
		}
		r.updateSyncProgress(e)
	}

	if !s.Settings.SyncMode && !s.Settings.NonstopMode {
		counted := p.Ledger
		if p.Team != "" && p.Team != ObserverTeam {
			counted = s.TeamLedgers[p.Team]
		}
		if ledger.Attempts(counted) >= limit && !ledger.Ended(p.Ledger) {
			p.Ledger = ledger.Append(p.Ledger, ledger.MarkDead)
			r.log.Infow("out of attempts", "player", p.Username)
		}
	}

	e.Roster(false)
	r.runFlow(e, flowOptions{})
	return nil
}

// DeclareResult ends the caller's participation with the given result. A
// plain win on the very first attempt is upgraded to a big win regardless
// of what the client claimed. Wins under nonstop mode go through the
// arrival-ranked nonstop path.
func (r *Room) DeclareResult(e Emitter, connID, result string) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if r.Session == nil {
		return ErrNoRound
	}
	r.touch()
	s := r.Session

	final := result
	if result == protocol.ResultWin && ledger.Attempts(p.Ledger) == 1 && !ledger.Has(p.Ledger, ledger.MarkBigWin) {
		final = protocol.ResultBigWin
	}

	if s.Settings.NonstopMode && (final == protocol.ResultWin || final == protocol.ResultBigWin) {
		return r.nonstopWin(e, p, final == protocol.ResultBigWin)
	}

	teamPlay := p.Team != "" && p.Team != ObserverTeam

	switch final {
	case protocol.ResultSurrender:
		p.Ledger = ledger.Append(p.Ledger, ledger.MarkSurrender)
		if teamPlay {
			s.TeamLedgers[p.Team] = ledger.Append(s.TeamLedgers[p.Team], ledger.MarkSurrender)
		}
	case protocol.ResultWin:
		p.Ledger = ledger.Append(p.Ledger, ledger.MarkWin)
		if s.FirstWinner == nil {
			s.FirstWinner = &WinnerRef{ID: connID, Username: p.Username}
		}
		if teamPlay {
			r.markTeamVictory(e, p)
		}
	case protocol.ResultBigWin:
		p.Ledger = ledger.Append(p.Ledger, ledger.MarkBigWin)
		if s.FirstWinner == nil || !s.FirstWinner.IsBigWin {
			s.FirstWinner = &WinnerRef{ID: connID, Username: p.Username, IsBigWin: true}
		}
		if teamPlay {
			r.markTeamVictory(e, p)
		}
	default: // lose
		p.Ledger = ledger.Append(p.Ledger, ledger.MarkDead)
		if teamPlay {
			s.TeamLedgers[p.Team] = ledger.Append(s.TeamLedgers[p.Team], ledger.MarkDead)
			r.fanOutTeamLedger(p.Team)
		}
	}

	if s.Settings.SyncMode {
		if !s.Settings.NonstopMode && (final == protocol.ResultWin || final == protocol.ResultBigWin) {
			s.SyncWinnerFound = true
			s.SyncWinner = &WinnerRef{ID: connID, Username: p.Username, IsBigWin: final == protocol.ResultBigWin}
		}
		s.SyncCompleted[connID] = true
		if s.Settings.NonstopMode && teamPlay {
			for _, tm := range r.teammates(p.Team, connID) {
				s.SyncCompleted[tm.ID] = true
			}
		}
		e.Roster(false)
		r.updateSyncProgress(e)
	}

	r.runFlow(e, flowOptions{})
	r.log.Infow("result declared", "player", p.Username, "result", final)
	return nil
}

// nonstopWin records an arrival-ranked win: the earlier you finish, the
// higher the base score.
func (r *Room) nonstopWin(e Emitter, p *Player, isBigWin bool) error {
	s := r.Session
	for _, w := range s.NonstopWinners {
		if w.ID == p.ID {
			return nil
		}
	}
	if p.TempObserver {
		return ErrObserving
	}
	teamPlay := p.Team != "" && p.Team != ObserverTeam
	if teamPlay {
		for _, w := range s.NonstopWinners {
			if wp := r.find(w.ID); wp != nil && wp.Team == p.Team {
				return ErrTeammateWon
			}
		}
	}

	if !isBigWin && ledger.Attempts(p.Ledger) == 1 {
		isBigWin = true
	}
	mark := ledger.MarkWin
	if isBigWin {
		mark = ledger.MarkBigWin
	}
	p.Ledger = ledger.Append(p.Ledger, mark)
	delete(s.SyncCompleted, p.ID)
	if teamPlay {
		r.markTeamVictory(e, p)
	}
	if s.Settings.SyncMode {
		s.SyncCompleted[p.ID] = true
		if teamPlay {
			for _, tm := range r.teammates(p.Team, p.ID) {
				s.SyncCompleted[tm.ID] = true
			}
		}
		r.updateSyncProgress(e)
	}

	base := engine.NonstopRankBase(s.InitialActive, len(s.NonstopWinners))
	res := engine.WinnerScore(p.Ledger, base, s.Settings.AttemptLimit())
	p.Score += res.Total
	s.NonstopWinners = append(s.NonstopWinners, &NonstopWinner{
		ID:       p.ID,
		Username: p.Username,
		Team:     p.Team,
		IsBigWin: isBigWin,
		Score:    res.Total,
		Bonuses:  res.Bonuses,
	})

	r.broadcastModeState(e)
	e.Roster(false)
	r.log.Infow("nonstop win", "player", p.Username, "rank", len(s.NonstopWinners), "score", res.Total)
	r.runFlow(e, flowOptions{skipRoster: true})
	return nil
}

// markTeamVictory relays a win to the winner's teammates: they receive the
// team-relay mark, keep their team, and sit out the rest of the round.
func (r *Room) markTeamVictory(e Emitter, winner *Player) {
	s := r.Session
	if winner.Team != "" && winner.Team != ObserverTeam {
		s.TeamLedgers[winner.Team] = ledger.Append(s.TeamLedgers[winner.Team], ledger.MarkTeamWin)
	}
	for _, tm := range r.teammates(winner.Team, winner.ID) {
		tm.Ledger = ledger.Append(tm.Ledger, ledger.MarkTeamWin)
		tm.TempObserver = true
		delete(s.SyncCompleted, tm.ID)
		e.Player(tm.ID, protocol.EvtTeamWin, map[string]any{
			"winnerName": winner.Username,
			"message":    fmt.Sprintf("队友 %s 已猜对！", winner.Username),
		})
	}
	if !s.Settings.NonstopMode && s.Settings.SyncMode {
		winner.TempObserver = true
	}
	e.Roster(false)
}

// Timeout charges the player one attempt for an expired turn timer and
// handles the resulting exhaustion. Team timers reset for every teammate.
func (r *Room) Timeout(e Emitter, connID string) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if r.Session == nil {
		return ErrNoRound
	}
	s := r.Session
	limit := s.Settings.AttemptLimit()

	p.Ledger = ledger.Append(p.Ledger, ledger.MarkTimeout)

	if p.Team != "" && p.Team != ObserverTeam {
		s.TeamLedgers[p.Team] = ledger.Append(s.TeamLedgers[p.Team], ledger.MarkTimeout)
		for _, tm := range r.teammates(p.Team, "") {
			tm.Ledger = s.TeamLedgers[p.Team]
			e.Player(tm.ID, protocol.EvtResetTimer, nil)
		}
		if ledger.Attempts(s.TeamLedgers[p.Team]) >= limit {
			for _, tm := range r.teammates(p.Team, "") {
				if !ledger.Ended(tm.Ledger) {
					tm.Ledger = ledger.Append(tm.Ledger, ledger.MarkDead)
				}
				if s.Settings.SyncMode {
					s.SyncCompleted[tm.ID] = true
				}
			}
		}
	} else if p.Team == "" {
		if ledger.Attempts(p.Ledger) >= limit && !ledger.Ended(p.Ledger) {
			p.Ledger = ledger.Append(p.Ledger, ledger.MarkDead)
		}
	}

	if s.Settings.SyncMode && !ledger.Ended(p.Ledger) {
		s.SyncCompleted[connID] = true
		p.syncCompletedRound = s.SyncRound
		r.updateSyncProgress(e)
	}

	e.Room(protocol.EvtGuessHistory, r.historyPayload())
	e.Roster(false)
	r.runFlow(e, flowOptions{})
	return nil
}

// EnterObserver excuses the player from the rest of the round. Leaving
// voluntarily counts as surrender unless attempts were already exhausted,
// which counts as elimination.
func (r *Room) EnterObserver(e Emitter, connID string) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if r.Session == nil {
		return ErrNoRound
	}
	r.touch()
	s := r.Session

	if !ledger.Ended(p.Ledger) {
		counted := p.Ledger
		teamPlay := p.Team != "" && p.Team != ObserverTeam
		if teamPlay {
			counted = s.TeamLedgers[p.Team]
		}
		endMark := ledger.MarkSurrender
		if ledger.Attempts(counted) >= s.Settings.AttemptLimit() {
			endMark = ledger.MarkDead
		}
		if teamPlay {
			s.TeamLedgers[p.Team] = ledger.Append(s.TeamLedgers[p.Team], endMark)
			r.fanOutTeamLedger(p.Team)
		} else {
			p.Ledger = ledger.Append(p.Ledger, endMark)
		}
	}

	p.TempObserver = true
	e.Roster(false)
	r.runFlow(e, flowOptions{})
	return nil
}

// RevealTags accumulates tag-ban entries revealed by a guess. Under sync
// mode entries buffer until the round boundary so slower players do not
// learn them early.
func (r *Room) RevealTags(e Emitter, connID string, tags []string) error {
	if r.Session == nil || !r.Session.Settings.TagBan {
		return nil
	}
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if len(tags) == 0 {
		return nil
	}
	s := r.Session

	target := &s.TagBanState
	if s.Settings.SyncMode {
		target = &s.TagBanPending
	}

	changed := false
	for _, tag := range tags {
		if findTag(s.TagBanState, tag) != nil {
			continue
		}
		entry := findTag(*target, tag)
		if entry == nil {
			entry = &protocol.TagBanEntry{Tag: tag}
			*target = append(*target, entry)
			changed = true
		}
		if len(entry.Revealers) == 0 {
			entry.Revealers = []string{p.ID}
			changed = true
		} else if s.Settings.SyncMode && !containsString(entry.Revealers, p.ID) {
			entry.Revealers = append(entry.Revealers, p.ID)
		}
	}

	if !changed || s.Settings.SyncMode {
		return nil
	}
	e.Room(protocol.EvtTagBanState, r.tagBanPayload())
	return nil
}

func findTag(entries []*protocol.TagBanEntry, tag string) *protocol.TagBanEntry {
	for _, entry := range entries {
		if entry != nil && entry.Tag == tag {
			return entry
		}
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
