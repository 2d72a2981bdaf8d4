package room

import (
	"github.com/guessparty/backend/internal/engine"
	"github.com/guessparty/backend/internal/ledger"
	"github.com/guessparty/backend/internal/protocol"
)

// ScoreChange is the per-player settlement delta with its breakdown.
type ScoreChange struct {
	Score     int            `json:"score"`
	Breakdown map[string]int `json:"breakdown"`
	Result    string         `json:"result"`
}

// PlayerScore is one player's line in the settlement details.
type PlayerScore struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Team      string         `json:"team,omitempty"`
	Score     int            `json:"score"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
	Result    string         `json:"result,omitempty"`
}

// ScoreDetail is one entry of the settlement payload: a team block, a solo
// player, or the setter.
type ScoreDetail struct {
	Type      string         `json:"type"`
	TeamID    string         `json:"teamId,omitempty"`
	TeamScore int            `json:"teamScore,omitempty"`
	Members   []PlayerScore  `json:"members,omitempty"`
	ID        string         `json:"id,omitempty"`
	Username  string         `json:"username,omitempty"`
	Team      string         `json:"team,omitempty"`
	Score     int            `json:"score"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
	Result    string         `json:"result,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// settledPlayers are the players considered at settlement: everyone but the
// setter and permanent observers, plus temporary observers (who keep their
// score history).
func (r *Room) settledPlayers() []*Player {
	var out []*Player
	for _, p := range r.Players {
		if p.IsSetter {
			continue
		}
		if p.Team != ObserverTeam || p.TempObserver {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) findSetter() *Player {
	for _, p := range r.Players {
		if p.IsSetter {
			return p
		}
	}
	return nil
}

// partialAwardees maps the session's guess histories onto the pure scoring
// engine's partial-credit rule.
func (r *Room) partialAwardees() map[string]bool {
	var guesses []engine.PartialGuess
	for _, h := range r.Session.Histories {
		for i, g := range h.Guesses {
			guesses = append(guesses, engine.PartialGuess{
				PlayerID: g.PlayerID,
				Index:    i,
				Correct:  g.IsCorrect,
				Partial:  g.IsPartialCorrect,
			})
		}
	}
	eligible := make(map[string]engine.PartialCandidate)
	for _, p := range r.Players {
		if p.IsSetter || p.Team == ObserverTeam {
			continue
		}
		groupKey := "solo:" + p.ID
		if p.Team != "" {
			groupKey = "team:" + p.Team
		}
		eligible[p.ID] = engine.PartialCandidate{PlayerID: p.ID, Name: p.Username, GroupKey: groupKey}
	}
	return engine.PartialAwardees(guesses, eligible)
}

func (r *Room) awardPartialPoints(awardees map[string]bool, winnerIDs map[string]bool) {
	for _, p := range r.Players {
		if p.IsSetter || p.Team == ObserverTeam || winnerIDs[p.ID] {
			continue
		}
		if awardees[p.ID] {
			p.Score++
		}
	}
}

// finalizeStandard settles free-for-all, team and sync rounds. It returns
// false while the round must keep running; under sync mode an un-forced
// call waits for the barrier even when a winner exists.
func (r *Room) finalizeStandard(e Emitter, force bool) bool {
	s := r.Session
	if s == nil || s.Settings.NonstopMode {
		return false
	}

	if s.Settings.SyncMode {
		if r.flushPendingTagBans(mergeRevealers) {
			e.Room(protocol.EvtTagBanState, r.tagBanPayload())
		}
	}

	active := r.settledPlayers()
	allEnded := true
	for _, p := range active {
		if !ledger.Ended(p.Ledger) && !p.Disconnected {
			allEnded = false
			break
		}
	}

	syncStd := s.Settings.SyncMode && !s.Settings.NonstopMode
	winners := r.pickWinners(active, syncStd)

	var primary *Player
	if len(winners) > 0 {
		primary = winners[0]
	}

	if primary != nil && syncStd && !allEnded && !s.SyncReadyToEnd && !force {
		e.Roster(false)
		return false
	}
	if primary == nil && !allEnded {
		return false
	}

	setter := r.findSetter()
	awardees := r.partialAwardees()
	limit := s.Settings.AttemptLimit()

	// prefer the recorded first winner as the primary for shared scoring
	if s.FirstWinner != nil {
		for _, w := range winners {
			if w.ID == s.FirstWinner.ID {
				primary = w
				break
			}
		}
	}

	winnerResults := make(map[string]engine.WinnerResult)
	var sharedDetail engine.WinnerResult
	if syncStd && primary != nil {
		// one shared score for every sync winner, derived from the primary
		shared := engine.WinnerScore(primary.Ledger, 2, limit)
		sharedDetail = engine.WinnerScore(primary.Ledger, 0, limit)
		for _, w := range winners {
			w.Score += shared.Total
			winnerResults[w.ID] = engine.WinnerResult{
				Total:    shared.Total,
				Attempts: sharedDetail.Attempts,
				IsBigWin: shared.IsBigWin,
				Bonuses:  shared.Bonuses,
			}
		}
	} else {
		for _, w := range winners {
			res := engine.WinnerScore(w.Ledger, 2, limit)
			w.Score += res.Total
			winnerResults[w.ID] = res
		}
		if primary != nil {
			sharedDetail = engine.WinnerScore(primary.Ledger, 0, limit)
		}
	}

	winnerIDs := make(map[string]bool, len(winners))
	for _, w := range winners {
		winnerIDs[w.ID] = true
	}
	r.awardPartialPoints(awardees, winnerIDs)

	winnerAttempts := 0
	if primary != nil {
		winnerAttempts = sharedDetail.Attempts
	}
	bigWinnerScore := 0
	if syncStd && primary != nil && ledger.Has(primary.Ledger, ledger.MarkBigWin) {
		bigWinnerScore = winnerResults[primary.ID].Total
	} else {
		for _, w := range winners {
			if ledger.Has(w.Ledger, ledger.MarkBigWin) {
				if res := engine.WinnerScore(w.Ledger, 2, limit); res.Total > bigWinnerScore {
					bigWinnerScore = res.Total
				}
			}
		}
	}

	changes := r.buildStandardChanges(winners, winnerResults, awardees)

	var setterInfo *ScoreDetail
	if setter != nil {
		primaryLedger := ""
		if primary != nil {
			primaryLedger = primary.Ledger
		}
		res := engine.SetterScore(primaryLedger, winnerAttempts, bigWinnerScore, limit)
		setter.Score += res.Score
		setterInfo = &ScoreDetail{Type: "setter", Username: setter.Username, Score: res.Score, Reason: res.Reason}
	}

	e.Room(protocol.EvtRoundSettled, map[string]any{
		"guesses":      s.Histories,
		"scoreDetails": r.scoreDetails(changes, setterInfo),
	})

	r.endSession(e, false)
	r.log.Infow("round settled", "forced", force)
	return true
}

// pickWinners resolves the round's winner(s). Sync rounds share the win
// among everyone who guessed right; otherwise there is a single winner
// chosen by: recorded big win, then avatar-match promotion (a winner whose
// avatar is the secret target is upgraded to a big win), then the recorded
// first winner.
func (r *Room) pickWinners(active []*Player, syncStd bool) []*Player {
	s := r.Session

	if syncStd {
		var winners []*Player
		for _, p := range active {
			if ledger.Has(p.Ledger, ledger.MarkWin) || ledger.Has(p.Ledger, ledger.MarkBigWin) {
				winners = append(winners, p)
			}
		}
		return winners
	}

	findByID := func(id string) *Player {
		for _, p := range active {
			if p.ID == id {
				return p
			}
		}
		return nil
	}
	findByMark := func(mark rune) *Player {
		for _, p := range active {
			if ledger.Has(p.Ledger, mark) {
				return p
			}
		}
		return nil
	}

	var bigWinner *Player
	if s.FirstWinner != nil && s.FirstWinner.IsBigWin {
		bigWinner = findByID(s.FirstWinner.ID)
		if bigWinner == nil {
			bigWinner = findByMark(ledger.MarkBigWin)
		}
	} else {
		bigWinner = findByMark(ledger.MarkBigWin)
	}

	if bigWinner == nil && s.Target.ID != "" {
		for _, p := range active {
			won := ledger.Has(p.Ledger, ledger.MarkWin) || ledger.Has(p.Ledger, ledger.MarkBigWin)
			if won && p.AvatarID != "" && p.AvatarID == s.Target.ID {
				bigWinner = p
				if !ledger.Has(p.Ledger, ledger.MarkBigWin) {
					p.Ledger = ledger.Append(stripMark(p.Ledger, ledger.MarkWin), ledger.MarkBigWin)
				}
				break
			}
		}
	}

	var winner *Player
	if bigWinner == nil {
		if s.FirstWinner != nil && !s.FirstWinner.IsBigWin {
			winner = findByID(s.FirstWinner.ID)
		}
		if winner == nil {
			winner = findByMark(ledger.MarkWin)
		}
	}

	if bigWinner != nil {
		return []*Player{bigWinner}
	}
	if winner != nil {
		return []*Player{winner}
	}
	return nil
}

func stripMark(l string, mark rune) string {
	out := make([]rune, 0, len(l))
	for _, r := range l {
		if r != mark {
			out = append(out, r)
		}
	}
	return string(out)
}

func (r *Room) buildStandardChanges(winners []*Player, winnerResults map[string]engine.WinnerResult, awardees map[string]bool) map[string]ScoreChange {
	changes := make(map[string]ScoreChange)
	winnerIDs := make(map[string]bool, len(winners))
	for _, w := range winners {
		winnerIDs[w.ID] = true
	}

	for _, p := range r.settledPlayers() {
		if winnerIDs[p.ID] {
			res := winnerResults[p.ID]
			// the bonus keys are always present, zero when unearned
			breakdown := map[string]int{
				"base":       2,
				"bigWin":     res.Bonuses.BigWin,
				"quickGuess": res.Bonuses.QuickGuess,
			}
			result := "win"
			if ledger.Has(p.Ledger, ledger.MarkBigWin) {
				result = "bigwin"
			}
			changes[p.ID] = ScoreChange{Score: res.Total, Breakdown: breakdown, Result: result}
			continue
		}

		change := ScoreChange{Breakdown: map[string]int{}}
		if awardees[p.ID] {
			change.Score = 1
			change.Breakdown["partial"] = 1
		}
		switch ledger.Last(p.Ledger) {
		case ledger.MarkTeamWin:
			change.Result = "teamwin"
		case ledger.MarkDead:
			change.Result = "lose"
		case ledger.MarkSurrender:
			change.Result = "surrender"
		}
		changes[p.ID] = change
	}
	return changes
}

// finalizeNonstop settles an elimination round once no active player is
// left without a terminal mark.
func (r *Room) finalizeNonstop(e Emitter) bool {
	s := r.Session
	if s == nil || !s.Settings.NonstopMode {
		return false
	}

	var active []*Player
	for _, p := range r.Players {
		if p.IsSetter || p.Team == ObserverTeam || p.Disconnected {
			continue
		}
		active = append(active, p)
	}
	for _, p := range active {
		if !ledger.Ended(p.Ledger) {
			return false
		}
	}

	setter := r.findSetter()
	awardees := r.partialAwardees()
	winnerIDs := make(map[string]bool, len(s.NonstopWinners))
	for _, w := range s.NonstopWinners {
		winnerIDs[w.ID] = true
	}
	r.awardPartialPoints(awardees, winnerIDs)

	hasBigWinner := false
	bigWinnerScore := 0
	for _, w := range s.NonstopWinners {
		if wp := r.find(w.ID); wp != nil && ledger.Has(wp.Ledger, ledger.MarkBigWin) {
			hasBigWinner = true
			bigWinnerScore = w.Score
			break
		}
	}

	changes := r.buildNonstopChanges(awardees, winnerIDs)

	var setterInfo *ScoreDetail
	if setter != nil {
		res := engine.NonstopSetterScore(hasBigWinner, bigWinnerScore, len(s.NonstopWinners), len(active))
		setter.Score += res.Score
		setterInfo = &ScoreDetail{Type: "setter", Username: setter.Username, Score: res.Score, Reason: res.Reason}
	}

	e.Room(protocol.EvtRoundSettled, map[string]any{
		"guesses":      s.Histories,
		"scoreDetails": r.scoreDetails(changes, setterInfo),
	})

	e.Room(protocol.EvtReadyReset, nil)
	r.endSession(e, true)
	r.log.Infow("nonstop round settled", "winners", len(winnerIDs))
	return true
}

func (r *Room) buildNonstopChanges(awardees, winnerIDs map[string]bool) map[string]ScoreChange {
	s := r.Session
	changes := make(map[string]ScoreChange)

	for i, w := range s.NonstopWinners {
		isBigWin := false
		if wp := r.find(w.ID); wp != nil {
			isBigWin = ledger.Has(wp.Ledger, ledger.MarkBigWin)
		}
		breakdown := map[string]int{
			"rank": i + 1,
			"base": max(0, w.Score-w.Bonuses.BigWin-w.Bonuses.QuickGuess),
		}
		if w.Bonuses.BigWin != 0 {
			breakdown["bigWin"] = w.Bonuses.BigWin
		}
		if w.Bonuses.QuickGuess != 0 {
			breakdown["quickGuess"] = w.Bonuses.QuickGuess
		}
		result := "win"
		if isBigWin {
			result = "bigwin"
		}
		changes[w.ID] = ScoreChange{Score: w.Score, Breakdown: breakdown, Result: result}
	}

	for _, p := range r.settledPlayers() {
		if winnerIDs[p.ID] {
			continue
		}
		change := ScoreChange{Breakdown: map[string]int{}}
		if awardees[p.ID] {
			change.Score = 1
			change.Breakdown["partial"] = 1
		}
		switch ledger.Last(p.Ledger) {
		case ledger.MarkDead:
			change.Result = "lose"
		case ledger.MarkSurrender:
			change.Result = "surrender"
		}
		changes[p.ID] = change
	}
	return changes
}

// scoreDetails groups per-player changes into team blocks (teams of one
// collapse into solo entries) and appends the setter's line.
func (r *Room) scoreDetails(changes map[string]ScoreChange, setterInfo *ScoreDetail) []ScoreDetail {
	teamOrder := []string{}
	teamMembers := map[string][]PlayerScore{}
	var solo []PlayerScore

	for _, p := range r.Players {
		if p.Team == ObserverTeam || p.IsSetter {
			continue
		}
		change := changes[p.ID]
		entry := PlayerScore{
			ID:        p.ID,
			Username:  p.Username,
			Team:      p.Team,
			Score:     change.Score,
			Breakdown: change.Breakdown,
			Result:    change.Result,
		}
		if p.Team != "" {
			if _, ok := teamMembers[p.Team]; !ok {
				teamOrder = append(teamOrder, p.Team)
			}
			teamMembers[p.Team] = append(teamMembers[p.Team], entry)
		} else {
			solo = append(solo, entry)
		}
	}

	var details []ScoreDetail
	for _, team := range teamOrder {
		members := teamMembers[team]
		if len(members) == 1 {
			solo = append(solo, members[0])
			continue
		}
		teamScore := 0
		for _, m := range members {
			teamScore += m.Score
		}
		details = append(details, ScoreDetail{Type: "team", TeamID: team, TeamScore: teamScore, Members: members})
	}
	for _, p := range solo {
		details = append(details, ScoreDetail{
			Type:      "player",
			ID:        p.ID,
			Username:  p.Username,
			Team:      p.Team,
			Score:     p.Score,
			Breakdown: p.Breakdown,
			Result:    p.Result,
		})
	}
	if setterInfo != nil {
		details = append(details, *setterInfo)
	}
	return details
}

// endSession tears the round down: temporary observers and setter flags are
// reverted, mid-round joiners return to individual standing, and the
// session is destroyed. The closing roster update flushes immediately.
func (r *Room) endSession(e Emitter, resetReady bool) {
	r.revertSetterObservers(e)
	for _, p := range r.Players {
		p.IsSetter = false
		if p.JoinedDuringGame {
			p.Team = ""
			p.JoinedDuringGame = false
			p.Ready = false
		}
		if resetReady {
			p.Ready = false
		}
	}
	r.Session = nil
	e.Roster(true)
}
