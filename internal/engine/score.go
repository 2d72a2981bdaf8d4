// Package engine holds the pure scoring rules for a round. Nothing in here
// touches room state or the transport; every function is deterministic on
// its inputs so the same ledger always produces the same score breakdown.
package engine

import (
	"sort"

	"github.com/guessparty/backend/internal/ledger"
)

const (
	bigWinBonus     = 12
	winnerBaseScore = 2
)

// Bonuses itemizes the additive parts of a winner's score.
type Bonuses struct {
	BigWin     int `json:"bigWin,omitempty"`
	QuickGuess int `json:"quickGuess,omitempty"`
}

// WinnerResult is the outcome of scoring one winning ledger.
type WinnerResult struct {
	Total    int
	Attempts int
	IsBigWin bool
	Bonuses  Bonuses
}

// WinnerScore computes a winner's score from their ledger. The big-win
// bonus and the quick-guess bonus are mutually exclusive: a big win is a
// first-attempt win and can never also qualify as a quick guess.
func WinnerScore(l string, baseScore, maxAttempts int) WinnerResult {
	res := WinnerResult{
		IsBigWin: ledger.Has(l, ledger.MarkBigWin),
		Attempts: ledger.Attempts(l),
		Total:    baseScore,
	}

	if res.IsBigWin {
		res.Bonuses.BigWin = bigWinBonus
	} else if res.Attempts >= 2 && res.Attempts <= 3 {
		res.Bonuses.QuickGuess = 2
	} else if half := (maxAttempts + 1) / 2; res.Attempts >= 4 && res.Attempts <= half {
		res.Bonuses.QuickGuess = 1
	}

	res.Total += res.Bonuses.BigWin + res.Bonuses.QuickGuess
	return res
}

// SetterResult is the score delta applied to the round's target setter,
// with the reason string surfaced in the settlement payload.
type SetterResult struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// SetterScore computes the setter's score for standard and sync rounds.
// winnerLedger and winnerAttempts describe the primary winner; a zero
// attempt count means nobody won.
func SetterScore(winnerLedger string, winnerAttempts, bigWinnerScore, maxAttempts int) SetterResult {
	if ledger.Has(winnerLedger, ledger.MarkBigWin) {
		return SetterResult{Score: -max(1, bigWinnerScore/2), Reason: "纯在送分"}
	}
	if winnerAttempts > 0 {
		if winnerAttempts <= 3 {
			return SetterResult{Score: -1, Reason: "太简单了"}
		}
		if winnerAttempts*2 > maxAttempts {
			return SetterResult{Score: 1, Reason: "难度适中"}
		}
		return SetterResult{Score: 0}
	}
	return SetterResult{Score: -1, Reason: "没人猜中"}
}

// NonstopSetterScore computes the setter's score for nonstop rounds, scaled
// by the size of the field.
func NonstopSetterScore(hasBigWinner bool, bigWinnerScore, winnersCount, totalPlayers int) SetterResult {
	total := max(1, totalPlayers)
	multiplier := max(1, (total+1)/2)

	if hasBigWinner {
		return SetterResult{Score: -max(1, bigWinnerScore/2), Reason: "纯在送分"}
	}
	if winnersCount == 0 {
		return SetterResult{Score: -2 * multiplier, Reason: "无人猜中"}
	}

	winRate := float64(winnersCount) / float64(total)
	switch {
	case winRate <= 0.25:
		return SetterResult{Score: 1 * multiplier, Reason: "难度偏高"}
	case winRate >= 0.75:
		return SetterResult{Score: 1 * multiplier, Reason: "难度偏低"}
	default:
		return SetterResult{Score: 2 * multiplier, Reason: "难度适中"}
	}
}

// NonstopRankBase derives the base score for the next nonstop winner from
// the starting field size and how many players have already won.
func NonstopRankBase(initialActivePlayers, winnersSoFar int) int {
	return max(1, initialActivePlayers-winnersSoFar)
}

// PartialGuess is the slice of a guess record that partial-credit scoring
// needs: who guessed, where in their history, and how close they got.
type PartialGuess struct {
	PlayerID string
	Index    int
	Correct  bool
	Partial  bool
}

// PartialCandidate identifies a player eligible for the partial-credit
// award along with the grouping key (team or solo) they compete within.
type PartialCandidate struct {
	PlayerID string
	Name     string
	GroupKey string
}

// PartialAwardees picks, per team/solo group, the single player whose first
// partial-but-not-correct guess came earliest; ties break on lexicographic
// display name. Candidates not present in the eligible map (setters,
// observers) never receive the award.
func PartialAwardees(guesses []PartialGuess, eligible map[string]PartialCandidate) map[string]bool {
	firstPartial := make(map[string]int)
	for _, g := range guesses {
		if g.PlayerID == "" || !g.Partial || g.Correct {
			continue
		}
		if _, seen := firstPartial[g.PlayerID]; !seen {
			firstPartial[g.PlayerID] = g.Index
		}
	}

	type best struct {
		playerID string
		idx      int
		name     string
	}
	bestByGroup := make(map[string]best)

	ids := make([]string, 0, len(firstPartial))
	for id := range firstPartial {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic iteration

	for _, id := range ids {
		cand, ok := eligible[id]
		if !ok {
			continue
		}
		idx := firstPartial[id]
		cur, exists := bestByGroup[cand.GroupKey]
		if !exists || idx < cur.idx || (idx == cur.idx && cand.Name < cur.name) {
			bestByGroup[cand.GroupKey] = best{playerID: id, idx: idx, name: cand.Name}
		}
	}

	awardees := make(map[string]bool, len(bestByGroup))
	for _, b := range bestByGroup {
		awardees[b.playerID] = true
	}
	return awardees
}
