package room

import (
	"github.com/guessparty/backend/internal/engine"
	"github.com/guessparty/backend/internal/protocol"
)

// WinnerRef points at a (potential) round winner.
type WinnerRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsBigWin bool   `json:"isBigWin"`
}

// NonstopWinner is one entry of the nonstop arrival-ordered winner list.
type NonstopWinner struct {
	ID       string         `json:"id"`
	Username string         `json:"username"`
	Team     string         `json:"team,omitempty"`
	IsBigWin bool           `json:"isBigWin"`
	Score    int            `json:"score"`
	Bonuses  engine.Bonuses `json:"bonuses"`
}

// GuessRecord is one entry of a player's visible guess history.
type GuessRecord struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	protocol.Guess
}

// PlayerHistory is the ordered guess list of one participant, keyed by
// display name so it survives reconnection.
type PlayerHistory struct {
	Username string        `json:"username"`
	Guesses  []GuessRecord `json:"guesses"`
}

// Session is one active round. It is created by StartRound or SubmitTarget
// and destroyed exactly once, by settlement.
type Session struct {
	Target   protocol.Target
	Settings protocol.Settings
	Hints    []string

	Histories   []*PlayerHistory
	TeamLedgers map[string]string

	SyncRound          int
	SyncCompleted      map[string]bool
	SyncWinnerFound    bool
	SyncWinner         *WinnerRef
	SyncReadyToEnd     bool
	SyncRoundStartRank int

	NonstopWinners []*NonstopWinner
	FirstWinner    *WinnerRef

	TagBanState   []*protocol.TagBanEntry
	TagBanPending []*protocol.TagBanEntry

	// population of guessers when the round started, the nonstop base
	InitialActive int
	SetterID      string
}

func (s *Session) history(username string) *PlayerHistory {
	for _, h := range s.Histories {
		if h.Username == username {
			return h
		}
	}
	return nil
}

func (r *Room) initSession(target protocol.Target, settings protocol.Settings, setterID string, hints []string) {
	initialActive := 0
	for _, p := range r.Players {
		if p.Disconnected || p.Team == ObserverTeam || p.TempObserver || (setterID != "" && p.ID == setterID) {
			continue
		}
		initialActive++
	}

	r.Session = &Session{
		Target:             target,
		Settings:           settings,
		Hints:              hints,
		TeamLedgers:        make(map[string]string),
		SyncRound:          1,
		SyncCompleted:      make(map[string]bool),
		SyncRoundStartRank: 1,
		InitialActive:      initialActive,
		SetterID:           setterID,
	}

	for _, p := range r.Players {
		p.Ledger = ""
		p.syncCompletedRound = 0
		p.IsSetter = p.ID == setterID && setterID != ""
		if !p.IsSetter && p.Team != ObserverTeam {
			r.Session.Histories = append(r.Session.Histories, &PlayerHistory{Username: p.Username, Guesses: []GuessRecord{}})
		}
	}
	for _, p := range r.Players {
		if p.Team != "" && p.Team != ObserverTeam {
			if _, ok := r.Session.TeamLedgers[p.Team]; !ok {
				r.Session.TeamLedgers[p.Team] = ""
			}
		}
	}
}

// privileged reports whether the player may see the revealed target.
func (r *Room) privileged(p *Player) bool {
	return p.IsSetter || p.Team == ObserverTeam || p.TempObserver
}

func (r *Room) roundStartPayload(viewer *Player) map[string]any {
	s := r.Session
	target := s.Target.Concealed()
	if viewer != nil && r.privileged(viewer) {
		target = s.Target
	}
	return map[string]any{
		"target":   target,
		"settings": s.Settings,
		"players":  r.Players,
		"isPublic": r.IsPublic,
		"hints":    s.Hints,
		"isSetter": viewer != nil && viewer.IsSetter,
	}
}

func (r *Room) historyPayload() map[string]any {
	return map[string]any{
		"guesses":     r.Session.Histories,
		"teamGuesses": r.Session.TeamLedgers,
	}
}

func (r *Room) tagBanPayload() map[string]any {
	state := r.Session.TagBanState
	if state == nil {
		state = []*protocol.TagBanEntry{}
	}
	return map[string]any{"tagBanState": state}
}

// emitRoundStarted fans out the round start per player so target
// confidentiality holds at the transport boundary.
func (r *Room) emitRoundStarted(e Emitter) {
	for _, p := range r.Players {
		if p.Disconnected {
			continue
		}
		e.Player(p.ID, protocol.EvtRoundStarted, r.roundStartPayload(p))
	}
}

// pushSnapshot sends the complete session view to one player, used on
// reconnect and mid-session joins.
func (r *Room) pushSnapshot(e Emitter, p *Player) {
	if r.Session == nil {
		return
	}
	e.Player(p.ID, protocol.EvtRoundStarted, r.roundStartPayload(p))
	e.Player(p.ID, protocol.EvtGuessHistory, r.historyPayload())
	e.Player(p.ID, protocol.EvtTagBanState, r.tagBanPayload())
	r.broadcastModeState(e)
}

// StartRound begins an auto-target round (host only). All non-host
// connected players must be ready.
func (r *Room) StartRound(e Emitter, connID string, target protocol.Target, settings *protocol.Settings) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if !p.IsHost {
		return ErrNotHost
	}
	if r.Session != nil {
		return ErrRoundActive
	}
	for _, other := range r.Players {
		if !other.IsHost && !other.Ready && !other.Disconnected {
			return ErrPlayersNotReady
		}
	}
	if settings != nil {
		r.Settings = *settings
	}
	r.pruneDisconnected()
	r.initSession(target, r.Settings, "", nil)

	r.emitRoundStarted(e)
	e.Room(protocol.EvtTagBanState, map[string]any{"tagBanState": []*protocol.TagBanEntry{}})
	r.broadcastModeState(e)
	e.Roster(true)
	r.touch()
	r.log.Infow("round started", "sync", r.Settings.SyncMode, "nonstop", r.Settings.NonstopMode)
	return nil
}

// SubmitTarget begins a manual round; only the designated setter may call
// it, and the setter sits the round out.
func (r *Room) SubmitTarget(e Emitter, connID string, target protocol.Target, hints []string) error {
	if r.Session != nil {
		return ErrRoundActive
	}
	if connID != r.SetterID || connID == "" {
		return ErrNotSetter
	}
	r.pruneDisconnected()
	r.applySetterObservers(e, connID)
	r.initSession(target, r.Settings, connID, hints)
	r.WaitingForTarget = false
	r.SetterID = ""

	e.Player(connID, protocol.EvtGuessHistory, r.historyPayload())
	r.emitRoundStarted(e)
	e.Room(protocol.EvtTagBanState, map[string]any{"tagBanState": []*protocol.TagBanEntry{}})
	r.broadcastModeState(e)
	e.Roster(true)
	if r.Session.Settings.SyncMode {
		r.updateSyncProgress(e)
	}
	r.touch()
	r.log.Infow("manual round started")
	return nil
}
