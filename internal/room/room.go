// Package room owns the state of one game room: its roster, the active
// session, mode progression and settlement. All mutation happens on the
// room's actor goroutine; the state methods themselves are synchronous and
// emit through the Emitter they are handed.
package room

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/guessparty/backend/internal/protocol"
)

// ObserverTeam is the reserved team tag for spectators.
const ObserverTeam = "0"

const maxRoomNameLen = 30

var (
	ErrPlayerNotFound   = errors.New("connection is not in this room")
	ErrNotHost          = errors.New("only the host can do that")
	ErrHostNoReady      = errors.New("the host does not need to ready up")
	ErrRoundActive      = errors.New("a round is already in progress")
	ErrNoRound          = errors.New("no round is in progress")
	ErrPlayersNotReady  = errors.New("all players must be ready")
	ErrNameTaken        = errors.New("that name is taken, pick another")
	ErrAvatarTaken      = errors.New("that avatar is already in use")
	ErrAvatarMismatch   = errors.New("avatar does not match, reconnect refused")
	ErrObserving        = errors.New("observers cannot guess")
	ErrCandidateClaimed = errors.New("that candidate was already guessed by another player")
	ErrTeammateWon      = errors.New("a teammate already won, you cannot keep guessing")
	ErrNotSetter        = errors.New("you are not the designated setter")
	ErrTargetNotFound   = errors.New("no such player")
	ErrKickSelf         = errors.New("you cannot kick yourself")
	ErrBadTeam          = errors.New("invalid team value")
	ErrBadTransfer      = errors.New("cannot transfer host to that player")
)

// Player is one roster entry. The ID is connection-scoped; a reconnecting
// player keeps everything else and gets a fresh ID.
type Player struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	IsHost           bool   `json:"isHost"`
	Score            int    `json:"score"`
	Ready            bool   `json:"ready"`
	Ledger           string `json:"ledger"`
	Note             string `json:"note"`
	Team             string `json:"team"` // "" solo, ObserverTeam spectator
	Disconnected     bool   `json:"disconnected"`
	AvatarID         string `json:"avatarId,omitempty"`
	AvatarImage      string `json:"avatarImage,omitempty"`
	IsSetter         bool   `json:"isSetter"`
	TempObserver     bool   `json:"tempObserver"`
	JoinedDuringGame bool   `json:"joinedDuringGame,omitempty"`

	// sync mode bookkeeping, valid for one sync round
	syncCompletedRound int
}

// Active reports whether the player can currently act as a guesser.
func (p *Player) Active() bool {
	return !p.Disconnected && !p.IsSetter && !p.TempObserver && p.Team != ObserverTeam
}

// Room is the session container. At most one Session is active at a time.
type Room struct {
	ID         string
	Name       string
	IsPublic   bool
	HostID     string
	Players    []*Player
	Settings   protocol.Settings
	Session    *Session
	LastActive time.Time

	// manual-mode state, only meaningful between SetSetter and SubmitTarget
	SetterID         string
	WaitingForTarget bool

	log *zap.SugaredLogger
}

// New creates an empty room. The first player to join becomes host.
func New(id string, log *zap.SugaredLogger) *Room {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Room{
		ID:         id,
		IsPublic:   true,
		LastActive: time.Now(),
		log:        log.With("room", id),
	}
}

func (r *Room) touch() { r.LastActive = time.Now() }

func (r *Room) find(connID string) *Player {
	for _, p := range r.Players {
		if p.ID == connID {
			return p
		}
	}
	return nil
}

func (r *Room) findByName(name string) *Player {
	for _, p := range r.Players {
		if strings.EqualFold(p.Username, name) {
			return p
		}
	}
	return nil
}

// ConnectedCount returns the number of non-disconnected players.
func (r *Room) ConnectedCount() int {
	n := 0
	for _, p := range r.Players {
		if !p.Disconnected {
			n++
		}
	}
	return n
}

// RosterPayload is built at emission time so debounced broadcasts always
// carry live state.
func (r *Room) RosterPayload() any {
	return map[string]any{
		"players":  r.Players,
		"isPublic": r.IsPublic,
		"roomName": r.Name,
		"setterId": r.SetterID,
	}
}

// Join admits a connection under the given name. An empty room makes the
// joiner host; a disconnected player with the same name (case-insensitive)
// and a matching avatar is a reconnect; otherwise a fresh player is
// appended, as an observer when a round is running.
func (r *Room) Join(e Emitter, connID, username, avatarID, avatarImage string) error {
	if strings.TrimSpace(username) == "" {
		return errors.New("a name is required")
	}
	r.touch()

	if existing := r.findByName(username); existing != nil {
		if !existing.Disconnected {
			return ErrNameTaken
		}
		return r.reconnect(e, existing, connID, avatarID, avatarImage)
	}

	if avatarID != "" && avatarID != "0" {
		for _, p := range r.Players {
			if !p.Disconnected && p.AvatarID == avatarID {
				return ErrAvatarTaken
			}
		}
	}

	p := &Player{
		ID:          connID,
		Username:    username,
		AvatarID:    avatarID,
		AvatarImage: avatarImage,
	}
	if len(r.Players) == 0 {
		p.IsHost = true
		r.HostID = connID
	}
	if r.Session != nil {
		p.Team = ObserverTeam
		p.JoinedDuringGame = true
	}
	r.Players = append(r.Players, p)

	e.Roster(false)
	e.Player(connID, protocol.EvtRoomNameUpdated, map[string]any{"roomName": r.Name})
	if r.Session != nil {
		r.pushSnapshot(e, p)
	}
	r.log.Infow("player joined", "player", username, "host", p.IsHost)
	return nil
}

func (r *Room) reconnect(e Emitter, p *Player, connID, avatarID, avatarImage string) error {
	if p.AvatarID != avatarID {
		r.log.Warnw("avatar mismatch on reconnect", "player", p.Username,
			"want", p.AvatarID, "got", avatarID)
		return ErrAvatarMismatch
	}
	prevID := p.ID
	p.ID = connID
	p.Disconnected = false
	if avatarImage != "" {
		p.AvatarImage = avatarImage
	}

	if r.Session != nil {
		replaceRevealer(r.Session.TagBanState, prevID, connID)
		replaceRevealer(r.Session.TagBanPending, prevID, connID)
	}
	if r.HostID == prevID {
		r.HostID = connID
	}
	if r.SetterID == prevID {
		r.SetterID = connID
	}

	e.Roster(false)
	e.Player(connID, protocol.EvtRoomNameUpdated, map[string]any{"roomName": r.Name})
	if r.Session != nil {
		r.pushSnapshot(e, p)
	}
	r.log.Infow("player reconnected", "player", p.Username)
	return nil
}

func replaceRevealer(entries []*protocol.TagBanEntry, oldID, newID string) {
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		seen := make(map[string]bool, len(entry.Revealers))
		merged := entry.Revealers[:0]
		for _, id := range entry.Revealers {
			if id == oldID {
				id = newID
			}
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			merged = append(merged, id)
		}
		entry.Revealers = merged
	}
}

// ToggleReady flips the ready flag. Hosts do not ready up, and ready state
// is frozen while a round runs.
func (r *Room) ToggleReady(e Emitter, connID string) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if p.IsHost {
		return ErrHostNoReady
	}
	if r.Session != nil {
		return ErrRoundActive
	}
	p.Ready = !p.Ready
	e.Roster(false)
	return nil
}

// UpdateSettings stores the room's round configuration (host only).
func (r *Room) UpdateSettings(e Emitter, connID string, settings protocol.Settings) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if !p.IsHost {
		return ErrNotHost
	}
	r.Settings = settings
	r.touch()
	e.Room(protocol.EvtSettingsUpdated, map[string]any{"settings": settings})
	return nil
}

// RequestSettings replays the current round configuration to one player,
// so a late or reconnecting client can catch up without waiting for the
// host to change something.
func (r *Room) RequestSettings(e Emitter, connID string) error {
	if r.find(connID) == nil {
		return ErrPlayerNotFound
	}
	e.Player(connID, protocol.EvtSettingsUpdated, map[string]any{"settings": r.Settings})
	return nil
}

// UpdateVisibility toggles public listing (host only).
func (r *Room) UpdateVisibility(e Emitter, connID string) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if !p.IsHost {
		return ErrNotHost
	}
	r.IsPublic = !r.IsPublic
	e.Roster(false)
	return nil
}

// UpdateName renames the room (host only). Names are trimmed and capped.
func (r *Room) UpdateName(e Emitter, connID, name string) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if !p.IsHost {
		return ErrNotHost
	}
	name = strings.TrimSpace(name)
	if runes := []rune(name); len(runes) > maxRoomNameLen {
		name = string(runes[:maxRoomNameLen])
	}
	r.Name = name
	e.Room(protocol.EvtRoomNameUpdated, map[string]any{"roomName": name})
	return nil
}

// UpdateNote sets the player's free-form note.
func (r *Room) UpdateNote(e Emitter, connID, note string) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	p.Note = note
	e.Roster(false)
	return nil
}

// UpdateTeam moves the player to a team tag ("1".."8"), the observer team
// ("0"), or solo play (nil / empty).
func (r *Room) UpdateTeam(e Emitter, connID string, team *string) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	value := ""
	if team != nil {
		value = *team
	}
	if value != "" && (len(value) != 1 || value[0] < '0' || value[0] > '8') {
		return ErrBadTeam
	}
	p.Team = value
	e.Roster(false)
	return nil
}

// TransferHost hands the host flag to a connected player (host only).
func (r *Room) TransferHost(e Emitter, connID, newHostID string) error {
	if connID != r.HostID {
		return ErrNotHost
	}
	newHost := r.find(newHostID)
	if newHost == nil || newHost.Disconnected {
		return ErrBadTransfer
	}
	oldHost := r.find(connID)
	r.HostID = newHostID
	for _, p := range r.Players {
		p.IsHost = p.ID == newHostID
	}
	newHost.Ready = false
	oldName := ""
	if oldHost != nil {
		oldName = oldHost.Username
	}
	e.Room(protocol.EvtHostTransferred, map[string]any{
		"oldHostName": oldName,
		"newHostId":   newHost.ID,
		"newHostName": newHost.Username,
	})
	e.Roster(false)
	return nil
}

// Kick removes a player (host only) and returns the removed connection id
// so the transport can drop it. Kicking the pending setter cancels manual
// mode.
func (r *Room) Kick(e Emitter, connID, playerID string) (string, error) {
	host := r.find(connID)
	if host == nil {
		return "", ErrPlayerNotFound
	}
	if !host.IsHost {
		return "", ErrNotHost
	}
	idx := -1
	for i, p := range r.Players {
		if p.ID == playerID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", ErrTargetNotFound
	}
	kicked := r.Players[idx]
	if kicked.ID == connID {
		return "", ErrKickSelf
	}

	if r.SetterID == kicked.ID {
		r.SetterID = ""
		r.WaitingForTarget = false
		r.revertSetterObservers(e)
		e.Room(protocol.EvtSetterCanceled, map[string]any{
			"message": fmt.Sprintf("designated setter %s was kicked, waiting canceled", kicked.Username),
		})
	}

	e.Player(kicked.ID, protocol.EvtPlayerKicked, map[string]any{"playerId": kicked.ID, "username": kicked.Username})
	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)
	e.Room(protocol.EvtPlayerKicked, map[string]any{"playerId": kicked.ID, "username": kicked.Username})
	e.Roster(false)

	if r.Session != nil && r.Session.Settings.SyncMode {
		delete(r.Session.SyncCompleted, kicked.ID)
		r.updateSyncProgress(e)
	}
	if r.Session != nil {
		r.runFlow(e, flowOptions{})
	}
	r.log.Infow("player kicked", "player", kicked.Username)
	return kicked.ID, nil
}

// HandleDisconnect marks the connection's player disconnected, running host
// failover and setter cancellation. It returns true when the room should be
// destroyed (the last connected player left and nobody holds score history
// worth keeping the host seat for).
func (r *Room) HandleDisconnect(e Emitter, connID string) bool {
	p := r.find(connID)
	if p == nil {
		return false
	}

	if r.HostID == connID {
		var newHost *Player
		for _, cand := range r.Players {
			if !cand.Disconnected && cand.ID != connID {
				newHost = cand
				break
			}
		}
		if newHost == nil {
			return true
		}
		r.HostID = newHost.ID
		newHost.IsHost = true
		newHost.Ready = false
		p.IsHost = false
		p.Disconnected = true
		e.Room(protocol.EvtHostTransferred, map[string]any{
			"oldHostName": p.Username,
			"newHostId":   newHost.ID,
			"newHostName": newHost.Username,
		})
		e.Roster(false)
	} else {
		p.Disconnected = true
		if r.SetterID == connID {
			r.SetterID = ""
			r.WaitingForTarget = false
			r.revertSetterObservers(e)
			e.Room(protocol.EvtSetterCanceled, map[string]any{
				"message": fmt.Sprintf("designated setter %s left, waiting canceled", p.Username),
			})
		}
		e.Roster(false)
		if r.Session != nil && r.Session.Settings.SyncMode {
			delete(r.Session.SyncCompleted, connID)
			r.updateSyncProgress(e)
		}
	}

	if r.Session != nil {
		r.runFlow(e, flowOptions{})
	}
	r.log.Infow("player disconnected", "player", p.Username)
	return false
}

// EnterManualMode marks every non-host player ready so the host can pick a
// setter (host only).
func (r *Room) EnterManualMode(e Emitter, connID string) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if !p.IsHost {
		return ErrNotHost
	}
	for _, other := range r.Players {
		if !other.IsHost {
			other.Ready = true
		}
	}
	e.Roster(false)
	return nil
}

// SetSetter designates the player who will supply the round's target (host
// only). The setter's teammates become temporary observers so they cannot
// play against their own target.
func (r *Room) SetSetter(e Emitter, connID, setterID string) error {
	p := r.find(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if !p.IsHost {
		return ErrNotHost
	}
	setter := r.find(setterID)
	if setter == nil {
		return ErrTargetNotFound
	}
	r.revertSetterObservers(e)
	r.SetterID = setterID
	r.WaitingForTarget = true
	r.applySetterObservers(e, setterID)
	e.Room(protocol.EvtSetterRequested, map[string]any{
		"setterId":       setterID,
		"setterUsername": setter.Username,
	})
	e.Roster(false)
	r.log.Infow("setter designated", "setter", setter.Username)
	return nil
}

func (r *Room) applySetterObservers(e Emitter, setterID string) {
	setter := r.find(setterID)
	if setter == nil || setter.Team == "" || setter.Team == ObserverTeam {
		return
	}
	for _, p := range r.Players {
		if p.Team == setter.Team && p.ID != setterID && !p.IsSetter && !p.Disconnected {
			p.TempObserver = true
			p.Ready = false
		}
	}
	e.Roster(false)
}

func (r *Room) revertSetterObservers(e Emitter) {
	changed := false
	for _, p := range r.Players {
		if p.TempObserver {
			p.TempObserver = false
			changed = true
		}
	}
	if changed {
		e.Roster(false)
	}
}

// pruneDisconnected drops disconnected players with no score history before
// a round starts; everyone else is retained for reconnection.
func (r *Room) pruneDisconnected() {
	kept := r.Players[:0]
	for _, p := range r.Players {
		if !p.Disconnected || p.Score > 0 {
			kept = append(kept, p)
		}
	}
	r.Players = kept
}
