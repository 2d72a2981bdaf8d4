// Package protocol defines the JSON envelopes exchanged over the websocket
// and the value types that travel inside them. The room state machine
// consumes these types; it never sees raw wire bytes.
package protocol

import "encoding/json"

// Client -> Server command types.
const (
	CmdCreateRoom       = "createRoom"
	CmdJoinRoom         = "joinRoom"
	CmdToggleReady      = "toggleReady"
	CmdUpdateSettings   = "updateSettings"
	CmdRequestSettings  = "requestGameSettings"
	CmdStartRound       = "startRound"
	CmdEnterManualMode  = "enterManualMode"
	CmdSetSetter        = "setSetter"
	CmdSubmitTarget     = "submitTarget"
	CmdSubmitGuess      = "submitGuess"
	CmdDeclareResult    = "declareResult"
	CmdTimeout          = "timeout"
	CmdEnterObserver    = "enterObserver"
	CmdRevealTags       = "revealTags"
	CmdKickPlayer       = "kickPlayer"
	CmdTransferHost     = "transferHost"
	CmdUpdateVisibility = "updateVisibility"
	CmdUpdateRoomName   = "updateRoomName"
	CmdUpdatePlayerNote = "updatePlayerNote"
	CmdUpdatePlayerTeam = "updatePlayerTeam"
)

// Server -> Client event names.
const (
	EvtPlayersUpdated   = "playersUpdated"
	EvtRoomNameUpdated  = "roomNameUpdated"
	EvtSettingsUpdated  = "settingsUpdated"
	EvtRoundStarted     = "roundStarted"
	EvtGuessHistory     = "guessHistoryUpdated"
	EvtGuessShared      = "guessShared"
	EvtSyncWaiting      = "syncWaiting"
	EvtSyncRoundStarted = "syncRoundStarted"
	EvtSyncEnding       = "syncEnding"
	EvtNonstopProgress  = "nonstopProgress"
	EvtTagBanState      = "tagBanStateUpdated"
	EvtRoundSettled     = "roundSettled"
	EvtRoomClosed       = "roomClosed"
	EvtHostTransferred  = "hostTransferred"
	EvtPlayerKicked     = "playerKicked"
	EvtSetterRequested  = "setterRequested"
	EvtSetterCanceled   = "setterCanceled"
	EvtTeamWin          = "teamWin"
	EvtResetTimer       = "resetTimer"
	EvtReadyReset       = "readyReset"
	EvtError            = "error"
)

// Declared round results.
const (
	ResultWin       = "win"
	ResultBigWin    = "bigwin"
	ResultSurrender = "surrender"
	ResultLose      = "lose"
)

// Settings is the mode configuration for one round. Zero values give a
// free-for-all round with ten attempts.
type Settings struct {
	SyncMode    bool `json:"syncMode"`
	NonstopMode bool `json:"nonstopMode"`
	GlobalPick  bool `json:"globalPick"`
	TagBan      bool `json:"tagBan"`
	MaxAttempts int  `json:"maxAttempts"`
	TimeLimit   int  `json:"timeLimit"`
}

// AttemptLimit returns the configured attempt cap, defaulting to ten.
func (s Settings) AttemptLimit() int {
	if s.MaxAttempts <= 0 {
		return 10
	}
	return s.MaxAttempts
}

// Target is the round's secret. Sealed is an opaque blob produced by the
// external encryption wrapper and is safe to send to anyone; ID, Name and
// Image are only revealed to privileged viewers.
type Target struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Image  string          `json:"image,omitempty"`
	Sealed json.RawMessage `json:"sealed,omitempty"`
}

// Concealed returns a copy carrying only the sealed payload.
func (t Target) Concealed() Target {
	return Target{Sealed: t.Sealed}
}

// Candidate is the guessed entry as produced by the external feedback
// generator. Meta carries the attribute-level hints verbatim.
type Candidate struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Image string          `json:"image,omitempty"`
	Meta  json.RawMessage `json:"meta,omitempty"`
}

// Guess is one submitted guess with its feedback flags.
type Guess struct {
	Candidate        Candidate `json:"candidate"`
	IsCorrect        bool      `json:"isCorrect"`
	IsPartialCorrect bool      `json:"isPartialCorrect"`
}

// TagBanEntry records a shared tag and the players who revealed it.
type TagBanEntry struct {
	Tag       string   `json:"tag"`
	Revealers []string `json:"revealers"`
}

// ClientCommand is the inbound envelope. Fields beyond Type are populated
// per command; unused ones stay zero.
type ClientCommand struct {
	Type        string    `json:"type"`
	RoomID      string    `json:"roomId,omitempty"`
	Username    string    `json:"username,omitempty"`
	AvatarID    string    `json:"avatarId,omitempty"`
	AvatarImage string    `json:"avatarImage,omitempty"`
	Settings    *Settings `json:"settings,omitempty"`
	Target      *Target   `json:"target,omitempty"`
	Hints       []string  `json:"hints,omitempty"`
	Guess       *Guess    `json:"guess,omitempty"`
	Result      string    `json:"result,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	PlayerID    string    `json:"playerId,omitempty"`
	Team        *string   `json:"team"`
	RoomName    string    `json:"roomName,omitempty"`
	Note        string    `json:"note,omitempty"`
}

// ServerEvent is the outbound envelope.
type ServerEvent struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorPayload is delivered only to the connection that caused the error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
