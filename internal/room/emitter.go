package room

// Emitter is how room state reaches connected clients. The actor supplies
// the real implementation; tests substitute a recorder. Roster broadcasts
// go through a dedicated method because they are debounced: bursts of
// near-simultaneous roster changes collapse into one update unless force
// requests an immediate flush.
type Emitter interface {
	// Room broadcasts an event to every attached connection.
	Room(event string, payload any)
	// Player sends an event to one connection; unknown ids are dropped.
	Player(connID, event string, payload any)
	// Roster schedules (or, with force, immediately emits) a players
	// update built from live room state.
	Roster(force bool)
}
