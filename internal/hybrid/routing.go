package hybrid

import "time"

// Target names one of the two stores behind the layer.
type Target byte

const (
	TargetNone Target = iota
	TargetHot
	TargetCold
)

func (t Target) String() string {
	switch t {
	case TargetHot:
		return "hot"
	case TargetCold:
		return "cold"
	}
	return "none"
}

// Entity is a logical entity type routed by the layer.
type Entity string

const (
	EntityGameState     Entity = "game_state"
	EntityPlayerHand    Entity = "player_hand"
	EntityMoveLog       Entity = "move_log"
	EntitySession       Entity = "session"
	EntityPlayerProfile Entity = "player_profile"
	EntityPlayerStats   Entity = "player_stats"
	EntityCompletedGame Entity = "completed_game"
)

// SyncKind is how (and when) the secondary store catches up.
type SyncKind byte

const (
	SyncNone SyncKind = iota
	SyncImmediate
	SyncPeriodic
	SyncOnEvent
)

// Route is one row of the static routing table.
type Route struct {
	Primary   Target
	Secondary Target
	HotTTL    time.Duration

	Sync     SyncKind
	Interval time.Duration // periodic interval, if any
	Events   []string      // events that trigger an immediate sync
	Priority Priority      // queue priority for this entity's sync tasks
}

func (r Route) syncsOn(event string) bool {
	for _, e := range r.Events {
		if e == event {
			return true
		}
	}
	return false
}

// routes is the static routing table. Player hands and sessions never leave
// the hot store; completed games are write-through only.
var routes = map[Entity]Route{
	EntityGameState: {
		Primary: TargetHot, Secondary: TargetCold, HotTTL: 2 * time.Hour,
		Sync: SyncOnEvent, Interval: 60 * time.Second,
		Events:   []string{"hand_complete", "game_over"},
		Priority: PriorityMedium,
	},
	EntityPlayerHand: {
		Primary: TargetHot, Secondary: TargetNone, HotTTL: 2 * time.Hour,
		Sync: SyncNone,
	},
	EntityMoveLog: {
		Primary: TargetHot, Secondary: TargetCold, HotTTL: time.Hour,
		Sync: SyncImmediate, Priority: PriorityHigh,
	},
	EntitySession: {
		Primary: TargetHot, Secondary: TargetNone, HotTTL: 30 * time.Minute,
		Sync: SyncNone,
	},
	EntityPlayerProfile: {
		Primary: TargetCold, Secondary: TargetHot, HotTTL: 15 * time.Minute,
		Sync: SyncNone, // cache-on-read
	},
	EntityPlayerStats: {
		Primary: TargetCold, Secondary: TargetHot, HotTTL: 30 * time.Minute,
		Sync: SyncPeriodic, Interval: 30 * time.Second, Priority: PriorityLow,
	},
	EntityCompletedGame: {
		Primary: TargetCold, Secondary: TargetNone,
		Sync: SyncImmediate, Priority: PriorityHigh,
	},
}

// RouteFor returns the routing entry for an entity type.
func RouteFor(entity Entity) (Route, bool) {
	r, ok := routes[entity]
	return r, ok
}
