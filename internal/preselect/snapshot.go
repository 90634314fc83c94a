// Package preselect tracks quickplay-style queues where players choose
// champions in the lobby, before matchmaking. It detects those modes,
// keeps the lobby's champion selections current, freezes them into a
// snapshot when the queue starts and decides when that snapshot is safe
// to apply.
package preselect

import (
	"time"

	"github.com/google/uuid"

	"github.com/hoangvu12/bocchi-sub000/internal/lcu"
)

// State is the preselect lifecycle position.
type State string

const (
	StateIdle          State = "IDLE"
	StateLobbySelect   State = "LOBBY_SELECTING"
	StateLobbyQueued   State = "LOBBY_QUEUED"
	StateMatchFound    State = "MATCH_FOUND"
	StateTransitioning State = "TRANSITIONING_TO_GAME"
)

// ChampionSelection is one player's pre-selected champion.
type ChampionSelection struct {
	SummonerInternalName string `json:"summonerInternalName"`
	ChampionID           int    `json:"championId"`
	ChampionKey          string `json:"championKey,omitempty"`
	IsLocalPlayer        bool   `json:"isLocalPlayer,omitempty"`
}

// ChampionSnapshot freezes the lobby's selections at the moment the
// queue started. Consumers receive clones; the monitor's copy never
// mutates after capture.
type ChampionSnapshot struct {
	ID            uuid.UUID           `json:"id"`
	Timestamp     time.Time           `json:"timestamp"`
	QueueID       int                 `json:"queueId"`
	Champions     []ChampionSelection `json:"champions"`
	SearchState   string              `json:"searchState,omitempty"`
	GameflowPhase lcu.GamePhase       `json:"gameflowPhase"`
}

// Clone returns an independent copy of the snapshot.
func (s *ChampionSnapshot) Clone() *ChampionSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Champions = make([]ChampionSelection, len(s.Champions))
	copy(out.Champions, s.Champions)
	return &out
}
