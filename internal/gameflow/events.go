package gameflow

import (
	"github.com/hoangvu12/bocchi-sub000/internal/events"
	"github.com/hoangvu12/bocchi-sub000/internal/lcu"
)

// PhaseChange reports one gameflow phase transition.
type PhaseChange struct {
	From lcu.GamePhase `json:"from"`
	To   lcu.GamePhase `json:"to"`
}

// ChampionSelected reports the local player locking in a champion.
type ChampionSelected struct {
	ChampionID int                     `json:"championId"`
	IsLocked   bool                    `json:"isLocked"`
	IsHover    bool                    `json:"isHover"`
	Session    *lcu.ChampSelectSession `json:"session"`
	QueueID    *int                    `json:"queueId"`
}

// QueueDetected reports the queue a lobby was formed for.
type QueueDetected struct {
	QueueID int `json:"queueId"`
}

// Feeds are the monitor's outbound event streams.
type Feeds struct {
	PhaseChanged       *events.Feed[PhaseChange]
	ChampionSelected   *events.Feed[ChampionSelected]
	QueueDetected      *events.Feed[QueueDetected]
	ReadyCheckAccepted *events.Feed[struct{}]
}

func newFeeds() Feeds {
	return Feeds{
		PhaseChanged:       events.NewFeed[PhaseChange](),
		ChampionSelected:   events.NewFeed[ChampionSelected](),
		QueueDetected:      events.NewFeed[QueueDetected](),
		ReadyCheckAccepted: events.NewFeed[struct{}](),
	}
}
