package preselect

import "github.com/hoangvu12/bocchi-sub000/internal/events"

// ModeDetected reports that the current lobby is a preselect queue.
type ModeDetected struct {
	QueueID   int                 `json:"queueId"`
	Champions []ChampionSelection `json:"champions"`
}

// Feeds are the monitor's event streams. Snapshot-carrying feeds emit
// clones, so subscribers may keep or mutate what they receive.
type Feeds struct {
	ModeDetected     *events.Feed[ModeDetected]
	ChampionsChanged *events.Feed[[]ChampionSelection]
	SnapshotTaken    *events.Feed[*ChampionSnapshot]
	MatchFound       *events.Feed[*ChampionSnapshot]
	ReadyForApply    *events.Feed[*ChampionSnapshot]
	CancelApply      *events.Feed[struct{}]
	QueueCancelled   *events.Feed[struct{}]
	StateReset       *events.Feed[struct{}]
}

func newFeeds() Feeds {
	return Feeds{
		ModeDetected:     events.NewFeed[ModeDetected](),
		ChampionsChanged: events.NewFeed[[]ChampionSelection](),
		SnapshotTaken:    events.NewFeed[*ChampionSnapshot](),
		MatchFound:       events.NewFeed[*ChampionSnapshot](),
		ReadyForApply:    events.NewFeed[*ChampionSnapshot](),
		CancelApply:      events.NewFeed[struct{}](),
		QueueCancelled:   events.NewFeed[struct{}](),
		StateReset:       events.NewFeed[struct{}](),
	}
}
