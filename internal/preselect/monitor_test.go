package preselect

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hoangvu12/bocchi-sub000/internal/champdata"
	"github.com/hoangvu12/bocchi-sub000/internal/config"
	"github.com/hoangvu12/bocchi-sub000/internal/events"
	"github.com/hoangvu12/bocchi-sub000/internal/gameflow"
	"github.com/hoangvu12/bocchi-sub000/internal/lcu"
	"github.com/hoangvu12/bocchi-sub000/internal/reqcache"
)

type fakeConnector struct {
	mu         sync.Mutex
	session    *lcu.GameflowSession
	sessionErr error
	search     *lcu.MatchmakingSearch
	searchErr  error
	lobby      *lcu.LobbyData
	lobbyErr   error
	summoner   *lcu.Summoner
}

func (f *fakeConnector) GetGameflowSession() (*lcu.GameflowSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.sessionErr
}

func (f *fakeConnector) GetMatchmakingSearch() (*lcu.MatchmakingSearch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.search, f.searchErr
}

func (f *fakeConnector) GetLobby() (*lcu.LobbyData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lobby, f.lobbyErr
}

func (f *fakeConnector) GetCurrentSummoner() (*lcu.Summoner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summoner, nil
}

func (f *fakeConnector) setSession(s *lcu.GameflowSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

func (f *fakeConnector) setSearch(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.search = &lcu.MatchmakingSearch{SearchState: state}
	f.searchErr = nil
}

type fakeResolver struct {
	byID map[int]champdata.Champion
}

func (f fakeResolver) Resolve(id int) (champdata.Champion, bool) {
	c, ok := f.byID[id]
	return c, ok
}

func testResolver() fakeResolver {
	return fakeResolver{byID: map[int]champdata.Champion{
		157: {ID: 157, Key: "Yasuo", Name: "Yasuo"},
		64:  {ID: 64, Key: "LeeSin", Name: "Lee Sin"},
		62:  {ID: 62, Key: "MonkeyKing", Name: "Wukong"},
	}}
}

// recorder captures every emitted event by name, in order.
type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *recorder) count(name string) int {
	n := 0
	for _, got := range r.all() {
		if got == name {
			n++
		}
	}
	return n
}

func (r *recorder) indexOf(name string) int {
	for i, got := range r.all() {
		if got == name {
			return i
		}
	}
	return -1
}

func (r *recorder) attach(f Feeds) {
	f.ModeDetected.Subscribe(func(ModeDetected) { r.add("mode-detected") })
	f.ChampionsChanged.Subscribe(func([]ChampionSelection) { r.add("champions-changed") })
	f.SnapshotTaken.Subscribe(func(*ChampionSnapshot) { r.add("snapshot-taken") })
	f.MatchFound.Subscribe(func(*ChampionSnapshot) { r.add("match-found") })
	f.ReadyForApply.Subscribe(func(*ChampionSnapshot) { r.add("ready-for-apply") })
	f.CancelApply.Subscribe(func(struct{}) { r.add("cancel-apply") })
	f.QueueCancelled.Subscribe(func(struct{}) { r.add("queue-cancelled") })
	f.StateReset.Subscribe(func(struct{}) { r.add("state-reset") })
}

func assertOrder(t *testing.T, r *recorder, names ...string) {
	t.Helper()
	last := -1
	for _, name := range names {
		idx := r.indexOf(name)
		if idx < 0 {
			t.Fatalf("event %q missing, got %v", name, r.all())
		}
		if idx <= last {
			t.Fatalf("event %q out of order, got %v", name, r.all())
		}
		last = idx
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type harness struct {
	conn   *fakeConnector
	m      *Monitor
	rec    *recorder
	phases *events.Feed[gameflow.PhaseChange]
}

func newHarness(t *testing.T, mutate func(*config.PreselectConfig)) *harness {
	t.Helper()
	cfg := config.PreselectConfig{
		RescanInterval:          10 * time.Millisecond,
		MatchmakingPollInterval: 10 * time.Millisecond,
		DetectionTimeout:        time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	conn := &fakeConnector{summoner: &lcu.Summoner{SummonerID: 1, InternalName: "alice"}}
	m := NewMonitor(conn, reqcache.New(time.Millisecond, zap.NewNop()), testResolver(), cfg, zap.NewNop())
	rec := &recorder{}
	rec.attach(m.Feeds())
	phases := events.NewFeed[gameflow.PhaseChange]()
	m.Start(phases)
	t.Cleanup(m.Stop)
	return &harness{conn: conn, m: m, rec: rec, phases: phases}
}

func (h *harness) push(from, to lcu.GamePhase) {
	h.phases.Emit(gameflow.PhaseChange{From: from, To: to})
}

func quickplaySession(selections ...lcu.PlayerChampionSelection) *lcu.GameflowSession {
	return &lcu.GameflowSession{
		Phase: lcu.PhaseLobby,
		GameData: lcu.GameflowGameData{
			Queue:                    lcu.GameQueue{ID: lcu.QueueQuickplay, ShowQuickPlaySlotSelection: true},
			PlayerChampionSelections: selections,
		},
	}
}

func TestMonitorQuickplayFullFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.setSession(quickplaySession(
		lcu.PlayerChampionSelection{SummonerInternalName: "alice", ChampionID: 157},
		lcu.PlayerChampionSelection{SummonerInternalName: "bob", ChampionID: 64},
	))

	var applied []*ChampionSnapshot
	var appliedMu sync.Mutex
	h.m.Feeds().ReadyForApply.Subscribe(func(s *ChampionSnapshot) {
		appliedMu.Lock()
		applied = append(applied, s)
		appliedMu.Unlock()
	})

	h.push(lcu.PhaseNone, lcu.PhaseLobby)

	if got := h.m.State(); got != StateLobbySelect {
		t.Fatalf("state = %q, want %q", got, StateLobbySelect)
	}
	champs := h.m.Champions()
	if len(champs) != 2 {
		t.Fatalf("champions = %+v, want 2 entries", champs)
	}
	if champs[0].ChampionKey != "Yasuo" || !champs[0].IsLocalPlayer {
		t.Errorf("local selection = %+v, want resolved Yasuo with local flag", champs[0])
	}
	if champs[1].ChampionKey != "LeeSin" || champs[1].IsLocalPlayer {
		t.Errorf("remote selection = %+v", champs[1])
	}

	h.conn.setSearch(lcu.SearchStateSearching)
	h.push(lcu.PhaseLobby, lcu.PhaseMatchmaking)

	if got := h.m.State(); got != StateLobbyQueued {
		t.Fatalf("state = %q, want %q", got, StateLobbyQueued)
	}
	snap := h.m.Snapshot()
	if snap == nil || len(snap.Champions) != 2 || snap.QueueID != lcu.QueueQuickplay {
		t.Fatalf("snapshot = %+v", snap)
	}

	waitFor(t, func() bool { return h.rec.count("ready-for-apply") == 1 }, "ready-for-apply")

	h.conn.setSearch(lcu.SearchStateFound)
	waitFor(t, func() bool { return h.rec.count("match-found") == 1 }, "match-found from poll")
	waitFor(t, func() bool { return h.m.State() == StateMatchFound }, "MATCH_FOUND state")

	h.push(lcu.PhaseMatchmaking, lcu.PhaseReadyCheck)
	if got := h.rec.count("match-found"); got != 2 {
		t.Errorf("match-found = %d, want re-confirmation at ready check", got)
	}
	if got := h.rec.count("ready-for-apply"); got != 1 {
		t.Errorf("ready-for-apply = %d, want exactly 1", got)
	}

	h.push(lcu.PhaseReadyCheck, lcu.PhaseGameStart)
	waitFor(t, func() bool { return h.rec.count("state-reset") == 1 }, "state-reset")

	assertOrder(t, h.rec,
		"mode-detected", "champions-changed", "snapshot-taken", "ready-for-apply", "match-found", "state-reset")
	if got := h.rec.count("cancel-apply"); got != 0 {
		t.Errorf("cancel-apply = %d, want 0", got)
	}
	if got := h.rec.count("queue-cancelled"); got != 0 {
		t.Errorf("queue-cancelled = %d, want 0", got)
	}
	if h.m.State() != StateIdle || h.m.Detected() || h.m.Snapshot() != nil {
		t.Errorf("monitor not reset: state=%q detected=%v", h.m.State(), h.m.Detected())
	}

	appliedMu.Lock()
	defer appliedMu.Unlock()
	if len(applied) != 1 || len(applied[0].Champions) != 2 {
		t.Fatalf("applied snapshots = %+v", applied)
	}
}

func TestMonitorQueueCancelledBeforeApply(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.setSession(quickplaySession(
		lcu.PlayerChampionSelection{SummonerInternalName: "alice", ChampionID: 157},
	))
	h.conn.setSearch(lcu.SearchStateCanceled)

	h.push(lcu.PhaseNone, lcu.PhaseLobby)
	h.push(lcu.PhaseLobby, lcu.PhaseMatchmaking)

	waitFor(t, func() bool { return h.rec.count("queue-cancelled") == 1 }, "queue-cancelled")

	if got := h.rec.count("ready-for-apply"); got != 0 {
		t.Errorf("ready-for-apply = %d, want 0 before any latch", got)
	}
	if got := h.rec.count("cancel-apply"); got != 0 {
		t.Errorf("cancel-apply = %d, want 0 when apply never latched", got)
	}
	if got := h.m.State(); got != StateLobbySelect {
		t.Errorf("state = %q, want back to %q", got, StateLobbySelect)
	}
	if h.m.Snapshot() != nil {
		t.Error("snapshot survived the cancel")
	}
}

func TestMonitorCancelAfterLatch(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.setSession(quickplaySession(
		lcu.PlayerChampionSelection{SummonerInternalName: "alice", ChampionID: 157},
	))
	h.conn.setSearch(lcu.SearchStateSearching)

	h.push(lcu.PhaseNone, lcu.PhaseLobby)
	h.push(lcu.PhaseLobby, lcu.PhaseMatchmaking)
	waitFor(t, func() bool { return h.rec.count("ready-for-apply") == 1 }, "apply latch")

	h.conn.setSearch(lcu.SearchStateCanceled)
	waitFor(t, func() bool { return h.rec.count("queue-cancelled") == 1 }, "queue-cancelled")

	if h.rec.count("cancel-apply") != 1 {
		t.Fatalf("cancel-apply = %d, want 1 after latched apply", h.rec.count("cancel-apply"))
	}
	assertOrder(t, h.rec, "cancel-apply", "queue-cancelled")
	if got := h.m.State(); got != StateLobbySelect {
		t.Errorf("state = %q, want %q", got, StateLobbySelect)
	}

	// The lobby can queue again after the cancel
	h.conn.setSearch(lcu.SearchStateSearching)
	h.push(lcu.PhaseLobby, lcu.PhaseMatchmaking)
	waitFor(t, func() bool { return h.rec.count("ready-for-apply") == 2 }, "second episode apply latch")
	if got := h.rec.count("snapshot-taken"); got != 2 {
		t.Errorf("snapshot-taken = %d, want a fresh snapshot per episode", got)
	}
}

func TestMonitorIgnoresNonPreselectQueues(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.setSession(&lcu.GameflowSession{
		GameData: lcu.GameflowGameData{Queue: lcu.GameQueue{ID: 420}},
	})

	h.push(lcu.PhaseNone, lcu.PhaseLobby)
	h.push(lcu.PhaseLobby, lcu.PhaseMatchmaking)

	time.Sleep(30 * time.Millisecond)
	if got := h.rec.all(); len(got) != 0 {
		t.Fatalf("events = %v, want none for ranked queue", got)
	}
	if h.m.Detected() || h.m.State() != StateIdle {
		t.Errorf("detected=%v state=%q", h.m.Detected(), h.m.State())
	}
}

func TestMonitorRequiresDetectionSignal(t *testing.T) {
	h := newHarness(t, nil)
	// Allow-listed queue, but no flag, no selections and not Swiftplay
	h.conn.setSession(&lcu.GameflowSession{
		GameData: lcu.GameflowGameData{Queue: lcu.GameQueue{ID: lcu.QueueIntroBots}},
	})

	h.push(lcu.PhaseNone, lcu.PhaseLobby)

	time.Sleep(30 * time.Millisecond)
	if h.m.Detected() {
		t.Error("detected a lobby with no preselect signal")
	}
}

func TestMonitorSwiftplayLobbyFallback(t *testing.T) {
	h := newHarness(t, nil)
	// Swiftplay lobby whose session never surfaces selections
	h.conn.setSession(&lcu.GameflowSession{
		GameData: lcu.GameflowGameData{Queue: lcu.GameQueue{ID: lcu.QueueSwiftplay}},
	})
	h.conn.lobby = &lcu.LobbyData{
		GameConfig:  lcu.LobbyGameConfig{QueueID: lcu.QueueSwiftplay},
		LocalMember: lcu.LobbyMember{SummonerID: 1},
		Members: []lcu.LobbyMember{
			{SummonerID: 1, SummonerInternalName: "alice", PlayerSlots: []lcu.PlayerSlot{{ChampionID: 157}}},
			{SummonerID: 2, SummonerInternalName: "bob", PlayerSlots: []lcu.PlayerSlot{{ChampionID: 0}, {ChampionID: 62}}},
		},
	}
	h.conn.setSearch(lcu.SearchStateSearching)

	var snaps []*ChampionSnapshot
	var snapsMu sync.Mutex
	h.m.Feeds().SnapshotTaken.Subscribe(func(s *ChampionSnapshot) {
		snapsMu.Lock()
		snaps = append(snaps, s)
		snapsMu.Unlock()
	})

	h.push(lcu.PhaseNone, lcu.PhaseLobby)
	if !h.m.Detected() {
		t.Fatal("Swiftplay lobby not detected")
	}
	if got := h.m.Champions(); len(got) != 0 {
		t.Fatalf("champions = %+v before queue, want none", got)
	}

	h.push(lcu.PhaseLobby, lcu.PhaseMatchmaking)

	snapsMu.Lock()
	defer snapsMu.Unlock()
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	snap := snaps[0]
	if len(snap.Champions) != 2 {
		t.Fatalf("snapshot champions = %+v, want slots from the lobby", snap.Champions)
	}
	if snap.Champions[0].ChampionKey != "Yasuo" || !snap.Champions[0].IsLocalPlayer {
		t.Errorf("local slot = %+v", snap.Champions[0])
	}
	if snap.Champions[1].ChampionID != 62 || snap.Champions[1].ChampionKey != "MonkeyKing" {
		t.Errorf("remote slot = %+v, want first filled slot", snap.Champions[1])
	}
	if snap.SearchState != lcu.SearchStateSearching {
		t.Errorf("snapshot search state = %q", snap.SearchState)
	}
}

func TestMonitorDetectionTimeoutReverts(t *testing.T) {
	h := newHarness(t, func(cfg *config.PreselectConfig) {
		cfg.DetectionTimeout = 30 * time.Millisecond
	})
	h.conn.setSession(&lcu.GameflowSession{
		GameData: lcu.GameflowGameData{Queue: lcu.GameQueue{ID: lcu.QueueSwiftplay}},
	})

	h.push(lcu.PhaseNone, lcu.PhaseLobby)
	if h.rec.count("mode-detected") != 1 {
		t.Fatal("optimistic Swiftplay detection missing")
	}

	waitFor(t, func() bool { return h.rec.count("state-reset") == 1 }, "timeout revert")
	if h.m.Detected() || h.m.State() != StateIdle {
		t.Errorf("detected=%v state=%q after timeout", h.m.Detected(), h.m.State())
	}
}

func TestMonitorRescanDedupsAndTracksChanges(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.setSession(quickplaySession(
		lcu.PlayerChampionSelection{SummonerInternalName: "alice", ChampionID: 157},
	))

	h.push(lcu.PhaseNone, lcu.PhaseLobby)
	time.Sleep(50 * time.Millisecond)
	if got := h.rec.count("champions-changed"); got != 1 {
		t.Fatalf("champions-changed = %d after identical rescans, want 1", got)
	}

	h.conn.setSession(quickplaySession(
		lcu.PlayerChampionSelection{SummonerInternalName: "alice", ChampionID: 157},
		lcu.PlayerChampionSelection{SummonerInternalName: "bob", ChampionID: 64},
	))
	waitFor(t, func() bool { return h.rec.count("champions-changed") == 2 }, "rescan to pick up the new player")
	if got := h.m.Champions(); len(got) != 2 {
		t.Fatalf("champions = %+v, want 2 after rescan", got)
	}
}

func TestMonitorReadyCheckSecondChance(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.setSession(quickplaySession(
		lcu.PlayerChampionSelection{SummonerInternalName: "alice", ChampionID: 157},
	))
	h.conn.searchErr = errors.New("search endpoint down")

	h.push(lcu.PhaseNone, lcu.PhaseLobby)
	h.push(lcu.PhaseLobby, lcu.PhaseMatchmaking)
	h.push(lcu.PhaseMatchmaking, lcu.PhaseReadyCheck)

	if got := h.rec.count("match-found"); got != 1 {
		t.Errorf("match-found = %d, want 1 from ready check", got)
	}
	if got := h.rec.count("ready-for-apply"); got != 1 {
		t.Errorf("ready-for-apply = %d, want the ready-check fallback latch", got)
	}
	if got := h.m.State(); got != StateMatchFound {
		t.Errorf("state = %q, want %q", got, StateMatchFound)
	}
}

func TestMonitorGameStartFallbackApply(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.setSession(quickplaySession(
		lcu.PlayerChampionSelection{SummonerInternalName: "alice", ChampionID: 157},
	))
	h.conn.searchErr = errors.New("search endpoint down")

	h.push(lcu.PhaseNone, lcu.PhaseLobby)
	h.push(lcu.PhaseLobby, lcu.PhaseMatchmaking)
	// Phase jumps straight to the game; the poll never saw the queue
	h.push(lcu.PhaseMatchmaking, lcu.PhaseInProgress)

	if got := h.rec.count("ready-for-apply"); got != 1 {
		t.Errorf("ready-for-apply = %d, want the game-start fallback", got)
	}
	assertOrder(t, h.rec, "ready-for-apply", "state-reset")
	if h.m.State() != StateIdle || h.m.Snapshot() != nil {
		t.Errorf("monitor not reset after game start")
	}
}

func TestMonitorAbandonedEpisodeClosesOnLobbyReturn(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.setSession(quickplaySession(
		lcu.PlayerChampionSelection{SummonerInternalName: "alice", ChampionID: 157},
	))
	h.conn.setSearch(lcu.SearchStateSearching)

	h.push(lcu.PhaseNone, lcu.PhaseLobby)
	h.push(lcu.PhaseLobby, lcu.PhaseMatchmaking)
	waitFor(t, func() bool { return h.rec.count("ready-for-apply") == 1 }, "apply latch")

	// Declined ready check: the phase returns to Lobby while the poll
	// still reports Searching
	h.push(lcu.PhaseMatchmaking, lcu.PhaseLobby)

	waitFor(t, func() bool { return h.rec.count("queue-cancelled") == 1 }, "episode close-out")
	if h.rec.count("cancel-apply") != 1 {
		t.Errorf("cancel-apply = %d, want 1 for the latched apply", h.rec.count("cancel-apply"))
	}
	assertOrder(t, h.rec, "cancel-apply", "queue-cancelled")
	if h.m.Snapshot() != nil {
		t.Error("snapshot survived the abandoned episode")
	}
	if got := h.m.State(); got != StateLobbySelect {
		t.Errorf("state = %q, want %q", got, StateLobbySelect)
	}
	// Still only one mode-detected; the lobby never stopped being the
	// same preselect lobby
	if got := h.rec.count("mode-detected"); got != 1 {
		t.Errorf("mode-detected = %d, want 1", got)
	}
}

func TestMonitorGetterCopies(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.setSession(quickplaySession(
		lcu.PlayerChampionSelection{SummonerInternalName: "alice", ChampionID: 157},
	))

	h.push(lcu.PhaseNone, lcu.PhaseLobby)

	champs := h.m.Champions()
	champs[0].ChampionID = 999
	if got := h.m.Champions()[0].ChampionID; got != 157 {
		t.Errorf("Champions leaked internal state: %d", got)
	}

	h.push(lcu.PhaseLobby, lcu.PhaseMatchmaking)
	snap := h.m.Snapshot()
	if snap == nil {
		t.Fatal("no snapshot after queue start")
	}
	snap.Champions[0].ChampionID = 999
	if got := h.m.Snapshot().Champions[0].ChampionID; got != 157 {
		t.Errorf("Snapshot leaked internal state: %d", got)
	}
}

func TestMonitorStopIsSilent(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.setSession(quickplaySession(
		lcu.PlayerChampionSelection{SummonerInternalName: "alice", ChampionID: 157},
	))

	h.push(lcu.PhaseNone, lcu.PhaseLobby)
	before := len(h.rec.all())

	h.m.Stop()
	time.Sleep(30 * time.Millisecond)

	if got := h.rec.all(); len(got) != before {
		t.Fatalf("Stop emitted events: %v", got[before:])
	}
	if h.m.State() != StateIdle {
		t.Errorf("state = %q after Stop", h.m.State())
	}

	// Detached from the feed: further phase changes do nothing
	h.push(lcu.PhaseLobby, lcu.PhaseMatchmaking)
	if got := h.rec.all(); len(got) != before {
		t.Fatalf("events after Stop: %v", got[before:])
	}
}
