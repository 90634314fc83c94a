package preselect

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hoangvu12/bocchi-sub000/internal/champdata"
	"github.com/hoangvu12/bocchi-sub000/internal/config"
	"github.com/hoangvu12/bocchi-sub000/internal/events"
	"github.com/hoangvu12/bocchi-sub000/internal/gameflow"
	"github.com/hoangvu12/bocchi-sub000/internal/lcu"
	"github.com/hoangvu12/bocchi-sub000/internal/reqcache"
)

// Connector is the LCU surface the monitor needs.
type Connector interface {
	GetGameflowSession() (*lcu.GameflowSession, error)
	GetMatchmakingSearch() (*lcu.MatchmakingSearch, error)
	GetLobby() (*lcu.LobbyData, error)
	GetCurrentSummoner() (*lcu.Summoner, error)
}

// Resolver maps numeric champion IDs to catalog entries. A nil resolver
// leaves selections without champion keys.
type Resolver interface {
	Resolve(id int) (champdata.Champion, bool)
}

// preselectQueues are the queues whose lobbies carry champion
// selections: Swiftplay, Quickplay and the three co-op vs AI tiers.
var preselectQueues = map[int]bool{
	lcu.QueueSwiftplay:        true,
	lcu.QueueQuickplay:        true,
	lcu.QueueIntroBots:        true,
	lcu.QueueBeginnerBots:     true,
	lcu.QueueIntermediateBots: true,
}

// Monitor follows preselect queues through their lobby, queue and match
// phases, driven by gameflow phase changes plus its own polling.
type Monitor struct {
	log      *zap.Logger
	conn     Connector
	cache    *reqcache.Cache
	resolver Resolver
	cfg      config.PreselectConfig

	feeds Feeds

	mu              sync.Mutex
	started         bool
	unsubscribe     func()
	state           State
	detected        bool
	optimisticOnly  bool
	detectedAt      time.Time
	queueID         int
	champions       []ChampionSelection
	lastChangeKey   string
	snapshot        *ChampionSnapshot
	applyLatched    bool
	lastSearchState string
	localPlayerName string
	rescanStop      chan struct{}
	searchStop      chan struct{}
}

// NewMonitor creates a monitor. It does nothing until Start.
func NewMonitor(conn Connector, cache *reqcache.Cache, resolver Resolver, cfg config.PreselectConfig, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		log:      log,
		conn:     conn,
		cache:    cache,
		resolver: resolver,
		cfg:      cfg,
		feeds:    newFeeds(),
		state:    StateIdle,
	}
}

// Feeds returns the monitor's event streams.
func (m *Monitor) Feeds() Feeds {
	return m.feeds
}

// Start attaches the monitor to a phase-change feed. Calling Start on a
// running monitor is a no-op.
func (m *Monitor) Start(phases *events.Feed[gameflow.PhaseChange]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.unsubscribe = phases.Subscribe(m.handlePhaseChange)
}

// Stop detaches from the phase feed and silently drops all episode
// state.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.resetLocked(nil)
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Detected reports whether the current lobby is a preselect queue.
func (m *Monitor) Detected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detected
}

// QueueID returns the detected queue, 0 when none.
func (m *Monitor) QueueID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queueID
}

// Champions returns a copy of the current selections.
func (m *Monitor) Champions() []ChampionSelection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.championsCopyLocked()
}

// Snapshot returns a clone of the frozen selections, nil outside a
// queue episode.
func (m *Monitor) Snapshot() *ChampionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.Clone()
}

func (m *Monitor) handlePhaseChange(change gameflow.PhaseChange) {
	switch change.To {
	case lcu.PhaseLobby:
		m.checkForPreselectMode()
	case lcu.PhaseMatchmaking:
		m.handleEnterMatchmaking()
	case lcu.PhaseReadyCheck:
		m.handleEnterReadyCheck()
	case lcu.PhaseGameStart, lcu.PhaseInProgress:
		m.handleGameStart(change.To)
	default:
		var fire []func()
		m.mu.Lock()
		m.resetLocked(&fire)
		m.mu.Unlock()
		for _, f := range fire {
			f()
		}
	}
}

// checkForPreselectMode inspects the gameflow session to decide whether
// the current lobby pre-selects champions. Detection needs the queue on
// the allow-list plus either the slot-selection flag, visible
// selections, or the Swiftplay queue itself.
func (m *Monitor) checkForPreselectMode() {
	session, err := reqcache.Request(m.cache, reqcache.KeyGameflowSession, m.conn.GetGameflowSession)
	if err != nil || session == nil {
		if err != nil {
			m.log.Debug("gameflow session fetch failed", zap.Error(err))
		}
		return
	}

	queueID := session.QueueID()
	flagged := session.GameData.Queue.ShowQuickPlaySlotSelection
	raw := session.GameData.PlayerChampionSelections
	if !preselectQueues[queueID] {
		return
	}
	if !flagged && len(raw) == 0 && queueID != lcu.QueueSwiftplay {
		return
	}

	localName := m.localName()
	selections := normalizeSelections(raw, localName, m.resolver)

	var fire []func()
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	alreadyDetected := m.detected

	// A fresh lobby while a queue episode is still open means that
	// episode ended without a visible cancel, e.g. a declined ready
	// check. Close it out before starting over.
	if alreadyDetected && (m.snapshot != nil || m.applyLatched) {
		latched := m.applyLatched
		m.snapshot = nil
		m.applyLatched = false
		m.lastSearchState = ""
		m.stopSearchLocked()
		m.log.Info("queue episode abandoned, returning to lobby", zap.Bool("applyCancelled", latched))
		if latched {
			fire = append(fire, func() { m.feeds.CancelApply.Emit(struct{}{}) })
		}
		fire = append(fire, func() { m.feeds.QueueCancelled.Emit(struct{}{}) })
	}

	m.detected = true
	m.state = StateLobbySelect
	m.queueID = queueID
	if !alreadyDetected {
		m.detectedAt = time.Now()
		m.optimisticOnly = len(selections) == 0 && !flagged
	}
	changed := m.updateChampionsLocked(selections)
	if !alreadyDetected {
		m.log.Info("preselect mode detected",
			zap.Int("queueId", queueID),
			zap.Bool("flagged", flagged),
			zap.Int("selections", len(selections)))
		ev := ModeDetected{QueueID: queueID, Champions: m.championsCopyLocked()}
		fire = append(fire, func() { m.feeds.ModeDetected.Emit(ev) })
	}
	if changed {
		champs := m.championsCopyLocked()
		fire = append(fire, func() { m.feeds.ChampionsChanged.Emit(champs) })
	}
	if m.rescanStop == nil {
		m.startRescanLocked()
	}
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

// handleEnterMatchmaking freezes the lobby's selections into a snapshot
// and starts polling the search endpoint. Swiftplay lobbies get one
// extra pull from alternate sources first; their data is the most
// likely to still be missing at queue time.
func (m *Monitor) handleEnterMatchmaking() {
	m.mu.Lock()
	if !m.detected {
		m.mu.Unlock()
		return
	}
	m.state = StateLobbyQueued
	m.stopRescanLocked()
	needAlternate := m.queueID == lcu.QueueSwiftplay
	m.mu.Unlock()

	if needAlternate {
		m.pullAlternateSources()
	}

	var fire []func()
	m.mu.Lock()
	if m.state != StateLobbyQueued {
		m.mu.Unlock()
		return
	}
	snap := m.takeSnapshotLocked(lcu.PhaseMatchmaking)
	m.log.Info("champion snapshot taken",
		zap.String("snapshotId", snap.ID.String()),
		zap.Int("queueId", snap.QueueID),
		zap.Int("champions", len(snap.Champions)))
	clone := snap.Clone()
	fire = append(fire, func() { m.feeds.SnapshotTaken.Emit(clone) })
	m.startSearchPollLocked()
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

// pullAlternateSources fills in selections the lobby rescan may have
// missed. The session is refetched directly so a selection that landed
// after the cached read is not masked by a stale entry; the lobby's
// player slots are the fallback.
func (m *Monitor) pullAlternateSources() {
	if search, err := reqcache.Request(m.cache, reqcache.KeyMatchmakingSearch, m.conn.GetMatchmakingSearch); err == nil && search != nil {
		m.mu.Lock()
		m.lastSearchState = search.SearchState
		m.mu.Unlock()
	}

	session, err := m.conn.GetGameflowSession()
	if err == nil && session != nil {
		localName := m.localName()
		selections := normalizeSelections(session.GameData.PlayerChampionSelections, localName, m.resolver)
		if m.applySelections(selections) {
			return
		}
	}

	lobby, err := reqcache.Request(m.cache, reqcache.KeyLobby, m.conn.GetLobby)
	if err != nil || lobby == nil {
		return
	}
	m.applySelections(normalizeLobbySlots(lobby, m.resolver))
}

// applySelections merges externally sourced selections and reports
// whether the source had any data at all.
func (m *Monitor) applySelections(selections []ChampionSelection) bool {
	var fire []func()
	m.mu.Lock()
	if m.updateChampionsLocked(selections) {
		champs := m.championsCopyLocked()
		fire = append(fire, func() { m.feeds.ChampionsChanged.Emit(champs) })
	}
	m.mu.Unlock()
	for _, f := range fire {
		f()
	}
	return len(selections) > 0
}

// handleEnterReadyCheck confirms the match. The search poll often never
// sees the Found state before the phase moves, so match-found is
// emitted here, with a second chance to latch the apply for snapshots
// the poll missed.
func (m *Monitor) handleEnterReadyCheck() {
	var fire []func()
	m.mu.Lock()
	if !m.detected {
		m.mu.Unlock()
		return
	}
	m.state = StateMatchFound
	m.lastSearchState = lcu.SearchStateFound
	if m.snapshot == nil {
		snap := m.takeSnapshotLocked(lcu.PhaseReadyCheck)
		m.log.Info("late snapshot at ready check", zap.String("snapshotId", snap.ID.String()))
		clone := snap.Clone()
		fire = append(fire, func() { m.feeds.SnapshotTaken.Emit(clone) })
	}
	found := m.snapshot.Clone()
	fire = append(fire, func() { m.feeds.MatchFound.Emit(found) })
	if !m.applyLatched {
		m.applyLatched = true
		apply := m.snapshot.Clone()
		fire = append(fire, func() { m.feeds.ReadyForApply.Emit(apply) })
	}
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

// handleGameStart is the last chance to hand the snapshot to consumers
// before everything resets for the next lobby.
func (m *Monitor) handleGameStart(phase lcu.GamePhase) {
	var fire []func()
	m.mu.Lock()
	if m.detected {
		m.state = StateTransitioning
		if !m.applyLatched {
			if m.snapshot == nil && len(m.champions) > 0 {
				snap := m.takeSnapshotLocked(phase)
				clone := snap.Clone()
				fire = append(fire, func() { m.feeds.SnapshotTaken.Emit(clone) })
			}
			if m.snapshot != nil {
				m.applyLatched = true
				m.log.Info("applying snapshot at game start", zap.String("snapshotId", m.snapshot.ID.String()))
				clone := m.snapshot.Clone()
				fire = append(fire, func() { m.feeds.ReadyForApply.Emit(clone) })
			}
		}
	}
	m.resetLocked(&fire)
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

// resetLocked clears every piece of episode state. state-reset fires
// only when there was anything to clear.
func (m *Monitor) resetLocked(fire *[]func()) {
	active := m.state != StateIdle || m.detected || m.snapshot != nil || len(m.champions) > 0 || m.applyLatched
	m.stopRescanLocked()
	m.stopSearchLocked()
	m.state = StateIdle
	m.detected = false
	m.optimisticOnly = false
	m.detectedAt = time.Time{}
	m.queueID = 0
	m.champions = nil
	m.lastChangeKey = ""
	m.snapshot = nil
	m.applyLatched = false
	m.lastSearchState = ""
	if active && fire != nil {
		*fire = append(*fire, func() { m.feeds.StateReset.Emit(struct{}{}) })
	}
}

// localName resolves the local summoner's internal name once and keeps
// it for the rest of the session.
func (m *Monitor) localName() string {
	m.mu.Lock()
	name := m.localPlayerName
	m.mu.Unlock()
	if name != "" {
		return name
	}
	summoner, err := m.conn.GetCurrentSummoner()
	if err != nil || summoner == nil {
		return ""
	}
	m.mu.Lock()
	m.localPlayerName = summoner.InternalName
	m.mu.Unlock()
	return summoner.InternalName
}

// updateChampionsLocked replaces the selection set when it genuinely
// changed. An empty read means the source had no data this cycle, never
// that the lobby emptied, so it leaves the current set alone.
func (m *Monitor) updateChampionsLocked(selections []ChampionSelection) bool {
	if len(selections) == 0 {
		return false
	}
	key := selectionKey(selections)
	if key == m.lastChangeKey {
		return false
	}
	m.optimisticOnly = false
	m.champions = selections
	m.lastChangeKey = key
	return true
}

func (m *Monitor) championsCopyLocked() []ChampionSelection {
	out := make([]ChampionSelection, len(m.champions))
	copy(out, m.champions)
	return out
}

// selectionKey builds an order-independent identity for a selection
// set.
func selectionKey(selections []ChampionSelection) string {
	parts := make([]string, 0, len(selections))
	for _, sel := range selections {
		parts = append(parts, sel.SummonerInternalName+":"+strconv.Itoa(sel.ChampionID))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func normalizeSelections(raw []lcu.PlayerChampionSelection, localName string, resolver Resolver) []ChampionSelection {
	out := make([]ChampionSelection, 0, len(raw))
	for _, sel := range raw {
		if sel.ChampionID <= 0 {
			continue
		}
		cs := ChampionSelection{
			SummonerInternalName: sel.SummonerInternalName,
			ChampionID:           sel.ChampionID,
		}
		if resolver != nil {
			if champ, ok := resolver.Resolve(sel.ChampionID); ok {
				cs.ChampionKey = champ.Key
			}
		}
		if localName != "" && sel.SummonerInternalName == localName {
			cs.IsLocalPlayer = true
		}
		out = append(out, cs)
	}
	return out
}

// normalizeLobbySlots reads selections out of the lobby's player slots,
// taking each member's first filled slot.
func normalizeLobbySlots(lobby *lcu.LobbyData, resolver Resolver) []ChampionSelection {
	if lobby == nil {
		return nil
	}
	out := make([]ChampionSelection, 0, len(lobby.Members))
	for _, member := range lobby.Members {
		championID := 0
		for _, slot := range member.PlayerSlots {
			if slot.ChampionID > 0 {
				championID = slot.ChampionID
				break
			}
		}
		if championID <= 0 {
			continue
		}
		cs := ChampionSelection{
			SummonerInternalName: member.SummonerInternalName,
			ChampionID:           championID,
			IsLocalPlayer:        member.SummonerID != 0 && member.SummonerID == lobby.LocalMember.SummonerID,
		}
		if resolver != nil {
			if champ, ok := resolver.Resolve(championID); ok {
				cs.ChampionKey = champ.Key
			}
		}
		out = append(out, cs)
	}
	return out
}

// takeSnapshotLocked freezes the current selections.
func (m *Monitor) takeSnapshotLocked(phase lcu.GamePhase) *ChampionSnapshot {
	snap := &ChampionSnapshot{
		ID:            uuid.New(),
		Timestamp:     time.Now(),
		QueueID:       m.queueID,
		Champions:     make([]ChampionSelection, len(m.champions)),
		SearchState:   m.lastSearchState,
		GameflowPhase: phase,
	}
	copy(snap.Champions, m.champions)
	m.snapshot = snap
	return snap
}

func (m *Monitor) startRescanLocked() {
	stop := make(chan struct{})
	m.rescanStop = stop
	go m.rescanLoop(stop)
}

func (m *Monitor) stopRescanLocked() {
	if m.rescanStop != nil {
		close(m.rescanStop)
		m.rescanStop = nil
	}
}

func (m *Monitor) rescanLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.rescanTick(stop) {
				return
			}
		}
	}
}

// rescanTick refreshes lobby selections while the lobby is still
// selecting. It also enforces the detection timeout: an optimistic
// Swiftplay detection that never produces selections reverts.
func (m *Monitor) rescanTick(stop chan struct{}) bool {
	m.mu.Lock()
	if m.state != StateLobbySelect {
		if m.rescanStop == stop {
			m.rescanStop = nil
		}
		m.mu.Unlock()
		return false
	}
	timedOut := m.optimisticOnly && len(m.champions) == 0 &&
		m.cfg.DetectionTimeout > 0 && time.Since(m.detectedAt) > m.cfg.DetectionTimeout
	if timedOut {
		if m.rescanStop == stop {
			m.rescanStop = nil
		}
		var fire []func()
		m.log.Info("detection timed out without selections, reverting", zap.Int("queueId", m.queueID))
		m.resetLocked(&fire)
		m.mu.Unlock()
		for _, f := range fire {
			f()
		}
		return false
	}
	m.mu.Unlock()

	session, err := reqcache.Request(m.cache, reqcache.KeyGameflowSession, m.conn.GetGameflowSession)
	if err != nil || session == nil {
		return true
	}
	localName := m.localName()
	selections := normalizeSelections(session.GameData.PlayerChampionSelections, localName, m.resolver)

	var fire []func()
	m.mu.Lock()
	if m.state != StateLobbySelect {
		if m.rescanStop == stop {
			m.rescanStop = nil
		}
		m.mu.Unlock()
		return false
	}
	if m.updateChampionsLocked(selections) {
		champs := m.championsCopyLocked()
		fire = append(fire, func() { m.feeds.ChampionsChanged.Emit(champs) })
	}
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
	return true
}

func (m *Monitor) startSearchPollLocked() {
	stop := make(chan struct{})
	m.searchStop = stop
	go m.searchPollLoop(stop)
}

func (m *Monitor) stopSearchLocked() {
	if m.searchStop != nil {
		close(m.searchStop)
		m.searchStop = nil
	}
}

func (m *Monitor) searchPollLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.MatchmakingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.searchTick(stop) {
				return
			}
		}
	}
}

func (m *Monitor) searchTick(stop chan struct{}) bool {
	m.mu.Lock()
	if m.state != StateLobbyQueued && m.state != StateMatchFound {
		if m.searchStop == stop {
			m.searchStop = nil
		}
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	search, err := reqcache.Request(m.cache, reqcache.KeyMatchmakingSearch, m.conn.GetMatchmakingSearch)
	if err != nil || search == nil {
		return true
	}
	return m.processSearchState(search.SearchState, stop)
}

// processSearchState advances the queue episode on a search poll
// result. Searching or Found with a snapshot in hand latches the apply;
// the Searching to Found edge confirms the match; Canceled and Invalid
// end the episode and return the lobby to selecting.
func (m *Monitor) processSearchState(searchState string, stop chan struct{}) bool {
	var fire []func()
	alive := true

	m.mu.Lock()
	if m.state != StateLobbyQueued && m.state != StateMatchFound {
		if m.searchStop == stop {
			m.searchStop = nil
		}
		m.mu.Unlock()
		return false
	}
	if searchState == lcu.SearchStateError {
		// Transient; keep the previous view
		m.mu.Unlock()
		return true
	}
	prev := m.lastSearchState
	m.lastSearchState = searchState

	switch searchState {
	case lcu.SearchStateSearching, lcu.SearchStateFound:
		if m.snapshot != nil && !m.applyLatched {
			m.applyLatched = true
			m.log.Info("snapshot ready for apply",
				zap.String("snapshotId", m.snapshot.ID.String()),
				zap.String("searchState", searchState))
			clone := m.snapshot.Clone()
			fire = append(fire, func() { m.feeds.ReadyForApply.Emit(clone) })
		}
		if searchState == lcu.SearchStateFound && prev == lcu.SearchStateSearching {
			m.state = StateMatchFound
			m.log.Info("match found")
			clone := m.snapshot.Clone()
			fire = append(fire, func() { m.feeds.MatchFound.Emit(clone) })
		}
	case lcu.SearchStateCanceled, lcu.SearchStateInvalid:
		latched := m.applyLatched
		m.state = StateLobbySelect
		m.snapshot = nil
		m.applyLatched = false
		m.lastSearchState = ""
		if m.searchStop == stop {
			m.searchStop = nil
		} else {
			m.stopSearchLocked()
		}
		m.startRescanLocked()
		m.log.Info("queue cancelled", zap.String("searchState", searchState), zap.Bool("applyCancelled", latched))
		if latched {
			fire = append(fire, func() { m.feeds.CancelApply.Emit(struct{}{}) })
		}
		fire = append(fire, func() { m.feeds.QueueCancelled.Emit(struct{}{}) })
		alive = false
	}
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
	return alive
}
