// Package gameflow tracks the League client's game lifecycle. It turns
// the raw phase, lobby and champ-select push channels into semantic
// events, auto-accepts ready checks, and falls back to polling when
// push delivery goes quiet.
package gameflow

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hoangvu12/bocchi-sub000/internal/config"
	"github.com/hoangvu12/bocchi-sub000/internal/lcu"
	"github.com/hoangvu12/bocchi-sub000/internal/reqcache"
)

// Connector is the LCU surface the monitor needs.
type Connector interface {
	Subscribe(topic string, handler lcu.EventHandler) error
	Unsubscribe(topic string) error
	GetGameflowPhase() (lcu.GamePhase, error)
	GetGameflowSession() (*lcu.GameflowSession, error)
	GetChampSelectSession() (*lcu.ChampSelectSession, error)
	AcceptReadyCheck() error
}

// Monitor drives the phase state machine.
type Monitor struct {
	log   *zap.Logger
	conn  Connector
	cache *reqcache.Cache
	cfg   config.MonitorConfig

	feeds Feeds

	mu              sync.Mutex
	started         bool
	phase           lcu.GamePhase
	champSelectSub  bool
	lastLockedChamp int
	lastQueueID     int
	pushErrors      int
	backupStop      chan struct{}
	acceptTimer     *time.Timer
}

// NewMonitor creates a monitor. It does nothing until Start.
func NewMonitor(conn Connector, cache *reqcache.Cache, cfg config.MonitorConfig, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		log:   log,
		conn:  conn,
		cache: cache,
		cfg:   cfg,
		feeds: newFeeds(),
		phase: lcu.PhaseNone,
	}
}

// Feeds returns the monitor's event streams.
func (m *Monitor) Feeds() Feeds {
	return m.feeds
}

// Phase returns the last processed gameflow phase.
func (m *Monitor) Phase() lcu.GamePhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Start subscribes the push channels and seeds the phase from a poll.
// Calling Start on a running monitor just resyncs the phase.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		m.Resync()
		return nil
	}
	if err := m.conn.Subscribe(lcu.TopicGameflowPhase, m.handlePhasePush); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to subscribe to gameflow phase: %w", err)
	}
	if err := m.conn.Subscribe(lcu.TopicLobby, m.handleLobbyPush); err != nil {
		m.conn.Unsubscribe(lcu.TopicGameflowPhase)
		m.mu.Unlock()
		return fmt.Errorf("failed to subscribe to lobby: %w", err)
	}
	m.started = true
	m.mu.Unlock()

	m.Resync()
	return nil
}

// Stop cancels timers and polling and drops all subscriptions.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.stopBackupLocked()
	m.cancelAcceptLocked()
	champSelectSub := m.champSelectSub
	m.champSelectSub = false
	m.phase = lcu.PhaseNone
	m.lastLockedChamp = 0
	m.lastQueueID = 0
	m.pushErrors = 0
	m.mu.Unlock()

	m.conn.Unsubscribe(lcu.TopicGameflowPhase)
	m.conn.Unsubscribe(lcu.TopicLobby)
	if champSelectSub {
		m.conn.Unsubscribe(lcu.TopicChampSelect)
	}
}

// Resync polls the current phase and runs it through the state machine.
func (m *Monitor) Resync() {
	phase, err := m.conn.GetGameflowPhase()
	if err != nil {
		m.log.Debug("gameflow phase poll failed", zap.Error(err))
		return
	}
	m.applyPhase(phase)
}

func (m *Monitor) handlePhasePush(ev lcu.PushEvent) {
	var phase lcu.GamePhase
	if err := json.Unmarshal(ev.Data, &phase); err != nil {
		m.log.Debug("malformed phase payload", zap.Error(err))
		return
	}
	if phase == "" {
		return
	}
	m.applyPhase(phase)
}

// applyPhase runs one phase through the state machine. The phase-changed
// event is emitted before any phase-specific events fire.
func (m *Monitor) applyPhase(next lcu.GamePhase) {
	var fire []func()

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	prev := m.phase
	if next == prev {
		m.mu.Unlock()
		return
	}
	m.phase = next
	m.log.Info("phase changed", zap.String("from", string(prev)), zap.String("to", string(next)))
	fire = append(fire, func() {
		m.feeds.PhaseChanged.Emit(PhaseChange{From: prev, To: next})
	})

	switch next {
	case lcu.PhaseChampSelect:
		m.cancelAcceptLocked()
		if !m.champSelectSub {
			m.champSelectSub = true
			fire = append(fire, m.enterChampSelect)
		}
		// Re-entering champ select while push delivery is already
		// degraded resumes backup polling immediately.
		if m.pushErrors >= m.cfg.WatchdogThreshold && m.backupStop == nil {
			m.startBackupLocked()
		}
	case lcu.PhaseReadyCheck:
		m.leaveChampSelectLocked(&fire)
		m.scheduleAcceptLocked()
	default:
		m.leaveChampSelectLocked(&fire)
	}
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

// enterChampSelect subscribes the session push channel and seeds state
// with one fetch. No proactive polling; that is the watchdog's job.
func (m *Monitor) enterChampSelect() {
	if err := m.conn.Subscribe(lcu.TopicChampSelect, m.handleChampSelectPush); err != nil {
		m.log.Warn("failed to subscribe to champ select", zap.Error(err))
	}

	session, err := m.conn.GetChampSelectSession()
	if err != nil {
		m.log.Debug("champ select seed fetch failed", zap.Error(err))
		return
	}
	m.processChampSelect(session)
}

// leaveChampSelectLocked tears down champ-select tracking: drops the
// push subscription, stops backup polling, cancels a pending accept and
// forgets the locked champion so the next game starts clean.
func (m *Monitor) leaveChampSelectLocked(fire *[]func()) {
	m.cancelAcceptLocked()
	m.stopBackupLocked()
	m.lastLockedChamp = 0
	if m.champSelectSub {
		m.champSelectSub = false
		*fire = append(*fire, func() {
			if err := m.conn.Unsubscribe(lcu.TopicChampSelect); err != nil {
				m.log.Debug("champ select unsubscribe failed", zap.Error(err))
			}
		})
	}
}

func (m *Monitor) handleChampSelectPush(ev lcu.PushEvent) {
	if ev.EventType == "Delete" {
		return
	}
	var session lcu.ChampSelectSession
	if err := json.Unmarshal(ev.Data, &session); err != nil {
		m.log.Debug("malformed champ select payload", zap.Error(err))
		return
	}
	m.processChampSelect(&session)
}

// processChampSelect derives the local player's locked champion from a
// session update. champion-selected fires only when the locked champion
// changes.
func (m *Monitor) processChampSelect(session *lcu.ChampSelectSession) {
	if session == nil {
		return
	}
	local, ok := session.LocalPlayer()
	if !ok {
		return
	}
	championID := local.ChampionID
	if championID <= 0 {
		championID = local.ChampionPickIntent
	}
	if championID <= 0 {
		return
	}
	if !session.HasCompletedPick(session.LocalPlayerCellID, championID) {
		return
	}

	m.mu.Lock()
	if championID == m.lastLockedChamp {
		m.mu.Unlock()
		return
	}
	m.lastLockedChamp = championID
	m.mu.Unlock()

	queueID := m.lookupQueueID()
	m.log.Info("champion locked", zap.Int("championId", championID))
	m.feeds.ChampionSelected.Emit(ChampionSelected{
		ChampionID: championID,
		IsLocked:   true,
		IsHover:    false,
		Session:    session,
		QueueID:    queueID,
	})
}

// lookupQueueID fetches the current queue best-effort; a failed lookup
// is logged and the event carries a null queue ID.
func (m *Monitor) lookupQueueID() *int {
	session, err := reqcache.Request(m.cache, reqcache.KeyGameflowSession, m.conn.GetGameflowSession)
	if err != nil {
		m.log.Debug("queue id lookup failed", zap.Error(err))
		return nil
	}
	qid := session.QueueID()
	if qid <= 0 {
		return nil
	}
	return &qid
}

func (m *Monitor) handleLobbyPush(ev lcu.PushEvent) {
	if ev.EventType == "Delete" {
		m.mu.Lock()
		m.lastQueueID = 0
		m.mu.Unlock()
		return
	}
	var lobby lcu.LobbyData
	if err := json.Unmarshal(ev.Data, &lobby); err != nil {
		m.log.Debug("malformed lobby payload", zap.Error(err))
		return
	}
	queueID := lobby.GameConfig.QueueID
	if queueID <= 0 {
		return
	}

	m.mu.Lock()
	if queueID == m.lastQueueID {
		m.mu.Unlock()
		return
	}
	m.lastQueueID = queueID
	m.mu.Unlock()

	m.log.Info("queue detected", zap.Int("queueId", queueID))
	m.feeds.QueueDetected.Emit(QueueDetected{QueueID: queueID})
}

// scheduleAcceptLocked arms the ready-check accept after the grace
// delay.
func (m *Monitor) scheduleAcceptLocked() {
	if !m.cfg.AutoAccept {
		return
	}
	m.cancelAcceptLocked()
	m.acceptTimer = time.AfterFunc(m.cfg.AutoAcceptDelay, m.acceptReadyCheck)
}

func (m *Monitor) cancelAcceptLocked() {
	if m.acceptTimer != nil {
		m.acceptTimer.Stop()
		m.acceptTimer = nil
	}
}

// acceptReadyCheck fires after the grace delay. The phase is verified
// again first; the check may have resolved while we waited.
func (m *Monitor) acceptReadyCheck() {
	phase, err := m.conn.GetGameflowPhase()
	if err != nil {
		m.log.Debug("phase re-check before accept failed", zap.Error(err))
		return
	}
	if phase != lcu.PhaseReadyCheck {
		return
	}
	if err := m.conn.AcceptReadyCheck(); err != nil {
		m.log.Warn("ready check accept failed", zap.Error(err))
		return
	}
	m.log.Info("ready check accepted")
	m.feeds.ReadyCheckAccepted.Emit(struct{}{})
}

// NotifySocketError counts consecutive push failures. At the threshold
// the monitor escalates to backup polling.
func (m *Monitor) NotifySocketError(err error) {
	m.mu.Lock()
	m.pushErrors++
	count := m.pushErrors
	if count >= m.cfg.WatchdogThreshold && m.backupStop == nil && m.phase == lcu.PhaseChampSelect {
		m.startBackupLocked()
	}
	m.mu.Unlock()

	if count >= m.cfg.WatchdogThreshold {
		m.log.Warn("push delivery degraded", zap.Int("consecutiveErrors", count), zap.Error(err))
	}
}

// NotifySocketRecovered resets the watchdog and resyncs the phase that
// may have moved while push delivery was down.
func (m *Monitor) NotifySocketRecovered() {
	m.mu.Lock()
	m.pushErrors = 0
	m.stopBackupLocked()
	started := m.started
	m.mu.Unlock()

	if !started {
		return
	}
	m.log.Info("push delivery recovered")
	m.Resync()
}

func (m *Monitor) startBackupLocked() {
	stop := make(chan struct{})
	m.backupStop = stop
	m.log.Warn("starting backup polling", zap.Duration("interval", m.cfg.BackupPollInterval))
	go m.backupPollLoop(stop)
}

func (m *Monitor) stopBackupLocked() {
	if m.backupStop != nil {
		close(m.backupStop)
		m.backupStop = nil
	}
}

func (m *Monitor) backupPollLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.BackupPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.backupTick()
		}
	}
}

// backupTick stands in for the push channels while they are down: it
// polls the phase, then feeds the cached champ-select session through
// the same path push updates take.
func (m *Monitor) backupTick() {
	phase, err := m.conn.GetGameflowPhase()
	if err == nil && phase != "" {
		m.applyPhase(phase)
	}

	m.mu.Lock()
	inChampSelect := m.phase == lcu.PhaseChampSelect
	m.mu.Unlock()
	if !inChampSelect {
		return
	}

	session, err := reqcache.Request(m.cache, reqcache.KeyChampSelectSession, m.conn.GetChampSelectSession)
	if err != nil {
		m.log.Debug("backup poll failed", zap.Error(err))
		return
	}
	m.processChampSelect(session)
}
