// Package app wires the engine together: LCU connection management,
// the gameflow and preselect monitors, the champion catalog and the
// optional event bridge.
package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hoangvu12/bocchi-sub000/internal/bridge"
	"github.com/hoangvu12/bocchi-sub000/internal/champdata"
	"github.com/hoangvu12/bocchi-sub000/internal/config"
	"github.com/hoangvu12/bocchi-sub000/internal/gameflow"
	"github.com/hoangvu12/bocchi-sub000/internal/lcu"
	"github.com/hoangvu12/bocchi-sub000/internal/preselect"
	"github.com/hoangvu12/bocchi-sub000/internal/reqcache"
)

// connector joins the HTTP client and the push socket into the single
// surface the monitors consume.
type connector struct {
	client *lcu.Client
	socket *lcu.Socket
}

func (c *connector) Subscribe(topic string, handler lcu.EventHandler) error {
	return c.socket.Subscribe(topic, handler)
}

func (c *connector) Unsubscribe(topic string) error {
	return c.socket.Unsubscribe(topic)
}

func (c *connector) GetGameflowPhase() (lcu.GamePhase, error) {
	return c.client.GetGameflowPhase()
}

func (c *connector) GetGameflowSession() (*lcu.GameflowSession, error) {
	return c.client.GetGameflowSession()
}

func (c *connector) GetChampSelectSession() (*lcu.ChampSelectSession, error) {
	return c.client.GetChampSelectSession()
}

func (c *connector) GetMatchmakingSearch() (*lcu.MatchmakingSearch, error) {
	return c.client.GetMatchmakingSearch()
}

func (c *connector) GetLobby() (*lcu.LobbyData, error) {
	return c.client.GetLobby()
}

func (c *connector) GetCurrentSummoner() (*lcu.Summoner, error) {
	return c.client.GetCurrentSummoner()
}

func (c *connector) AcceptReadyCheck() error {
	return c.client.AcceptReadyCheck()
}

// App is the composed engine.
type App struct {
	log *zap.Logger
	cfg config.Config

	client   *lcu.Client
	socket   *lcu.Socket
	cache    *reqcache.Cache
	registry *champdata.Registry
	store    *champdata.Store // nil when the local catalog is unavailable

	gameflow  *gameflow.Monitor
	preselect *preselect.Monitor
	bridge    *bridge.Bridge // nil unless enabled

	unsubs []func()
}

// New builds the engine from configuration. The League client does not
// have to be running yet; Run waits for it.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	a := &App{
		log:      log,
		cfg:      cfg,
		client:   lcu.NewClient(),
		socket:   lcu.NewSocket(log.Named("socket")),
		cache:    reqcache.New(cfg.Cache.DefaultTTL, log.Named("cache")),
		registry: champdata.NewRegistry(log.Named("champdata")),
	}

	store, err := champdata.Open(champdata.DefaultPath())
	if err != nil {
		log.Warn("champion catalog store unavailable", zap.Error(err))
	} else {
		a.store = store
	}

	conn := &connector{client: a.client, socket: a.socket}
	a.gameflow = gameflow.NewMonitor(conn, a.cache, cfg.Monitor, log.Named("gameflow"))
	a.preselect = preselect.NewMonitor(conn, a.cache, a.registry, cfg.Preselect, log.Named("preselect"))

	if cfg.Bridge.Enabled {
		b, err := bridge.Start(cfg.Bridge.Port, log.Named("bridge"))
		if err != nil {
			return nil, err
		}
		a.bridge = b
	}

	a.wireEvents()
	return a, nil
}

// Gameflow exposes the phase monitor for embedding callers.
func (a *App) Gameflow() *gameflow.Monitor {
	return a.gameflow
}

// Preselect exposes the preselect monitor for embedding callers.
func (a *App) Preselect() *preselect.Monitor {
	return a.preselect
}

// CacheMetrics reports request-cache effectiveness.
func (a *App) CacheMetrics() reqcache.Metrics {
	return a.cache.Metrics()
}

// wireEvents feeds socket health into the watchdog and mirrors every
// engine event onto the bridge.
func (a *App) wireEvents() {
	a.unsubs = append(a.unsubs,
		a.socket.Errors().Subscribe(func(err error) { a.gameflow.NotifySocketError(err) }),
		a.socket.Recovered().Subscribe(func(struct{}) { a.gameflow.NotifySocketRecovered() }),
	)

	gf := a.gameflow.Feeds()
	ps := a.preselect.Feeds()
	a.unsubs = append(a.unsubs,
		gf.PhaseChanged.Subscribe(func(c gameflow.PhaseChange) { a.publish("phase-changed", c) }),
		gf.ChampionSelected.Subscribe(func(s gameflow.ChampionSelected) { a.publish("champion-selected", s) }),
		gf.QueueDetected.Subscribe(func(q gameflow.QueueDetected) { a.publish("queue-id-detected", q) }),
		gf.ReadyCheckAccepted.Subscribe(func(struct{}) { a.publish("ready-check-accepted", nil) }),
		ps.ModeDetected.Subscribe(func(m preselect.ModeDetected) { a.publish("preselect-mode-detected", m) }),
		ps.ChampionsChanged.Subscribe(func(c []preselect.ChampionSelection) {
			a.publish("champions-changed", map[string]any{"champions": c})
		}),
		ps.SnapshotTaken.Subscribe(func(s *preselect.ChampionSnapshot) { a.publish("snapshot-taken", s) }),
		ps.MatchFound.Subscribe(func(s *preselect.ChampionSnapshot) { a.publish("match-found", s) }),
		ps.ReadyForApply.Subscribe(func(s *preselect.ChampionSnapshot) { a.publish("ready-for-preselect-apply", s) }),
		ps.CancelApply.Subscribe(func(struct{}) { a.publish("cancel-preselect-apply", nil) }),
		ps.QueueCancelled.Subscribe(func(struct{}) { a.publish("queue-cancelled", nil) }),
		ps.StateReset.Subscribe(func(struct{}) { a.publish("state-reset", nil) }),
	)
}

func (a *App) publish(eventType string, payload any) {
	if a.bridge == nil {
		return
	}
	a.bridge.Publish(eventType, payload)
}

// Run drives the engine until the context ends. It keeps looking for
// the League client, attaches when it appears and tears down when it
// goes away.
func (a *App) Run(ctx context.Context) error {
	a.preselect.Start(a.gameflow.Feeds().PhaseChanged)
	go a.warmChampionCatalog()

	a.log.Info("waiting for League client")
	ticker := time.NewTicker(a.cfg.LCU.ConnectInterval)
	defer ticker.Stop()

	wasConnected := a.tryConnect()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()
		case <-ticker.C:
			wasConnected = a.checkConnection(wasConnected)
		}
	}
}

// checkConnection is one tick of connection management: reconnect the
// client when it is gone, and the socket when only it dropped.
func (a *App) checkConnection(wasConnected bool) bool {
	isConnected := a.client.IsConnected()
	switch {
	case isConnected && !wasConnected:
		a.onConnected()
		return true
	case !isConnected:
		if wasConnected {
			a.onDisconnected()
		}
		return a.tryConnect()
	case !a.socket.IsConnected():
		a.connectSocket()
	}
	return wasConnected
}

func (a *App) tryConnect() bool {
	var extra []string
	if a.cfg.LCU.LockfilePath != "" {
		extra = append(extra, a.cfg.LCU.LockfilePath)
	}
	if err := a.client.Connect(extra...); err != nil {
		a.log.Debug("league client not available", zap.Error(err))
		return false
	}
	a.onConnected()
	return true
}

func (a *App) onConnected() {
	port := a.client.GetPort()
	a.log.Info("league client connected", zap.String("port", port))
	a.publish("connected", map[string]string{"port": port})

	a.connectSocket()
	if err := a.gameflow.Start(); err != nil {
		a.log.Warn("gameflow monitor start failed", zap.Error(err))
	}
}

func (a *App) onDisconnected() {
	a.log.Warn("league client disconnected")
	a.socket.Disconnect()
	a.gameflow.Stop()
	a.preselect.Stop()
	a.cache.Clear("")
	a.publish("disconnected", nil)

	// Re-attach so the next connection starts with clean state
	a.preselect.Start(a.gameflow.Feeds().PhaseChanged)
}

func (a *App) connectSocket() {
	creds := a.client.GetCredentials()
	if creds == nil {
		return
	}
	if err := a.socket.Connect(creds); err != nil {
		a.log.Warn("websocket connect failed", zap.Error(err))
	}
}

// warmChampionCatalog loads the cached catalog and refreshes it from
// Data Dragon when stale. Failures leave selections without champion
// keys, nothing worse.
func (a *App) warmChampionCatalog() {
	if a.store != nil {
		if err := a.registry.LoadFromStore(a.store); err != nil {
			a.log.Debug("cached champion catalog unavailable", zap.Error(err))
		}
		if !champdata.NeedsRefresh(a.store) {
			return
		}
	}
	if err := a.registry.Refresh(a.store); err != nil {
		a.log.Warn("champion catalog refresh failed", zap.Error(err))
	}
}

func (a *App) shutdown() {
	a.log.Info("shutting down")
	a.gameflow.Stop()
	a.preselect.Stop()
	a.socket.Disconnect()
	for _, unsub := range a.unsubs {
		unsub()
	}
	if a.bridge != nil {
		a.bridge.Stop()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.client.Disconnect()
}
