package champdata

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const ddragonBaseURL = "https://ddragon.leagueoflegends.com"

// maxCatalogAge is how stale the stored catalog may be before a
// refresh from Data Dragon is due.
const maxCatalogAge = 7 * 24 * time.Hour

type ddragonChampion struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Registry maps numeric champion IDs to catalog entries.
type Registry struct {
	log     *zap.Logger
	baseURL string
	client  *http.Client

	mu         sync.RWMutex
	byID       map[int]Champion
	version    string
	missLogged map[int]bool
}

// NewRegistry creates an empty registry
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:        log,
		baseURL:    ddragonBaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		byID:       make(map[int]Champion),
		missLogged: make(map[int]bool),
	}
}

// LoadFromStore seeds the registry from the local catalog.
func (r *Registry) LoadFromStore(store *Store) error {
	champions, err := store.All()
	if err != nil {
		return err
	}
	version, _, err := store.Version()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, champ := range champions {
		r.byID[champ.ID] = champ
	}
	r.version = version
	return nil
}

// NeedsRefresh reports whether the stored catalog is missing or older
// than maxCatalogAge.
func NeedsRefresh(store *Store) bool {
	version, updatedAt, err := store.Version()
	if err != nil || version == "" {
		return true
	}
	return time.Since(updatedAt) > maxCatalogAge
}

// Refresh downloads the latest catalog from Data Dragon and persists
// it when a store is given.
func (r *Registry) Refresh(store *Store) error {
	versionsResp, err := r.client.Get(r.baseURL + "/api/versions.json")
	if err != nil {
		return fmt.Errorf("failed to fetch versions: %w", err)
	}
	defer versionsResp.Body.Close()

	var versions []string
	if err := json.NewDecoder(versionsResp.Body).Decode(&versions); err != nil {
		return fmt.Errorf("failed to parse versions: %w", err)
	}
	if len(versions) == 0 {
		return fmt.Errorf("no versions available")
	}
	latest := versions[0]

	champURL := fmt.Sprintf("%s/cdn/%s/data/en_US/champion.json", r.baseURL, latest)
	champResp, err := r.client.Get(champURL)
	if err != nil {
		return fmt.Errorf("failed to fetch champions: %w", err)
	}
	defer champResp.Body.Close()

	var champData struct {
		Data map[string]ddragonChampion `json:"data"`
	}
	if err := json.NewDecoder(champResp.Body).Decode(&champData); err != nil {
		return fmt.Errorf("failed to parse champions: %w", err)
	}

	// The map key is the Data Dragon identifier; "key" is the numeric
	// ID the LCU uses.
	champions := make([]Champion, 0, len(champData.Data))
	for key, champ := range champData.Data {
		id, err := strconv.Atoi(champ.Key)
		if err != nil {
			continue
		}
		champions = append(champions, Champion{ID: id, Key: key, Name: champ.Name})
	}

	r.mu.Lock()
	for _, champ := range champions {
		r.byID[champ.ID] = champ
	}
	r.version = latest
	r.mu.Unlock()

	r.log.Info("champion catalog refreshed",
		zap.String("version", latest),
		zap.Int("champions", len(champions)))

	if store != nil {
		if err := store.Replace(champions, latest); err != nil {
			return fmt.Errorf("failed to persist catalog: %w", err)
		}
	}
	return nil
}

// Resolve maps a numeric champion ID to its catalog entry. Unknown IDs
// are logged once each.
func (r *Registry) Resolve(id int) (Champion, bool) {
	r.mu.RLock()
	champ, ok := r.byID[id]
	r.mu.RUnlock()
	if ok {
		return champ, true
	}

	r.mu.Lock()
	if !r.missLogged[id] {
		r.missLogged[id] = true
		r.log.Warn("unknown champion id", zap.Int("championId", id))
	}
	r.mu.Unlock()
	return Champion{}, false
}

// Name returns the display name for a champion ID, or a placeholder
// when the ID is unknown.
func (r *Registry) Name(id int) string {
	if champ, ok := r.Resolve(id); ok {
		return champ.Name
	}
	return fmt.Sprintf("Champion %d", id)
}

// Version returns the loaded catalog version.
func (r *Registry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Size returns the number of loaded champions.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
