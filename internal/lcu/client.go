package lcu

import (
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	ErrLockfileNotFound = errors.New("lockfile not found")
	ErrLeagueNotRunning = errors.New("league client is not running")
)

// LCU endpoints used by the engine.
const (
	endpointCurrentSummoner   = "/lol-summoner/v1/current-summoner"
	endpointGameflowPhase     = "/lol-gameflow/v1/gameflow-phase"
	endpointGameflowSession   = "/lol-gameflow/v1/session"
	endpointChampSelect       = "/lol-champ-select/v1/session"
	endpointLobby             = "/lol-lobby/v2/lobby"
	endpointMatchmakingSearch = "/lol-matchmaking/v1/search"
	endpointReadyCheckAccept  = "/lol-matchmaking/v1/ready-check/accept"
)

// Credentials holds the LCU connection details parsed from lockfile
type Credentials struct {
	ProcessName string
	PID         string
	Port        string
	Password    string
	Protocol    string
}

// Client represents a REST connection to the League Client
type Client struct {
	httpClient *http.Client

	mu          sync.RWMutex
	credentials *Credentials
	baseURL     string
	authHeader  string
}

// NewClient creates a new LCU client
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, // LCU uses self-signed cert
				},
			},
			Timeout: 2 * time.Second, // Short timeout for quick disconnect detection
		},
	}
}

// FindLockfile searches for the League Client lockfile. Paths given as
// arguments are checked before the default install locations.
func FindLockfile(extraPaths ...string) (string, error) {
	possiblePaths := append([]string{}, extraPaths...)

	// Common League installation paths on Windows
	possiblePaths = append(possiblePaths,
		"C:/Riot Games/League of Legends/lockfile",
		"D:/Riot Games/League of Legends/lockfile",
		"C:/Program Files/Riot Games/League of Legends/lockfile",
		"C:/Program Files (x86)/Riot Games/League of Legends/lockfile",
	)

	// Also check common alternative drives
	for _, drive := range []string{"E:", "F:", "G:"} {
		possiblePaths = append(possiblePaths, filepath.Join(drive, "Riot Games/League of Legends/lockfile"))
	}

	for _, path := range possiblePaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", ErrLockfileNotFound
}

// ParseLockfile reads and parses the lockfile content
func ParseLockfile(path string) (*Credentials, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lockfile: %w", err)
	}

	// Lockfile format: LeagueClient:pid:port:password:protocol
	parts := strings.Split(strings.TrimSpace(string(content)), ":")
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid lockfile format: expected 5 parts, got %d", len(parts))
	}

	return &Credentials{
		ProcessName: parts[0],
		PID:         parts[1],
		Port:        parts[2],
		Password:    parts[3],
		Protocol:    parts[4],
	}, nil
}

// Connect establishes connection to the League Client. Extra lockfile
// paths take precedence over the default install locations.
func (c *Client) Connect(extraPaths ...string) error {
	lockfilePath, err := FindLockfile(extraPaths...)
	if err != nil {
		return err
	}

	creds, err := ParseLockfile(lockfilePath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.credentials = creds
	c.baseURL = fmt.Sprintf("https://127.0.0.1:%s", creds.Port)
	c.authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte("riot:"+creds.Password))
	c.mu.Unlock()

	// Test connection
	if err := c.testConnection(); err != nil {
		c.clearCredentials()
		return fmt.Errorf("failed to connect to LCU: %w", err)
	}

	return nil
}

// testConnection verifies we can reach the LCU API
func (c *Client) testConnection() error {
	resp, err := c.Get(endpointCurrentSummoner)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// IsConnected checks if the client is still connected to LCU
// by making a health check request
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.credentials != nil
	c.mu.RUnlock()
	if !connected {
		return false
	}

	// Verify connection is still alive
	if err := c.testConnection(); err != nil {
		// Connection lost, clear credentials
		c.clearCredentials()
		return false
	}

	return true
}

// GetCredentials returns the current LCU credentials
func (c *Client) GetCredentials() *Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credentials
}

// GetPort returns the LCU port
func (c *Client) GetPort() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.credentials == nil {
		return ""
	}
	return c.credentials.Port
}

// Disconnect cleans up the client connection
func (c *Client) Disconnect() {
	c.clearCredentials()
}

func (c *Client) clearCredentials() {
	c.mu.Lock()
	c.credentials = nil
	c.mu.Unlock()
}

func (c *Client) newRequest(method, endpoint string, body io.Reader) (*http.Request, error) {
	c.mu.RLock()
	baseURL, authHeader := c.baseURL, c.authHeader
	connected := c.credentials != nil
	c.mu.RUnlock()

	if !connected {
		return nil, ErrLeagueNotRunning
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Get performs a GET request to the LCU API
func (c *Client) Get(endpoint string) (*http.Response, error) {
	req, err := c.newRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// Post performs a POST request to the LCU API
func (c *Client) Post(endpoint string, body io.Reader) (*http.Response, error) {
	req, err := c.newRequest(http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// Request performs an arbitrary call and returns the raw response body.
func (c *Client) Request(method, endpoint string) ([]byte, error) {
	req, err := c.newRequest(method, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, endpoint, resp.StatusCode)
	}
	return data, nil
}

// getJSON performs a GET and decodes the response into out.
func (c *Client) getJSON(endpoint string, out any) error {
	resp, err := c.Get(endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// GetGameflowPhase returns the current gameflow phase
func (c *Client) GetGameflowPhase() (GamePhase, error) {
	var phase GamePhase
	if err := c.getJSON(endpointGameflowPhase, &phase); err != nil {
		return "", err
	}
	return phase, nil
}

// GetGameflowSession returns the full gameflow session
func (c *Client) GetGameflowSession() (*GameflowSession, error) {
	var session GameflowSession
	if err := c.getJSON(endpointGameflowSession, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetChampSelectSession returns the current champion select session
func (c *Client) GetChampSelectSession() (*ChampSelectSession, error) {
	var session ChampSelectSession
	if err := c.getJSON(endpointChampSelect, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetLobby returns the current lobby
func (c *Client) GetLobby() (*LobbyData, error) {
	var lobby LobbyData
	if err := c.getJSON(endpointLobby, &lobby); err != nil {
		return nil, err
	}
	return &lobby, nil
}

// GetMatchmakingSearch returns the current matchmaking search state
func (c *Client) GetMatchmakingSearch() (*MatchmakingSearch, error) {
	var search MatchmakingSearch
	if err := c.getJSON(endpointMatchmakingSearch, &search); err != nil {
		return nil, err
	}
	return &search, nil
}

// GetCurrentSummoner returns the logged-in summoner
func (c *Client) GetCurrentSummoner() (*Summoner, error) {
	var summoner Summoner
	if err := c.getJSON(endpointCurrentSummoner, &summoner); err != nil {
		return nil, err
	}
	return &summoner, nil
}

// AcceptReadyCheck accepts the current ready check
func (c *Client) AcceptReadyCheck() error {
	resp, err := c.Post(endpointReadyCheckAccept, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ready check accept: unexpected status %d", resp.StatusCode)
	}
	return nil
}
