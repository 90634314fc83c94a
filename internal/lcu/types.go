package lcu

// GamePhase is the coarse game lifecycle phase reported by the client.
type GamePhase string

const (
	PhaseNone                  GamePhase = "None"
	PhaseLobby                 GamePhase = "Lobby"
	PhaseMatchmaking           GamePhase = "Matchmaking"
	PhaseCheckedIntoTournament GamePhase = "CheckedIntoTournament"
	PhaseReadyCheck            GamePhase = "ReadyCheck"
	PhaseChampSelect           GamePhase = "ChampSelect"
	PhaseGameStart             GamePhase = "GameStart"
	PhaseFailedToLaunch        GamePhase = "FailedToLaunch"
	PhaseInProgress            GamePhase = "InProgress"
	PhaseReconnect             GamePhase = "Reconnect"
	PhaseWaitingForStats       GamePhase = "WaitingForStats"
	PhasePreEndOfGame          GamePhase = "PreEndOfGame"
	PhaseEndOfGame             GamePhase = "EndOfGame"
	PhaseTerminatedInError     GamePhase = "TerminatedInError"
)

// Matchmaking search states reported by /lol-matchmaking/v1/search.
const (
	SearchStateInvalid   = "Invalid"
	SearchStateSearching = "Searching"
	SearchStateFound     = "Found"
	SearchStateCanceled  = "Canceled"
	SearchStateError     = "Error"
)

// Queue IDs for modes that assign champions without a full champion select.
const (
	QueueSwiftplay        = 480
	QueueQuickplay        = 490
	QueueIntroBots        = 870
	QueueBeginnerBots     = 880
	QueueIntermediateBots = 890
)

// WebSocket topics used by the monitors.
const (
	TopicGameflowPhase = "OnJsonApiEvent_lol-gameflow_v1_gameflow-phase"
	TopicLobby         = "OnJsonApiEvent_lol-lobby_v2_lobby"
	TopicChampSelect   = "OnJsonApiEvent_lol-champ-select_v1_session"
)

// ChampSelectSession represents the champion select session data
type ChampSelectSession struct {
	GameID            int64                 `json:"gameId"`
	Timer             ChampSelectTimer      `json:"timer"`
	MyTeam            []ChampSelectPlayer   `json:"myTeam"`
	TheirTeam         []ChampSelectPlayer   `json:"theirTeam"`
	Actions           [][]ChampSelectAction `json:"actions"`
	LocalPlayerCellID int                   `json:"localPlayerCellId"`
}

type ChampSelectTimer struct {
	Phase            string `json:"phase"`
	TotalTimeInPhase int    `json:"totalTimeInPhase"`
	TimeLeftInPhase  int    `json:"timeLeftInPhase"`
}

type ChampSelectPlayer struct {
	CellID             int    `json:"cellId"`
	ChampionID         int    `json:"championId"`
	ChampionPickIntent int    `json:"championPickIntent"`
	SummonerID         int64  `json:"summonerId"`
	AssignedPosition   string `json:"assignedPosition"`
}

type ChampSelectAction struct {
	ID           int    `json:"id"`
	ActorCellID  int    `json:"actorCellId"`
	ChampionID   int    `json:"championId"`
	Type         string `json:"type"` // "pick", "ban"
	Completed    bool   `json:"completed"`
	IsInProgress bool   `json:"isInProgress"`
}

// LocalPlayer returns the local player's entry in MyTeam.
func (s *ChampSelectSession) LocalPlayer() (ChampSelectPlayer, bool) {
	for _, p := range s.MyTeam {
		if p.CellID == s.LocalPlayerCellID {
			return p, true
		}
	}
	return ChampSelectPlayer{}, false
}

// HasCompletedPick reports whether the actions grid contains a completed
// pick action for the given cell and champion.
func (s *ChampSelectSession) HasCompletedPick(cellID, championID int) bool {
	for _, group := range s.Actions {
		for _, a := range group {
			if a.Type == "pick" && a.ActorCellID == cellID && a.ChampionID == championID && a.Completed {
				return true
			}
		}
	}
	return false
}

// GameflowSession is the full session payload from /lol-gameflow/v1/session.
type GameflowSession struct {
	Phase    GamePhase        `json:"phase"`
	GameData GameflowGameData `json:"gameData"`
}

type GameflowGameData struct {
	Queue                    GameQueue                 `json:"queue"`
	PlayerChampionSelections []PlayerChampionSelection `json:"playerChampionSelections"`
}

type GameQueue struct {
	ID                         int  `json:"id"`
	ShowQuickPlaySlotSelection bool `json:"showQuickPlaySlotSelection"`
}

// PlayerChampionSelection is a preassigned champion in modes that skip
// champion select.
type PlayerChampionSelection struct {
	SummonerInternalName string `json:"summonerInternalName"`
	ChampionID           int    `json:"championId"`
}

// QueueID returns the session's queue ID, or 0 when absent.
func (s *GameflowSession) QueueID() int {
	if s == nil {
		return 0
	}
	return s.GameData.Queue.ID
}

// LobbyData is the lobby payload from /lol-lobby/v2/lobby.
type LobbyData struct {
	GameConfig  LobbyGameConfig `json:"gameConfig"`
	LocalMember LobbyMember     `json:"localMember"`
	Members     []LobbyMember   `json:"members"`
}

type LobbyGameConfig struct {
	QueueID                    int  `json:"queueId"`
	IsCustom                   bool `json:"isCustom"`
	ShowQuickPlaySlotSelection bool `json:"showQuickPlaySlotSelection"`
}

type LobbyMember struct {
	SummonerID           int64        `json:"summonerId"`
	SummonerInternalName string       `json:"summonerInternalName"`
	PlayerSlots          []PlayerSlot `json:"playerSlots"`
}

// PlayerSlot is a preselected champion slot on a lobby member.
type PlayerSlot struct {
	ChampionID int `json:"championId"`
}

// MatchmakingSearch is the payload from /lol-matchmaking/v1/search.
type MatchmakingSearch struct {
	SearchState        string  `json:"searchState"`
	TimeInQueue        float64 `json:"timeInQueue"`
	EstimatedQueueTime float64 `json:"estimatedQueueTime"`
}

// Summoner is the current-summoner payload.
type Summoner struct {
	SummonerID   int64  `json:"summonerId"`
	DisplayName  string `json:"displayName"`
	InternalName string `json:"internalName"`
	PUUID        string `json:"puuid"`
}
