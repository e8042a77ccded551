package protocol

// EntityID identifies a simulation entity (unit or building).
type EntityID uint64

// CommandType enumerates player intents.
type CommandType string

const (
	CmdHeartbeat CommandType = "HEARTBEAT"
	CmdMove      CommandType = "MOVE"
	CmdAttack    CommandType = "ATTACK"
	CmdStop      CommandType = "STOP"
	CmdGather    CommandType = "GATHER"
	CmdBuild     CommandType = "BUILD"
	CmdTrain     CommandType = "TRAIN"
	CmdLoad      CommandType = "LOAD"
	CmdUnload    CommandType = "UNLOAD"
	CmdRally     CommandType = "RALLY"
)

// Vec2 is a fixed-point map position (1/1000 tile units).
type Vec2 struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// HELLO (peer -> peer, first frame on a link)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	SessionID       string `json:"session_id"`
}

func (HelloMsg) MessageType() string { return TypeHello }

// COMMAND. Tick is the execution tick, Seq is the issuing player's monotonic
// sequence number; (PlayerID, Seq) orders commands sharing a tick.
type CommandMsg struct {
	Type            string      `json:"type,omitempty"`
	ProtocolVersion string      `json:"protocol_version,omitempty"`
	Tick            uint64      `json:"tick"`
	PlayerID        string      `json:"player_id"`
	Seq             uint64      `json:"seq"`
	CommandType     CommandType `json:"command_type"`
	EntityIDs       []EntityID  `json:"entity_ids,omitempty"`

	Target       *Vec2    `json:"target,omitempty"`
	TargetEntity EntityID `json:"target_entity,omitempty"`
	Building     string   `json:"building,omitempty"`
	UnitType     string   `json:"unit_type,omitempty"`
	Queued       bool     `json:"queued,omitempty"`
}

func (CommandMsg) MessageType() string { return TypeCommand }

// CHECKSUM
type ChecksumMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Checksum        string `json:"checksum"`
	UnitCount       int    `json:"unit_count"`
	BuildingCount   int    `json:"building_count"`
	ResourceSum     int64  `json:"resource_sum"`
	PeerID          string `json:"peer_id"`
}

func (ChecksumMsg) MessageType() string { return TypeChecksum }

// SYNC-REQUEST (reconnecting peer -> live peer)
type SyncRequestMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	LastKnownTick   uint64 `json:"last_known_tick"`
	PlayerID        string `json:"player_id"`
}

func (SyncRequestMsg) MessageType() string { return TypeSyncRequest }

type TickCommands struct {
	Tick     uint64       `json:"tick"`
	Commands []CommandMsg `json:"commands"`
}

// SYNC-RESPONSE (live peer -> reconnecting peer). OldestTick is the first tick
// still held in the responder's history.
type SyncResponseMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	CurrentTick     uint64         `json:"current_tick"`
	OldestTick      uint64         `json:"oldest_tick"`
	Commands        []TickCommands `json:"commands"`
	PlayerID        string         `json:"player_id"`
}

func (SyncResponseMsg) MessageType() string { return TypeSyncResponse }

// QUIT
type QuitMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
}

func (QuitMsg) MessageType() string { return TypeQuit }
