package protocol

// Event kinds carried on the internal bus and fanned out over /ws,
// matching spec §4.3's fixed taxonomy.
const (
	EventSystemStatus    = "system_status"
	EventChatMessage     = "chat_message"
	EventModelActivity   = "model_activity"
	EventAgentEvent      = "agent_event"
	EventCOLEvent        = "col_event"
	EventLog             = "log"
	EventHeartbeat       = "heartbeat"
	EventClientConnect   = "client_connect"
	EventClientDisconnect = "client_disconnect"
)

// COL pipeline sub-event types (payload.phase), published on EventCOLEvent.
const (
	PhaseStop     = "stop"
	PhaseClassify = "classify"
	PhaseLoad     = "load"
	PhaseApply    = "apply"
	PhaseExecute  = "execute"
)

// Agent-mesh sub-event types (payload.type), published on EventAgentEvent.
const (
	AgentRunStarted   = "run.started"
	AgentRunCompleted = "run.completed"
	AgentRunFailed    = "run.failed"
	AgentToolCall     = "tool.call"
	AgentToolResult   = "tool.result"
	AgentHandoff      = "handoff"
)

// Event is the frame pushed from server to client: {type:"event", event:{...}}.
type Event struct {
	Type  string     `json:"type"`
	Event EventFrame `json:"event"`
}

// EventFrame is the payload carried by a single bus event.
type EventFrame struct {
	Kind    string `json:"kind"`
	TS      int64  `json:"ts"`
	Payload any    `json:"payload,omitempty"`
}

// NewEvent builds a ready-to-send Event frame.
func NewEvent(kind string, ts int64, payload any) Event {
	return Event{Type: FrameEvent, Event: EventFrame{Kind: kind, TS: ts, Payload: payload}}
}
