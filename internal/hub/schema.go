package hub

import "github.com/stemsi/kontrol-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionNavigate Action = "navigate"
	ActionPing     Action = "ping"
)

// ClientMessage is any message a student client sends over the stream.
// Fields unused by an action are left empty.
type ClientMessage struct {
	Action Action `json:"action"`
	TaskID int    `json:"task_id,omitempty"`
	Answer string `json:"answer,omitempty"`
	Delta  *int   `json:"delta,omitempty"`
	Index  *int   `json:"index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick     Event = "tick"
	EventFinished Event = "finished"
	EventState    Event = "state"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

// TickEvent carries the recomputed time left.
type TickEvent struct {
	Event     Event  `json:"event"`
	Remaining int    `json:"remaining_seconds"`
	Clock     string `json:"clock"`
}

// FinishedEvent is sent once when an attempt reaches FINISHED.
type FinishedEvent struct {
	Event   Event          `json:"event"`
	Auto    bool           `json:"auto"`
	Message string         `json:"message"`
	Attempt *model.Attempt `json:"attempt"`
}

// StateEvent replies to an action with the full attempt view.
type StateEvent struct {
	Event Event              `json:"event"`
	State model.AttemptState `json:"state"`
}

type ErrorEvent struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongEvent struct {
	Event Event `json:"event"`
}
