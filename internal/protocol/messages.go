package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PolicyName      string `json:"policy_name"`
	// Observe-only clients receive OBS but their ACTs are refused.
	ObserveOnly bool `json:"observe_only,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	RunID           string    `json:"run_id"`
	Tick            int       `json:"tick"`
	Params          EnvParams `json:"params"`
	// Cells is the static layout, one CellType name per cell in index order,
	// run-length encoded by the encoding package.
	Cells string `json:"cells"`
}

type EnvParams struct {
	Width         int   `json:"width"`
	Height        int   `json:"height"`
	NumItemTypes  int   `json:"num_item_types"`
	QueueSlots    int   `json:"queue_slots"`
	MaxEmployees  int   `json:"max_employees"`
	MinEmployees  int   `json:"min_employees"`
	EpisodeLength int   `json:"episode_length"`
	TickRateHz    int   `json:"tick_rate_hz"`
	Seed          int64 `json:"seed"`
}

// RESET (client -> server): restart the episode at the next tick boundary.
type ResetMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seed            *int64 `json:"seed,omitempty"`
}

// ERROR (server -> client) for messages that never reached the env.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
