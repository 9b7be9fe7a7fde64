package types

// LinkState is the retained health of an outbound link.
type LinkState struct {
	Level  string `json:"level"`  // "idle", "up", "degraded", "error"
	Status string `json:"status"` // short machine string
	Error  string `json:"error,omitempty"`
	Sent   uint32 `json:"sent"`
	Drops  uint32 `json:"drops"`
	TSms   int64  `json:"ts_ms"`
}
