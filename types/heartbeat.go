package types

// Heartbeat is the periodic runtime summary on gadget/heartbeat.
type Heartbeat struct {
	Seq        uint32 `json:"seq"`
	UptimeS    int64  `json:"uptime_s"`
	InputOwner string `json:"input_owner"`
	Storage    string `json:"storage"`
	Decoded    uint32 `json:"decoded"`
	ISRDrops   uint32 `json:"isr_drops"`
	TSms       int64  `json:"ts_ms"`
}
