package types

// BatteryState is the retained supply condition on power/battery/state.
type BatteryState struct {
	State    string `json:"state"` // "ok", "low", "charging", "empty"
	Low      bool   `json:"low"`
	Charging bool   `json:"charging"`
	Warning  bool   `json:"warning"` // low-battery warning showing
	TSms     int64  `json:"ts_ms"`
}
