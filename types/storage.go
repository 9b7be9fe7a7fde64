package types

// StorageState is the retained payload on storage/<socket>/state.
type StorageState struct {
	State   string `json:"state"`   // "absent", "present_pending", "ready", "present_failed"
	Status  int    `json:"status"`  // 0 ready, 1 absent, 2 present but not ready
	Present bool   `json:"present"` // detect switch closed
	Ready   bool   `json:"ready"`   // card initialised
	Known   bool   `json:"known"`   // outcome of the last plug transition resolved
	Tries   int    `json:"tries"`   // init attempts used on the last insertion
	TSms    int64  `json:"ts_ms"`
}
