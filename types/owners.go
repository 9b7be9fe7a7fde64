package types

// OwnerEntry is one row of the retained hal/owners snapshot.
type OwnerEntry struct {
	Resource string `json:"resource"`
	Client   string `json:"client"`
	Priority int    `json:"priority"`
}

// Owners is published after every broker recomputation.
type Owners struct {
	Entries []OwnerEntry `json:"entries"`
	Input   string       `json:"input"` // client currently receiving input, "" when none
	TSms    int64        `json:"ts_ms"`
}
