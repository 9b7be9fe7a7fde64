package types

// MenuState is the retained payload on gadget/menu.
type MenuState struct {
	Open   bool   `json:"open"`
	Cursor int    `json:"cursor"`
	Item   string `json:"item,omitempty"`
	TSms   int64  `json:"ts_ms"`
}
