package model

// Link is one direction of a physical link as reported by the topology
// source. Bandwidth is zero when the link carries no bandwidth annotation.
type Link struct {
	Src       SwitchPort `json:"src"`
	Dst       SwitchPort `json:"dst"`
	Bandwidth int64      `json:"bandwidth,omitempty"`
}
