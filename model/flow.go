package model

import "fmt"

const (
	// DefaultFlowPriority sits above the controller's reactive forwarding rules.
	DefaultFlowPriority = 40001
)

// FlowRule is one directional forwarding rule on a single device: packets
// arriving on InPort with the given source/destination MACs leave on OutPort.
type FlowRule struct {
	DeviceID  string `json:"device_id" yaml:"device_id"`
	SrcMAC    string `json:"src_mac" yaml:"src_mac"`
	DstMAC    string `json:"dst_mac" yaml:"dst_mac"`
	InPort    string `json:"in_port" yaml:"in_port"`
	OutPort   string `json:"out_port" yaml:"out_port"`
	Priority  int    `json:"priority" yaml:"priority"`
	Timeout   int    `json:"timeout" yaml:"timeout"`
	Permanent bool   `json:"permanent" yaml:"permanent"`
	// RuleID is assigned by the controller once installed.
	RuleID string `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
}

// Reverse returns the rule for the opposite direction on the same device.
func (r FlowRule) Reverse() FlowRule {
	rev := r
	rev.SrcMAC, rev.DstMAC = r.DstMAC, r.SrcMAC
	rev.InPort, rev.OutPort = r.OutPort, r.InPort
	rev.RuleID = ""
	return rev
}

// Installed reports whether the controller assigned an identifier.
func (r FlowRule) Installed() bool { return r.RuleID != "" }

func (r FlowRule) String() string {
	return fmt.Sprintf("%s in=%s out=%s %s->%s", r.DeviceID, r.InPort, r.OutPort, r.SrcMAC, r.DstMAC)
}
