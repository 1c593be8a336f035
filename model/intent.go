package model

import "time"

// Endpoint is an intent endpoint normalized at ingestion: the switch the
// traffic enters or leaves through, the attachment port on that switch, and
// the host MAC used in flow matches. Endpoints built from raw node
// identifiers leave HostID, MAC and Port empty.
type Endpoint struct {
	HostID string `json:"host_id,omitempty" yaml:"host_id,omitempty"`
	MAC    string `json:"mac,omitempty" yaml:"mac,omitempty"`
	NodeID string `json:"node_id" yaml:"node_id"`
	Port   string `json:"port,omitempty" yaml:"port,omitempty"`
}

// NodeEndpoint builds an endpoint from a bare node identifier.
func NodeEndpoint(nodeID string) Endpoint {
	return Endpoint{NodeID: nodeID}
}

// Label returns the host id when known, otherwise the node id.
func (e Endpoint) Label() string {
	if e.HostID != "" {
		return e.HostID
	}
	return e.NodeID
}

// IntentState tracks where an intent is in its lifecycle.
type IntentState int

const (
	IntentPending   IntentState = iota // registered, no path yet
	IntentAllocated                    // path committed in the capacity graph
	IntentInstalled                    // flow rules pushed to the controller
	IntentRemoved                      // removed on request (terminal)
	IntentRejected                     // dropped as infeasible (terminal)
)

func (s IntentState) String() string {
	switch s {
	case IntentPending:
		return "pending"
	case IntentAllocated:
		return "allocated"
	case IntentInstalled:
		return "installed"
	case IntentRemoved:
		return "removed"
	case IntentRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Intent is a bandwidth-guaranteed connection between two endpoints.
type Intent struct {
	ID         string      `json:"id" yaml:"id"`
	Src        Endpoint    `json:"src" yaml:"src"`
	Dst        Endpoint    `json:"dst" yaml:"dst"`
	RequiredBW int64       `json:"required_bw" yaml:"required_bw"`
	State      IntentState `json:"state" yaml:"-"`
	// Path is the ordered node sequence from the source-side switch to the
	// destination-side switch, nil while unallocated.
	Path []string `json:"path,omitempty" yaml:"path,omitempty"`
	// FlowRules holds the installed rules, nil until installation succeeds.
	FlowRules []FlowRule `json:"flow_rules,omitempty" yaml:"flow_rules,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
}

// Clone returns a deep copy so callers can read an intent without sharing
// slices with the lifecycle manager.
func (in *Intent) Clone() *Intent {
	if in == nil {
		return nil
	}
	out := *in
	if in.Path != nil {
		out.Path = append([]string(nil), in.Path...)
	}
	if in.FlowRules != nil {
		out.FlowRules = append([]FlowRule(nil), in.FlowRules...)
	}
	return &out
}
