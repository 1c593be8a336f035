package onos

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
)

// LinkConfig is the network configuration document that annotates links
// with their bandwidth.
type LinkConfig struct {
	Links map[string]LinkEntry `json:"links"`
}

// LinkEntry is the per-link configuration.
type LinkEntry struct {
	Basic BasicLinkConfig `json:"basic"`
}

// BasicLinkConfig carries the bandwidth annotation.
type BasicLinkConfig struct {
	Bandwidth int64 `json:"bandwidth"`
}

// DeviceID formats a numeric switch as an OpenFlow device id,
// e.g. 10 becomes "of:000000000000000a".
func DeviceID(n uint64) string {
	return fmt.Sprintf("of:%016x", n)
}

// BuildLinkConfig converts graph-file triples between numbered switches into
// a link configuration covering both directions of every link. Lines whose
// first node starts with "h" describe host attachments and are skipped.
//
// Each link key has the form "<src device>/<src port>-<dst device>/<dst port>",
// where the emulated topology numbers the port on switch a towards switch b
// as b.
func BuildLinkConfig(triples []core.Triple) (LinkConfig, error) {
	cfg := LinkConfig{Links: make(map[string]LinkEntry, 2*len(triples))}
	for _, t := range triples {
		if strings.HasPrefix(t.A, "h") {
			continue
		}
		a, err := strconv.ParseUint(t.A, 10, 64)
		if err != nil {
			return LinkConfig{}, fmt.Errorf("line %d: switch %q: %w", t.Line, t.A, err)
		}
		b, err := strconv.ParseUint(t.B, 10, 64)
		if err != nil {
			return LinkConfig{}, fmt.Errorf("line %d: switch %q: %w", t.Line, t.B, err)
		}

		aID := fmt.Sprintf("%s/%d", DeviceID(a), b)
		bID := fmt.Sprintf("%s/%d", DeviceID(b), a)
		entry := LinkEntry{Basic: BasicLinkConfig{Bandwidth: t.Value}}
		cfg.Links[aID+"-"+bID] = entry
		cfg.Links[bID+"-"+aID] = entry
	}
	return cfg, nil
}
