package model

import (
	"fmt"
	"strconv"
	"strings"
)

// HostIDSuffix is appended by the controller to host identifiers that carry
// no VLAN tag.
const HostIDSuffix = "/None"

// SwitchPort identifies a port on a switch (device).
type SwitchPort struct {
	Device string `json:"device" yaml:"device"`
	Port   string `json:"port" yaml:"port"`
}

func (sp SwitchPort) String() string {
	return fmt.Sprintf("%s/%s", sp.Device, sp.Port)
}

// Host is an end host attached to the switching fabric at Location.
type Host struct {
	ID       string     `json:"id" yaml:"id"`
	MAC      string     `json:"mac" yaml:"mac"`
	Location SwitchPort `json:"location" yaml:"location"`
}

// Endpoint returns the resolved endpoint for traffic entering or leaving the
// fabric at this host.
func (h Host) Endpoint() Endpoint {
	return Endpoint{
		HostID: h.ID,
		MAC:    h.MAC,
		NodeID: h.Location.Device,
		Port:   h.Location.Port,
	}
}

// HostIDFromNumber converts a small host number into the MAC-derived host
// identifier assigned by the emulated network, e.g. "14" becomes
// "00:00:00:00:00:0e/None".
func HostIDFromNumber(num string) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return "", fmt.Errorf("host number %q: %w", num, err)
	}
	if n < 0 || n > 255 {
		return "", fmt.Errorf("host number %d out of range [0,255]", n)
	}
	return fmt.Sprintf("00:00:00:00:00:%02x%s", n, HostIDSuffix), nil
}

// NormalizeHostID accepts either a full host identifier (ending in "/None")
// or a host number and returns the full identifier.
func NormalizeHostID(token string) (string, error) {
	if strings.HasSuffix(token, HostIDSuffix) {
		return token, nil
	}
	return HostIDFromNumber(token)
}
