// Package controller keeps the intent set consistent with the live network:
// it reconciles the capacity graph against the topology source, drives the
// intent lifecycle and runs the periodic control loop.
package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
	"github.com/signalsfoundry/bandwidth-intent-controller/model"
)

// ErrMissingPort is returned when a flow rule cannot be derived because an
// ingress or egress port is unknown.
var ErrMissingPort = errors.New("missing port")

// TopologySource lists the live hosts and links.
type TopologySource interface {
	Hosts(ctx context.Context) ([]model.Host, error)
	Links(ctx context.Context) ([]model.Link, error)
}

// RuleInstaller pushes and deletes flow rules on the network devices.
type RuleInstaller interface {
	InstallFlow(ctx context.Context, rule model.FlowRule) (string, error)
	DeleteFlow(ctx context.Context, deviceID, ruleID string) error
}

// DeriveFlowRules returns one forward and one reverse rule for every switch
// on the intent's path, forward first. Ports between switches come from the
// edge metadata in g; the ports at the two ends are the hosts' attachment
// ports.
func DeriveFlowRules(g *core.CapacityGraph, in *model.Intent, priority int) ([]model.FlowRule, error) {
	path := in.Path
	if len(path) == 0 {
		return nil, fmt.Errorf("intent %s: %w: no path", in.ID, core.ErrInvalidPath)
	}
	if priority <= 0 {
		priority = model.DefaultFlowPriority
	}

	rules := make([]model.FlowRule, 0, 2*len(path))
	for i, node := range path {
		inPort := in.Src.Port
		if i > 0 {
			p, err := portToward(g, node, path[i-1])
			if err != nil {
				return nil, fmt.Errorf("intent %s: %w", in.ID, err)
			}
			inPort = p
		}
		outPort := in.Dst.Port
		if i < len(path)-1 {
			p, err := portToward(g, node, path[i+1])
			if err != nil {
				return nil, fmt.Errorf("intent %s: %w", in.ID, err)
			}
			outPort = p
		}
		if inPort == "" || outPort == "" {
			return nil, fmt.Errorf("intent %s: %w: host port on %s", in.ID, ErrMissingPort, node)
		}

		fwd := model.FlowRule{
			DeviceID:  node,
			SrcMAC:    in.Src.MAC,
			DstMAC:    in.Dst.MAC,
			InPort:    inPort,
			OutPort:   outPort,
			Priority:  priority,
			Permanent: true,
		}
		rules = append(rules, fwd, fwd.Reverse())
	}
	return rules, nil
}

// portToward returns the port on node that leads to next.
func portToward(g *core.CapacityGraph, node, next string) (string, error) {
	e, err := g.Edge(node, next)
	if err != nil {
		return "", err
	}
	port, ok := e.PortOn(node)
	if !ok || port == "" {
		return "", fmt.Errorf("%w: %s towards %s", ErrMissingPort, node, next)
	}
	return port, nil
}
