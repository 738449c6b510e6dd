// Package commission is the Commissioning Orchestrator (C8): it drives a
// new device through chip-tool pairing, enumerates its endpoints, and
// records the result in the Device Registry as a single atomic unit
// (invariant I5 - either every endpoint is recorded, or none are).
package commission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdobrica/matterbridge/internal/matterbridge/gateway"
	"github.com/bdobrica/matterbridge/internal/matterbridge/registry"
	"github.com/bdobrica/matterbridge/internal/matterbridge/shaper"
	"github.com/bdobrica/matterbridge/internal/matterbridge/types"
)

// Request describes a device to commission. SetupCode and Discriminator
// come from the device's QR code or manual pairing code; NodeID is
// optional - when empty, the orchestrator assigns the registry's next
// monotonic NodeID (invariant I2).
type Request struct {
	SetupCode     string
	Discriminator string
	NodeID        types.NodeID
}

// Result is the commissioned device's assigned identity and its enumerated
// endpoints.
type Result struct {
	NodeID    types.NodeID
	Devices   []types.Device
	UniqueIDs []types.UniqueID
}

// Orchestrator drives the pair -> enumerate -> record sequence.
type Orchestrator struct {
	gw  *gateway.Gateway
	reg *registry.Registry
}

// New returns an Orchestrator using gw to invoke chip-tool and reg to
// persist the result.
func New(gw *gateway.Gateway, reg *registry.Registry) *Orchestrator {
	return &Orchestrator{gw: gw, reg: reg}
}

// Commission pairs a device and enumerates it. On any failure after the
// pairing call itself succeeds, every device row written during this call
// is rolled back so a partially-enumerated device never becomes visible
// (I5): either the whole Result is recorded, or nothing is.
func (o *Orchestrator) Commission(ctx context.Context, req Request) (*Result, error) {
	nodeID := req.NodeID
	if nodeID == "" {
		next, err := o.reg.NextNodeID(ctx)
		if err != nil {
			return nil, fmt.Errorf("commission: assign node id: %w", err)
		}
		nodeID = types.NodeID(fmt.Sprintf("0x%X", next))
	}

	pairResp, err := o.gw.Dispatch(ctx, gateway.Request{
		NodeID:  nodeID,
		Cluster: "pairing",
		Command: "code",
		Args:    []string{req.SetupCode},
	})
	if err != nil {
		return nil, fmt.Errorf("commission: pairing invocation: %w", err)
	}
	if !commissioningSucceeded(pairResp) {
		return nil, fmt.Errorf("commission: pairing reported failure for node %s", nodeID)
	}

	endpoints, err := o.enumerate(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("commission: enumerate node %s: %w", nodeID, err)
	}

	if err := o.record(ctx, nodeID, endpoints); err != nil {
		o.rollback(ctx, nodeID, endpoints)
		return nil, fmt.Errorf("commission: record node %s: %w", nodeID, err)
	}

	slog.Info("commission: device commissioned", "node_id", nodeID, "endpoints", len(endpoints))
	return &Result{NodeID: nodeID, Devices: endpoints}, nil
}

func commissioningSucceeded(shaped *shaper.Shaped) bool {
	for _, c := range shaped.Commands {
		if c.CommissioningSucceeded() {
			return true
		}
	}
	return false
}

// enumerate reads the Descriptor cluster's endpoint list off the freshly
// paired node and builds one types.Device per endpoint discovered. The
// DeviceTypeList attribute is not read: endpoint 0 is tagged "RootNode" and
// every other endpoint "Unknown".
func (o *Orchestrator) enumerate(ctx context.Context, nodeID types.NodeID) ([]types.Device, error) {
	resp, err := o.gw.Dispatch(ctx, gateway.Request{
		NodeID:  nodeID,
		Cluster: "descriptor",
		Command: "read",
		Args:    []string{"parts-list"},
	})
	if err != nil {
		return nil, err
	}

	seen := map[types.Endpoint]bool{0: true}
	devices := []types.Device{{NodeID: nodeID, Endpoint: 0, DeviceType: "RootNode", TopicID: types.NewTopicID(nodeID)}}
	for _, r := range resp.Reports {
		if seen[r.Endpoint] {
			continue
		}
		seen[r.Endpoint] = true
		devices = append(devices, types.Device{
			NodeID:     nodeID,
			Endpoint:   r.Endpoint,
			DeviceType: "Unknown",
			TopicID:    types.NewTopicID(nodeID),
		})
	}
	return devices, nil
}

func (o *Orchestrator) record(ctx context.Context, nodeID types.NodeID, devices []types.Device) error {
	for _, d := range devices {
		if err := o.reg.UpsertDevice(ctx, d); err != nil {
			return err
		}
	}
	return o.reg.UpsertUniqueID(ctx, types.UniqueID{NodeID: nodeID, Name: string(nodeID), UniqueID: string(nodeID)})
}

func (o *Orchestrator) rollback(ctx context.Context, nodeID types.NodeID, devices []types.Device) {
	for _, d := range devices {
		if err := o.reg.DeleteDevice(ctx, nodeID, d.Endpoint); err != nil {
			slog.Warn("commission: rollback failed to delete device", "node_id", nodeID, "endpoint", d.Endpoint, "err", err)
		}
	}
}
