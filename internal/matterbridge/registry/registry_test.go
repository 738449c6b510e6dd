package registry_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/bdobrica/matterbridge/internal/matterbridge/registry"
	"github.com/bdobrica/matterbridge/internal/matterbridge/types"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "matterbridge-test-*.db")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	f.Close()

	r, err := registry.Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestUpsertAndGetDevice(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	d := types.Device{NodeID: "0x1122", Endpoint: 1, DeviceType: "OnOffLight", TopicID: types.NewTopicID("0x1122"), Name: "Lamp"}
	if err := r.UpsertDevice(ctx, d); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	got, err := r.GetDevice(ctx, "0x1122", 1)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Name != "Lamp" || got.DeviceType != "OnOffLight" {
		t.Errorf("unexpected device: %+v", got)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetDevice(context.Background(), "0xdead", 1)
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListDevices(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	for i, node := range []types.NodeID{"0x1", "0x2", "0x3"} {
		d := types.Device{NodeID: node, Endpoint: types.Endpoint(i), DeviceType: "Light", TopicID: types.NewTopicID(node)}
		if err := r.UpsertDevice(ctx, d); err != nil {
			t.Fatalf("UpsertDevice: %v", err)
		}
	}

	devices, err := r.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 3 {
		t.Errorf("expected 3 devices, got %d", len(devices))
	}
}

func TestDeleteDevice(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	d := types.Device{NodeID: "0x1", Endpoint: 1, DeviceType: "Light", TopicID: "1"}
	if err := r.UpsertDevice(ctx, d); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	if err := r.DeleteDevice(ctx, "0x1", 1); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	if _, err := r.GetDevice(ctx, "0x1", 1); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpsertAttribute_TypeImmutable(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	d := types.Device{NodeID: "0x1", Endpoint: 1, DeviceType: "Light", TopicID: "1"}
	if err := r.UpsertDevice(ctx, d); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	a := types.Attribute{NodeID: "0x1", Endpoint: 1, Cluster: "OnOff", Attribute: "OnOff", Type: "bool", Value: "1"}
	if err := r.UpsertAttribute(ctx, a); err != nil {
		t.Fatalf("UpsertAttribute: %v", err)
	}

	a.Value = "0"
	if err := r.UpsertAttribute(ctx, a); err != nil {
		t.Fatalf("UpsertAttribute (value update): %v", err)
	}

	a.Type = "uint8"
	if err := r.UpsertAttribute(ctx, a); !errors.Is(err, registry.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestNextNodeID_Monotonic(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	for _, node := range []types.NodeID{"0x1", "0x5", "0x3"} {
		d := types.Device{NodeID: node, Endpoint: 1, DeviceType: "Light", TopicID: types.NewTopicID(node)}
		if err := r.UpsertDevice(ctx, d); err != nil {
			t.Fatalf("UpsertDevice: %v", err)
		}
	}

	next, err := r.NextNodeID(ctx)
	if err != nil {
		t.Fatalf("NextNodeID: %v", err)
	}
	if next != 6 {
		t.Errorf("NextNodeID: got %d, want 6", next)
	}
}

func TestMigrations_Idempotent(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "matterbridge-test-idempotent-*.db")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	f.Close()

	r1, err := registry.Open(f.Name())
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	r1.Close()

	r2, err := registry.Open(f.Name())
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	r2.Close()
}
