package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/matterbridge/internal/matterbridge/commission"
	"github.com/bdobrica/matterbridge/internal/matterbridge/datamodel"
	"github.com/bdobrica/matterbridge/internal/matterbridge/executor"
	"github.com/bdobrica/matterbridge/internal/matterbridge/gateway"
	"github.com/bdobrica/matterbridge/internal/matterbridge/httpapi"
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

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-chip-tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func newTestServer(t *testing.T, scriptBody string) (*httpapi.Server, *registry.Registry) {
	t.Helper()
	reg := newTestRegistry(t)
	script := writeScript(t, scriptBody)
	exec := executor.New(executor.Config{ChipToolPath: script, CommandTimeout: 2 * time.Second})
	dict := datamodel.NewStatic()
	gw := gateway.New(exec, dict, nil)
	orch := commission.New(gw, reg)
	srv, err := httpapi.New(reg, gw, orch, dict, nil)
	if err != nil {
		t.Fatalf("httpapi.New: %v", err)
	}
	return srv, reg
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, `exit 0`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestListDevices_Filters(t *testing.T) {
	srv, reg := newTestServer(t, `exit 0`)
	ctx := context.Background()
	if err := reg.UpsertDevice(ctx, types.Device{NodeID: "0x1", Endpoint: 1, DeviceType: "OnOffLight", TopicID: "1"}); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	if err := reg.UpsertDevice(ctx, types.Device{NodeID: "0x2", Endpoint: 1, DeviceType: "DimmableLight", TopicID: "2"}); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/device?device_type=OnOffLight", nil)
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var devices []types.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(devices) != 1 || devices[0].NodeID != "0x1" {
		t.Errorf("unexpected filtered devices: %+v", devices)
	}
}

func TestDeleteDevice_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, `exit 0`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/device/0x99/1", nil)
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
}

func TestWriteAttribute_DeviceNotFound(t *testing.T) {
	srv, _ := newTestServer(t, `exit 0`)
	body := bytes.NewBufferString(`{"value":"true"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/device/0x99/1/On-Off/OnOff", body)
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
}

func TestCommission_InvalidBody(t *testing.T) {
	srv, _ := newTestServer(t, `exit 0`)
	body := bytes.NewBufferString(`{}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/device", body)
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestDatamodelCluster(t *testing.T) {
	srv, _ := newTestServer(t, `exit 0`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/datamodel/cluster", nil)
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var clusters []string
	if err := json.Unmarshal(rec.Body.Bytes(), &clusters); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(clusters) == 0 {
		t.Error("expected at least one cluster")
	}
}
