package gateway_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/matterbridge/internal/matterbridge/datamodel"
	"github.com/bdobrica/matterbridge/internal/matterbridge/executor"
	"github.com/bdobrica/matterbridge/internal/matterbridge/gateway"
	"github.com/bdobrica/matterbridge/internal/matterbridge/types"
)

type fakePauser struct {
	paused, resumed []types.DeviceKey
}

func (f *fakePauser) PauseDevice(k types.DeviceKey)  { f.paused = append(f.paused, k) }
func (f *fakePauser) ResumeDevice(k types.DeviceKey) { f.resumed = append(f.resumed, k) }

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-chip-tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDispatch_PausesAndResumesPolling(t *testing.T) {
	script := writeScript(t, `echo "1 2 [DMG] IM:ReportData from 1:0000000000000001"
echo "1 2 [DMG] ReportDataMessage = { AttributeReportIBs = [ AttributeReportIB = { AttributeDataIB = { AttributePathIB = {"
echo "1 2 [DMG] Endpoint = 0x1 Cluster = 0x6 Attribute = 0x0 }"
echo "1 2 [DMG] Data = true } } ] }"`)
	exec := executor.New(executor.Config{ChipToolPath: script, CommandTimeout: 2 * time.Second})
	pauser := &fakePauser{}
	gw := gateway.New(exec, datamodel.NewStatic(), pauser)

	shaped, err := gw.Dispatch(context.Background(), gateway.Request{
		NodeID: "0x1", Endpoint: 1, Cluster: "onoff", Command: "read",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(shaped.Reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(shaped.Reports))
	}
	if len(pauser.paused) != 1 || len(pauser.resumed) != 1 {
		t.Errorf("expected pause+resume to be called once each, got paused=%v resumed=%v", pauser.paused, pauser.resumed)
	}
}

func TestDispatch_ExecutorErrorPropagates(t *testing.T) {
	script := writeScript(t, `exit 1`)
	exec := executor.New(executor.Config{ChipToolPath: script, CommandTimeout: 2 * time.Second})
	gw := gateway.New(exec, datamodel.NewStatic(), nil)

	_, err := gw.Dispatch(context.Background(), gateway.Request{NodeID: "0x1", Endpoint: 1, Cluster: "onoff", Command: "on"})
	if err == nil {
		t.Fatal("expected error from failing chip-tool invocation")
	}
}
