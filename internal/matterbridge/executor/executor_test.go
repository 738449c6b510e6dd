package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/matterbridge/internal/matterbridge/executor"
)

// writeScript creates an executable shell script in t.TempDir() and returns
// its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-chip-tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRun_Success(t *testing.T) {
	script := writeScript(t, `echo "Endpoint = { Cluster = 6 }"`)
	e := executor.New(executor.Config{ChipToolPath: script, CommandTimeout: 2 * time.Second})

	res, err := e.Run(context.Background(), []string{"onoff", "read", "on-off", "1", "1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode: got %d, want 0", res.ExitCode)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "boom" 1>&2; exit 1`)
	e := executor.New(executor.Config{ChipToolPath: script, CommandTimeout: 2 * time.Second})

	_, err := e.Run(context.Background(), []string{"bad"})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}

func TestRun_RetriesOnBusy(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "count")
	script := writeScript(t, `
n=0
if [ -f `+counter+` ]; then n=$(cat `+counter+`); fi
n=$((n+1))
echo $n > `+counter+`
if [ "$n" -lt 2 ]; then
  echo "Resource is busy"
  exit 1
fi
echo "ok"
`)
	e := executor.New(executor.Config{ChipToolPath: script, CommandTimeout: 2 * time.Second})

	res, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "ok\n" {
		t.Errorf("Stdout: got %q, want %q after retry", res.Stdout, "ok\n")
	}
}
