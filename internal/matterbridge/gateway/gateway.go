// Package gateway is the Command Gateway (C6): it normalizes a structured
// command request into a chip-tool argument vector, pauses device polling
// for the duration of the call (invariant I4: zero polling reads while a
// command is in flight), dispatches through the Process Executor, and
// shapes the result.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/bdobrica/matterbridge/common/trace"
	"github.com/bdobrica/matterbridge/internal/matterbridge/blockextract"
	"github.com/bdobrica/matterbridge/internal/matterbridge/datamodel"
	"github.com/bdobrica/matterbridge/internal/matterbridge/executor"
	"github.com/bdobrica/matterbridge/internal/matterbridge/imparser"
	"github.com/bdobrica/matterbridge/internal/matterbridge/logclean"
	"github.com/bdobrica/matterbridge/internal/matterbridge/shaper"
	"github.com/bdobrica/matterbridge/internal/matterbridge/types"
)

// onOffCluster/onOffAttribute name the pseudo-writable attribute chip-tool
// reports the On/Off cluster's boolean state under; the special case in
// Dispatch polls exactly this pair.
const (
	onOffCluster   = "OnOff"
	onOffAttribute = "OnOff"
)

var onOffCommands = map[string]bool{"on": true, "off": true, "toggle": true}

// Request is an inbound command, already parsed out of its HTTP or MQTT
// transport envelope.
type Request struct {
	NodeID   types.NodeID
	Endpoint types.Endpoint
	Cluster  string
	Command  string
	Args     []string          // positional command arguments, in order
	Flags    map[string]string // e.g. "timedInteractionTimeoutMs"
}

// PollPauser lets the gateway suspend and resume the Polling Engine's sweep
// of a device for the duration of one command (I4). Implemented by
// polling.Engine; kept as a narrow interface here so this package does not
// import polling and create a cycle.
type PollPauser interface {
	PauseDevice(types.DeviceKey)
	ResumeDevice(types.DeviceKey)
}

// AttributePoller lets the gateway ask for an immediate, single-attribute
// poll outside the regular sweep, so a write's effect is reflected in the
// registry's cache without waiting for the next cycle. Implemented by
// polling.Engine; satisfied optionally - a pauser that doesn't implement it
// (e.g. a test double) just skips the follow-up poll.
type AttributePoller interface {
	PollAttributeNow(ctx context.Context, node types.NodeID, endpoint types.Endpoint, cluster, attribute string) error
}

// Gateway dispatches normalized commands through the Process Executor.
type Gateway struct {
	exec   *executor.Executor
	dict   datamodel.Dictionary
	pauser PollPauser
}

// New returns a Gateway that executes commands via exec, resolves names via
// dict (may be nil), and pauses polling via pauser (may be nil, e.g. in
// tests that don't exercise the polling engine).
func New(exec *executor.Executor, dict datamodel.Dictionary, pauser PollPauser) *Gateway {
	return &Gateway{exec: exec, dict: dict, pauser: pauser}
}

// normalizeArgv builds the chip-tool argument vector: "<cluster> <command>
// [positional args...] <node-id> <endpoint> [--flag value]...". Node and
// endpoint trail the positional args - a write's attribute/value pair, a
// command's fields, a pairing code - matching the command table in §6.
func normalizeArgv(req Request) []string {
	argv := []string{NormalizeCluster(req.Cluster), req.Command}
	argv = append(argv, req.Args...)
	argv = append(argv, string(req.NodeID), fmt.Sprintf("%d", req.Endpoint))
	for k, v := range req.Flags {
		argv = append(argv, "--"+k, v)
	}
	return argv
}

// NormalizeCluster lower-cases a cluster name and strips spaces and "/", so
// "On/Off" and "Level Control" become the tokens chip-tool's own CLI
// expects ("onoff", "levelcontrol").
func NormalizeCluster(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, " ", "")
	return name
}

// KebabCase converts an UpperCamelCase attribute name, as the Data-Model
// Dictionary reports it, into chip-tool's lower-kebab-case command token:
// "OnOff" -> "on-off", "DeviceTypeList" -> "device-type-list".
func KebabCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && !unicode.IsUpper(runes[i-1]) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func isOnOffWrite(req Request) bool {
	return NormalizeCluster(req.Cluster) == NormalizeCluster(onOffCluster) && onOffCommands[strings.ToLower(req.Command)]
}

// Dispatch executes req and returns its shaped result. Attribute writes and
// command invocations all funnel through here; reads issued by the Polling
// Engine do not (they call the executor directly so pausing a read-in-flight
// against itself is a no-op, not a deadlock).
func (g *Gateway) Dispatch(ctx context.Context, req Request) (*shaper.Shaped, error) {
	key := types.DeviceKey{NodeID: req.NodeID, Endpoint: req.Endpoint}
	if g.pauser != nil {
		g.pauser.PauseDevice(key)
		defer g.pauser.ResumeDevice(key)
	}

	argv := normalizeArgv(req)
	slog.Info("gateway: dispatching command", "cluster", req.Cluster, "command", req.Command, "node_id", req.NodeID, "endpoint", req.Endpoint, "trace_id", trace.FromContext(ctx))

	result, err := g.exec.Run(ctx, argv)
	if err != nil {
		return nil, fmt.Errorf("gateway: execute %s.%s: %w", req.Cluster, req.Command, err)
	}

	shaped, err := ShapeOutput(result.Stdout, g.dict)
	if err != nil {
		return nil, fmt.Errorf("gateway: shape response: %w", err)
	}

	if isOnOffWrite(req) {
		if poller, ok := g.pauser.(AttributePoller); ok {
			if err := poller.PollAttributeNow(ctx, req.NodeID, req.Endpoint, onOffCluster, onOffAttribute); err != nil {
				slog.Warn("gateway: on/off follow-up poll failed", "node_id", req.NodeID, "endpoint", req.Endpoint, "err", err)
			}
		}
	}

	return shaped, nil
}

// ShapeOutput runs chip-tool's raw stdout through the log-cleaning, block
// extraction, parsing, and shaping pipeline. It is exported so callers that
// must bypass Dispatch's polling pause - the Polling Engine's own reads,
// chiefly - can still reuse the same response pipeline.
func ShapeOutput(stdout string, dict datamodel.Dictionary) (*shaper.Shaped, error) {
	cleaned := logclean.Clean(stdout)
	blocks := blockextract.Extract(cleaned)

	var records []imparser.Record
	for _, b := range blocks {
		rec, err := imparser.Parse(b)
		if err != nil {
			slog.Warn("gateway: failed to parse block, skipping", "err", err)
			continue
		}
		records = append(records, rec)
	}

	return shaper.Shape(records, dict)
}
