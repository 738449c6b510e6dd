package polling

import (
	"context"
	"fmt"

	"github.com/bdobrica/matterbridge/internal/matterbridge/datamodel"
	"github.com/bdobrica/matterbridge/internal/matterbridge/executor"
	"github.com/bdobrica/matterbridge/internal/matterbridge/gateway"
	"github.com/bdobrica/matterbridge/internal/matterbridge/registry"
	"github.com/bdobrica/matterbridge/internal/matterbridge/types"
)

// ExecReader is the default Reader: it calls chip-tool directly through the
// Process Executor, bypassing the Command Gateway so a poll never tries to
// pause itself. It reuses gateway.ShapeOutput for the response pipeline.
type ExecReader struct {
	Exec *executor.Executor
	Dict datamodel.Dictionary
	Reg  *registry.Registry
}

// NewExecReader returns a Reader backed by exec, resolving attribute/cluster
// names via dict and sourcing a device's tracked attributes from reg.
func NewExecReader(exec *executor.Executor, dict datamodel.Dictionary, reg *registry.Registry) *ExecReader {
	return &ExecReader{Exec: exec, Dict: dict, Reg: reg}
}

// ReadAttributes round-robins poll_single over every (cluster,attribute)
// the Registry already tracks for (node,endpoint) - one chip-tool
// invocation per attribute, not a single bulk wildcard read, matching the
// per-device loop in §4.8. A device with nothing tracked yet (no prior
// report has landed for it) returns no attributes; rows are added by
// Engine.PollAttributeNow, which the Command Gateway calls after an on/off
// command.
func (r *ExecReader) ReadAttributes(ctx context.Context, node types.NodeID, endpoint types.Endpoint) ([]types.Attribute, error) {
	tracked, err := r.Reg.ListAttributes(ctx, node, endpoint)
	if err != nil {
		return nil, fmt.Errorf("polling: list tracked attributes for node %s endpoint %d: %w", node, endpoint, err)
	}

	attrs := make([]types.Attribute, 0, len(tracked))
	for _, t := range tracked {
		a, err := r.ReadAttribute(ctx, node, endpoint, t.Cluster, t.Attribute)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

// ReadAttribute is poll_single: "<cluster> read <attribute-in-kebab-case>
// <node> <endpoint>" issued straight through the Process Executor, under
// the gateway's pause rather than through it.
func (r *ExecReader) ReadAttribute(ctx context.Context, node types.NodeID, endpoint types.Endpoint, cluster, attribute string) (types.Attribute, error) {
	argv := []string{gateway.NormalizeCluster(cluster), "read", gateway.KebabCase(attribute), string(node), fmt.Sprintf("%d", endpoint)}
	result, err := r.Exec.Run(ctx, argv)
	if err != nil {
		return types.Attribute{}, fmt.Errorf("polling: read %s.%s on node %s endpoint %d: %w", cluster, attribute, node, endpoint, err)
	}

	shaped, err := gateway.ShapeOutput(result.Stdout, r.Dict)
	if err != nil {
		return types.Attribute{}, fmt.Errorf("polling: shape %s.%s on node %s endpoint %d: %w", cluster, attribute, node, endpoint, err)
	}
	if len(shaped.Reports) == 0 {
		return types.Attribute{}, fmt.Errorf("polling: no report for %s.%s on node %s endpoint %d", cluster, attribute, node, endpoint)
	}
	rep := shaped.Reports[0]
	return types.Attribute{
		NodeID:    rep.NodeID,
		Endpoint:  rep.Endpoint,
		Cluster:   rep.Cluster,
		Attribute: rep.Attribute,
		Type:      rep.Type,
		Value:     rep.Value,
	}, nil
}
