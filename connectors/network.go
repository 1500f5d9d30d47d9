package connectors

import (
	"context"
	"time"

	"github.com/opsloop/orchestrator-core/domain"
)

// NetworkDeviceConnector targets a single switch/router/firewall CLI.
// Network gear overwhelmingly speaks SSH for scripted configuration
// (vendor CLIs over an interactive shell), so this variant is a thin
// redress of SSHConnector with network-appropriate shell wrapping
// turned off: device CLIs are not POSIX shells, so the command is sent
// verbatim rather than through `${shell} -lc`.
type NetworkDeviceConnector struct {
	inner SSHConnector
}

func (n NetworkDeviceConnector) Execute(ctx context.Context, command string, cfg Config, timeout time.Duration) (domain.StepResult, error) {
	return n.inner.executeRaw(ctx, command, cfg, timeout)
}

// NetworkClusterConnector fans the same command out to every member of
// a device cluster (e.g. an HA pair or stack) sequentially, since the
// uniform contract returns one Result and the spec does not define a
// per-member result shape. The first failure aborts the fan-out and is
// returned as the cluster's result; members are addressed via
// cfg.Metadata["cluster_members"] (a []string of hosts), falling back to
// the single cfg.Host when absent.
type NetworkClusterConnector struct {
	member NetworkDeviceConnector
}

func (n NetworkClusterConnector) Execute(ctx context.Context, command string, cfg Config, timeout time.Duration) (domain.StepResult, error) {
	members := clusterMembers(cfg)
	var last domain.StepResult
	for _, host := range members {
		memberCfg := cfg
		memberCfg.Host = host
		res, err := n.member.Execute(ctx, command, memberCfg, timeout)
		if err != nil {
			return res, err
		}
		last = res
		if !res.Success {
			return last, nil
		}
	}
	return last, nil
}

func clusterMembers(cfg Config) []string {
	if raw, ok := cfg.Metadata["cluster_members"]; ok {
		if list, ok := raw.([]string); ok && len(list) > 0 {
			return list
		}
		if list, ok := raw.([]interface{}); ok {
			out := make([]string, 0, len(list))
			for _, v := range list {
				if s, ok := v.(string); ok {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return []string{cfg.Host}
}
