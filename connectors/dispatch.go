package connectors

import (
	"fmt"

	"github.com/opsloop/orchestrator-core/core"
)

// New resolves a Connector from cfg.ConnectorType (§4.4: "Dispatch is by
// config.connector_type"). KindAWSSSM and KindSSM are aliases for the
// same implementation; network_device and network_cluster both route
// through the SSH-backed variants in network.go.
func New(kind Kind) (Connector, error) {
	switch kind {
	case KindLocal:
		return LocalConnector{}, nil
	case KindSSH:
		return SSHConnector{}, nil
	case KindWinRM:
		return WinRMConnector{}, nil
	case KindAWSSSM, KindSSM:
		return SSMConnector{}, nil
	case KindAzureBastion:
		return AzureConnector{}, nil
	case KindGCPIAP:
		return GCPIAPConnector{}, nil
	case KindDatabase:
		return DatabaseConnector{}, nil
	case KindAPI:
		return APIConnector{}, nil
	case KindNetworkDevice:
		return NetworkDeviceConnector{}, nil
	case KindNetworkCluster:
		return NetworkClusterConnector{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownConnector, kind)
	}
}
