package orchestrator

// Version information for the runbook execution orchestrator.
const (
	// Version is the current module version.
	Version = "development"

	// APIVersion is the stream/event wire-format version.
	APIVersion = "v1"
)

var (
	// BuildDate is set during build time via -ldflags.
	BuildDate = "development"

	// GitCommit is set during build time via -ldflags.
	GitCommit = "unknown"
)
