// Package agent carries the version identity of the agent payload that is
// baked into every stemcell. Both values can be overridden at link time:
//
//	go build -ldflags "-X github.com/cochaviz/stemcell/internal/agent.Version=0.7.1"
package agent

var (
	// Version is the agent release the stemcell ships with.
	Version = "0.7.0"
	// Protocol is the director/agent protocol revision the agent speaks.
	Protocol = "1"
)
