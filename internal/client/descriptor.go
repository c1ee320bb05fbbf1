package client

import "fmt"

// Descriptor is the resolved network configuration for one application:
// where to fetch published keys and where to submit exposure reports.
type Descriptor struct {
	AppID          string `json:"appId"`
	Description    string `json:"description,omitempty"`
	BackendBaseURL string `json:"backendBaseUrl"`
	BucketBaseURL  string `json:"bucketBaseUrl"`
	Contact        string `json:"contact,omitempty"`
}

// Validate checks the fields required to construct a client.
func (d Descriptor) Validate() error {
	if d.AppID == "" {
		return fmt.Errorf("descriptor appId is required")
	}
	if d.BackendBaseURL == "" {
		return fmt.Errorf("descriptor backendBaseUrl is required")
	}
	return nil
}

// ConfigMode selects how the descriptor is obtained.
type ConfigMode string

const (
	// ModeDiscovery resolves the descriptor for AppID from the remote
	// application list at client-resolution time.
	ModeDiscovery ConfigMode = "discovery"

	// ModeManual uses the descriptor fixed at construction.
	ModeManual ConfigMode = "manual"
)

// AppConfig fixes the application identity at orchestrator construction.
// It is never mutated afterwards.
type AppConfig struct {
	Mode       ConfigMode
	AppID      string
	Descriptor Descriptor
}

// NewDiscoveryConfig creates a config whose descriptor is resolved
// dynamically for appID.
func NewDiscoveryConfig(appID string) AppConfig {
	return AppConfig{Mode: ModeDiscovery, AppID: appID}
}

// NewManualConfig creates a config with a fixed descriptor.
func NewManualConfig(desc Descriptor) AppConfig {
	return AppConfig{Mode: ModeManual, AppID: desc.AppID, Descriptor: desc}
}

// Validate checks the config for the selected mode.
func (c AppConfig) Validate() error {
	switch c.Mode {
	case ModeDiscovery:
		if c.AppID == "" {
			return fmt.Errorf("discovery config requires an app id")
		}
		return nil
	case ModeManual:
		return c.Descriptor.Validate()
	default:
		return fmt.Errorf("unknown config mode %q", c.Mode)
	}
}
