package tracing

// NopBroadcast is a BroadcastService that does nothing. Used by the CLI
// and by tests that exercise the orchestrator without a radio.
type NopBroadcast struct{}

func (NopBroadcast) Start() error { return nil }
func (NopBroadcast) Stop() error  { return nil }

// NopDiscovery is a DiscoveryService that does nothing.
type NopDiscovery struct{}

func (NopDiscovery) StartScanning() error { return nil }
func (NopDiscovery) StopScanning() error  { return nil }
