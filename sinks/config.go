package sinks

// SinkConfig selects a sink by type and carries its settings as flat
// string pairs.
type SinkConfig struct {
	Name           string            `koanf:"name" json:"name"`
	ConnectionType string            `koanf:"type" json:"type"`
	Config         map[string]string `koanf:"config" json:"config"`
	Key            string            `koanf:"key" json:"key"`
}
