package sources

// SourceConfig selects a source by type and carries its settings as flat
// string pairs, the way they appear in the config file.
type SourceConfig struct {
	Name           string            `koanf:"name" json:"name"`
	ConnectionType string            `koanf:"type" json:"type"`
	Config         map[string]string `koanf:"config" json:"config"`
	Key            string            `koanf:"key" json:"key"`
}
