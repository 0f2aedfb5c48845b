package config

// An index is a remote metadata search service describing available datasets
// and the replicas that host their files.
type IndexConfig struct {
	// descriptive name of the index (defaults to its YAML key)
	Name string `yaml:"name"`
	// the name of the provider (e.g. "solr", "globus")
	Provider string `yaml:"provider"`
	// the base URL at which the index is queried
	URL string `yaml:"url"`
	// the Globus Search index ID (UUID string, globus provider only)
	IndexId string `yaml:"index_id"`
	// per-query timeout (seconds)
	Timeout int `yaml:"timeout"`
	// whether this index participates in federated queries
	Enabled bool `yaml:"enabled"`
}
