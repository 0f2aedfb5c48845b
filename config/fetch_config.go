package config

// parameters governing file acquisition (the transfer scheduler)
type FetchConfig struct {
	// number of concurrent file downloads
	NumWorkers int `yaml:"num_workers"`
	// when true, the first file that exhausts all of its access candidates
	// aborts the whole acquisition
	BreakOnError bool `yaml:"break_on_error"`
	// transfers whose measured rate stays below this threshold (MB/s) for
	// slow_window seconds are cancelled and retried on the next candidate
	// (zero disables early cancellation)
	SlowThreshold float64 `yaml:"slow_threshold"`
	// how long (seconds) a transfer must stay below slow_threshold before
	// it is cancelled
	SlowWindow int `yaml:"slow_window"`
	// when true, streaming (OPeNDAP) access links are preferred over
	// downloads for files not already held locally
	PreferStreaming bool `yaml:"prefer_streaming"`
	// probability that a host with no recorded samples is tried before the
	// ranked hosts, so cold hosts still get sampled
	Exploration float64 `yaml:"exploration"`
	// half-life (days) of the recency weighting applied to ledger samples
	HalfLife int `yaml:"half_life"`
	// suppresses progress reporting
	Quiet bool `yaml:"quiet"`
}
