package api

// ServerConfig represents the API server configuration.
type ServerConfig struct {
	Addr string `help:"API server listen address" default:":3246" env:"DSUD_API_ADDR"`
	// StreamInputBuffer is the per-subscriber ring size for input snapshots
	// on the event stream; older snapshots are dropped when a client lags.
	StreamInputBuffer int `help:"Buffered input snapshots per event stream" default:"64" env:"DSUD_API_STREAM_BUFFER"`
	// Password is loaded from the key file at startup, never from flags.
	Password string `kong:"-"`
}
