package api

import "time"

// Config configures the HTTP/JSON API server.
type Config struct {
	// Host to bind. Empty binds all interfaces.
	Host string

	// Port is the HTTP port for the API endpoints.
	Port int

	// RequestTimeout bounds the handling of a single request. The websocket
	// event stream is exempt.
	RequestTimeout time.Duration
}

// applyDefaults fills zero values so a directly constructed Config works.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 5030
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
}
