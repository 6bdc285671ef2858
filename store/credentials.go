package store

import "net"

// Credentials identify the Redis instance backing a queue.
type Credentials struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// addr returns the host:port address dialed by the Redis client.
func (c Credentials) addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}
