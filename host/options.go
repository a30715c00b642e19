package host

import (
	"time"

	"github.com/moffa90/go-aicupg/protocol"
)

// DefaultCommandSize is the data length of one WRITE or READ command
// issued by SendImage and ReadBack.
const DefaultCommandSize = 1 << 20

// Config holds the client configuration.
type Config struct {
	// ProgressCallback is called by SendImage and ReadBack (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Timeout bounds one command cycle on connections that support
	// deadlines. 0 disables it.
	Timeout time.Duration

	// Retries is the number of times a failed WRITE is resumed
	Retries int

	// ChunkSize is the largest single write to the connection
	ChunkSize int

	// CommandSize is the data length of one command in SendImage and ReadBack
	CommandSize int

	// PacketMode treats every Read from the connection as one packet, so
	// that a status block sent early by the device is recognized
	PacketMode bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Retries:     3,
		ChunkSize:   protocol.DefaultChunkSize,
		CommandSize: DefaultCommandSize,
	}
}

// Option is a functional option for configuring the Client.
type Option func(*Config)

// WithProgressCallback sets a callback function to track transfer progress.
//
// Example:
//
//	c := host.New(port,
//	    host.WithProgressCallback(func(p host.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the client operations.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTimeout sets the per-command timeout.
//
// Example:
//
//	c := host.New(conn, host.WithTimeout(10*time.Second))
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithRetries sets the number of resume attempts for failed WRITE commands.
//
// Example:
//
//	c := host.New(port, host.WithRetries(5))
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.Retries = retries
		}
	}
}

// WithChunkSize sets the largest single write to the connection.
// Use the endpoint packet size for packet transports.
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.ChunkSize = size
		}
	}
}

// WithCommandSize sets the data length of the commands issued by
// SendImage and ReadBack.
func WithCommandSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.CommandSize = size
		}
	}
}

// WithPacketMode marks the connection as packet oriented (USB bulk, HID).
func WithPacketMode() Option {
	return func(c *Config) {
		c.PacketMode = true
	}
}
