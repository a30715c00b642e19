package transfer

import "github.com/moffa90/go-aicupg/protocol"

// Config holds session settings.
type Config struct {
	// ChunkSize is the size of the packet buffer and the largest data
	// chunk handed to the Handler at once
	ChunkSize int

	// MaxMalformed is the number of consecutive malformed command blocks
	// after which the session fails with ErrTooManyMalformed. 0 means no limit.
	MaxMalformed int

	// Drain keeps a failed data phase running to its declared length
	// before the status is sent, see WithDrain
	Drain bool

	// PacketMode makes Serve complete each receive with a single Read
	PacketMode bool

	// Logger for debug output (optional)
	Logger Logger
}

// Option configures a Session.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		ChunkSize: protocol.DefaultChunkSize,
	}
}

// WithChunkSize sets the packet buffer size. Values below the command
// block size are raised to it.
//
// Example:
//
//	s := transfer.NewSession(t, h, transfer.WithChunkSize(16*1024))
func WithChunkSize(n int) Option {
	return func(c *Config) {
		c.ChunkSize = n
	}
}

// WithMaxMalformed bounds the number of consecutive malformed command
// blocks. The default of 0 drops them forever and waits for the host to
// resynchronize.
//
// Example:
//
//	s := transfer.NewSession(t, h, transfer.WithMaxMalformed(16))
func WithMaxMalformed(n int) Option {
	return func(c *Config) {
		c.MaxMalformed = n
	}
}

// WithDrain controls what happens when the Handler fails during a data
// phase. With drain off the status block is sent at once, which suits
// packet transports where the host stops on a short transfer. With drain
// on, the remaining OUT data is received and discarded, or the remaining
// IN data is sent as zeros, so a byte stream stays aligned on command
// boundaries. The status is FAILED either way.
//
// Serve turns drain on unless packet mode is selected.
func WithDrain(on bool) Option {
	return func(c *Config) {
		c.Drain = on
	}
}

// WithPacketMode makes Serve treat every Read as one transport packet
// instead of reading exactly the armed length. Use it for message oriented
// connections such as HID or USB bulk wrappers.
func WithPacketMode() Option {
	return func(c *Config) {
		c.PacketMode = true
	}
}

// WithLogger enables debug logging.
//
// Example:
//
//	s := transfer.NewSession(t, h, transfer.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Logger is an optional logging interface. It matches the logger used by
// the other packages of this module.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
