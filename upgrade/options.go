package upgrade

import "github.com/moffa90/go-aicupg/image"

const (
	// DefaultWriteSize is the read size of the file-based path
	DefaultWriteSize = 1 << 20

	// MinWriteSize is the smallest read size the file-based path uses
	MinWriteSize = 64 << 10
)

// Config holds the upgrader configuration.
type Config struct {
	// ProgressCallback is called during an upgrade to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Protection lists partitions that are never written
	Protection image.ProtectionList

	// WriteSize is the number of image bytes read and written at once by
	// the file-based path. It is rounded down to the component block size.
	WriteSize int
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		WriteSize: DefaultWriteSize,
	}
}

// Option is a functional option for configuring the Upgrader and Sink.
type Option func(*Config)

// WithProgressCallback sets a callback function to track upgrade progress.
//
// Example:
//
//	u := upgrade.New(table,
//	    upgrade.WithProgressCallback(func(p upgrade.Progress) {
//	        fmt.Printf("%d%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the upgrade operations.
//
// Example:
//
//	u := upgrade.New(table, upgrade.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithProtection excludes the listed partitions from the upgrade. The list
// uses the bootcfg.txt syntax: names separated by ',', ';' or blanks.
// A component is skipped when any of its partitions is listed.
//
// Example:
//
//	u := upgrade.New(table, upgrade.WithProtection("env,userdata"))
func WithProtection(list string) Option {
	return func(c *Config) {
		c.Protection = image.ParseProtection(list)
	}
}

// WithWriteSize sets the read size of the file-based path.
// Sizes below MinWriteSize fall back to MinWriteSize.
//
// Example:
//
//	u := upgrade.New(table, upgrade.WithWriteSize(256*1024))
func WithWriteSize(size int) Option {
	return func(c *Config) {
		if size < MinWriteSize {
			size = MinWriteSize
		}
		c.WriteSize = size
	}
}
