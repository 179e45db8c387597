package nrfota

import (
	"fmt"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPacketsPerReceipt is the packets-per-receipt-notification window
// for this platform. CoreBluetooth's write-without-response flow control
// rejects transfers at 10 and above, so darwin gets 8; everything else 10.
func DefaultPacketsPerReceipt() uint16 {
	if runtime.GOOS == "darwin" {
		return 8
	}
	return 10
}

const (
	defaultResponseTimeout = 30 * time.Second
	defaultActivateTimeout = 5 * time.Second
)

// Config holds the knobs for a DFU run.
type Config struct {
	// PacketsPerReceipt caps how many 20 byte packets are written before the
	// host must see a receipt notification. Lower is safer, higher is faster.
	PacketsPerReceipt uint16

	// ScanTimeout bounds the post-reboot rediscovery scan.
	ScanTimeout time.Duration

	// ResponseTimeout bounds each wait for a control point response or a
	// receipt notification.
	ResponseTimeout time.Duration

	// Progress receives percentages in [0, 100] as receipts come in.
	Progress func(percent float64)

	// Log receives human readable status lines.
	Log func(msg string)
}

func defaultConfig() Config {
	return Config{
		PacketsPerReceipt: DefaultPacketsPerReceipt(),
		ScanTimeout:       DefaultScanTimeout,
		ResponseTimeout:   defaultResponseTimeout,
	}
}

// Option configures a DFU run.
type Option func(*Config)

// WithPacketsPerReceipt overrides the receipt notification window.
func WithPacketsPerReceipt(n uint16) Option {
	return func(c *Config) {
		if n > 0 {
			c.PacketsPerReceipt = n
		}
	}
}

// WithScanTimeout overrides the post-reboot rediscovery timeout.
func WithScanTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ScanTimeout = d
		}
	}
}

// WithResponseTimeout overrides the per-operation response timeout.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ResponseTimeout = d
		}
	}
}

// WithProgress sets the progress callback.
func WithProgress(f func(percent float64)) Option {
	return func(c *Config) {
		c.Progress = f
	}
}

// WithLog sets the status line callback.
func WithLog(f func(msg string)) Option {
	return func(c *Config) {
		c.Log = f
	}
}

func (c *Config) logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Debug(msg)
	if c.Log != nil {
		c.Log(msg)
	}
}

func (c *Config) progress(percent float64) {
	if c.Progress != nil {
		c.Progress(percent)
	}
}
