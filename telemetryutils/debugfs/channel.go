// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package debugfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/qat-utils/telemetryutils/counter"
)

var ErrDebugfsUnavailable = errors.New("debugfs telemetry unavailable")

const DefaultRoot = "/sys/kernel/debug"

// Level is the value written to the telemetry control file. Only
// LevelBasic is used by the channel, higher levels additionally collect
// the extended counter classes.
type Level int

const (
	LevelOff Level = iota
	LevelBasic
	Level2
	Level3
	Level4
)

const (
	telemetryDir   = "telemetry"
	controlFile    = "control"
	deviceDataFile = "device_data"
	devConfigFile  = "dev_cfg"
)

// DeviceDir returns the debugfs directory of a device, e.g.
// /sys/kernel/debug/qat_4xxx_0000:6b:00.0.
func DeviceDir(root, family, bdf string) string {
	if root == "" {
		root = DefaultRoot
	}
	return filepath.Join(root, fmt.Sprintf("qat_%s_%s", family, bdf))
}

// Channel is the telemetry interface of one physical function. When the
// kernel does not expose telemetry for the device the channel is disabled
// and every operation returns without doing anything.
type Channel struct {
	log  logr.Logger
	path string

	parser    *counter.Parser
	enabled   bool
	devConfig string

	mu     sync.RWMutex
	sample counter.Sample
}

// NewChannel probes the telemetry control file under path, enables basic
// counter collection and reads the device configuration.
func NewChannel(log logr.Logger, path string, parser *counter.Parser) *Channel {
	if parser == nil {
		parser = counter.NewParser()
	}
	c := &Channel{
		log:    log,
		path:   path,
		parser: parser,
		sample: counter.Sample{},
	}

	f, err := os.Open(c.controlPath())
	if err != nil {
		c.log.V(1).Info("Telemetry disabled", "reason", fmt.Errorf("%w: %w", ErrDebugfsUnavailable, err).Error())
		return c
	}
	_ = f.Close()
	c.enabled = true

	if err := c.Enable(); err != nil {
		c.log.Error(err, "Failed to enable telemetry")
	}

	data, err := os.ReadFile(filepath.Join(c.path, devConfigFile))
	if err != nil {
		c.log.Error(err, "Failed to read device configuration")
	} else {
		c.devConfig = string(data)
	}

	return c
}

func (c *Channel) controlPath() string {
	return filepath.Join(c.path, telemetryDir, controlFile)
}

func (c *Channel) Path() string {
	return c.path
}

func (c *Channel) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetParser replaces the parser used by the next Collect.
func (c *Channel) SetParser(parser *counter.Parser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parser = parser
}

func (c *Channel) Enable() error {
	return c.EnableLevel(LevelBasic)
}

func (c *Channel) EnableLevel(level Level) error {
	if !c.Enabled() {
		return nil
	}
	if level < LevelOff || level > Level4 {
		return fmt.Errorf("invalid telemetry level %d", level)
	}

	if err := os.WriteFile(c.controlPath(), []byte(fmt.Sprintf("%d\n", level)), 0o644); err != nil {
		return fmt.Errorf("write telemetry control for %s: %w", c.path, err)
	}
	return nil
}

// Collect reads the current counters and replaces the sample. A failed read
// disables the channel and drops the last sample, it is not retried on later
// cycles.
func (c *Channel) Collect() error {
	if !c.Enabled() {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(c.path, telemetryDir, deviceDataFile))
	if err != nil {
		c.mu.Lock()
		c.enabled = false
		c.sample = counter.Sample{}
		c.mu.Unlock()
		return fmt.Errorf("%w: read device data for %s: %w", ErrDebugfsUnavailable, c.path, err)
	}

	c.mu.RLock()
	parser := c.parser
	c.mu.RUnlock()
	sample := parser.Parse(string(data))

	c.mu.Lock()
	c.sample = sample
	c.mu.Unlock()
	return nil
}

// Control returns the raw content of the telemetry control file.
func (c *Channel) Control() (string, error) {
	if !c.Enabled() {
		return "", nil
	}

	data, err := os.ReadFile(c.controlPath())
	if err != nil {
		return "", fmt.Errorf("read telemetry control for %s: %w", c.path, err)
	}
	return string(data), nil
}

// DevConfig is the device configuration read when the channel was created.
func (c *Channel) DevConfig() string {
	return c.devConfig
}

func (c *Channel) Sample() counter.Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sample
}

func (c *Channel) Average(t counter.Type, e counter.Engine) float64 {
	return c.Sample().Average(t, e)
}
