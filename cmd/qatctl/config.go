// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/ironcore-dev/qat-utils/deviceutils/qat"
	"github.com/ironcore-dev/qat-utils/pciutils/pci"
	"github.com/spf13/pflag"
)

const (
	locatorLspci = "lspci"
	locatorSysfs = "sysfs"

	outputText = "text"
	outputYAML = "yaml"

	defaultMetricsAddr = "127.0.0.1:9470"
)

type configLoader func(any) error

// config is read from QATCTL_* variables first, flags override it.
type config struct {
	Locator     string        `env:"QATCTL_LOCATOR"`
	SysfsMount  string        `env:"QATCTL_SYSFS_MOUNT"`
	PCIDevices  string        `env:"QATCTL_PCI_DEVICES"`
	Debugfs     string        `env:"QATCTL_DEBUGFS"`
	Devices     []string      `env:"QATCTL_DEVICES" env-separator:","`
	Counters    []string      `env:"QATCTL_COUNTERS" env-separator:","`
	Interval    time.Duration `env:"QATCTL_INTERVAL"`
	Output      string        `env:"QATCTL_OUTPUT"`
	MetricsAddr string        `env:"QATCTL_METRICS_ADDR"`
	Verbosity   int           `env:"QATCTL_VERBOSITY"`

	Watch bool
}

func defaultConfig() config {
	return config{
		Locator:     locatorLspci,
		Interval:    qat.DefaultRefreshInterval,
		Output:      outputText,
		MetricsAddr: defaultMetricsAddr,
	}
}

func (c *config) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Locator, "locator", c.Locator, "How devices are enumerated: lspci or sysfs.")
	fs.StringVar(&c.SysfsMount, "sysfs-mount", c.SysfsMount, "Sysfs mount point used by the sysfs locator.")
	fs.StringVar(&c.PCIDevices, "pci-devices", c.PCIDevices, "Directory holding the PCI device attributes.")
	fs.StringVar(&c.Debugfs, "debugfs", c.Debugfs, "Debugfs mount point.")
	fs.StringSliceVarP(&c.Devices, "device", "d", c.Devices, "Only manage these devices (PCI addresses).")
	fs.StringSliceVar(&c.Counters, "counters", c.Counters, "Only keep these telemetry counters.")
	fs.DurationVar(&c.Interval, "interval", c.Interval, "Telemetry refresh interval.")
	fs.StringVarP(&c.Output, "output", "o", c.Output, "Output format: text or yaml.")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Listen address of the serve command.")
	fs.IntVarP(&c.Verbosity, "verbosity", "v", c.Verbosity, "Log verbosity.")
	fs.BoolVarP(&c.Watch, "watch", "w", c.Watch, "Keep printing telemetry every interval.")
}

// loadConfig returns the configuration and the remaining positional
// arguments.
func loadConfig(loader configLoader, args []string) (config, []string, error) {
	cfg := defaultConfig()
	if loader != nil {
		if err := loader(&cfg); err != nil {
			return config{}, nil, fmt.Errorf("read environment: %w", err)
		}
	}

	fs := pflag.NewFlagSet("qatctl", pflag.ContinueOnError)
	cfg.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		return config{}, nil, err
	}

	if err := cfg.validate(); err != nil {
		return config{}, nil, err
	}
	return cfg, fs.Args(), nil
}

func (c *config) validate() error {
	switch c.Locator {
	case locatorLspci, locatorSysfs:
	default:
		return fmt.Errorf("unknown locator %q", c.Locator)
	}
	switch c.Output {
	case outputText, outputYAML:
	default:
		return fmt.Errorf("unknown output format %q", c.Output)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if _, err := c.addresses(); err != nil {
		return err
	}
	return nil
}

func (c *config) addresses() ([]pci.Address, error) {
	var addresses []pci.Address
	for _, device := range c.Devices {
		addr, err := pci.ParseAddress(device)
		if err != nil {
			return nil, fmt.Errorf("invalid device %q: %w", device, err)
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}
