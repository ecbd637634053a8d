// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package pci

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-logr/logr"
	"github.com/prometheus/procfs/sysfs"
)

type sysfsLocator struct {
	log logr.Logger
	fs  sysfs.FS
}

// NewSysfsLocator returns a Locator reading /sys/bus/pci directly instead of
// running lspci.
func NewSysfsLocator(log logr.Logger) (Locator, error) {
	fs, err := sysfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open sysfs: %w", err)
	}

	return &sysfsLocator{
		log: log,
		fs:  fs,
	}, nil
}

func NewSysfsLocatorWithMount(log logr.Logger, mountPoint string) (Locator, error) {
	fs, err := sysfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open sysfs: %w", err)
	}

	return &sysfsLocator{
		log: log,
		fs:  fs,
	}, nil
}

func (l *sysfsLocator) Locate(ctx context.Context, device DeviceID, vendor Vendor) ([]Address, error) {
	devices, err := l.fs.PciDevices()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read pci devices: %w", ErrEnumeration, err)
	}

	var addresses []Address
	for _, dev := range devices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch {
		case dev.Device != uint32(device):
			continue
		case vendor != 0 && dev.Vendor != uint32(vendor):
			l.log.V(3).Info(
				"Skipping device, vendor not matching",
				"device", dev.Name(), "expected vendor",
				vendor, "found vendor", dev.Vendor,
			)
			continue
		}

		l.log.V(1).Info("Found matching pci device", "device", dev.Name())
		addresses = append(addresses, Address{
			Domain:   uint(dev.Location.Segment),
			Bus:      uint(dev.Location.Bus),
			Slot:     uint(dev.Location.Device),
			Function: uint(dev.Location.Function),
		})
	}

	// lspci order
	slices.SortFunc(addresses, func(a, b Address) int {
		return strings.Compare(a.String(), b.String())
	})
	return addresses, nil
}
