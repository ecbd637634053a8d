// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package pci

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/utils/exec"
)

var ErrEnumeration = errors.New("pci enumeration failed")

// Locator finds the PCI addresses of devices matching a vendor/device id
// pair. A zero vendor matches any vendor.
type Locator interface {
	Locate(ctx context.Context, device DeviceID, vendor Vendor) ([]Address, error)
}

const lspciCommand = "lspci"

type lspciLocator struct {
	log  logr.Logger
	exec exec.Interface
}

// NewLspciLocator returns a Locator shelling out to lspci. Every call runs
// the tool again, results are never cached.
func NewLspciLocator(log logr.Logger, executor exec.Interface) Locator {
	if executor == nil {
		executor = exec.New()
	}
	return &lspciLocator{
		log:  log,
		exec: executor,
	}
}

func (l *lspciLocator) Locate(ctx context.Context, device DeviceID, vendor Vendor) ([]Address, error) {
	filter := ":" + device.String()
	if vendor != 0 {
		filter = vendor.String() + filter
	}

	l.log.V(2).Info("Running bus enumeration", "command", lspciCommand, "filter", filter)
	out, err := l.exec.CommandContext(ctx, lspciCommand, "-d", filter).Output()
	if err != nil {
		var exitErr exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s -d %s exited with status %d", ErrEnumeration, lspciCommand, filter, exitErr.ExitStatus())
		}
		return nil, fmt.Errorf("%w: %s -d %s: %w", ErrEnumeration, lspciCommand, filter, err)
	}

	return parseLspciOutput(string(out))
}

func parseLspciOutput(out string) ([]Address, error) {
	var addresses []Address
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		addr, err := ParseAddress(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEnumeration, err)
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}
