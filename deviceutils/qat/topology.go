// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package qat

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/qat-utils/pciutils/pci"
	"github.com/ironcore-dev/qat-utils/pciutils/vfio"
	"github.com/ironcore-dev/qat-utils/telemetryutils/counter"
	"k8s.io/apimachinery/pkg/util/sets"
)

// GroupResolver looks up the vfio group of a device. A nil group means the
// device is not in any group.
type GroupResolver interface {
	Resolve(addr pci.Address) (*vfio.Group, error)
}

// Builder discovers physical functions of the configured families and
// pairs them with the virtual functions on their bus.
type Builder struct {
	log logr.Logger

	Locator  pci.Locator
	Resolver GroupResolver
	Families []Family
	Vendor   pci.Vendor
	Paths    Paths
	Parser   *counter.Parser

	// Addresses restricts discovery to these physical functions. Empty
	// means every device found.
	Addresses sets.Set[pci.Address]
}

// Build returns every device it could discover. Problems with one family,
// device or virtual function do not stop the others, they are joined into
// the returned error.
func (b *Builder) Build(ctx context.Context) ([]*Device, error) {
	var (
		devices []*Device
		skipped []pci.Address
		errs    []error
	)

	for _, family := range b.Families {
		addresses, err := b.Locator.Locate(ctx, family.PF, b.Vendor)
		if err != nil {
			errs = append(errs, fmt.Errorf("locate %s physical functions: %w", family.Name, err))
			continue
		}

		for _, addr := range addresses {
			if b.Addresses.Len() > 0 && !b.Addresses.Has(addr) {
				b.log.V(2).Info("Skipping filtered device", "device", addr)
				skipped = append(skipped, addr)
				continue
			}

			b.log.V(1).Info("Found physical function", "device", addr, "family", family.Name)
			devices = append(devices, newDevice(b.log, b.Paths, family, addr, b.Parser))
		}
	}

	candidates := map[pci.Address]struct{}{}
	owners := map[pci.Address][]*Device{}
	for _, dev := range devices {
		if err := b.attachVFs(ctx, dev, candidates, owners); err != nil {
			errs = append(errs, err)
		}
	}

	errs = append(errs, b.checkTopology(candidates, owners, skipped)...)

	return devices, errors.Join(errs...)
}

func (b *Builder) attachVFs(ctx context.Context, dev *Device, candidates map[pci.Address]struct{}, owners map[pci.Address][]*Device) error {
	addresses, err := b.Locator.Locate(ctx, dev.Family.VF(), b.Vendor)
	if err != nil {
		return fmt.Errorf("locate virtual functions of %s: %w", dev.Address, err)
	}

	var errs []error
	for _, addr := range addresses {
		candidates[addr] = struct{}{}
		if !dev.Address.SameBus(addr) {
			continue
		}

		vf := &VirtualFunction{
			Address:     addr,
			Parent:      dev,
			vfioDevRoot: b.Paths.VFIODev,
		}
		if b.Resolver != nil {
			group, err := b.Resolver.Resolve(addr)
			if err != nil {
				errs = append(errs, fmt.Errorf("resolve vfio group of %s: %w", addr, err))
			}
			vf.Group = group
		}

		b.log.V(1).Info("Attached virtual function", "device", dev.Address, "vf", addr, "group", vf.Group)
		dev.VFs = append(dev.VFs, vf)
		owners[addr] = append(owners[addr], dev)
	}

	return errors.Join(errs...)
}

// checkTopology detaches virtual functions claimed by more than one device
// and reports candidates no device claimed. Candidates on the bus of a
// filtered device are expected to stay unclaimed.
func (b *Builder) checkTopology(candidates map[pci.Address]struct{}, owners map[pci.Address][]*Device, skipped []pci.Address) []error {
	var errs []error

	for _, addr := range sortedAddresses(owners) {
		devs := owners[addr]
		if len(devs) < 2 {
			continue
		}
		for _, dev := range devs {
			dev.VFs = slices.DeleteFunc(dev.VFs, func(vf *VirtualFunction) bool {
				return vf.Address == addr
			})
		}
		errs = append(errs, fmt.Errorf("%w: %s matches %d physical functions", ErrTopologyMismatch, addr, len(devs)))
	}

	for _, addr := range sortedAddresses(candidates) {
		if _, ok := owners[addr]; ok {
			continue
		}
		if slices.ContainsFunc(skipped, addr.SameBus) {
			continue
		}
		b.log.V(1).Info("Virtual function without physical function", "vf", addr)
		errs = append(errs, fmt.Errorf("%w: %s matches no physical function", ErrTopologyMismatch, addr))
	}

	return errs
}

func sortedAddresses[V any](m map[pci.Address]V) []pci.Address {
	addresses := slices.Collect(maps.Keys(m))
	slices.SortFunc(addresses, func(a, b pci.Address) int {
		return strings.Compare(a.String(), b.String())
	})
	return addresses
}
