// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package vf

import (
	"errors"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/qat-utils/claimutils/claim"
	"github.com/ironcore-dev/qat-utils/deviceutils/qat"
	"github.com/ironcore-dev/qat-utils/pciutils/pci"
	"k8s.io/apimachinery/pkg/api/resource"
)

const DefaultResourceName claim.ResourceName = "qat.intel.com/vf"

// Source lists the virtual functions that may be handed out.
// *qat.Manager is a Source.
type Source interface {
	VirtualFunctions() []*qat.VirtualFunction
}

// Claim is a set of virtual functions ready to be passed through to a VM.
type Claim interface {
	claim.ResourceClaim
	PCIAddresses() []pci.Address
	// VFIODevices are the group character devices of the claimed functions.
	VFIODevices() []string
}

func NewClaim(vfs []*qat.VirtualFunction) Claim {
	return &vfClaim{vfs: vfs}
}

type vfClaim struct {
	vfs []*qat.VirtualFunction
}

func (c *vfClaim) PCIAddresses() []pci.Address {
	addresses := make([]pci.Address, 0, len(c.vfs))
	for _, vf := range c.vfs {
		addresses = append(addresses, vf.Address)
	}
	return addresses
}

func (c *vfClaim) VFIODevices() []string {
	devices := make([]string, 0, len(c.vfs))
	for _, vf := range c.vfs {
		devices = append(devices, vf.VFIODevice())
	}
	return devices
}

type entry struct {
	vf      *qat.VirtualFunction
	claimed bool
}

// NewClaimPlugin returns a plugin handing out the virtual functions of
// source that are bound to vfio. Functions in preClaimed are in use by
// someone else already, e.g. VMs that survived a restart.
func NewClaimPlugin(log logr.Logger, name claim.ResourceName, source Source, preClaimed []pci.Address) claim.Plugin {
	if name == "" {
		name = DefaultResourceName
	}
	return &plugin{
		log:        log,
		name:       name,
		source:     source,
		preClaimed: preClaimed,
	}
}

type plugin struct {
	log        logr.Logger
	name       claim.ResourceName
	source     Source
	preClaimed []pci.Address

	// entries keeps discovery order so claims are deterministic.
	entries []*entry
}

func (p *plugin) Name() claim.ResourceName {
	return p.name
}

func (p *plugin) lookup(addr pci.Address) *entry {
	for _, e := range p.entries {
		if e.vf.Address == addr {
			return e
		}
	}
	return nil
}

func (p *plugin) Init() error {
	if p.source == nil {
		return errors.New("no virtual function source provided")
	}

	p.entries = nil
	for _, vf := range p.source.VirtualFunctions() {
		if vf.Group == nil {
			p.log.V(2).Info("Skipping virtual function without vfio group", "vf", vf.Address)
			continue
		}
		p.log.V(2).Info("Found virtual function", "vf", vf.Address, "group", vf.Group.ID)
		p.entries = append(p.entries, &entry{vf: vf})
	}

	for _, addr := range p.preClaimed {
		e := p.lookup(addr)
		if e == nil {
			p.log.V(2).Info("Pre-claimed virtual function not discovered", "vf", addr)
			continue
		}
		p.log.V(2).Info("Marking virtual function claimed", "vf", addr)
		e.claimed = true
	}

	return nil
}

func (p *plugin) free() int64 {
	var free int64
	for _, e := range p.entries {
		if !e.claimed {
			free++
		}
	}
	return free
}

func (p *plugin) CanClaim(quantity resource.Quantity) bool {
	requested := quantity.Value()
	free := p.free()
	p.log.V(2).Info("Checking virtual function availability", "free", free, "requested", requested)
	return requested >= 0 && free >= requested
}

func (p *plugin) Claim(quantity resource.Quantity) (claim.ResourceClaim, error) {
	if quantity.Value() < 0 {
		return nil, claim.ErrInvalidResourceClaim
	}
	if !p.CanClaim(quantity) {
		return nil, claim.ErrInsufficientResources
	}

	requested := quantity.Value()
	c := &vfClaim{}
	for _, e := range p.entries {
		if int64(len(c.vfs)) == requested {
			break
		}
		if !e.claimed {
			e.claimed = true
			c.vfs = append(c.vfs, e.vf)
		}
	}

	p.log.V(1).Info("Claimed virtual functions", "vfs", c.PCIAddresses())
	return c, nil
}

func (p *plugin) Release(resourceClaim claim.ResourceClaim) error {
	c, ok := resourceClaim.(Claim)
	if !ok {
		return claim.ErrInvalidResourceClaim
	}

	for _, addr := range c.PCIAddresses() {
		e := p.lookup(addr)
		if e == nil {
			p.log.V(2).Info("Virtual function not managed by this plugin", "vf", addr)
			continue
		}
		p.log.V(3).Info("Released virtual function", "vf", addr)
		e.claimed = false
	}
	return nil
}
