// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package qat

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/qat-utils/pciutils/pci"
	"github.com/ironcore-dev/qat-utils/pciutils/vfio"
	"github.com/ironcore-dev/qat-utils/telemetryutils/counter"
	"github.com/ironcore-dev/qat-utils/telemetryutils/debugfs"
)

const DefaultPCIDevicesRoot = "/sys/bus/pci/devices"

// Paths locates the kernel interfaces devices are read from. Tests point
// them at a synthetic tree.
type Paths struct {
	PCIDevices  string
	Debugfs     string
	VFIODev     string
	IOMMUGroups string
}

func (p *Paths) Defaults() {
	if p.PCIDevices == "" {
		p.PCIDevices = DefaultPCIDevicesRoot
	}
	if p.Debugfs == "" {
		p.Debugfs = debugfs.DefaultRoot
	}
	if p.VFIODev == "" {
		p.VFIODev = vfio.DefaultDevRoot
	}
	if p.IOMMUGroups == "" {
		p.IOMMUGroups = vfio.DefaultGroupsRoot
	}
}

// Device is a QAT physical function together with the virtual functions
// discovered on its bus.
type Device struct {
	log logr.Logger

	Family  Family
	Address pci.Address
	// Path is the sysfs directory of the device.
	Path string
	VFs  []*VirtualFunction

	telemetry *debugfs.Channel
}

func newDevice(log logr.Logger, paths Paths, family Family, addr pci.Address, parser *counter.Parser) *Device {
	bdf := addr.String()
	log = log.WithValues("device", bdf)

	return &Device{
		log:       log,
		Family:    family,
		Address:   addr,
		Path:      filepath.Join(paths.PCIDevices, bdf),
		telemetry: debugfs.NewChannel(log, debugfs.DeviceDir(paths.Debugfs, family.Name, bdf), parser),
	}
}

func (d *Device) BDF() string {
	return d.Address.String()
}

func (d *Device) Telemetry() *debugfs.Channel {
	return d.telemetry
}

// Average is the mean of a counter over all engine instances, or
// counter.Unavailable.
func (d *Device) Average(t counter.Type, e counter.Engine) float64 {
	return d.telemetry.Average(t, e)
}

func (d *Device) DevConfig() string {
	return d.telemetry.DevConfig()
}

func (d *Device) String() string {
	numa, err := d.NumaNode()
	if err != nil {
		numa = "?"
	}
	services, err := d.CfgServices()
	if err != nil {
		services = "?"
	}
	state, err := d.State()
	if err != nil {
		state = "?"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "NUMA_%s\t%s\t%s\t%-10s\t%s", numa, d.Address.Short(), d.Path, services, state)
	if len(d.VFs) > 0 {
		b.WriteString("\n")
	}
	for _, vf := range d.VFs {
		fmt.Fprintf(&b, "\t VF: %s - %s\n", vf.Address.Short(), vf.VFIODevice())
	}
	return b.String()
}

// VirtualFunction is a QAT virtual function. It has no telemetry of its own.
type VirtualFunction struct {
	Address pci.Address
	Parent  *Device
	// Group is nil if the function is not bound to vfio.
	Group *vfio.Group

	vfioDevRoot string
}

func (v *VirtualFunction) BDF() string {
	return v.Address.String()
}

// VFIODevice returns the vfio character device of the function, or "" if it
// has no group.
func (v *VirtualFunction) VFIODevice() string {
	if v.Group == nil {
		return ""
	}
	return v.Group.DevicePath(v.vfioDevRoot)
}

func (v *VirtualFunction) String() string {
	return fmt.Sprintf("%s\t%s", v.Address.Short(), v.Group)
}
