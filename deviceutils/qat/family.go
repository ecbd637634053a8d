// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package qat

import (
	"github.com/ironcore-dev/qat-utils/pciutils/pci"
)

// Family is a QAT generation identified by the device id of its physical
// function. Name is the kernel device name used in debugfs paths.
type Family struct {
	Name string
	PF   pci.DeviceID
}

// VF returns the device id of the family's virtual functions, which is
// always the physical function id plus one.
func (f Family) VF() pci.DeviceID {
	return f.PF + 1
}

var (
	Family4xxx  = Family{Name: "4xxx", PF: 0x4940}
	Family401xx = Family{Name: "401xx", PF: 0x4942}
	Family402xx = Family{Name: "402xx", PF: 0x4944}
	Family420xx = Family{Name: "420xx", PF: 0x4946}
)

var DefaultFamilies = []Family{
	Family4xxx,
	Family401xx,
	Family402xx,
	Family420xx,
}

func FamilyByDeviceID(id pci.DeviceID) (Family, bool) {
	for _, f := range DefaultFamilies {
		if f.PF == id {
			return f, true
		}
	}
	return Family{}, false
}
