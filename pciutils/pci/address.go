// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package pci

import (
	"fmt"
	"regexp"
	"strconv"
)

var addressPattern = regexp.MustCompile(`^(?:([[:xdigit:]]{4}):)?([[:xdigit:]]{2}):([[:xdigit:]]{2})\.([0-7])$`)

type Vendor uint32
type DeviceID uint32

var (
	VendorIntel Vendor = 0x8086
)

func (v Vendor) String() string {
	return fmt.Sprintf("%04x", uint32(v))
}

func (d DeviceID) String() string {
	return fmt.Sprintf("%04x", uint32(d))
}

// ParseDeviceID accepts "4940" as well as "0x4940".
func ParseDeviceID(s string) (DeviceID, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	id, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid pci device id %q: %w", s, err)
	}
	return DeviceID(id), nil
}

type Address struct {
	Domain   uint
	Bus      uint
	Slot     uint
	Function uint
}

func (p Address) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%1x", p.Domain, p.Bus, p.Slot, p.Function)
}

// Short renders the address without the domain, the way lspci prints it.
func (p Address) Short() string {
	return fmt.Sprintf("%02x:%02x.%1x", p.Bus, p.Slot, p.Function)
}

// BusPrefix returns the domain:bus part shared by a physical function and
// its virtual functions.
func (p Address) BusPrefix() string {
	return fmt.Sprintf("%04x:%02x", p.Domain, p.Bus)
}

func (p Address) SameBus(other Address) bool {
	return p.Domain == other.Domain && p.Bus == other.Bus
}

// ParseAddress parses "0000:01:00.0" or the short "01:00.0" form. A missing
// domain defaults to 0000.
func ParseAddress(s string) (Address, error) {
	m := addressPattern.FindStringSubmatch(s)
	if m == nil {
		return Address{}, fmt.Errorf("failed to parse pci address %q", s)
	}

	var domain uint64
	if m[1] != "" {
		domain, _ = strconv.ParseUint(m[1], 16, 16)
	}
	bus, _ := strconv.ParseUint(m[2], 16, 8)
	slot, _ := strconv.ParseUint(m[3], 16, 8)
	function, _ := strconv.ParseUint(m[4], 16, 4)

	return Address{
		Domain:   uint(domain),
		Bus:      uint(bus),
		Slot:     uint(slot),
		Function: uint(function),
	}, nil
}

func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}
