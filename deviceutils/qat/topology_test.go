// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package qat_test

import (
	"errors"
	"slices"
	"strings"

	"github.com/ironcore-dev/qat-utils/deviceutils/qat"
	"github.com/ironcore-dev/qat-utils/pciutils/pci"
	"github.com/ironcore-dev/qat-utils/pciutils/vfio"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	log "sigs.k8s.io/controller-runtime/pkg/log"
)

func vfAddresses(dev *qat.Device) []string {
	var out []string
	for _, vf := range dev.VFs {
		out = append(out, vf.Address.Short())
	}
	return out
}

var _ = Describe("Topology", func() {
	var (
		paths   qat.Paths
		locator *fakeLocator
	)

	BeforeEach(func() {
		paths = newPaths()
		locator = newFakeLocator()
	})

	newManager := func(ctx SpecContext, opts qat.ManagerOptions) *qat.Manager {
		opts.Locator = locator
		opts.Paths = paths
		opts.Families = []qat.Family{qat.Family4xxx}
		return qat.NewManager(log.FromContext(ctx), opts)
	}

	It("should attach each virtual function to the device on its bus", func(ctx SpecContext) {
		By("locating two devices and two virtual functions")
		locator.add(0x4940, "01:00.0", "02:00.0")
		locator.add(0x4941, "01:00.1", "02:00.1")

		manager := newManager(ctx, qat.ManagerOptions{})
		Expect(manager.Discover(ctx)).To(Succeed())

		devices := manager.Devices()
		Expect(devices).To(HaveLen(2))
		Expect(devices[0].Address.Short()).To(Equal("01:00.0"))
		Expect(vfAddresses(devices[0])).To(Equal([]string{"01:00.1"}))
		Expect(devices[1].Address.Short()).To(Equal("02:00.0"))
		Expect(vfAddresses(devices[1])).To(Equal([]string{"02:00.1"}))

		By("pointing each virtual function back to its device")
		Expect(devices[0].VFs[0].Parent).To(BeIdenticalTo(devices[0]))
		Expect(devices[1].VFs[0].Parent).To(BeIdenticalTo(devices[1]))

		By("locating virtual functions with the device id after the physical function")
		Expect(locator.calls).To(Equal([]pci.DeviceID{0x4940, 0x4941, 0x4941}))
	})

	It("should keep the discovery order of virtual functions", func(ctx SpecContext) {
		locator.add(0x4940, "6b:00.0")
		locator.add(0x4941, "6b:00.3", "6b:00.1", "6b:00.2")

		manager := newManager(ctx, qat.ManagerOptions{})
		Expect(manager.Discover(ctx)).To(Succeed())
		Expect(vfAddresses(manager.Devices()[0])).To(Equal([]string{"6b:00.3", "6b:00.1", "6b:00.2"}))
		Expect(manager.VirtualFunctions()).To(HaveLen(3))
	})

	It("should report virtual functions without a device", func(ctx SpecContext) {
		locator.add(0x4940, "01:00.0")
		locator.add(0x4941, "01:00.1", "03:00.1")

		manager := newManager(ctx, qat.ManagerOptions{})
		err := manager.Discover(ctx)
		Expect(err).To(MatchError(qat.ErrTopologyMismatch))
		Expect(err.Error()).To(ContainSubstring("0000:03:00.1"))

		Expect(manager.Devices()).To(HaveLen(1))
		Expect(vfAddresses(manager.Devices()[0])).To(Equal([]string{"01:00.1"}))
	})

	It("should report topology problems in address order", func(ctx SpecContext) {
		locator.add(0x4940, "6b:00.0", "6b:01.0")
		locator.add(0x4941, "f1:00.1", "6b:00.1", "a0:00.1", "03:00.1")

		manager := newManager(ctx, qat.ManagerOptions{})
		err := manager.Discover(ctx)
		Expect(err).To(MatchError(qat.ErrTopologyMismatch))

		msg := err.Error()
		var positions []int
		for _, addr := range []string{"0000:6b:00.1", "0000:03:00.1", "0000:a0:00.1", "0000:f1:00.1"} {
			Expect(msg).To(ContainSubstring(addr))
			positions = append(positions, strings.Index(msg, addr))
		}
		Expect(slices.IsSorted(positions)).To(BeTrue(), msg)

		By("reporting the same message on every discovery")
		for range 5 {
			Expect(manager.Discover(ctx)).To(MatchError(msg))
		}
	})

	It("should exclude virtual functions matching several devices", func(ctx SpecContext) {
		locator.add(0x4940, "6b:00.0", "6b:01.0")
		locator.add(0x4941, "6b:00.1")

		manager := newManager(ctx, qat.ManagerOptions{})
		err := manager.Discover(ctx)
		Expect(err).To(MatchError(qat.ErrTopologyMismatch))
		Expect(err.Error()).To(ContainSubstring("matches 2 physical functions"))

		for _, dev := range manager.Devices() {
			Expect(dev.VFs).To(BeEmpty())
		}
	})

	It("should only discover the requested devices", func(ctx SpecContext) {
		locator.add(0x4940, "01:00.0", "02:00.0")
		locator.add(0x4941, "01:00.1", "02:00.1")

		manager := newManager(ctx, qat.ManagerOptions{
			Addresses: []pci.Address{pci.MustParseAddress("02:00.0")},
		})
		Expect(manager.Discover(ctx)).To(Succeed())

		devices := manager.Devices()
		Expect(devices).To(HaveLen(1))
		Expect(devices[0].Address.Short()).To(Equal("02:00.0"))
		Expect(vfAddresses(devices[0])).To(Equal([]string{"02:00.1"}))
	})

	It("should keep discovering when one family cannot be located", func(ctx SpecContext) {
		locator.add(0x4940, "01:00.0")
		locator.add(0x4944, "05:00.0")
		locator.errs[0x4942] = pci.ErrEnumeration
		locator.errs[0x4945] = errors.New("lspci crashed")

		manager := qat.NewManager(log.FromContext(ctx), qat.ManagerOptions{
			Locator:  locator,
			Paths:    paths,
			Families: []qat.Family{qat.Family4xxx, qat.Family401xx, qat.Family402xx},
		})

		err := manager.Discover(ctx)
		Expect(err).To(MatchError(pci.ErrEnumeration))
		Expect(err.Error()).To(ContainSubstring("lspci crashed"))

		devices := manager.Devices()
		Expect(devices).To(HaveLen(2))
		Expect(devices[0].Family).To(Equal(qat.Family4xxx))
		Expect(devices[1].Family).To(Equal(qat.Family402xx))
	})

	It("should resolve the vfio group of virtual functions", func(ctx SpecContext) {
		locator.add(0x4940, "6b:00.0")
		locator.add(0x4941, "6b:00.1", "6b:00.2")
		addVFIOGroup(paths, "0", "6b:00.1", "0")
		addVFIOGroup(paths, "131", "6b:00.2", "0")

		manager := newManager(ctx, qat.ManagerOptions{})
		Expect(manager.Discover(ctx)).To(Succeed())

		vfs := manager.Devices()[0].VFs
		Expect(vfs[0].Group).To(Equal(&vfio.Group{ID: 0, NUMANode: "0"}))
		Expect(vfs[1].Group).To(Equal(&vfio.Group{ID: 131, NUMANode: "0"}))
		Expect(vfs[1].VFIODevice()).To(Equal(paths.VFIODev + "/131"))
	})

	It("should attach virtual functions outside any vfio group without a group", func(ctx SpecContext) {
		locator.add(0x4940, "6b:00.0")
		locator.add(0x4941, "6b:00.1")

		manager := newManager(ctx, qat.ManagerOptions{})
		Expect(manager.Discover(ctx)).To(Succeed())

		vf := manager.Devices()[0].VFs[0]
		Expect(vf.Group).To(BeNil())
		Expect(vf.VFIODevice()).To(BeEmpty())
	})

	It("should derive the virtual function id of every family", func() {
		Expect(qat.Family4xxx.VF()).To(Equal(pci.DeviceID(0x4941)))
		Expect(qat.Family420xx.VF()).To(Equal(pci.DeviceID(0x4947)))

		family, ok := qat.FamilyByDeviceID(0x4944)
		Expect(ok).To(BeTrue())
		Expect(family.Name).To(Equal("402xx"))

		_, ok = qat.FamilyByDeviceID(0x4941)
		Expect(ok).To(BeFalse())
	})
})
