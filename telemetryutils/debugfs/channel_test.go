// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package debugfs_test

import (
	"os"
	"path/filepath"

	"github.com/ironcore-dev/qat-utils/telemetryutils/counter"
	"github.com/ironcore-dev/qat-utils/telemetryutils/debugfs"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	log "sigs.k8s.io/controller-runtime/pkg/log"
)

var _ = Describe("Channel", func() {
	var devDir string

	BeforeEach(func() {
		devDir = debugfs.DeviceDir(GinkgoT().TempDir(), "4xxx", "0000:6b:00.0")
	})

	writeTelemetry := func(name, content string) {
		GinkgoHelper()
		Expect(os.MkdirAll(filepath.Join(devDir, "telemetry"), 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(devDir, "telemetry", name), []byte(content), 0o644)).To(Succeed())
	}

	It("should name the device directory after family and address", func() {
		Expect(filepath.Base(devDir)).To(Equal("qat_4xxx_0000:6b:00.0"))
		Expect(debugfs.DeviceDir("", "4xxx", "0000:6b:00.0")).To(Equal("/sys/kernel/debug/qat_4xxx_0000:6b:00.0"))
	})

	It("should enable telemetry and read the device configuration", func(ctx SpecContext) {
		By("creating the debugfs files")
		writeTelemetry("control", "0\n")
		writeTelemetry("device_data", "util_cph0 10\nutil_cph1 20\n")
		Expect(os.WriteFile(filepath.Join(devDir, "dev_cfg"), []byte("[GENERAL]\nServicesEnabled = sym;asym\n"), 0o644)).To(Succeed())

		By("creating the channel")
		channel := debugfs.NewChannel(log.FromContext(ctx), devDir, nil)
		Expect(channel.Enabled()).To(BeTrue())
		Expect(channel.DevConfig()).To(ContainSubstring("ServicesEnabled"))

		By("checking the control file")
		Expect(channel.Control()).To(Equal("1\n"))

		By("collecting counters")
		Expect(channel.Collect()).To(Succeed())
		Expect(channel.Average(counter.Utilization, counter.Cipher)).To(Equal(15.0))

		By("collecting a new sample")
		writeTelemetry("device_data", "util_pke0 40\n")
		Expect(channel.Collect()).To(Succeed())
		Expect(channel.Sample().Keys()).To(Equal([]string{"util_pke"}))
		Expect(channel.Average(counter.Utilization, counter.Cipher)).To(BeEquivalentTo(counter.Unavailable))
	})

	It("should be a no-op without debugfs", func(ctx SpecContext) {
		channel := debugfs.NewChannel(log.FromContext(ctx), devDir, nil)
		Expect(channel.Enabled()).To(BeFalse())

		Expect(channel.Enable()).To(Succeed())
		Expect(channel.Collect()).To(Succeed())
		Expect(channel.Control()).To(BeEmpty())
		Expect(channel.DevConfig()).To(BeEmpty())
		Expect(channel.Sample()).To(BeEmpty())

		_, err := os.Stat(filepath.Join(devDir, "telemetry", "control"))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should disable itself when the counters cannot be read", func(ctx SpecContext) {
		writeTelemetry("control", "0\n")

		channel := debugfs.NewChannel(log.FromContext(ctx), devDir, nil)
		Expect(channel.Enabled()).To(BeTrue())

		By("failing the first collect")
		Expect(channel.Collect()).To(MatchError(debugfs.ErrDebugfsUnavailable))
		Expect(channel.Enabled()).To(BeFalse())

		By("not retrying on the next cycle")
		writeTelemetry("device_data", "util_cph0 10\n")
		Expect(channel.Collect()).To(Succeed())
		Expect(channel.Sample()).To(BeEmpty())
	})

	It("should drop the last sample once the counters vanish", func(ctx SpecContext) {
		writeTelemetry("control", "0\n")
		writeTelemetry("device_data", "util_cph0 10\n")

		channel := debugfs.NewChannel(log.FromContext(ctx), devDir, nil)
		Expect(channel.Collect()).To(Succeed())
		Expect(channel.Average(counter.Utilization, counter.Cipher)).To(Equal(10.0))

		By("removing the counter file")
		Expect(os.Remove(filepath.Join(devDir, "telemetry", "device_data"))).To(Succeed())
		Expect(channel.Collect()).To(MatchError(debugfs.ErrDebugfsUnavailable))

		Expect(channel.Enabled()).To(BeFalse())
		Expect(channel.Sample()).To(BeEmpty())
		Expect(channel.Average(counter.Utilization, counter.Cipher)).To(BeEquivalentTo(counter.Unavailable))
	})

	It("should apply the parser filter", func(ctx SpecContext) {
		writeTelemetry("control", "0\n")
		writeTelemetry("device_data", "util_cph0 10\nutil_pke0 20\nsample_cnt 3\n")

		channel := debugfs.NewChannel(log.FromContext(ctx), devDir, counter.NewParser("util_pke"))
		Expect(channel.Collect()).To(Succeed())
		Expect(channel.Sample().Keys()).To(Equal([]string{"util_pke"}))

		By("swapping the parser")
		channel.SetParser(counter.NewParser())
		Expect(channel.Collect()).To(Succeed())
		Expect(channel.Sample().Keys()).To(Equal([]string{"sample_cnt", "util_cph", "util_pke"}))
	})

	It("should reject unknown telemetry levels", func(ctx SpecContext) {
		writeTelemetry("control", "0\n")

		channel := debugfs.NewChannel(log.FromContext(ctx), devDir, nil)
		Expect(channel.EnableLevel(debugfs.Level4)).To(Succeed())
		Expect(channel.Control()).To(Equal("4\n"))
		Expect(channel.EnableLevel(debugfs.Level(9))).To(HaveOccurred())
	})
})
