// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package recorder_test

import (
	"context"
	"time"

	"github.com/ironcore-dev/qat-utils/eventutils/recorder"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"
	log "sigs.k8s.io/controller-runtime/pkg/log"
)

var _ = Describe("Store", func() {
	var (
		fakeClock *clocktesting.FakeClock
		store     *recorder.Store
	)

	BeforeEach(func(ctx SpecContext) {
		fakeClock = clocktesting.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		store = recorder.NewStore(log.FromContext(ctx), recorder.Options{
			MaxEvents:      3,
			TTL:            time.Minute,
			ResyncInterval: 10 * time.Millisecond,
			Clock:          fakeClock,
		})
	})

	reasons := func(events []recorder.Event) []string {
		var out []string
		for _, e := range events {
			out = append(out, e.Reason)
		}
		return out
	}

	It("should list events oldest first", func() {
		store.Eventf("0000:6b:00.0", recorder.EventTypeNormal, "StateChanged", "state set to %s", "down")
		store.Eventf("0000:70:00.0", recorder.EventTypeWarning, "ServiceFailed", "boom")

		events := store.ListEvents()
		Expect(events).To(HaveLen(2))
		Expect(events[0]).To(Equal(recorder.Event{
			Device:  "0000:6b:00.0",
			Type:    recorder.EventTypeNormal,
			Reason:  "StateChanged",
			Message: "state set to down",
			Time:    fakeClock.Now(),
		}))
		Expect(events[1].Reason).To(Equal("ServiceFailed"))
	})

	It("should drop the oldest event when full", func() {
		for _, reason := range []string{"a", "b", "c", "d", "e"} {
			store.Eventf("0000:6b:00.0", recorder.EventTypeNormal, reason, "")
		}

		Expect(reasons(store.ListEvents())).To(Equal([]string{"c", "d", "e"}))
	})

	It("should filter events by device", func() {
		store.Eventf("0000:6b:00.0", recorder.EventTypeNormal, "a", "")
		store.Eventf("0000:70:00.0", recorder.EventTypeNormal, "b", "")
		store.Eventf("0000:6b:00.0", recorder.EventTypeNormal, "c", "")

		Expect(reasons(store.ListDeviceEvents("0000:6b:00.0"))).To(Equal([]string{"a", "c"}))
		Expect(store.ListDeviceEvents("0000:01:00.0")).To(BeEmpty())
	})

	It("should expire events after the TTL", func(ctx SpecContext) {
		store.Eventf("0000:6b:00.0", recorder.EventTypeNormal, "old", "")
		fakeClock.Step(45 * time.Second)
		store.Eventf("0000:6b:00.0", recorder.EventTypeNormal, "new", "")

		innerCtx, cancel := context.WithCancel(ctx)
		DeferCleanup(cancel)
		go store.Start(innerCtx)

		By("keeping both events within the TTL")
		Consistently(func() []string { return reasons(store.ListEvents()) }, 100*time.Millisecond).
			Should(Equal([]string{"old", "new"}))

		By("expiring the first event")
		fakeClock.Step(30 * time.Second)
		Eventually(func() []string { return reasons(store.ListEvents()) }).Should(Equal([]string{"new"}))
	})
})
