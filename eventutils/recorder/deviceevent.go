// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

const (
	EventTypeNormal  = "Normal"
	EventTypeWarning = "Warning"
)

// EventRecorder records events about a device, identified by its PCI address.
type EventRecorder interface {
	Eventf(device string, eventType, reason, messageFormat string, args ...any)
}

// EventStore lists recorded events, oldest first.
type EventStore interface {
	ListEvents() []Event
}

type Event struct {
	Device  string    `json:"device" yaml:"device"`
	Type    string    `json:"type" yaml:"type"`
	Reason  string    `json:"reason" yaml:"reason"`
	Message string    `json:"message" yaml:"message"`
	Time    time.Time `json:"time" yaml:"time"`
}

type Options struct {
	MaxEvents      int
	TTL            time.Duration
	ResyncInterval time.Duration
	Clock          clock.Clock
}

func (o *Options) Defaults() {
	if o.MaxEvents <= 0 {
		o.MaxEvents = 256
	}
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	if o.ResyncInterval <= 0 {
		o.ResyncInterval = time.Minute
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
}

// Store keeps the most recent device events in a fixed size ring. Events
// older than the TTL are dropped by Start.
type Store struct {
	log   logr.Logger
	opts  Options
	mutex sync.Mutex

	ring  []Event
	first int
	size  int
}

func NewStore(log logr.Logger, opts Options) *Store {
	opts.Defaults()
	return &Store{
		log:  log,
		opts: opts,
		ring: make([]Event, opts.MaxEvents),
	}
}

func (s *Store) Eventf(device, eventType, reason, messageFormat string, args ...any) {
	event := Event{
		Device:  device,
		Type:    eventType,
		Reason:  reason,
		Message: fmt.Sprintf(messageFormat, args...),
		Time:    s.opts.Clock.Now(),
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.size == len(s.ring) {
		s.log.V(1).Info("Dropping oldest event", "event", s.ring[s.first])
		s.ring[s.first] = event
		s.first = (s.first + 1) % len(s.ring)
		return
	}

	s.ring[(s.first+s.size)%len(s.ring)] = event
	s.size++
}

func (s *Store) expire() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	deadline := s.opts.Clock.Now().Add(-s.opts.TTL)
	for s.size > 0 && !s.ring[s.first].Time.After(deadline) {
		s.ring[s.first] = Event{}
		s.first = (s.first + 1) % len(s.ring)
		s.size--
	}
}

// Start drops expired events every resync interval until ctx is done.
func (s *Store) Start(ctx context.Context) {
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		s.expire()
	}, s.opts.ResyncInterval)
}

func (s *Store) ListEvents() []Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	events := make([]Event, 0, s.size)
	for i := 0; i < s.size; i++ {
		events = append(events, s.ring[(s.first+i)%len(s.ring)])
	}
	return events
}

// ListDeviceEvents returns the events of a single device.
func (s *Store) ListDeviceEvents(device string) []Event {
	var events []Event
	for _, event := range s.ListEvents() {
		if event.Device == device {
			events = append(events, event)
		}
	}
	return events
}
