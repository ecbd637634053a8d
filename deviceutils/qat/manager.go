// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package qat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/qat-utils/eventutils/recorder"
	"github.com/ironcore-dev/qat-utils/pciutils/pci"
	"github.com/ironcore-dev/qat-utils/pciutils/vfio"
	"github.com/ironcore-dev/qat-utils/telemetryutils/counter"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
)

const DefaultRefreshInterval = time.Second

const (
	ReasonDiscoveryFailed  = "DiscoveryFailed"
	ReasonStateChanged     = "StateChanged"
	ReasonStateFailed      = "StateChangeFailed"
	ReasonServiceChanged   = "ServiceChanged"
	ReasonServiceFailed    = "ServiceChangeFailed"
	ReasonTelemetryFailure = "TelemetryFailed"
)

type ManagerOptions struct {
	Locator  pci.Locator
	Resolver GroupResolver
	Families []Family
	Vendor   pci.Vendor
	Paths    Paths

	// Addresses restricts the manager to these physical functions.
	Addresses []pci.Address
	// Counters restricts the telemetry counters kept in a sample.
	Counters []string

	Recorder recorder.EventRecorder
}

func (o *ManagerOptions) Defaults(log logr.Logger) {
	o.Paths.Defaults()
	if o.Locator == nil {
		o.Locator = pci.NewLspciLocator(log.WithName("lspci"), nil)
	}
	if o.Resolver == nil {
		resolver := vfio.NewResolver(log.WithName("vfio"))
		resolver.DevRoot = o.Paths.VFIODev
		resolver.GroupsRoot = o.Paths.IOMMUGroups
		o.Resolver = resolver
	}
	if len(o.Families) == 0 {
		o.Families = DefaultFamilies
	}
	if o.Vendor == 0 {
		o.Vendor = pci.VendorIntel
	}
}

// Manager owns the QAT devices of a host. It is meant to be driven by a
// single loop; Devices and the telemetry samples may be read concurrently.
type Manager struct {
	log      logr.Logger
	opts     ManagerOptions
	recorder recorder.EventRecorder

	mu      sync.RWMutex
	devices []*Device
	parser  *counter.Parser
}

func NewManager(log logr.Logger, opts ManagerOptions) *Manager {
	opts.Defaults(log)
	return &Manager{
		log:      log,
		opts:     opts,
		recorder: opts.Recorder,
		parser:   counter.NewParser(opts.Counters...),
	}
}

func (m *Manager) eventf(device, eventType, reason, messageFormat string, args ...any) {
	if m.recorder == nil {
		return
	}
	m.recorder.Eventf(device, eventType, reason, messageFormat, args...)
}

// Discover rebuilds the device list. The manager keeps whatever devices
// were found even if err is not nil.
func (m *Manager) Discover(ctx context.Context) error {
	builder := &Builder{
		log:       m.log.WithName("topology"),
		Locator:   m.opts.Locator,
		Resolver:  m.opts.Resolver,
		Families:  m.opts.Families,
		Vendor:    m.opts.Vendor,
		Paths:     m.opts.Paths,
		Parser:    m.currentParser(),
		Addresses: sets.New(m.opts.Addresses...),
	}

	devices, err := builder.Build(ctx)
	if err != nil {
		m.log.Error(err, "Device discovery incomplete", "devices", len(devices))
		m.eventf("", recorder.EventTypeWarning, ReasonDiscoveryFailed, "%v", err)
	}
	m.log.V(1).Info("Discovered devices", "devices", len(devices))

	m.mu.Lock()
	m.devices = devices
	m.mu.Unlock()

	return err
}

// Devices returns a snapshot of the device list.
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.devices)
}

func (m *Manager) Device(addr pci.Address) (*Device, bool) {
	for _, dev := range m.Devices() {
		if dev.Address == addr {
			return dev, true
		}
	}
	return nil, false
}

// VirtualFunctions returns the virtual functions of all devices in
// discovery order.
func (m *Manager) VirtualFunctions() []*VirtualFunction {
	var vfs []*VirtualFunction
	for _, dev := range m.Devices() {
		vfs = append(vfs, dev.VFs...)
	}
	return vfs
}

func (m *Manager) currentParser() *counter.Parser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parser
}

// SetCounterFilter replaces the counter allow-list. It applies from the
// next CollectTelemetry on.
func (m *Manager) SetCounterFilter(counters ...string) {
	parser := counter.NewParser(counters...)

	m.mu.Lock()
	m.parser = parser
	m.mu.Unlock()
}

// CollectTelemetry samples every device once, in order.
func (m *Manager) CollectTelemetry() error {
	parser := m.currentParser()

	var errs []error
	for _, dev := range m.Devices() {
		channel := dev.Telemetry()
		channel.SetParser(parser)
		if err := channel.Collect(); err != nil {
			m.log.Error(err, "Disabled telemetry", "device", dev.BDF())
			m.eventf(dev.BDF(), recorder.EventTypeWarning, ReasonTelemetryFailure, "%v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) SetState(state State) error {
	var errs []error
	for _, dev := range m.Devices() {
		if err := dev.SetState(state); err != nil {
			m.eventf(dev.BDF(), recorder.EventTypeWarning, ReasonStateFailed, "%v", err)
			errs = append(errs, err)
			continue
		}
		m.eventf(dev.BDF(), recorder.EventTypeNormal, ReasonStateChanged, "state set to %s", state)
	}
	return errors.Join(errs...)
}

func (m *Manager) SetService(service string) error {
	var errs []error
	for _, dev := range m.Devices() {
		if err := dev.SetService(service); err != nil {
			m.eventf(dev.BDF(), recorder.EventTypeWarning, ReasonServiceFailed, "%v", err)
			errs = append(errs, err)
			continue
		}
		m.eventf(dev.BDF(), recorder.EventTypeNormal, ReasonServiceChanged, "services set to %s", service)
	}
	return errors.Join(errs...)
}

// Run collects telemetry and calls refresh every interval until ctx is done.
// A cycle starts only after the previous one returned.
func (m *Manager) Run(ctx context.Context, interval time.Duration, refresh func(ctx context.Context)) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if err := m.CollectTelemetry(); err != nil {
			m.log.V(1).Info("Telemetry cycle incomplete", "error", err.Error())
		}
		if refresh != nil {
			refresh(ctx)
		}
	}, interval)
}

// DeviceConfig is the printable configuration of one device.
type DeviceConfig struct {
	BDF       string                 `json:"bdf" yaml:"bdf"`
	DevConfig string                 `json:"devConfig" yaml:"devConfig"`
	VFIO      []VirtualFunctionGroup `json:"vfio" yaml:"vfio"`
}

type VirtualFunctionGroup struct {
	BDF   string      `json:"bdf" yaml:"bdf"`
	Group *vfio.Group `json:"group,omitempty" yaml:"group,omitempty"`
}

func (m *Manager) Configs() []DeviceConfig {
	var configs []DeviceConfig
	for _, dev := range m.Devices() {
		cfg := DeviceConfig{
			BDF:       dev.BDF(),
			DevConfig: dev.DevConfig(),
		}
		for _, vf := range dev.VFs {
			cfg.VFIO = append(cfg.VFIO, VirtualFunctionGroup{BDF: vf.BDF(), Group: vf.Group})
		}
		configs = append(configs, cfg)
	}
	return configs
}

// TelemetryReport is the engine averages of one device.
type TelemetryReport struct {
	BDF      string             `json:"bdf" yaml:"bdf"`
	Enabled  bool               `json:"enabled" yaml:"enabled"`
	Averages map[string]float64 `json:"averages,omitempty" yaml:"averages,omitempty"`
}

func (m *Manager) Telemetry() []TelemetryReport {
	var reports []TelemetryReport
	for _, dev := range m.Devices() {
		reports = append(reports, TelemetryReport{
			BDF:      dev.BDF(),
			Enabled:  dev.Telemetry().Enabled(),
			Averages: dev.Telemetry().Sample().Averages(),
		})
	}
	return reports
}

func (r TelemetryReport) String() string {
	if !r.Enabled {
		return fmt.Sprintf("%s\ttelemetry not available", r.BDF)
	}
	s := r.BDF
	for _, t := range counter.Types {
		for _, e := range counter.Engines {
			if avg, ok := r.Averages[counter.Key(t, e)]; ok {
				s += fmt.Sprintf("\t%s=%.1f", counter.Key(t, e), avg)
			}
		}
	}
	return s
}
