// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/qat-utils/deviceutils/qat"
	"github.com/ironcore-dev/qat-utils/eventutils/recorder"
	"github.com/ironcore-dev/qat-utils/pciutils/pci"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/exec"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errUsage          = errors.New("wrong number of arguments")
)

type managerOptionsFunc func(log logr.Logger, cfg config) (qat.ManagerOptions, error)

func defaultManagerOptions(log logr.Logger, cfg config) (qat.ManagerOptions, error) {
	addresses, err := cfg.addresses()
	if err != nil {
		return qat.ManagerOptions{}, err
	}

	opts := qat.ManagerOptions{
		Addresses: addresses,
		Counters:  cfg.Counters,
		Paths: qat.Paths{
			PCIDevices: cfg.PCIDevices,
			Debugfs:    cfg.Debugfs,
		},
	}

	switch cfg.Locator {
	case locatorSysfs:
		mount := cfg.SysfsMount
		if mount == "" {
			mount = "/sys"
		}
		opts.Locator, err = pci.NewSysfsLocatorWithMount(log.WithName("sysfs"), mount)
		if err != nil {
			return qat.ManagerOptions{}, err
		}
		if opts.Paths.PCIDevices == "" {
			opts.Paths.PCIDevices = filepath.Join(mount, "bus", "pci", "devices")
		}
	default:
		opts.Locator = pci.NewLspciLocator(log.WithName("lspci"), exec.New())
	}
	return opts, nil
}

type app struct {
	log     logr.Logger
	cfg     config
	out     io.Writer
	manager *qat.Manager
	events  *recorder.Store
}

type command struct {
	name string
	help string
	args int
	run  func(a *app, ctx context.Context, args []string) error
}

var commands = []command{
	{name: "list", help: "List devices and their virtual functions.", run: (*app).list},
	{name: "config", help: "Print the device configuration and vfio groups.", run: (*app).showConfig},
	{name: "telemetry", help: "Print engine utilization, with --watch every interval.", run: (*app).telemetry},
	{name: "set-state", help: "Bring all devices up or down.", args: 1, run: (*app).setState},
	{name: "set-service", help: "Reconfigure the services of all devices.", args: 1, run: (*app).setService},
	{name: "serve", help: "Export telemetry as prometheus metrics.", run: (*app).serve},
}

func run(ctx context.Context, log logr.Logger, cfg config, args []string, out io.Writer, optsFn managerOptionsFunc) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command given", errUsage)
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		return fmt.Errorf("%w %q", errUnknownCommand, args[0])
	}
	if len(args)-1 != cmd.args {
		return fmt.Errorf("%w: %s takes %d argument(s)", errUsage, cmd.name, cmd.args)
	}

	opts, err := optsFn(log, cfg)
	if err != nil {
		return err
	}
	events := recorder.NewStore(log.WithName("events"), recorder.Options{})
	opts.Recorder = events

	a := &app{
		log:     log,
		cfg:     cfg,
		out:     out,
		manager: qat.NewManager(log.WithName("manager"), opts),
		events:  events,
	}

	// A partial device list is still useful, the errors are logged by the
	// manager.
	if err := a.manager.Discover(ctx); err != nil && len(a.manager.Devices()) == 0 {
		return fmt.Errorf("no devices discovered: %w", err)
	}

	return cmd.run(a, ctx, args[1:])
}

func (a *app) yaml(v any) error {
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

type deviceListing struct {
	BDF      string                     `yaml:"bdf"`
	Family   string                     `yaml:"family"`
	NUMANode string                     `yaml:"numaNode"`
	Services string                     `yaml:"services"`
	State    string                     `yaml:"state"`
	VFs      []qat.VirtualFunctionGroup `yaml:"vfs,omitempty"`
}

func (a *app) list(context.Context, []string) error {
	devices := a.manager.Devices()

	if a.cfg.Output == outputText {
		for _, dev := range devices {
			fmt.Fprintln(a.out, dev)
		}
		return nil
	}

	var listing []deviceListing
	for _, dev := range devices {
		entry := deviceListing{BDF: dev.BDF(), Family: dev.Family.Name}
		var errs []error
		var err error
		entry.NUMANode, err = dev.NumaNode()
		errs = append(errs, err)
		entry.Services, err = dev.CfgServices()
		errs = append(errs, err)
		entry.State, err = dev.State()
		errs = append(errs, err)
		if err := errors.Join(errs...); err != nil {
			return err
		}
		for _, vf := range dev.VFs {
			entry.VFs = append(entry.VFs, qat.VirtualFunctionGroup{BDF: vf.BDF(), Group: vf.Group})
		}
		listing = append(listing, entry)
	}
	return a.yaml(listing)
}

func (a *app) showConfig(context.Context, []string) error {
	configs := a.manager.Configs()
	if a.cfg.Output == outputYAML {
		return a.yaml(configs)
	}

	for _, cfg := range configs {
		fmt.Fprintf(a.out, "%s\n%s\n", cfg.BDF, cfg.DevConfig)
		for _, vf := range cfg.VFIO {
			fmt.Fprintf(a.out, "\t VF: %s - %s\n", vf.BDF, vf.Group)
		}
	}
	return nil
}

func (a *app) printTelemetry() {
	reports := a.manager.Telemetry()
	if a.cfg.Output == outputYAML {
		if err := a.yaml(reports); err != nil {
			a.log.Error(err, "Failed to print telemetry")
		}
		return
	}
	for _, report := range reports {
		fmt.Fprintln(a.out, report)
	}
}

func (a *app) telemetry(ctx context.Context, _ []string) error {
	if a.cfg.Watch {
		a.manager.Run(ctx, a.cfg.Interval, func(context.Context) {
			a.printTelemetry()
		})
		return nil
	}

	// Devices that lost telemetry are reported as unavailable.
	if err := a.manager.CollectTelemetry(); err != nil {
		a.log.V(1).Info("Telemetry incomplete", "error", err.Error())
	}
	a.printTelemetry()
	return nil
}

func (a *app) printEvents() {
	for _, event := range a.events.ListEvents() {
		fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\n", event.Type, event.Reason, event.Device, event.Message)
	}
}

func (a *app) setState(_ context.Context, args []string) error {
	state, err := qat.ParseState(args[0])
	if err != nil {
		return err
	}
	err = a.manager.SetState(state)
	a.printEvents()
	return err
}

func (a *app) setService(_ context.Context, args []string) error {
	err := a.manager.SetService(args[0])
	a.printEvents()
	return err
}
