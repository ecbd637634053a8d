// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package qat

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type State string

const (
	StateDown State = "down"
	StateUp   State = "up"
)

func ParseState(s string) (State, error) {
	switch State(strings.TrimSpace(s)) {
	case StateDown:
		return StateDown, nil
	case StateUp:
		return StateUp, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

const (
	numaNodeAttribute    = "numa_node"
	stateAttribute       = "qat/state"
	cfgServicesAttribute = "qat/cfg_services"
)

var (
	readAttributeFile  = os.ReadFile
	writeAttributeFile = os.WriteFile
)

func (d *Device) readAttribute(name string) (string, error) {
	data, err := readAttributeFile(filepath.Join(d.Path, name))
	if err != nil {
		return "", fmt.Errorf("%w: %s of %s: %w", ErrAttributeRead, name, d.BDF(), err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func (d *Device) writeAttribute(name, value string) error {
	if err := writeAttributeFile(filepath.Join(d.Path, name), []byte(value), 0o644); err != nil {
		return fmt.Errorf("%w: %s of %s: %w", ErrAttributeWrite, name, d.BDF(), err)
	}
	return nil
}

func (d *Device) NumaNode() (string, error) {
	return d.readAttribute(numaNodeAttribute)
}

func (d *Device) State() (string, error) {
	return d.readAttribute(stateAttribute)
}

func (d *Device) CfgServices() (string, error) {
	return d.readAttribute(cfgServicesAttribute)
}

func (d *Device) SetState(state State) error {
	if _, err := ParseState(string(state)); err != nil {
		return err
	}

	d.log.V(1).Info("Setting device state", "state", state)
	return d.writeAttribute(stateAttribute, string(state))
}

// SetService brings the device down, writes the service configuration and
// brings it up again. The first failing step aborts the transition, nothing
// is retried or rolled back.
func (d *Device) SetService(service string) error {
	if err := d.SetState(StateDown); err != nil {
		return &LifecycleError{Address: d.Address, Step: StepDeactivate, Err: err}
	}

	d.log.V(1).Info("Configuring device services", "services", service)
	if err := d.writeAttribute(cfgServicesAttribute, service); err != nil {
		return &LifecycleError{Address: d.Address, Step: StepConfigure, Err: err}
	}

	if err := d.SetState(StateUp); err != nil {
		return &LifecycleError{Address: d.Address, Step: StepActivate, Err: err}
	}
	return nil
}
