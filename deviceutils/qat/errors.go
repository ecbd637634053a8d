// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package qat

import (
	"errors"
	"fmt"

	"github.com/ironcore-dev/qat-utils/pciutils/pci"
)

var (
	ErrAttributeRead    = errors.New("failed to read device attribute")
	ErrAttributeWrite   = errors.New("failed to write device attribute")
	ErrTopologyMismatch = errors.New("virtual function topology mismatch")
	ErrLifecycle        = errors.New("device lifecycle transition aborted")
	ErrInvalidState     = errors.New("invalid device state")
)

type LifecycleStep string

const (
	StepDeactivate LifecycleStep = "deactivate"
	StepConfigure  LifecycleStep = "configure"
	StepActivate   LifecycleStep = "activate"
)

// LifecycleError reports the step a service reconfiguration stopped at. The
// device is left in whatever state that step produced.
type LifecycleError struct {
	Address pci.Address
	Step    LifecycleStep
	Err     error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: %s aborted at %s: %v", ErrLifecycle, e.Address, e.Step, e.Err)
}

func (e *LifecycleError) Unwrap() []error {
	return []error{ErrLifecycle, e.Err}
}
