// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package pci

import (
	"context"

	"github.com/go-logr/logr"
)

type sysfsLocator struct {
	log logr.Logger
}

func NewSysfsLocator(log logr.Logger) (Locator, error) {
	log.V(1).Info("NOT SUPPORTED OS")

	return &sysfsLocator{
		log: log,
	}, nil
}

func NewSysfsLocatorWithMount(log logr.Logger, _ string) (Locator, error) {
	return NewSysfsLocator(log)
}

func (l *sysfsLocator) Locate(_ context.Context, _ DeviceID, _ Vendor) ([]Address, error) {
	l.log.V(1).Info("NOT SUPPORTED OS")
	return nil, nil
}
