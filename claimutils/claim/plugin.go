// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package claim

import (
	"errors"

	"k8s.io/apimachinery/pkg/api/resource"
)

var (
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrInvalidResourceClaim  = errors.New("invalid resource claim")
)

// ResourceName identifies the resource a plugin hands out, e.g.
// "qat.intel.com/vf".
type ResourceName string

type ResourceList map[ResourceName]resource.Quantity

// Plugin hands out units of one resource. Plugins are not safe for
// concurrent use, the Claimer serializes all calls.
type Plugin interface {
	Name() ResourceName
	Init() error
	CanClaim(quantity resource.Quantity) bool
	Claim(quantity resource.Quantity) (ResourceClaim, error)
	Release(claim ResourceClaim) error
}

type ResourceClaim interface{}
