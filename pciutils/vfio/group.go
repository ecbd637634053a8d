// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package vfio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/qat-utils/pciutils/pci"
)

const (
	DefaultDevRoot    = "/dev/vfio"
	DefaultGroupsRoot = "/sys/kernel/iommu_groups"
)

// Group is the IOMMU group a device was found in. Group ID 0 is a valid
// group; an unknown group is a nil *Group.
type Group struct {
	ID       int    `json:"id" yaml:"id"`
	NUMANode string `json:"numaNode" yaml:"numaNode"`
}

// DevicePath is the character device handed to a VMM for this group.
func (g *Group) DevicePath(devRoot string) string {
	if devRoot == "" {
		devRoot = DefaultDevRoot
	}
	return filepath.Join(devRoot, strconv.Itoa(g.ID))
}

func (g *Group) String() string {
	if g == nil {
		return "none"
	}
	return fmt.Sprintf("group %d (numa %s)", g.ID, g.NUMANode)
}

type Resolver struct {
	log logr.Logger

	DevRoot    string
	GroupsRoot string
}

func NewResolver(log logr.Logger) *Resolver {
	return &Resolver{
		log:        log,
		DevRoot:    DefaultDevRoot,
		GroupsRoot: DefaultGroupsRoot,
	}
}

// Resolve scans every group exposed under DevRoot and returns the one the
// address is a member of. It returns nil without error if no group
// contains the address.
func (r *Resolver) Resolve(addr pci.Address) (*Group, error) {
	entries, err := os.ReadDir(r.DevRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.log.V(2).Info("No vfio groups available", "path", r.DevRoot)
			return nil, nil
		}
		return nil, fmt.Errorf("read vfio groups: %w", err)
	}

	bdf := addr.String()
	for _, entry := range entries {
		name := entry.Name()
		if name == "vfio" || name == "devices" {
			continue
		}
		id, err := strconv.Atoi(name)
		if err != nil || id < 0 {
			r.log.V(3).Info("Skipping non group entry", "entry", name)
			continue
		}

		members, err := os.ReadDir(filepath.Join(r.GroupsRoot, name, "devices"))
		if err != nil {
			r.log.V(2).Info("Skipping group without device listing", "group", id, "error", err.Error())
			continue
		}

		for _, member := range members {
			if member.Name() != bdf {
				continue
			}

			numa, err := r.readNUMANode(name, bdf)
			if err != nil {
				return nil, err
			}
			r.log.V(1).Info("Resolved vfio group", "device", bdf, "group", id, "numaNode", numa)
			return &Group{ID: id, NUMANode: numa}, nil
		}
	}

	r.log.V(2).Info("Device is not a member of any vfio group", "device", bdf)
	return nil, nil
}

func (r *Resolver) readNUMANode(group, bdf string) (string, error) {
	path := filepath.Join(r.GroupsRoot, group, "devices", bdf, "numa_node")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read numa node for %s: %w", bdf, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}
