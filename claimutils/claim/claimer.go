// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package claim

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/go-logr/logr"
)

var (
	ErrMissingPlugins = errors.New("no plugin for resource")
	ErrReleaseClaim   = errors.New("failed to release claim")
	ErrAlreadyStarted = errors.New("claimer already started")
	ErrNotStarted     = errors.New("claimer not running")
)

type Claims map[ResourceName]ResourceClaim

// request is either a claim or a release, never both.
type request struct {
	claim   ResourceList
	release Claims
	result  chan result
}

type result struct {
	claims Claims
	err    error
}

// Claimer claims resources from a set of plugins. Requests are processed one
// at a time by the loop run in Start.
type Claimer struct {
	log     logr.Logger
	plugins map[ResourceName]Plugin

	requests chan request

	startOnce sync.Once
	started   chan struct{}
	stopped   chan struct{}
}

// NewClaimer initializes every plugin. Plugin names must be unique.
func NewClaimer(log logr.Logger, plugins ...Plugin) (*Claimer, error) {
	c := &Claimer{
		log:      log,
		plugins:  map[ResourceName]Plugin{},
		requests: make(chan request),
		started:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	for _, plugin := range plugins {
		name := plugin.Name()
		if _, ok := c.plugins[name]; ok {
			return nil, fmt.Errorf("plugin %s already registered", name)
		}
		c.plugins[name] = plugin
	}

	for _, name := range slices.Sorted(maps.Keys(c.plugins)) {
		if err := c.plugins[name].Init(); err != nil {
			return nil, fmt.Errorf("init plugin %s: %w", name, err)
		}
	}
	return c, nil
}

// Start serves requests until ctx is done. It may only be called once.
func (c *Claimer) Start(ctx context.Context) error {
	first := false
	c.startOnce.Do(func() { first = true })
	if !first {
		return ErrAlreadyStarted
	}

	close(c.started)
	defer close(c.stopped)

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.requests:
			var res result
			if req.claim != nil {
				res.claims, res.err = c.claim(req.claim)
			} else if err := c.release(req.release); err != nil {
				res.err = errors.Join(ErrReleaseClaim, err)
			}
			req.result <- res
		}
	}
}

func (c *Claimer) WaitUntilStarted(ctx context.Context) error {
	select {
	case <-c.started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Claimer) Claim(ctx context.Context, resources ResourceList) (Claims, error) {
	if err := c.checkPlugins(slices.Collect(maps.Keys(resources))); err != nil {
		return nil, err
	}
	if resources == nil {
		resources = ResourceList{}
	}

	res, err := c.submit(ctx, request{claim: resources})
	if err != nil {
		return nil, err
	}
	return res.claims, res.err
}

func (c *Claimer) Release(ctx context.Context, claims Claims) error {
	if err := c.checkPlugins(slices.Collect(maps.Keys(claims))); err != nil {
		return err
	}

	res, err := c.submit(ctx, request{release: claims})
	if err != nil {
		return err
	}
	return res.err
}

func (c *Claimer) submit(ctx context.Context, req request) (result, error) {
	select {
	case <-c.started:
	default:
		return result{}, ErrNotStarted
	}

	req.result = make(chan result, 1)
	select {
	case c.requests <- req:
	case <-c.stopped:
		return result{}, ErrNotStarted
	case <-ctx.Done():
		return result{}, ctx.Err()
	}

	select {
	case res := <-req.result:
		return res, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func (c *Claimer) checkPlugins(names []ResourceName) error {
	var errs []error
	for _, name := range names {
		if _, ok := c.plugins[name]; !ok {
			errs = append(errs, fmt.Errorf("%w %s", ErrMissingPlugins, name))
		}
	}
	return errors.Join(errs...)
}

// claim is all or nothing: if one plugin fails, everything claimed so far
// is released again.
func (c *Claimer) claim(resources ResourceList) (Claims, error) {
	names := slices.Sorted(maps.Keys(resources))

	var errs []error
	for _, name := range names {
		if !c.plugins[name].CanClaim(resources[name]) {
			errs = append(errs, fmt.Errorf("%w for %s", ErrInsufficientResources, name))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	claims := Claims{}
	for _, name := range names {
		claim, err := c.plugins[name].Claim(resources[name])
		if err != nil {
			if releaseErr := c.release(claims); releaseErr != nil {
				c.log.Error(releaseErr, "Failed to roll back partial claim")
			}
			return nil, fmt.Errorf("claim %s: %w", name, err)
		}
		claims[name] = claim
	}

	c.log.V(1).Info("Claimed resources", "resources", names)
	return claims, nil
}

func (c *Claimer) release(claims Claims) error {
	var errs []error
	for name, claim := range claims {
		if err := c.plugins[name].Release(claim); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
