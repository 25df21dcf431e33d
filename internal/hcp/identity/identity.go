// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package identity resolves which system user a worker-agent job or
// commit should be attributed to, via an ordered chain of resolvers.
package identity

import "context"

// ResolverFunc inspects the context (and whatever it closes over) and
// reports a system user ID, or false if it has no opinion.
type ResolverFunc func(ctx context.Context) (string, bool)

// Resolver tries each configured resolver in order and returns the
// first match, mirroring a chain-of-responsibility: a configured owner
// wins over a persisted owner flag, which wins over any admin role.
type Resolver struct {
	chain []ResolverFunc
}

// New builds a Resolver that tries fns in order.
func New(fns ...ResolverFunc) *Resolver {
	return &Resolver{chain: fns}
}

// GetSystemUserID returns the first resolver's match, or "", false if
// none of the chain resolves.
func (r *Resolver) GetSystemUserID(ctx context.Context) (string, bool) {
	for _, fn := range r.chain {
		if id, ok := fn(ctx); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// FixedOwner returns a resolver that always answers with the
// statically configured owner, if set.
func FixedOwner(ownerID string) ResolverFunc {
	return func(ctx context.Context) (string, bool) {
		if ownerID == "" {
			return "", false
		}
		return ownerID, true
	}
}

// PersistedOwnerLookup adapts a lookup function (e.g. a store query for
// the user flagged as owner) into a ResolverFunc.
func PersistedOwnerLookup(lookup func(ctx context.Context) (string, error)) ResolverFunc {
	return func(ctx context.Context) (string, bool) {
		id, err := lookup(ctx)
		if err != nil || id == "" {
			return "", false
		}
		return id, true
	}
}

// AnyAdminLookup adapts a lookup for an arbitrary admin-role user into
// a ResolverFunc, used as the last-resort link in the chain.
func AnyAdminLookup(lookup func(ctx context.Context) (string, error)) ResolverFunc {
	return func(ctx context.Context) (string, bool) {
		id, err := lookup(ctx)
		if err != nil || id == "" {
			return "", false
		}
		return id, true
	}
}
