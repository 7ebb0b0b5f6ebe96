// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"hash/fnv"
	"sync"
)

// Factory returns a zero instance of a class, ready to be unmarshalled.
type Factory func() Object

// Registry maps type ids to factories. Readers consult it to construct the
// most-derived known type of each object in a stream.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]Factory
	byHash map[uint64]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]Factory),
		byHash: make(map[uint64]string),
	}
}

// DefaultRegistry is consulted by streams created without WithRegistry.
var DefaultRegistry = NewRegistry()

// RegisterType registers f for typeID in DefaultRegistry.
func RegisterType(typeID string, f Factory) {
	DefaultRegistry.Register(typeID, f)
}

// Register registers f for typeID, replacing any earlier factory.
func (r *Registry) Register(typeID string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[typeID] = f
	r.byHash[TypeIDHash(typeID)] = typeID
}

// Lookup returns the factory registered for typeID.
func (r *Registry) Lookup(typeID string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byID[typeID]
	return f, ok
}

// LookupHash returns the type id whose hash is h.
func (r *Registry) LookupHash(h uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[h]
	return id, ok
}

// TypeIDHash is the compact 64-bit form of a type id: FNV-1a over its bytes.
func TypeIDHash(typeID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(typeID))
	return h.Sum64()
}
