// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package player

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jllopis/ensemble/pkg/errors"
)

// Method is a base operation defined on an Object.
type Method func(ctx context.Context, args ...any) (any, error)

// Next continues dispatch of the current operation below the calling layer.
type Next func(ctx context.Context, args ...any) (any, error)

// LayerMethod is an operation contributed by an extension layer. next reaches
// the same operation on the layers below, or fails with a NO_METHOD error.
type LayerMethod func(ctx context.Context, next Next, args ...any) (any, error)

// Layer is a named set of operations stacked on top of a player's own surface.
type Layer struct {
	ID      string
	Methods map[string]LayerMethod
}

// Extensible players accept layers merged into their own dispatch. The most
// recently added layer wins.
type Extensible interface {
	Receiver
	Extend(layer Layer)
	Retract(id string) bool
}

// Object is a dynamic player with attributes, base operations and extension
// layers. It is safe for concurrent use.
type Object struct {
	mu      sync.RWMutex
	attrs   map[string]any
	methods map[string]Method
	layers  []Layer
}

var _ Extensible = (*Object)(nil)

// NewObject returns an Object holding a copy of attrs.
func NewObject(attrs map[string]any) *Object {
	o := &Object{
		attrs:   make(map[string]any, len(attrs)),
		methods: make(map[string]Method),
	}
	for k, v := range attrs {
		o.attrs[k] = v
	}
	return o
}

// Get returns an attribute value.
func (o *Object) Get(name string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.attrs[name]
	return v, ok
}

// Set stores an attribute value.
func (o *Object) Set(name string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attrs[name] = value
}

// Define installs a base operation, replacing any previous one of that name.
func (o *Object) Define(name string, m Method) *Object {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.methods[name] = m
	return o
}

// Extend pushes a layer on top of the object's surface. A layer with the same
// ID already present is replaced in place.
func (o *Object) Extend(layer Layer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.layers {
		if o.layers[i].ID == layer.ID {
			o.layers[i] = layer
			return
		}
	}
	o.layers = append(o.layers, layer)
}

// Retract removes the layer with the given ID. It reports whether a layer was removed.
func (o *Object) Retract(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.layers) - 1; i >= 0; i-- {
		if o.layers[i].ID == id {
			o.layers = append(o.layers[:i], o.layers[i+1:]...)
			return true
		}
	}
	return false
}

// Layers returns the IDs of the active layers, bottom first.
func (o *Object) Layers() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, len(o.layers))
	for i, l := range o.layers {
		ids[i] = l.ID
	}
	return ids
}

// RespondsTo reports whether op is an attribute, a base operation or a layer operation.
func (o *Object) RespondsTo(op string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if _, ok := o.attrs[op]; ok {
		return true
	}
	if _, ok := o.methods[op]; ok {
		return true
	}
	for _, l := range o.layers {
		if _, ok := l.Methods[op]; ok {
			return true
		}
	}
	return false
}

// Operations lists the current surface, sorted.
func (o *Object) Operations() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range o.attrs {
		seen[k] = struct{}{}
	}
	for k := range o.methods {
		seen[k] = struct{}{}
	}
	for _, l := range o.layers {
		for k := range l.Methods {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Send dispatches op: layers top-down, then base operations, then attributes.
func (o *Object) Send(ctx context.Context, op string, args ...any) (any, error) {
	o.mu.RLock()
	layers := append([]Layer(nil), o.layers...)
	base, hasBase := o.methods[op]
	attr, hasAttr := o.attrs[op]
	o.mu.RUnlock()

	var below func(depth int) Next
	below = func(depth int) Next {
		return func(ctx context.Context, args ...any) (any, error) {
			for i := depth - 1; i >= 0; i-- {
				if m, ok := layers[i].Methods[op]; ok {
					return m(ctx, below(i), args...)
				}
			}
			switch {
			case hasBase:
				return base(ctx, args...)
			case hasAttr && len(args) == 0:
				return attr, nil
			}
			return nil, errors.New(errors.CodeNoMethod, fmt.Sprintf("undefined operation '%s' for %s", op, o), nil).
				WithContext("operation", op)
		}
	}
	return below(len(layers))(ctx, args...)
}

// String describes the object by its name attribute when it has one.
func (o *Object) String() string {
	if name, ok := o.Get("name"); ok {
		return fmt.Sprintf("player.Object(%v)", name)
	}
	return fmt.Sprintf("player.Object(%p)", o)
}
