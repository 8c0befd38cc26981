// Package registry implements the Attachment Registry (§4.5): an
// in-memory bidirectional map enforcing the single-owner invariant (I1).
// All mutations are expected to originate from the Orchestrator, which
// owns serialization; Registry itself is just a guarded map, matching
// the teacher's pattern of small, single-purpose in-memory trackers with
// their own mutex rather than folding this state into a larger struct.
package registry

import (
	"sync"
	"time"

	"github.com/tiiuae/vhotplug/vhperr"
)

// Kind identifies the device class of an Attachment.
type Kind string

const (
	KindUsb   Kind = "usb"
	KindPci   Kind = "pci"
	KindEvdev Kind = "evdev"
)

// Key uniquely names a device in the Registry (the "device_key" of §3).
type Key struct {
	Kind Kind
	ID   string // "bus:addr" for usb, pci address, or evdev node
}

// Attachment records one device's binding to a VM.
type Attachment struct {
	Key        Key
	VmName     string
	AttachedAt time.Time
}

// Registry is the Attachment Registry. Safe for concurrent use, though
// in practice only the Orchestrator's single loop calls it.
type Registry struct {
	mu    sync.RWMutex
	byKey map[Key]Attachment
}

func New() *Registry {
	return &Registry{byKey: make(map[Key]Attachment)}
}

// Insert records key as attached to vm. It fails with AlreadyAttached if
// key is already present (I1).
func (r *Registry) Insert(key Key, vm string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byKey[key]; ok {
		return vhperr.AlreadyAttached(existing.VmName)
	}

	r.byKey[key] = Attachment{Key: key, VmName: vm, AttachedAt: now}

	return nil
}

// Remove drops key's binding and returns it, or fails with NotAttached.
func (r *Registry) Remove(key Key) (Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byKey[key]
	if !ok {
		return Attachment{}, vhperr.NotAttached()
	}

	delete(r.byKey, key)

	return a, nil
}

// Lookup returns key's current binding, if any.
func (r *Registry) Lookup(key Key) (Attachment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byKey[key]

	return a, ok
}

// ListByVm returns every Attachment currently bound to vm.
func (r *Registry) ListByVm(vm string) []Attachment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Attachment

	for _, a := range r.byKey {
		if a.VmName == vm {
			out = append(out, a)
		}
	}

	return out
}

// ListByKind returns every Attachment of the given kind.
func (r *Registry) ListByKind(kind Kind) []Attachment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Attachment

	for _, a := range r.byKey {
		if a.Key.Kind == kind {
			out = append(out, a)
		}
	}

	return out
}
