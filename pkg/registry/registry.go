// Package registry holds the in-memory set of device status records served
// by a devmon server.
//
// Every operation runs as one critical section under a single mutex, so no
// caller can observe a record in the middle of another caller's update.
// Records are returned by value; nothing that aliases registry memory
// escapes an operation.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/devmon-project/devmon-go/pkg/device"
)

// Registry errors.
var (
	// ErrDuplicateID indicates two seed records share a device ID.
	ErrDuplicateID = errors.New("registry: duplicate device id")

	// ErrTooManyDevices indicates a seed whose LIST_RESPONSE would not fit
	// one frame.
	ErrTooManyDevices = errors.New("registry: too many devices")
)

// Change describes a completed temperature update. Seq increases by one per
// update across the registry; observers may run concurrently, so it is the
// only reliable order between two changes.
type Change struct {
	Seq uint64
	Old device.Record
	New device.Record
}

// Registry is an ordered collection of device records with unique IDs.
// Devices are fixed at construction; only temperatures change afterwards.
type Registry struct {
	mu      sync.Mutex
	records []device.Record
	index   map[uint32]int
	seq     uint64

	observersMu sync.RWMutex
	observers   []func(Change)
}

// New creates a registry holding a copy of records, in order.
func New(records []device.Record) (*Registry, error) {
	if len(records) > device.MaxRecords {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyDevices, len(records), device.MaxRecords)
	}
	r := &Registry{
		records: make([]device.Record, len(records)),
		index:   make(map[uint32]int, len(records)),
	}
	copy(r.records, records)
	for i, rec := range r.records {
		if _, dup := r.index[rec.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, rec.ID)
		}
		r.index[rec.ID] = i
	}
	return r, nil
}

// List returns a snapshot of all records in registry order.
func (r *Registry) List() []device.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]device.Record, len(r.records))
	copy(out, r.records)
	return out
}

// Find returns a copy of the record with the given ID.
func (r *Registry) Find(id uint32) (device.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return device.Record{}, false
	}
	return r.records[i], true
}

// SetTemperature updates the temperature of one device. It returns
// device.SetOK on success and device.SetNotFound if the ID is unknown.
func (r *Registry) SetTemperature(id uint32, temperature float32) device.SetResult {
	r.mu.Lock()
	i, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return device.SetNotFound
	}
	old := r.records[i]
	r.records[i].Temperature = temperature
	r.seq++
	c := Change{Seq: r.seq, Old: old, New: r.records[i]}
	r.mu.Unlock()

	r.notify(c)
	return device.SetOK
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// OnChange registers fn to be called after every successful update.
// Observers run outside the registry lock on the updating goroutine and must
// not block. Concurrent updates may reach observers out of order; use
// Change.Seq to order them.
func (r *Registry) OnChange(fn func(Change)) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Registry) notify(c Change) {
	r.observersMu.RLock()
	defer r.observersMu.RUnlock()
	for _, fn := range r.observers {
		fn(c)
	}
}
