package registry

import (
	"math"
	"sync"
	"testing"

	"github.com/devmon-project/devmon-go/pkg/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeeded(t *testing.T) *Registry {
	t.Helper()
	r, err := New(device.DefaultSeed())
	require.NoError(t, err)
	return r
}

func TestNewRejectsDuplicateIDs(t *testing.T) {
	_, err := New([]device.Record{{ID: 1}, {ID: 2}, {ID: 1}})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestNewDeviceLimit(t *testing.T) {
	seed := make([]device.Record, device.MaxRecords+1)
	for i := range seed {
		seed[i].ID = uint32(i)
	}

	_, err := New(seed)
	assert.ErrorIs(t, err, ErrTooManyDevices)

	r, err := New(seed[:device.MaxRecords])
	require.NoError(t, err)
	assert.LessOrEqual(t, len(device.EncodeRecords(r.List())), math.MaxUint16)
}

func TestNewCopiesSeed(t *testing.T) {
	seed := device.DefaultSeed()
	r, err := New(seed)
	require.NoError(t, err)

	seed[0].Temperature = 99
	rec, ok := r.Find(1)
	require.True(t, ok)
	assert.Equal(t, float32(22.5), rec.Temperature)
}

func TestListPreservesOrderAndIsSnapshot(t *testing.T) {
	r := newSeeded(t)

	list := r.List()
	assert.Equal(t, device.DefaultSeed(), list)

	list[0].Temperature = -1
	again := r.List()
	assert.Equal(t, float32(22.5), again[0].Temperature)
	assert.Equal(t, 5, r.Len())
}

func TestFind(t *testing.T) {
	r := newSeeded(t)

	rec, ok := r.Find(4)
	require.True(t, ok)
	assert.Equal(t, device.Record{ID: 4, Temperature: 30.1, Battery: 20, Status: device.StatusError}, rec)

	_, ok = r.Find(999)
	assert.False(t, ok)
}

func TestSetTemperature(t *testing.T) {
	r := newSeeded(t)

	assert.Equal(t, device.SetOK, r.SetTemperature(1, 30.0))
	rec, _ := r.Find(1)
	assert.Equal(t, float32(30.0), rec.Temperature)
	assert.Equal(t, uint8(85), rec.Battery, "only the temperature changes")

	assert.Equal(t, device.SetNotFound, r.SetTemperature(999, 1.0))
	assert.Equal(t, device.DefaultSeed()[1:], r.List()[1:])
}

func TestOnChange(t *testing.T) {
	r := newSeeded(t)

	var changes []Change
	r.OnChange(func(c Change) {
		// Observers run outside the lock, so reading back must not deadlock.
		_, _ = r.Find(c.New.ID)
		changes = append(changes, c)
	})

	r.SetTemperature(2, 21.5)
	r.SetTemperature(404, 0)

	r.SetTemperature(2, 22.0)

	require.Len(t, changes, 2)
	assert.Equal(t, float32(19.0), changes[0].Old.Temperature)
	assert.Equal(t, float32(21.5), changes[0].New.Temperature)
	assert.Equal(t, uint64(1), changes[0].Seq)
	assert.Equal(t, uint64(2), changes[1].Seq, "failed updates do not consume a sequence number")
}

func TestChangeSeqOrdersConcurrentUpdates(t *testing.T) {
	r := newSeeded(t)

	var mu sync.Mutex
	last := make(map[uint64]float32)
	r.OnChange(func(c Change) {
		mu.Lock()
		last[c.Seq] = c.New.Temperature
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v float32) {
			defer wg.Done()
			r.SetTemperature(1, v)
		}(float32(i))
	}
	wg.Wait()

	require.Len(t, last, 50)
	rec, _ := r.Find(1)
	assert.Equal(t, rec.Temperature, last[50], "highest sequence number carries the final value")
}

// TestConcurrentUpdatesAreAtomic writes temperatures whose bit pattern is
// derived from the device ID and checks readers never see a value that was
// not written by some writer.
func TestConcurrentUpdatesAreAtomic(t *testing.T) {
	seed := make([]device.Record, 16)
	for i := range seed {
		seed[i] = device.Record{ID: uint32(i + 1), Battery: 50, Status: device.StatusOnline}
	}
	r, err := New(seed)
	require.NoError(t, err)

	const rounds = 500
	valid := func(id uint32, temp float32) bool {
		if temp == 0 {
			return true
		}
		bits := math.Float32bits(temp)
		return bits>>16 == id
	}

	var wg sync.WaitGroup
	for _, rec := range seed {
		wg.Add(2)
		go func(id uint32) {
			defer wg.Done()
			for n := uint32(0); n < rounds; n++ {
				temp := math.Float32frombits(id<<16 | (n & 0xFFFF))
				r.SetTemperature(id, temp)
			}
		}(rec.ID)
		go func(id uint32) {
			defer wg.Done()
			for n := 0; n < rounds; n++ {
				got, ok := r.Find(id)
				if !ok || !valid(id, got.Temperature) || got.Battery != 50 {
					t.Errorf("torn or missing record %+v", got)
					return
				}
				for _, l := range r.List() {
					if !valid(l.ID, l.Temperature) {
						t.Errorf("torn record in list %+v", l)
						return
					}
				}
			}
		}(rec.ID)
	}
	wg.Wait()
}
