// Package notify publishes device registry changes to external subscribers.
//
// Publishing is decoupled from the registry: changes are queued by a
// registry observer and sent by a single worker, so a slow or unreachable
// broker never stalls request handling. When the queue is full, changes are
// dropped and counted.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devmon-project/devmon-go/pkg/registry"
)

// DefaultQueueSize is the number of changes buffered for publishing.
const DefaultQueueSize = 256

// Event is the published form of a temperature update.
type Event struct {
	Seq            uint64    `json:"seq"`
	DeviceID       uint32    `json:"device_id"`
	OldTemperature float32   `json:"old_temperature"`
	Temperature    float32   `json:"temperature"`
	Battery        uint8     `json:"battery"`
	Status         string    `json:"status"`
	Time           time.Time `json:"time"`
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Notifier queues registry changes and publishes them in order.
type Notifier struct {
	pub    Publisher
	queue  chan Event
	logger *slog.Logger

	mu      sync.Mutex
	lastSeq map[uint32]uint64

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// New creates a notifier that publishes through pub.
func New(pub Publisher, queueSize int, logger *slog.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{
		pub:     pub,
		queue:   make(chan Event, queueSize),
		logger:  logger.With(slog.String("component", "notify")),
		lastSeq: make(map[uint32]uint64),
	}
}

// Attach registers the notifier as an observer of reg.
func (n *Notifier) Attach(reg *registry.Registry) {
	reg.OnChange(n.Observe)
}

// Observe queues a change without blocking. A change older than one already
// queued for the same device is skipped, so subscribers end on the latest
// temperature.
func (n *Notifier) Observe(c registry.Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c.Seq <= n.lastSeq[c.New.ID] {
		n.logger.Debug("skipping stale change",
			slog.Uint64("id", uint64(c.New.ID)),
			slog.Uint64("seq", c.Seq))
		return
	}
	n.lastSeq[c.New.ID] = c.Seq

	e := Event{
		Seq:            c.Seq,
		DeviceID:       c.New.ID,
		OldTemperature: c.Old.Temperature,
		Temperature:    c.New.Temperature,
		Battery:        c.New.Battery,
		Status:         c.New.Status.String(),
		Time:           time.Now().UTC(),
	}
	select {
	case n.queue <- e:
	default:
		n.dropped.Add(1)
		n.logger.Warn("notification queue full, dropping change", slog.Uint64("id", uint64(e.DeviceID)))
	}
}

// Run publishes queued events until ctx is cancelled, then closes the
// publisher.
func (n *Notifier) Run(ctx context.Context) error {
	defer n.pub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-n.queue:
			if err := n.pub.Publish(ctx, e); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				n.failed.Add(1)
				n.logger.Warn("publish failed",
					slog.Uint64("id", uint64(e.DeviceID)),
					slog.Any("error", err))
				continue
			}
			n.published.Add(1)
		}
	}
}

// Stats returns the number of published, dropped and failed events.
func (n *Notifier) Stats() (published, dropped, failed uint64) {
	return n.published.Load(), n.dropped.Load(), n.failed.Load()
}
