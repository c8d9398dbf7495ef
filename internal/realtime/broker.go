package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Broker delivers deltas to a recipient's broadcast group. Deltas published
// to one group are delivered to each subscriber in publish order; no
// ordering exists across groups.
type Broker interface {
	// Publish sends a delta to every current subscriber of the teacher's group.
	Publish(ctx context.Context, teacherID int64, d Delta) error
	// Subscribe joins the teacher's group. The returned cancel func leaves
	// the group and releases the channel.
	Subscribe(teacherID int64) (<-chan Delta, func(), error)
	Close() error
}

// subscriberBuffer bounds how far a slow connection may fall behind before
// deltas are dropped. A dropped delta is corrected by the client's next
// snapshot, which remains the correctness backstop.
const subscriberBuffer = 64

// Hub is the in-process Broker. It is only correct when a single server
// process holds every gateway connection; multi-process deployments use the
// Redis broker instead.
type Hub struct {
	mu     sync.RWMutex
	groups map[int64]map[string]chan Delta
}

// NewHub creates an empty in-process broker.
func NewHub() *Hub {
	return &Hub{groups: make(map[int64]map[string]chan Delta)}
}

func (h *Hub) Publish(_ context.Context, teacherID int64, d Delta) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.groups[teacherID] {
		select {
		case ch <- d:
		default:
			logrus.WithFields(logrus.Fields{
				"group":      GroupName(teacherID),
				"subscriber": id,
			}).Warn("subscriber buffer full, dropping delta; next snapshot will correct")
		}
	}
	return nil
}

func (h *Hub) Subscribe(teacherID int64) (<-chan Delta, func(), error) {
	ch := make(chan Delta, subscriberBuffer)
	id := uuid.NewString()

	h.mu.Lock()
	grp, ok := h.groups[teacherID]
	if !ok {
		grp = make(map[string]chan Delta)
		h.groups[teacherID] = grp
	}
	grp[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if grp, ok := h.groups[teacherID]; ok {
			delete(grp, id)
			if len(grp) == 0 {
				delete(h.groups, teacherID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel, nil
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.groups = make(map[int64]map[string]chan Delta)
	return nil
}
