package admission

import (
	"sync"
	"time"
)

// Sender delivers a flushed batch; the caller supplies this (namespace.EmitTo
// or similar) so admission stays transport-agnostic.
type Sender func(roomID, event string, payload any)

// BatchConfig controls optimizedEmit's buffering thresholds.
type BatchConfig struct {
	Enabled   bool
	BatchSize int
	Delay     time.Duration
}

type buffer struct {
	items     []any
	firstSeen time.Time
	timer     *time.Timer
}

// Batcher implements optimizedEmit: buffer-then-flush per (roomID, event),
// flushing on size or delay threshold, grouping multi-element flushes under
// "${event}_batch".
type Batcher struct {
	mu     sync.Mutex
	cfg    BatchConfig
	send   Sender
	bufs   map[string]*buffer // key = roomID + "|" + event
}

// NewBatcher builds a Batcher. send is invoked on every flush, never from
// inside Batcher's own lock.
func NewBatcher(cfg BatchConfig, send Sender) *Batcher {
	return &Batcher{cfg: cfg, send: send, bufs: make(map[string]*buffer)}
}

// Scale shrinks the batch-size threshold under memory pressure (C11), factor
// expected in [0.5, 0.8]. The flush delay is left unchanged.
func (b *Batcher) Scale(factor float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := int(float64(b.cfg.BatchSize) * factor); n >= 1 {
		b.cfg.BatchSize = n
	}
}

func bufKey(roomID, event string) string { return roomID + "|" + event }

// Emit appends data to the (roomID, event) buffer, or sends it immediately
// when immediate is true or batching is disabled.
func (b *Batcher) Emit(roomID, event string, data any, immediate bool) {
	if immediate || !b.cfg.Enabled {
		b.send(roomID, event, data)
		return
	}

	b.mu.Lock()
	key := bufKey(roomID, event)
	buf, ok := b.bufs[key]
	if !ok {
		buf = &buffer{firstSeen: time.Now()}
		buf.timer = time.AfterFunc(b.cfg.Delay, func() { b.flush(roomID, event) })
		b.bufs[key] = buf
	}
	buf.items = append(buf.items, data)
	full := len(buf.items) >= b.cfg.BatchSize
	b.mu.Unlock()

	if full {
		b.flush(roomID, event)
	}
}

func (b *Batcher) flush(roomID, event string) {
	b.mu.Lock()
	key := bufKey(roomID, event)
	buf, ok := b.bufs[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.bufs, key)
	buf.timer.Stop()
	items := buf.items
	b.mu.Unlock()

	if len(items) == 0 {
		return
	}
	if len(items) == 1 {
		b.send(roomID, event, items[0])
		return
	}
	b.send(roomID, event+"_batch", items)
}

// Flush forces delivery of every pending buffer, e.g. at room teardown.
func (b *Batcher) Flush() {
	b.mu.Lock()
	keys := make([]string, 0, len(b.bufs))
	for k := range b.bufs {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	for _, k := range keys {
		roomID, event := splitBufKey(k)
		b.flush(roomID, event)
	}
}

func splitBufKey(key string) (roomID, event string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
