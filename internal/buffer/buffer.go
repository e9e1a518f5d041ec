// Package buffer implements the bounded multi-producer/single-consumer
// message queue that sits between bus subscriber callbacks and the log
// writer.
package buffer

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Message is one captured or replayed record: topic, payload bytes,
// timestamps, and sequence. It is immutable once enqueued.
type Message struct {
	Topic      string
	Payload    []byte
	TimestampNs uint64
	Sequence   uint64
	SchemaName string
	Encoding   string
}

// entry is what actually lives in the list nodes: the record plus the
// element handle in the other list, so removal from one side can find and
// unlink the mirror without a scan.
type entry struct {
	msg      *Message
	topicEl  *list.Element // this entry's node in the per-topic sub-queue
	mainEl   *list.Element // this entry's node in the main queue
}

// Buffer is a bounded FIFO with a per-topic secondary index. Producers may
// be many; the intended consumer is one writer goroutine. One mutex
// protects both the main queue and the per-topic index; two condition
// variables signal not-empty and not-full.
type Buffer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	capacity int
	queue    *list.List            // of *entry
	byTopic  map[string]*list.List // topic -> list of *entry

	running      atomic.Bool
	totalPushed  atomic.Uint64
	nextSequence uint64
}

// New creates a Buffer with the given capacity. The buffer starts stopped;
// call Start before pushing.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	b := &Buffer{
		capacity: capacity,
		queue:    list.New(),
		byTopic:  make(map[string]*list.List),
	}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Start marks the buffer as running, allowing Push to succeed.
func (b *Buffer) Start() {
	b.running.Store(true)
}

// Stop flips the running flag and wakes every waiter. Blocked Push and Pop
// calls return false/empty once woken.
func (b *Buffer) Stop() {
	b.running.Store(false)
	b.mu.Lock()
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
	b.mu.Unlock()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (b *Buffer) IsRunning() bool {
	return b.running.Load()
}

// Clear drops every buffered record without writing it anywhere. Intended
// for use before a Start, while the buffer is not running.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue.Init()
	b.byTopic = make(map[string]*list.List)
	b.nextSequence = 0
	b.notFull.Broadcast()
}

// Size returns the number of records currently queued.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// TopicSize returns the number of records currently queued for topic.
func (b *Buffer) TopicSize(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.byTopic[topic]; ok {
		return l.Len()
	}
	return 0
}

// Push enqueues a record for topic. If the buffer is not running, it
// returns false immediately. If the queue is full, it blocks up to 100ms
// for space; it returns false on timeout or if the buffer is stopped while
// blocked. On success, the record is assigned the next sequence number and
// appended to both the main queue and the topic's sub-queue, then one
// waiter on not-empty is signaled.
func (b *Buffer) Push(topic string, payload []byte, timestampNs uint64) bool {
	const pushTimeout = 100 * time.Millisecond

	if !b.running.Load() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.queue.Len() >= b.capacity {
		if !b.waitWithTimeout(b.notFull, pushTimeout) {
			return false
		}
	}
	if !b.running.Load() {
		return false
	}
	if b.queue.Len() >= b.capacity {
		// Woken by a stop/broadcast without space actually freeing up.
		return false
	}

	msg := &Message{
		Topic:       topic,
		Payload:     payload,
		TimestampNs: timestampNs,
		Sequence:    b.nextSequence,
		Encoding:    "protobuf",
	}
	b.nextSequence++

	e := &entry{msg: msg}
	e.mainEl = b.queue.PushBack(e)

	topicQueue, ok := b.byTopic[topic]
	if !ok {
		topicQueue = list.New()
		b.byTopic[topic] = topicQueue
	}
	e.topicEl = topicQueue.PushBack(e)

	b.totalPushed.Add(1)
	b.notEmpty.Signal()
	return true
}

// Pop drains up to maxBatch records from the head of the main queue,
// removing the mirrored head of each topic's sub-queue as it goes. If the
// queue is empty and the buffer is running, it waits up to timeout for a
// push or a Stop. It returns the drained batch and whether anything was
// drained.
func (b *Buffer) Pop(maxBatch int, timeout time.Duration) ([]*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.queue.Len() == 0 && b.running.Load() {
		b.waitWithTimeout(b.notEmpty, timeout)
	}

	if b.queue.Len() == 0 {
		return nil, false
	}

	batch := make([]*Message, 0, maxBatch)
	for len(batch) < maxBatch {
		front := b.queue.Front()
		if front == nil {
			break
		}
		e := front.Value.(*entry)
		b.unlink(e)
		batch = append(batch, e.msg)
	}

	b.notFull.Broadcast()
	return batch, len(batch) > 0
}

// PopByTopic removes up to maxBatch records from the head of topic's
// sub-queue, unlinking the matching node from the main queue. Removal
// always starts from the topic side, which is why the main-queue node is
// known directly rather than found by scanning: the entry carries both
// handles.
func (b *Buffer) PopByTopic(topic string, maxBatch int, timeout time.Duration) ([]*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	topicQueue, ok := b.byTopic[topic]
	if (!ok || topicQueue.Len() == 0) && b.running.Load() {
		b.waitWithTimeout(b.notEmpty, timeout)
		topicQueue, ok = b.byTopic[topic]
	}
	if !ok || topicQueue.Len() == 0 {
		return nil, false
	}

	batch := make([]*Message, 0, maxBatch)
	for len(batch) < maxBatch {
		front := topicQueue.Front()
		if front == nil {
			break
		}
		e := front.Value.(*entry)
		b.unlink(e)
		batch = append(batch, e.msg)
		topicQueue = b.byTopic[topic]
		if topicQueue == nil {
			break
		}
	}

	b.notFull.Broadcast()
	return batch, len(batch) > 0
}

// unlink removes e from both the main queue and its topic's sub-queue,
// deleting the sub-queue entirely once empty. The main queue is always
// unlinked in the same call as the topic queue; neither is ever removed
// without the other.
func (b *Buffer) unlink(e *entry) {
	b.queue.Remove(e.mainEl)
	topicQueue := b.byTopic[e.msg.Topic]
	if topicQueue == nil {
		return
	}
	topicQueue.Remove(e.topicEl)
	if topicQueue.Len() == 0 {
		delete(b.byTopic, e.msg.Topic)
	}
}

// waitWithTimeout waits on cond for up to timeout, returning true if
// woken by a signal/broadcast before the timeout fires. sync.Cond has no
// native deadline, so a timer goroutine broadcasts every cond once the
// deadline elapses; the caller must re-check its own predicate afterward.
func (b *Buffer) waitWithTimeout(cond *sync.Cond, timeout time.Duration) bool {
	done := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		close(done)
		b.mu.Lock()
		b.notEmpty.Broadcast()
		b.notFull.Broadcast()
		b.mu.Unlock()
	})
	defer timer.Stop()

	cond.Wait()

	select {
	case <-done:
		return false
	default:
		return true
	}
}
