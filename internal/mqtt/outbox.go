package mqtt

import "log"

// pendingMsg is a serialized message waiting for the broker to come back.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox queues messages published while disconnected. Once full, each new
// message evicts the oldest one. Callers must hold the publisher lock.
type outbox struct {
	queue   []pendingMsg
	limit   int
	evicted int
}

func newOutbox(limit int) *outbox {
	if limit < 1 {
		limit = 1
	}
	return &outbox{queue: make([]pendingMsg, 0, limit), limit: limit}
}

// add appends msg and reports whether an older message had to be evicted.
func (o *outbox) add(msg pendingMsg) bool {
	if len(o.queue) < o.limit {
		o.queue = append(o.queue, msg)
		return false
	}
	if o.evicted == 0 {
		log.Printf("mqtt: offline queue full at %d, evicting oldest", o.limit)
	}
	o.evicted++
	copy(o.queue, o.queue[1:])
	o.queue[len(o.queue)-1] = msg
	return true
}

// requeue puts msgs back in front of anything queued since they were
// flushed. If that overflows the limit the oldest are evicted.
func (o *outbox) requeue(msgs []pendingMsg) {
	if len(msgs) == 0 {
		return
	}
	merged := make([]pendingMsg, 0, len(msgs)+len(o.queue))
	merged = append(merged, msgs...)
	merged = append(merged, o.queue...)
	if over := len(merged) - o.limit; over > 0 {
		if o.evicted == 0 {
			log.Printf("mqtt: offline queue full at %d, evicting oldest", o.limit)
		}
		o.evicted += over
		merged = merged[over:]
	}
	o.queue = merged
}

// flush hands back everything queued, oldest first, and resets the outbox.
func (o *outbox) flush() []pendingMsg {
	if len(o.queue) == 0 {
		return nil
	}
	if o.evicted > 0 {
		log.Printf("mqtt: %d queued messages were evicted while offline", o.evicted)
	}
	out := o.queue
	o.queue = make([]pendingMsg, 0, o.limit)
	o.evicted = 0
	return out
}

func (o *outbox) size() int { return len(o.queue) }
