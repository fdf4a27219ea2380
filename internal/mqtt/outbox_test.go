package mqtt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func seq(o *outbox, from, to int) (evictions int) {
	for i := from; i < to; i++ {
		if o.add(pendingMsg{topic: "t", payload: []byte{byte(i)}}) {
			evictions++
		}
	}
	return evictions
}

func payloadBytes(msgs []pendingMsg) []byte {
	if msgs == nil {
		return nil
	}
	out := make([]byte, len(msgs))
	for i, m := range msgs {
		out[i] = m.payload[0]
	}
	return out
}

func TestOutboxQueueing(t *testing.T) {
	tests := []struct {
		name          string
		limit         int
		adds          int
		wantEvictions int
		want          []byte
	}{
		{"empty", 3, 0, 0, nil},
		{"partial", 5, 3, 0, []byte{0, 1, 2}},
		{"exactly full", 3, 3, 0, []byte{0, 1, 2}},
		{"one over", 3, 4, 1, []byte{1, 2, 3}},
		{"wrapped twice", 3, 8, 5, []byte{5, 6, 7}},
		{"single slot", 1, 4, 3, []byte{3}},
		{"zero limit clamps to one", 0, 2, 1, []byte{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOutbox(tt.limit)
			if got := seq(o, 0, tt.adds); got != tt.wantEvictions {
				t.Errorf("evictions: got %d, want %d", got, tt.wantEvictions)
			}
			if diff := cmp.Diff(tt.want, payloadBytes(o.flush())); diff != "" {
				t.Errorf("flush (-want +got):\n%s", diff)
			}
			if o.size() != 0 {
				t.Errorf("size after flush: got %d", o.size())
			}
		})
	}
}

func TestOutboxReuseAfterFlush(t *testing.T) {
	o := newOutbox(2)
	seq(o, 0, 5)
	o.flush()

	if got := seq(o, 10, 12); got != 0 {
		t.Errorf("evictions after flush: got %d, want 0", got)
	}
	if o.evicted != 0 {
		t.Errorf("evicted counter not reset: %d", o.evicted)
	}
	if diff := cmp.Diff([]byte{10, 11}, payloadBytes(o.flush())); diff != "" {
		t.Errorf("second flush (-want +got):\n%s", diff)
	}
}

func TestOutboxFlushedSliceIsDetached(t *testing.T) {
	o := newOutbox(2)
	seq(o, 0, 2)
	first := o.flush()
	seq(o, 7, 9)

	if diff := cmp.Diff([]byte{0, 1}, payloadBytes(first)); diff != "" {
		t.Errorf("flushed slice mutated by later adds (-want +got):\n%s", diff)
	}
}

func TestOutboxKeepsDeliveryOptions(t *testing.T) {
	o := newOutbox(4)
	o.add(pendingMsg{topic: "events", payload: []byte("a"), qos: 1})
	o.add(pendingMsg{topic: "system", payload: []byte("b"), qos: 1, retained: true})

	got := o.flush()
	want := []pendingMsg{
		{topic: "events", payload: []byte("a"), qos: 1},
		{topic: "system", payload: []byte("b"), qos: 1, retained: true},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(pendingMsg{})); diff != "" {
		t.Errorf("flush (-want +got):\n%s", diff)
	}
}

func TestOutboxRequeue(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		requeued    []byte
		queuedSince []byte
		want        []byte
		wantEvicted int
	}{
		{"nothing", 4, nil, []byte{9}, []byte{9}, 0},
		{"ahead of newer", 4, []byte{1, 2}, []byte{3}, []byte{1, 2, 3}, 0},
		{"overflow evicts oldest", 3, []byte{1, 2}, []byte{3, 4}, []byte{2, 3, 4}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOutbox(tt.limit)
			for _, b := range tt.queuedSince {
				o.add(pendingMsg{payload: []byte{b}})
			}
			var msgs []pendingMsg
			for _, b := range tt.requeued {
				msgs = append(msgs, pendingMsg{payload: []byte{b}})
			}
			o.requeue(msgs)

			if o.evicted != tt.wantEvicted {
				t.Errorf("evicted: got %d, want %d", o.evicted, tt.wantEvicted)
			}
			if diff := cmp.Diff(tt.want, payloadBytes(o.flush())); diff != "" {
				t.Errorf("flush (-want +got):\n%s", diff)
			}
		})
	}
}
