package comm

import (
	"strings"
	"testing"
)

func collect(s *Subscriber) []string {
	var out []string
	for {
		select {
		case c := <-s.Chunks():
			out = append(out, c.Buffer)
		default:
			return out
		}
	}
}

func TestPublishFansOutChunked(t *testing.T) {
	pub := NewPublisher(4, 16)
	s1 := pub.Subscribe()
	s2 := pub.Subscribe()

	pub.Publish("0123456789")

	for i, s := range []*Subscriber{s1, s2} {
		got := collect(s)
		want := []string{"0123", "4567", "89"}
		if len(got) != len(want) {
			t.Fatalf("subscriber %d: got %d chunks, want %d", i, len(got), len(want))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("subscriber %d chunk %d: %q, want %q", i, j, got[j], want[j])
			}
		}
	}
}

func TestPublishRemainLens(t *testing.T) {
	pub := NewPublisher(4, 16)
	s := pub.Subscribe()

	pub.Publish("0123456789")

	wantRemains := []uint64{6, 2, 0}
	i := 0
	for c := range s.Chunks() {
		if c.RemainLen != wantRemains[i] {
			t.Errorf("chunk %d: remain %d, want %d", i, c.RemainLen, wantRemains[i])
		}
		i++
		if c.RemainLen == 0 {
			break
		}
	}
	if i != len(wantRemains) {
		t.Fatalf("received %d chunks, want %d", i, len(wantRemains))
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	pub := NewPublisher(100, 2)
	s := pub.Subscribe()

	pub.Publish("one")
	pub.Publish("two")
	pub.Publish("three")

	got := collect(s)
	if len(got) != 2 {
		t.Fatalf("queued %d chunks, want 2", len(got))
	}
	if got[0] != "two" || got[1] != "three" {
		t.Fatalf("kept %v, want the newest two", got)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	pub := NewPublisher(100, 4)
	s := pub.Subscribe()

	pub.Publish("before")
	s.Cancel()
	pub.Publish("after")

	if n := pub.Subscribers(); n != 0 {
		t.Fatalf("subscriber count %d after cancel, want 0", n)
	}
	got := collect(s)
	if len(got) != 1 || got[0] != "before" {
		t.Fatalf("received %v, want only the pre-cancel payload", got)
	}
}

func TestPublishEmptyPayload(t *testing.T) {
	pub := NewPublisher(4, 4)
	s := pub.Subscribe()

	pub.Publish("")
	if got := collect(s); len(got) != 0 {
		t.Fatalf("empty payload delivered %v chunks", got)
	}
}

func TestPublishLongPayloadReassembles(t *testing.T) {
	payload := strings.Repeat("z", 333)
	pub := NewPublisher(50, 16)
	s := pub.Subscribe()

	pub.Publish(payload)

	var rebuilt strings.Builder
	for _, b := range collect(s) {
		rebuilt.WriteString(b)
	}
	if rebuilt.String() != payload {
		t.Fatalf("reassembled %d bytes, want %d", rebuilt.Len(), len(payload))
	}
}
