package comm

import (
	"sync"

	"github.com/user/webcam-direct/chunk"
	"github.com/user/webcam-direct/logger"
)

// Publisher fans a payload out to every current subscriber of a topic,
// pre-chunked to the topic's max chunk length. Delivery is best effort:
// when a subscriber's queue is full the oldest chunk is dropped to make
// room, so slow consumers lose data instead of stalling the publisher.
type Publisher struct {
	maxChunkLen int
	queueSize   int

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// NewPublisher creates a publisher that splits payloads into chunks of at
// most maxChunkLen bytes and gives each subscriber a queue of queueSize
// chunks.
func NewPublisher(maxChunkLen, queueSize int) *Publisher {
	if maxChunkLen < 1 {
		maxChunkLen = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Publisher{
		maxChunkLen: maxChunkLen,
		queueSize:   queueSize,
		subs:        make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber and returns it.
func (p *Publisher) Subscribe() *Subscriber {
	s := &Subscriber{
		pub: p,
		ch:  make(chan chunk.DataChunk, p.queueSize),
	}
	p.mu.Lock()
	p.subs[s] = struct{}{}
	p.mu.Unlock()
	return s
}

// Publish splits payload and delivers the chunks to every subscriber.
func (p *Publisher) Publish(payload string) {
	chunks := chunk.Split(payload, p.maxChunkLen)

	p.mu.Lock()
	defer p.mu.Unlock()
	for s := range p.subs {
		for _, c := range chunks {
			s.offer(c)
		}
	}
}

// Subscribers reports the current subscriber count.
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Publisher) unsubscribe(s *Subscriber) {
	p.mu.Lock()
	delete(p.subs, s)
	p.mu.Unlock()
}

// Subscriber receives the chunked payloads published to one topic.
type Subscriber struct {
	pub *Publisher
	ch  chan chunk.DataChunk
}

// Chunks returns the stream of published chunks.
func (s *Subscriber) Chunks() <-chan chunk.DataChunk {
	return s.ch
}

// Cancel removes the subscriber from its topic. The chunk stream stops
// filling but is left open; pending chunks may still be drained.
func (s *Subscriber) Cancel() {
	s.pub.unsubscribe(s)
}

// offer enqueues c, evicting the oldest queued chunk when full.
func (s *Subscriber) offer(c chunk.DataChunk) {
	for {
		select {
		case s.ch <- c:
			return
		default:
		}
		select {
		case <-s.ch:
			logger.Trace("pubsub", "subscriber queue full, dropping oldest chunk")
		default:
		}
	}
}
