package comm

import (
	"sync"

	"github.com/user/webcam-direct/chunk"
	"github.com/user/webcam-direct/logger"
)

// Options tunes the dispatcher's queue and buffer budgets.
type Options struct {
	// QueueSize is the request queue capacity. Producers block once it is
	// full, which is the protocol's only admission control.
	QueueSize int
	// BufferSizeLimit caps one chunked transfer, in bytes.
	BufferSizeLimit int
	// SubscriberQueueSize caps the chunks queued per topic subscriber.
	SubscriberQueueSize int
}

// DefaultOptions returns the budgets used when an Options field is zero.
func DefaultOptions() Options {
	return Options{
		QueueSize:           32,
		BufferSizeLimit:     64 * 1024,
		SubscriberQueueSize: 128,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.QueueSize < 1 {
		o.QueueSize = def.QueueSize
	}
	if o.BufferSizeLimit < 1 {
		o.BufferSizeLimit = def.BufferSizeLimit
	}
	if o.SubscriberQueueSize < 1 {
		o.SubscriberQueueSize = def.SubscriberQueueSize
	}
	return o
}

type opKind int

const (
	opQuery opKind = iota
	opCommand
	opSubscribe
	opPublish
	opDisconnect
)

type request struct {
	op      opKind
	addr    Address
	query   QueryKind
	cmd     CmdKind
	topic   Topic
	maxLen  int
	chunk   chunk.DataChunk
	payload string
	resp    chan response
}

type response struct {
	chunk chunk.DataChunk
	sub   *Subscriber
	err   error
}

// Dispatcher is the protocol actor. One goroutine consumes the request
// queue and is the only writer of the cursor table, the topic table and
// the session service, which removes the need for locks on any of them.
type Dispatcher struct {
	svc     PeerService
	opts    Options
	buffers *chunk.BufferMap
	topics  map[Topic]*Publisher

	reqCh     chan request
	done      chan struct{}
	closeOnce sync.Once
}

// NewDispatcher starts the actor goroutine and returns its handle owner.
func NewDispatcher(svc PeerService, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		svc:     svc,
		opts:    opts,
		buffers: chunk.NewBufferMap(opts.BufferSizeLimit),
		topics:  make(map[Topic]*Publisher),
		reqCh:   make(chan request, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Requester returns a handle safe to share across GATT callback
// goroutines.
func (d *Dispatcher) Requester() *Requester {
	return &Requester{d: d}
}

// Close stops the actor. Requests already queued are dropped; callers
// waiting on them receive ErrChannelClosed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *Dispatcher) run() {
	for {
		select {
		case r := <-d.reqCh:
			d.handle(r)
		case <-d.done:
			logger.Info("dispatcher", "actor stopped")
			return
		}
	}
}

// handle serves one request. Handler errors answer the caller and never
// stop the actor.
func (d *Dispatcher) handle(r request) {
	var res response
	switch r.op {
	case opQuery:
		res.chunk, res.err = d.handleQuery(r)
	case opCommand:
		res.err = d.handleCommand(r)
	case opSubscribe:
		res.sub, res.err = d.handleSubscribe(r)
	case opPublish:
		res.err = d.handlePublish(r)
	case opDisconnect:
		res.err = d.handleDisconnect(r)
	default:
		res.err = ErrUnknownKind
	}

	// The response channel holds one slot, so this send cannot block; a
	// caller that abandoned its wait simply never reads it. Side effects
	// committed above stand regardless.
	select {
	case r.resp <- res:
	default:
	}
}

func (d *Dispatcher) handleQuery(r request) (chunk.DataChunk, error) {
	logger.Trace("dispatcher", "query %s from %s (max %d)", r.query, r.addr, r.maxLen)

	var payload string
	var err error
	switch r.query {
	case QueryHostInfo:
		payload, err = d.svc.HostInfo(r.addr)
	case QuerySdpAnswer:
		payload, err = d.svc.SdpAnswer(r.addr)
	default:
		err = ErrUnknownKind
	}
	if err != nil {
		return chunk.DataChunk{}, err
	}

	c, err := d.buffers.NextChunk(r.addr, queryKey(r.query), r.maxLen, payload)
	if err != nil {
		return chunk.DataChunk{}, err
	}
	if c.RemainLen == 0 && r.query == QueryHostInfo {
		if err := d.svc.HostInfoDrained(r.addr); err != nil {
			logger.Warn("dispatcher", "host info drained for %s: %v", r.addr, err)
		}
	}
	return c, nil
}

func (d *Dispatcher) handleCommand(r request) error {
	logger.Trace("dispatcher", "command %s from %s (%d bytes, %d remain)",
		r.cmd, r.addr, len(r.chunk.Buffer), r.chunk.RemainLen)

	payload, done, err := d.buffers.Accumulate(r.addr, cmdKey(r.cmd), r.chunk)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}

	switch r.cmd {
	case CmdRegisterMobile:
		return d.svc.RegisterMobile(r.addr, payload)
	case CmdMobilePnpID:
		return d.svc.MobilePnpID(r.addr, payload)
	case CmdMobileSdpResponse:
		return d.svc.MobileSdpResponse(r.addr, payload)
	}
	return ErrUnknownKind
}

func (d *Dispatcher) handleSubscribe(r request) (*Subscriber, error) {
	pub, ok := d.topics[r.topic]
	if !ok {
		pub = NewPublisher(r.maxLen, d.opts.SubscriberQueueSize)
		d.topics[r.topic] = pub
		logger.Debug("dispatcher", "created topic %s (max chunk %d)", r.topic, r.maxLen)
	}

	sub := pub.Subscribe()

	var err error
	switch r.topic {
	case TopicSdpAnswerReady:
		err = d.svc.SubscribeSdpAnswers(r.addr, pub)
	default:
		err = ErrUnknownKind
	}
	if err != nil {
		sub.Cancel()
		return nil, err
	}
	return sub, nil
}

func (d *Dispatcher) handlePublish(r request) error {
	pub, ok := d.topics[r.topic]
	if !ok {
		// Nobody ever subscribed; broadcast semantics make this a no-op.
		logger.Debug("dispatcher", "publish to topic %s with no subscribers", r.topic)
		return nil
	}
	pub.Publish(r.payload)
	return nil
}

func (d *Dispatcher) handleDisconnect(r request) error {
	d.buffers.DropPeer(r.addr)
	return d.svc.Disconnected(r.addr)
}

func queryKey(q QueryKind) chunk.Key { return chunk.Key("query/" + q) }
func cmdKey(c CmdKind) chunk.Key     { return chunk.Key("cmd/" + c) }
