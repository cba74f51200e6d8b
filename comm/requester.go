package comm

import (
	"context"

	"github.com/user/webcam-direct/chunk"
)

// Requester is the producer-side handle to the dispatcher. Every method
// builds a typed request, sends it on the bounded queue (blocking while
// the queue is full) and waits on a dedicated single-use response channel.
// Safe for concurrent use from any goroutine.
type Requester struct {
	d *Dispatcher
}

// Query asks for the next outbound chunk of the value named by kind, cut
// to at most maxLen bytes. Repeated calls drain the full payload.
func (r *Requester) Query(ctx context.Context, addr Address, kind QueryKind, maxLen int) (chunk.DataChunk, error) {
	res, err := r.roundTrip(ctx, request{
		op:     opQuery,
		addr:   addr,
		query:  kind,
		maxLen: maxLen,
	})
	if err != nil {
		return chunk.DataChunk{}, err
	}
	return res.chunk, res.err
}

// Command feeds one inbound chunk of the operation named by kind. The
// operation runs once the final chunk arrives.
func (r *Requester) Command(ctx context.Context, addr Address, kind CmdKind, c chunk.DataChunk) error {
	res, err := r.roundTrip(ctx, request{
		op:    opCommand,
		addr:  addr,
		cmd:   kind,
		chunk: c,
	})
	if err != nil {
		return err
	}
	return res.err
}

// Subscribe registers addr on topic, creating the topic on first use, and
// returns the subscription. Published payloads arrive chunked to at most
// maxLen bytes.
func (r *Requester) Subscribe(ctx context.Context, addr Address, topic Topic, maxLen int) (*Subscriber, error) {
	res, err := r.roundTrip(ctx, request{
		op:     opSubscribe,
		addr:   addr,
		topic:  topic,
		maxLen: maxLen,
	})
	if err != nil {
		return nil, err
	}
	return res.sub, res.err
}

// Publish broadcasts payload to every subscriber of topic, best effort.
func (r *Requester) Publish(ctx context.Context, addr Address, topic Topic, payload string) error {
	res, err := r.roundTrip(ctx, request{
		op:      opPublish,
		addr:    addr,
		topic:   topic,
		payload: payload,
	})
	if err != nil {
		return err
	}
	return res.err
}

// Disconnect tears down every cursor and the session kept for addr.
// Idempotent from the caller's perspective: a second call reports an
// error that is informational only.
func (r *Requester) Disconnect(ctx context.Context, addr Address) error {
	res, err := r.roundTrip(ctx, request{
		op:   opDisconnect,
		addr: addr,
	})
	if err != nil {
		return err
	}
	return res.err
}

func (r *Requester) roundTrip(ctx context.Context, req request) (response, error) {
	req.resp = make(chan response, 1)

	select {
	case r.d.reqCh <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-r.d.done:
		return response{}, ErrChannelClosed
	}

	select {
	case res := <-req.resp:
		return res, nil
	case <-ctx.Done():
		// The actor still completes the request; its outcome is simply
		// never observed here.
		return response{}, ctx.Err()
	case <-r.d.done:
		return response{}, ErrChannelClosed
	}
}
