// Package gatt exposes the provisioning protocol as a BLE GATT service.
// Each characteristic handler runs on its own goroutine inside the BLE
// stack and talks to the protocol exclusively through the dispatcher's
// requester handle, so no protocol state lives here.
package gatt

import (
	"context"
	"sync"

	"github.com/currantlabs/ble"
	"github.com/pkg/errors"

	"github.com/user/webcam-direct/chunk"
	"github.com/user/webcam-direct/comm"
	"github.com/user/webcam-direct/logger"
)

// envelopeOverhead is the JSON envelope cost around a chunk's buffer:
// field names, quoting, and a worst-case remain_len rendering. Chunk
// payload budgets are the characteristic capacity minus this.
const envelopeOverhead = 48

// payloadBudget converts a characteristic capacity into a chunk length.
func payloadBudget(cap int) int {
	budget := cap - envelopeOverhead
	if budget < 1 {
		budget = 1
	}
	return budget
}

// marshalEnvelope encodes dc and verifies the result fits the link
// capacity. JSON escaping of quotes, backslashes and control characters
// can inflate the envelope past the buffer's byte length, so the budget
// alone is not a guarantee.
func marshalEnvelope(dc chunk.DataChunk, cap int) ([]byte, error) {
	env, err := dc.Marshal()
	if err != nil {
		return nil, err
	}
	if cap > 0 && len(env) > cap {
		return nil, errors.Errorf("envelope is %d bytes, capacity is %d", len(env), cap)
	}
	return env, nil
}

// NewProvisioningService builds the provisioning GATT service around a
// dispatcher handle.
func NewProvisioningService(rq *comm.Requester) *ble.Service {
	p := &provisioning{rq: rq, watched: make(map[string]struct{})}

	svc := ble.NewService(ProvServiceUUID)
	svc.AddCharacteristic(p.queryChar(HostInfoCharUUID, comm.QueryHostInfo))
	svc.AddCharacteristic(p.commandChar(MobileInfoCharUUID, comm.CmdRegisterMobile))
	svc.AddCharacteristic(p.commandChar(PnpIDCharUUID, comm.CmdMobilePnpID))
	svc.AddCharacteristic(p.commandChar(SdpResponseCharUUID, comm.CmdMobileSdpResponse))
	svc.AddCharacteristic(p.queryChar(SdpAnswerCharUUID, comm.QuerySdpAnswer))
	svc.AddCharacteristic(p.notifyChar(SdpNotifyCharUUID, comm.TopicSdpAnswerReady))
	return svc
}

// provisioning shares the dispatcher handle and the set of watched links
// across the service's characteristics.
type provisioning struct {
	rq *comm.Requester

	mu      sync.Mutex
	watched map[string]struct{}
}

// observe notes the peer behind req and, on first contact on any
// characteristic, starts a watcher on the connection's context. Handlers
// only run while the peer is acting; the watcher is what sees a link
// dropped mid-protocol, before the peer ever subscribed.
func (p *provisioning) observe(req ble.Request) string {
	addr := req.Conn().RemoteAddr().String()
	if p.track(addr) {
		go p.watchLink(addr, req.Conn().Context())
	}
	return addr
}

// track records addr as watched; reports whether this is first contact.
func (p *provisioning) track(addr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.watched[addr]; ok {
		return false
	}
	p.watched[addr] = struct{}{}
	return true
}

// watchLink reports the peer gone once its connection context ends, so
// the session and any open transfer cursors are released.
func (p *provisioning) watchLink(addr string, ctx context.Context) {
	<-ctx.Done()
	p.mu.Lock()
	delete(p.watched, addr)
	p.mu.Unlock()
	p.disconnect(addr)
}

// disconnect reports the peer gone to the dispatcher. A repeat report for
// an already-removed peer is informational only.
func (p *provisioning) disconnect(addr comm.Address) {
	if err := p.rq.Disconnect(context.Background(), addr); err != nil {
		logger.Debug("gatt", "disconnect %s: %v", addr, err)
	}
}

// queryChar serves a drainable value: every read returns the next chunk
// envelope until the peer has the whole payload.
func (p *provisioning) queryChar(u ble.UUID, kind comm.QueryKind) *ble.Characteristic {
	c := ble.NewCharacteristic(u)
	c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		addr := p.observe(req)

		dc, err := p.rq.Query(req.Conn().Context(), addr, kind, payloadBudget(rsp.Cap()))
		if err != nil {
			logger.Warn("gatt", "query %s from %s: %v", kind, addr, err)
			rsp.SetStatus(ble.ErrUnlikely)
			return
		}
		env, err := marshalEnvelope(dc, rsp.Cap())
		if err != nil {
			logger.Error("gatt", "query %s envelope: %v", kind, err)
			rsp.SetStatus(ble.ErrUnlikely)
			return
		}
		if _, err := rsp.Write(env); err != nil {
			logger.Warn("gatt", "query %s response to %s: %v", kind, addr, err)
		}
	}))
	return c
}

// commandChar accepts chunk envelopes; a failed reassembly or a state
// machine rejection fails the GATT write.
func (p *provisioning) commandChar(u ble.UUID, kind comm.CmdKind) *ble.Characteristic {
	c := ble.NewCharacteristic(u)
	c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		addr := p.observe(req)

		dc, err := chunk.Unmarshal(req.Data())
		if err != nil {
			logger.Warn("gatt", "command %s from %s: bad envelope: %v", kind, addr, err)
			rsp.SetStatus(ble.ErrInvalidPDU)
			return
		}
		if err := p.rq.Command(req.Conn().Context(), addr, kind, dc); err != nil {
			logger.Warn("gatt", "command %s from %s: %v", kind, addr, err)
			rsp.SetStatus(ble.ErrUnlikely)
			return
		}
	}))
	return c
}

// notifyChar forwards a topic subscription as GATT notifications. The
// notifier context ends when the peer unsubscribes; session teardown is
// the link watcher's job, so an unsubscribe alone leaves the session
// intact.
func (p *provisioning) notifyChar(u ble.UUID, topic comm.Topic) *ble.Characteristic {
	c := ble.NewCharacteristic(u)
	c.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
		addr := p.observe(req)

		sub, err := p.rq.Subscribe(n.Context(), addr, topic, payloadBudget(n.Cap()))
		if err != nil {
			logger.Warn("gatt", "subscribe %s from %s: %v", topic, addr, err)
			return
		}
		defer sub.Cancel()
		logger.Debug("gatt", "%s subscribed to %s", addr, topic)

		for {
			select {
			case <-n.Context().Done():
				return
			case dc := <-sub.Chunks():
				env, err := marshalEnvelope(dc, n.Cap())
				if err != nil {
					logger.Error("gatt", "notify %s envelope: %v", topic, err)
					continue
				}
				if _, err := n.Write(env); err != nil {
					logger.Warn("gatt", "notify %s to %s: %v", topic, addr, err)
					return
				}
			}
		}
	}))
	return c
}
