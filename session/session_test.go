package session

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/user/webcam-direct/comm"
	"github.com/user/webcam-direct/logger"
)

type fakeStore struct {
	host    HostInfo
	hostErr error
	addErr  error
	mobiles map[string]Mobile
	added   []Mobile
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		host:    HostInfo{ID: "host-1", Name: "desk", ConnectionType: ConnectionWLAN},
		mobiles: make(map[string]Mobile),
	}
}

func (f *fakeStore) HostProvInfo() (HostInfo, error) {
	if f.hostErr != nil {
		return HostInfo{}, f.hostErr
	}
	return f.host, nil
}

func (f *fakeStore) AddMobile(m Mobile) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, m)
	f.mobiles[m.ID] = m
	return nil
}

func (f *fakeStore) Mobile(id string) (Mobile, error) {
	m, ok := f.mobiles[id]
	if !ok {
		return Mobile{}, errors.Errorf("mobile %s is not registered", id)
	}
	return m, nil
}

type fakeDevice struct {
	name   string
	answer string
	closed *[]string // shared close log, records release order
}

func (d *fakeDevice) SDPAnswer() string { return d.answer }

func (d *fakeDevice) Close() error {
	*d.closed = append(*d.closed, d.name)
	return nil
}

type fakeBuilder struct {
	err    error
	closed []string
	calls  int
}

func (b *fakeBuilder) CreateFrom(mobileName string, offers []CameraSdp) (map[string]VDevice, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	out := make(map[string]VDevice, len(offers))
	for _, o := range offers {
		out[o.Name] = &fakeDevice{
			name:   mobileName + "-" + o.Name,
			answer: "answer-for-" + o.Name,
			closed: &b.closed,
		}
	}
	return out, nil
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func wantState(t *testing.T, m *MobileComm, addr comm.Address, want State) {
	t.Helper()
	got, ok := m.StateOf(addr)
	if !ok {
		t.Fatalf("no session for %s", addr)
	}
	if got != want {
		t.Fatalf("state %s, want %s", got, want)
	}
}

const addr = comm.Address("aa:bb:cc")

var testMobile = Mobile{
	ID:   "m-1",
	Name: "pixel",
	Cameras: []CameraInfo{
		{Name: "front", Format: []VideoProp{{Resolution: [2]uint32{1280, 720}, FPS: 30}}},
		{Name: "back", Format: []VideoProp{{Resolution: [2]uint32{1920, 1080}, FPS: 30}}},
	},
}

var testOffer = MobileSdpOffer{
	MobileID: "m-1",
	CameraOffer: []CameraSdp{
		{Name: "front", Format: VideoProp{Resolution: [2]uint32{1280, 720}, FPS: 30}, Sdp: "offer-front"},
		{Name: "back", Format: VideoProp{Resolution: [2]uint32{1920, 1080}, FPS: 30}, Sdp: "offer-back"},
	},
}

// provision drives a fresh peer up to the given state.
func provision(t *testing.T, m *MobileComm, upTo State) {
	t.Helper()
	steps := []func() error{
		func() error {
			if _, err := m.HostInfo(addr); err != nil {
				return err
			}
			return m.HostInfoDrained(addr)
		},
		func() error { return m.RegisterMobile(addr, mustJSON(t, testMobile)) },
		func() error { return m.MobilePnpID(addr, mustJSON(t, testOffer)) },
		func() error { return m.SubscribeSdpAnswers(addr, comm.NewPublisher(64, 4)) },
	}
	for i := State(0); i < upTo; i++ {
		if err := steps[i](); err != nil {
			t.Fatalf("provisioning step to %s: %v", i+1, err)
		}
	}
	wantState(t, m, addr, upTo)
}

func TestHappyPath(t *testing.T) {
	db := newFakeStore()
	builder := &fakeBuilder{}
	m := New(db, builder)

	payload, err := m.HostInfo(addr)
	if err != nil {
		t.Fatalf("host info: %v", err)
	}
	var hi HostInfo
	if err := json.Unmarshal([]byte(payload), &hi); err != nil {
		t.Fatalf("host info payload: %v", err)
	}
	if hi.ID != "host-1" || hi.ConnectionType != ConnectionWLAN {
		t.Fatalf("host info %+v", hi)
	}
	wantState(t, m, addr, StateAwaitingHostInfoRead)

	if err := m.HostInfoDrained(addr); err != nil {
		t.Fatal(err)
	}
	wantState(t, m, addr, StateAwaitingMobileInfoWrite)

	if err := m.RegisterMobile(addr, mustJSON(t, testMobile)); err != nil {
		t.Fatal(err)
	}
	if len(db.added) != 1 || db.added[0].ID != "m-1" {
		t.Fatalf("store received %v", db.added)
	}
	wantState(t, m, addr, StateAwaitingMobileIdWrite)

	if err := m.MobilePnpID(addr, mustJSON(t, testOffer)); err != nil {
		t.Fatal(err)
	}
	wantState(t, m, addr, StateRegistered)

	pub := comm.NewPublisher(64, 4)
	sub := pub.Subscribe()
	if err := m.SubscribeSdpAnswers(addr, pub); err != nil {
		t.Fatal(err)
	}
	wantState(t, m, addr, StateReadyToStream)

	select {
	case c := <-sub.Chunks():
		if c.Buffer != string(addr) || c.RemainLen != 0 {
			t.Fatalf("announcement %+v, want the peer address", c)
		}
	default:
		t.Fatal("no announcement published")
	}

	raw, err := m.SdpAnswer(addr)
	if err != nil {
		t.Fatal(err)
	}
	var answer MobileSdpAnswer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		t.Fatal(err)
	}
	if len(answer.CameraAnswer) != 2 {
		t.Fatalf("got %d camera answers, want 2", len(answer.CameraAnswer))
	}
	if answer.CameraAnswer[0].Name != "front" || answer.CameraAnswer[0].Sdp != "answer-for-front" {
		t.Fatalf("first answer %+v", answer.CameraAnswer[0])
	}
	if answer.CameraAnswer[1].Name != "back" || answer.CameraAnswer[1].Sdp != "answer-for-back" {
		t.Fatalf("second answer %+v", answer.CameraAnswer[1])
	}

	if err := m.MobileSdpResponse(addr, "trickle"); err != nil {
		t.Fatal(err)
	}

	if err := m.Disconnected(addr); err != nil {
		t.Fatal(err)
	}
	if m.Peers() != 0 {
		t.Fatalf("%d peers after disconnect", m.Peers())
	}
}

func TestHostInfoReadableInAnyPhase(t *testing.T) {
	m := New(newFakeStore(), &fakeBuilder{})
	provision(t, m, StateRegistered)

	if _, err := m.HostInfo(addr); err != nil {
		t.Fatalf("host info re-read: %v", err)
	}
	// Draining again must not regress the session.
	if err := m.HostInfoDrained(addr); err != nil {
		t.Fatal(err)
	}
	wantState(t, m, addr, StateRegistered)
}

func TestWrongStateHasNoSideEffects(t *testing.T) {
	db := newFakeStore()
	builder := &fakeBuilder{}
	m := New(db, builder)

	// Fresh peer: every phase-gated operation must be rejected without
	// touching the collaborators.
	if _, err := m.HostInfo(addr); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterMobile(addr, mustJSON(t, testMobile)); !errors.Is(err, comm.ErrWrongState) {
		t.Fatalf("register: got %v, want ErrWrongState", err)
	}
	if err := m.MobilePnpID(addr, mustJSON(t, testOffer)); !errors.Is(err, comm.ErrWrongState) {
		t.Fatalf("pnp id: got %v, want ErrWrongState", err)
	}
	if err := m.SubscribeSdpAnswers(addr, comm.NewPublisher(64, 4)); !errors.Is(err, comm.ErrWrongState) {
		t.Fatalf("subscribe: got %v, want ErrWrongState", err)
	}
	if _, err := m.SdpAnswer(addr); !errors.Is(err, comm.ErrWrongState) {
		t.Fatalf("sdp answer: got %v, want ErrWrongState", err)
	}
	if err := m.MobileSdpResponse(addr, "x"); !errors.Is(err, comm.ErrWrongState) {
		t.Fatalf("sdp response: got %v, want ErrWrongState", err)
	}

	if len(db.added) != 0 {
		t.Fatalf("store touched by rejected operations: %v", db.added)
	}
	if builder.calls != 0 {
		t.Fatal("builder touched by rejected operation")
	}
	wantState(t, m, addr, StateAwaitingHostInfoRead)
}

func TestRegisterMobileBadPayload(t *testing.T) {
	m := New(newFakeStore(), &fakeBuilder{})
	provision(t, m, StateAwaitingMobileInfoWrite)

	if err := m.RegisterMobile(addr, "not json"); err == nil {
		t.Fatal("expected parse error")
	}
	wantState(t, m, addr, StateAwaitingMobileInfoWrite)
}

func TestCollaboratorFailureKeepsState(t *testing.T) {
	db := newFakeStore()
	db.addErr = errors.New("disk full")
	m := New(db, &fakeBuilder{})
	provision(t, m, StateAwaitingMobileInfoWrite)

	err := m.RegisterMobile(addr, mustJSON(t, testMobile))
	if !comm.IsCollaboratorFailure(err) {
		t.Fatalf("got %v, want a collaborator failure", err)
	}
	// The peer may retry from the same phase.
	wantState(t, m, addr, StateAwaitingMobileInfoWrite)

	db.addErr = nil
	if err := m.RegisterMobile(addr, mustJSON(t, testMobile)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	wantState(t, m, addr, StateAwaitingMobileIdWrite)
}

func TestPnpIDUnknownMobile(t *testing.T) {
	m := New(newFakeStore(), &fakeBuilder{})
	provision(t, m, StateAwaitingMobileInfoWrite)
	if err := m.RegisterMobile(addr, mustJSON(t, testMobile)); err != nil {
		t.Fatal(err)
	}

	unknown := testOffer
	unknown.MobileID = "never-registered"
	err := m.MobilePnpID(addr, mustJSON(t, unknown))
	if !comm.IsCollaboratorFailure(err) {
		t.Fatalf("got %v, want a collaborator failure", err)
	}
	wantState(t, m, addr, StateAwaitingMobileIdWrite)
}

func TestBuilderFailureKeepsState(t *testing.T) {
	builder := &fakeBuilder{err: errors.New("codec mismatch")}
	m := New(newFakeStore(), builder)
	provision(t, m, StateRegistered)

	err := m.SubscribeSdpAnswers(addr, comm.NewPublisher(64, 4))
	if !comm.IsCollaboratorFailure(err) {
		t.Fatalf("got %v, want a collaborator failure", err)
	}
	wantState(t, m, addr, StateRegistered)
}

func TestDisconnectReleasesDevicesInReverseOrder(t *testing.T) {
	builder := &fakeBuilder{}
	m := New(newFakeStore(), builder)
	provision(t, m, StateReadyToStream)

	if err := m.Disconnected(addr); err != nil {
		t.Fatal(err)
	}
	want := []string{"pixel-back", "pixel-front"}
	if len(builder.closed) != len(want) {
		t.Fatalf("released %v, want %v", builder.closed, want)
	}
	for i := range want {
		if builder.closed[i] != want[i] {
			t.Fatalf("released %v, want %v", builder.closed, want)
		}
	}
}

func TestSecondDisconnectReportsNotConnected(t *testing.T) {
	builder := &fakeBuilder{}
	m := New(newFakeStore(), builder)
	provision(t, m, StateReadyToStream)

	if err := m.Disconnected(addr); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnected(addr); err == nil {
		t.Fatal("second disconnect should report the peer gone")
	}
	// No device is released twice.
	if len(builder.closed) != 2 {
		t.Fatalf("released %d devices across both calls, want 2", len(builder.closed))
	}
}

func TestRegisterMobileLogsRecord(t *testing.T) {
	prev := logger.GetLevel()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLevel(logger.DEBUG)
	t.Cleanup(func() {
		logger.SetOutput(os.Stdout)
		logger.SetLevel(prev)
	})

	m := New(newFakeStore(), &fakeBuilder{})
	provision(t, m, StateAwaitingMobileInfoWrite)
	if err := m.RegisterMobile(addr, mustJSON(t, testMobile)); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, `"id": "m-1"`) || !strings.Contains(out, `"pixel"`) {
		t.Fatalf("debug log missing the parsed record:\n%s", out)
	}
}

func TestDisconnectLeavesOtherSessionsAlone(t *testing.T) {
	builder := &fakeBuilder{}
	m := New(newFakeStore(), builder)
	provision(t, m, StateReadyToStream)

	other := comm.Address("dd:ee:ff")
	if _, err := m.HostInfo(other); err != nil {
		t.Fatal(err)
	}
	if err := m.HostInfoDrained(other); err != nil {
		t.Fatal(err)
	}

	if err := m.Disconnected(addr); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnected(addr); err == nil {
		t.Fatal("second disconnect should report the peer gone")
	}
	wantState(t, m, other, StateAwaitingMobileInfoWrite)
	if m.Peers() != 1 {
		t.Fatalf("%d peers, want the surviving one", m.Peers())
	}
}

func TestDisconnectBeforeProvisioning(t *testing.T) {
	m := New(newFakeStore(), &fakeBuilder{})
	if _, err := m.HostInfo(addr); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnected(addr); err != nil {
		t.Fatalf("disconnect without devices: %v", err)
	}
}
