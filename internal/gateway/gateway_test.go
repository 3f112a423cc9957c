package gateway

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"otbr-gateway/internal/otstack"
	"otbr-gateway/internal/otstack/sim"
	"otbr-gateway/internal/store"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingStack records how often selected stack calls reach the backend.
type countingStack struct {
	otstack.Stack
	diagGets    atomic.Int32
	setChannels atomic.Int32
}

func (c *countingStack) SendDiagnosticGet(ctx context.Context, dst netip.Addr, types []uint8) error {
	c.diagGets.Add(1)
	return c.Stack.SendDiagnosticGet(ctx, dst, types)
}

func (c *countingStack) SetChannel(ctx context.Context, ch uint8) error {
	c.setChannels.Add(1)
	return c.Stack.SetChannel(ctx, ch)
}

type testEnv struct {
	g     *Gateway
	sim   *sim.Stack
	stack *countingStack
	gate  *Gate
	clock *testclock.Clock
}

func newTestEnv(t *testing.T, simOpts []sim.Option, opts ...Option) *testEnv {
	t.Helper()
	logger := newTestLogger()
	gate := NewGate()
	s := sim.New(gate, logger, append([]sim.Option{sim.WithScanDelay(time.Millisecond)}, simOpts...)...)
	cs := &countingStack{Stack: s}
	clk := testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	g := New(cs, gate, Config{}, logger, append([]Option{WithClock(clk)}, opts...)...)
	t.Cleanup(func() {
		g.Close()
		s.Close()
	})
	return &testEnv{g: g, sim: s, stack: cs, gate: gate, clock: clk}
}

func newTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func call(t *testing.T, g *Gateway, method, params string) *Document {
	t.Helper()
	doc, err := g.Call(context.Background(), method, []byte(params))
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return doc
}

func errCode(t *testing.T, doc *Document) otstack.Error {
	t.Helper()
	f := doc.Field(ErrorField)
	if f == nil {
		t.Fatal("reply has no Error field")
	}
	return otstack.Error(f.Int)
}

func expectCode(t *testing.T, g *Gateway, method, params string, want otstack.Error) *Document {
	t.Helper()
	doc := call(t, g, method, params)
	if got := errCode(t, doc); got != want {
		t.Fatalf("%s(%s): Error = %v, want %v", method, params, got, want)
	}
	return doc
}

func stringField(t *testing.T, doc *Document, name string) string {
	t.Helper()
	f := doc.Field(name)
	if f == nil || f.Kind != KindString {
		t.Fatalf("field %q missing or not a string: %+v", name, f)
	}
	return f.Str
}

func intField(t *testing.T, doc *Document, name string) int64 {
	t.Helper()
	f := doc.Field(name)
	if f == nil || f.Kind != KindInt {
		t.Fatalf("field %q missing or not an int: %+v", name, f)
	}
	return f.Int
}

func waitEvents(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("got %d events, want %d", len(out), n)
		}
	}
	return out
}

func eventState(e Event) string {
	m, _ := e.Data.(map[string]any)
	s, _ := m["state"].(string)
	return s
}

func subscribe(g *Gateway, typ string) <-chan Event {
	ch := make(chan Event, 32)
	g.Events().On(typ, func(e Event) { ch <- e })
	return ch
}

func TestUnknownCommand(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.g.Call(context.Background(), "reboot", nil)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("err = %v, want ErrUnknownCommand", err)
	}
	if env.g.Lookup("reboot") != nil {
		t.Error("Lookup found unknown command")
	}
}

func TestCommandTable(t *testing.T) {
	env := newTestEnv(t, nil)
	cmds := env.g.Commands()
	if len(cmds) != 37 {
		t.Errorf("commands = %d, want 37", len(cmds))
	}
	if cmds[0].Name != "scan" || cmds[len(cmds)-1].Name != "mgmtset" {
		t.Errorf("order = %s..%s", cmds[0].Name, cmds[len(cmds)-1].Name)
	}
	if c := env.g.Lookup("joineradd"); c == nil || len(c.Params) != 2 {
		t.Errorf("joineradd descriptor = %+v", c)
	}
}

func TestMalformedParams(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.g, "setchannel", `{"channel":`, otstack.ErrorParse)
	expectCode(t, env.g, "setchannel", `[15]`, otstack.ErrorParse)
}

func TestSetChannelRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.g, "setchannel", `{"channel":15}`, otstack.ErrorNone)
	doc := expectCode(t, env.g, "channel", "", otstack.ErrorNone)
	if ch := intField(t, doc, "Channel"); ch != 15 {
		t.Errorf("Channel = %d, want 15", ch)
	}

	expectCode(t, env.g, "setchannel", `{"channel":30}`, otstack.ErrorInvalidArgs)
	expectCode(t, env.g, "setchannel", `{"channel":300}`, otstack.ErrorInvalidArgs)

	// Missing or mistyped parameter leaves the channel untouched.
	before := env.stack.setChannels.Load()
	expectCode(t, env.g, "setchannel", `{}`, otstack.ErrorNone)
	expectCode(t, env.g, "setchannel", `{"channel":"20"}`, otstack.ErrorNone)
	if env.stack.setChannels.Load() != before {
		t.Error("absent channel reached the stack")
	}
}

func TestSetLeaderPartitionID(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.g, "setleaderpartitionid", `{"leaderpartitionid":12345}`, otstack.ErrorNone)
	expectCode(t, env.g, "setleaderpartitionid", `{"leaderpartitionid":-1}`, otstack.ErrorInvalidArgs)

	doc := expectCode(t, env.g, "leaderpartitionid", "", otstack.ErrorNone)
	if id := intField(t, doc, "Leaderpartitionid"); id != 12345 {
		t.Errorf("Leaderpartitionid = %d, want 12345", id)
	}
}

func TestSetPanIDRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.g, "setpanid", `{"panid":"0x1234"}`, otstack.ErrorNone)
	doc := expectCode(t, env.g, "panid", "", otstack.ErrorNone)
	if got := stringField(t, doc, "PanId"); got != "0x1234" {
		t.Errorf("PanId = %q, want 0x1234", got)
	}

	expectCode(t, env.g, "setpanid", `{"panid":"4660"}`, otstack.ErrorNone)
	doc = call(t, env.g, "panid", "")
	if got := stringField(t, doc, "PanId"); got != "0x1234" {
		t.Errorf("PanId = %q after decimal set", got)
	}

	expectCode(t, env.g, "setpanid", `{"panid":"zz"}`, otstack.ErrorParse)
	expectCode(t, env.g, "setpanid", `{"panid":"70000"}`, otstack.ErrorInvalidArgs)
}

func TestHexParameters(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.g, "setextpanid", `{"extpanid":"0011223344556677"}`, otstack.ErrorNone)
	doc := call(t, env.g, "extpanid", "")
	if got := stringField(t, doc, "ExtPanId"); got != "0011223344556677" {
		t.Errorf("ExtPanId = %q", got)
	}
	expectCode(t, env.g, "setextpanid", `{"extpanid":"001"}`, otstack.ErrorParse)
	expectCode(t, env.g, "setextpanid", `{"extpanid":"00112233445566778899"}`, otstack.ErrorParse)

	key := "00112233445566778899aabbccddeeff"
	expectCode(t, env.g, "setmasterkey", `{"masterkey":"`+key+`"}`, otstack.ErrorNone)
	doc = call(t, env.g, "masterkey", "")
	if got := stringField(t, doc, "Masterkey"); got != key {
		t.Errorf("Masterkey = %q", got)
	}
	expectCode(t, env.g, "setpskc", `{"pskc":"`+key+`"}`, otstack.ErrorNone)
	doc = call(t, env.g, "pskc", "")
	if got := stringField(t, doc, "pskc"); got != key {
		t.Errorf("pskc = %q", got)
	}
	expectCode(t, env.g, "setpskc", `{"pskc":"0011"}`, otstack.ErrorParse)
}

func TestModeRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.g, "setmode", `{"mode":"rn"}`, otstack.ErrorNone)
	doc := call(t, env.g, "mode", "")
	if got := stringField(t, doc, "Mode"); got != "rn" {
		t.Errorf("Mode = %q, want rn", got)
	}
	expectCode(t, env.g, "setmode", `{"mode":"rx"}`, otstack.ErrorParse)
	doc = call(t, env.g, "mode", "")
	if got := stringField(t, doc, "Mode"); got != "rn" {
		t.Errorf("Mode = %q after rejected set", got)
	}
}

func TestThreadStartStop(t *testing.T) {
	env := newTestEnv(t, nil)
	states := subscribe(env.g, EventNetworkState)

	doc := call(t, env.g, "state", "")
	if got := stringField(t, doc, "State"); got != "disabled" {
		t.Errorf("State = %q", got)
	}
	expectCode(t, env.g, "threadstart", "", otstack.ErrorNone)
	doc = call(t, env.g, "state", "")
	if got := stringField(t, doc, "State"); got != "leader" {
		t.Errorf("State = %q, want leader", got)
	}
	expectCode(t, env.g, "setchannel", `{"channel":20}`, otstack.ErrorInvalidState)
	doc = call(t, env.g, "rloc16", "")
	if got := stringField(t, doc, "rloc16"); got != "0x0400" {
		t.Errorf("rloc16 = %q", got)
	}

	expectCode(t, env.g, "threadstop", "", otstack.ErrorNone)
	doc = call(t, env.g, "state", "")
	if got := stringField(t, doc, "State"); got != "disabled" {
		t.Errorf("State = %q after stop", got)
	}
	evs := waitEvents(t, states, 2)
	if eventState(evs[0]) != "started" || eventState(evs[1]) != "stopped" {
		t.Errorf("events = %v", evs)
	}
}

func TestTopologyReplies(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.g, "leaderdata", "", otstack.ErrorDetached)
	expectCode(t, env.g, "threadstart", "", otstack.ErrorNone)

	doc := expectCode(t, env.g, "neighbor", "", otstack.ErrorNone)
	list := doc.Field("neighbor_list")
	if list == nil || list.Kind != KindArray || len(list.Children) != 2 {
		t.Fatalf("neighbor_list = %+v", list)
	}
	child := list.Children[1]
	if child.Field("Role").Str != "C" || child.Field("Rloc16").Str != "0x0401" || child.Field("Mode").Str != "rn" {
		t.Errorf("child entry = %+v", child)
	}
	if got := child.Field("AvgRssi").Str; got != "     -60" {
		t.Errorf("AvgRssi = %q", got)
	}

	doc = expectCode(t, env.g, "leaderdata", "", otstack.ErrorNone)
	if ld := doc.Field("leaderdata"); ld == nil || ld.Kind != KindTable || ld.Field("LeaderRouterId") == nil {
		t.Errorf("leaderdata = %+v", ld)
	}

	// The sim attaches as leader, so there is no parent.
	doc = call(t, env.g, "parent", "")
	if errCode(t, doc) == otstack.ErrorNone {
		t.Error("parent succeeded on a leader")
	}
}

func TestParentOnChild(t *testing.T) {
	env := newTestEnv(t, []sim.Option{sim.WithAttachRole(otstack.RoleChild)})
	expectCode(t, env.g, "threadstart", "", otstack.ErrorNone)
	doc := expectCode(t, env.g, "parent", "", otstack.ErrorNone)
	list := doc.Field("parent_list")
	if list == nil || len(list.Children) != 1 {
		t.Fatalf("parent_list = %+v", list)
	}
	if got := list.Children[0].Field("Rloc16").Str; got != "0x0800" {
		t.Errorf("parent Rloc16 = %q", got)
	}
}

func TestMacFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	addr := `{"addr":"1122334455667788"}`
	expectCode(t, env.g, "macfilteradd", addr, otstack.ErrorNone)
	expectCode(t, env.g, "macfilteradd", addr, otstack.ErrorNone)

	doc := call(t, env.g, "macfilteraddr", "")
	list := doc.Field("addrlist")
	if list == nil || len(list.Children) != 1 {
		t.Fatalf("addrlist = %+v", list)
	}
	if got := list.Children[0].Str; got != "1122334455667788" {
		t.Errorf("addr = %q", got)
	}

	expectCode(t, env.g, "macfiltersetstate", `{"state":"whitelist"}`, otstack.ErrorNone)
	doc = call(t, env.g, "macfilterstate", "")
	if got := stringField(t, doc, "state"); got != "whitelist" {
		t.Errorf("state = %q", got)
	}
	expectCode(t, env.g, "macfiltersetstate", `{"state":"bogus"}`, otstack.ErrorInvalidArgs)

	expectCode(t, env.g, "macfilterremove", addr, otstack.ErrorNone)
	expectCode(t, env.g, "macfilterremove", addr, otstack.ErrorNotFound)
	expectCode(t, env.g, "macfilteradd", `{"addr":"11"}`, otstack.ErrorParse)
	expectCode(t, env.g, "macfilterclear", "", otstack.ErrorNone)
}

func TestConfigChangedEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	changed := subscribe(env.g, EventConfigChanged)

	expectCode(t, env.g, "channel", "", otstack.ErrorNone)
	expectCode(t, env.g, "setchannel", `{"channel":30}`, otstack.ErrorInvalidArgs)
	expectCode(t, env.g, "setchannel", `{"channel":12}`, otstack.ErrorNone)

	ev := waitEvents(t, changed, 1)[0]
	data, _ := ev.Data.(map[string]any)
	if data["command"] != "setchannel" {
		t.Errorf("event data = %v", ev.Data)
	}
	select {
	case ev := <-changed:
		t.Errorf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// failingStack injects errors and panics on top of the sim.
type failingStack struct {
	otstack.Stack
}

func (failingStack) SetChannel(context.Context, uint8) error { return otstack.ErrorFailed }
func (failingStack) ActiveScan(context.Context, func(*otstack.ScanResult)) error {
	return otstack.ErrorInvalidState
}
func (failingStack) SendDiagnosticGet(context.Context, netip.Addr, []uint8) error {
	return errors.New("radio gone")
}
func (failingStack) Neighbors(context.Context) ([]otstack.NeighborInfo, error) {
	panic("neighbor table corrupt")
}
func (failingStack) ActiveDataset(context.Context) (*otstack.Dataset, error) {
	return nil, otstack.ErrorNotFound
}
func (failingStack) Wake() error { return otstack.ErrClosed }

func TestGateReleasedAfterFailure(t *testing.T) {
	logger := newTestLogger()
	gate := NewGate()
	s := sim.New(gate, logger)
	g := New(failingStack{s}, gate, Config{}, logger)
	t.Cleanup(func() {
		g.Close()
		s.Close()
	})

	tests := []struct {
		method string
		params string
		want   otstack.Error
	}{
		{"setchannel", `{"channel":15}`, otstack.ErrorFailed},
		{"scan", "", otstack.ErrorInvalidState},
		{"networkdata", "", otstack.ErrorFailed},
		{"neighbor", "", otstack.ErrorFailed},
		{"mgmtset", `{"channel":"15"}`, otstack.ErrorNotFound},
		{"mgmtset", `{"channel":"x"}`, otstack.ErrorParse},
		{"leave", "", otstack.ErrorFailed},
		{"joineradd", `{"pskd":"","eui64":"*"}`, otstack.ErrorInvalidArgs},
	}
	for _, tt := range tests {
		doc := call(t, g, tt.method, tt.params)
		if got := errCode(t, doc); got != tt.want {
			t.Errorf("%s: Error = %v, want %v", tt.method, got, tt.want)
		}
		if !gate.TryLock() {
			t.Fatalf("%s: gate still held", tt.method)
		}
		gate.Unlock()
	}
	if g.scanning.Load() {
		t.Error("scan flag left set")
	}
}

func TestJoinerTable(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.g, "joineradd", `{"pskd":"J01NME","eui64":"*"}`, otstack.ErrorNone)
	expectCode(t, env.g, "joineradd", `{"pskd":"J01NU2","eui64":"0011223344556677"}`, otstack.ErrorNone)
	expectCode(t, env.g, "joineradd", `{"pskd":"J01NU2","eui64":"00112233"}`, otstack.ErrorParse)
	expectCode(t, env.g, "joineradd", `{"eui64":"*"}`, otstack.ErrorInvalidArgs)

	doc := call(t, env.g, "joinernum", "")
	if n := intField(t, doc, "joinernum"); n != 2 {
		t.Fatalf("joinernum = %d, want 2", n)
	}
	list := doc.Field("joinerList")
	if list == nil || len(list.Children) != 2 {
		t.Fatalf("joinerList = %+v", list)
	}
	first := list.Children[0]
	if first.Field("pskc").Str != "J01NME" || first.Field("isAny").Int != 1 {
		t.Errorf("wildcard entry = %+v", first)
	}

	expectCode(t, env.g, "joinerremove", `{"eui64":"*"}`, otstack.ErrorNone)
	expectCode(t, env.g, "joinerremove", `{"eui64":"*"}`, otstack.ErrorNotFound)
	expectCode(t, env.g, "joinerremove", `{"eui64":"0011223344556677"}`, otstack.ErrorNone)
	doc = call(t, env.g, "joinernum", "")
	if n := intField(t, doc, "joinernum"); n != 0 {
		t.Errorf("joinernum = %d after removal", n)
	}
}

func TestCommissionerEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	states := subscribe(env.g, EventCommissionerState)
	joiners := subscribe(env.g, EventJoiner)

	expectCode(t, env.g, "commissionerstart", "", otstack.ErrorInvalidState)
	expectCode(t, env.g, "threadstart", "", otstack.ErrorNone)
	expectCode(t, env.g, "commissionerstart", "", otstack.ErrorNone)
	evs := waitEvents(t, states, 2)
	last, _ := evs[1].Data.(map[string]any)
	if last["state"] != "active" {
		t.Errorf("state events = %v", evs)
	}
	// Already active: no-op.
	expectCode(t, env.g, "commissionerstart", "", otstack.ErrorNone)

	env.sim.SimulateJoin([8]byte{0, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77})
	jevs := waitEvents(t, joiners, 4)
	data, _ := jevs[3].Data.(map[string]any)
	if data["event"] != "end" || data["joiner_id"] != "0011223344556677" {
		t.Errorf("joiner event = %v", data)
	}
}

// stopFailingStack fails CommissionerStop while delegating everything else.
type stopFailingStack struct {
	otstack.Stack
}

func (stopFailingStack) CommissionerStop(context.Context) error {
	return otstack.ErrorInvalidState
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMgmtSetLogsCommissionerStopError(t *testing.T) {
	var out lockedBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	gate := NewGate()
	s := sim.New(gate, logger)
	g := New(stopFailingStack{Stack: s}, gate, Config{}, logger)
	t.Cleanup(func() {
		g.Close()
		s.Close()
	})

	expectCode(t, g, "threadstart", "", otstack.ErrorNone)
	expectCode(t, g, "mgmtset", `{"networkname":"Mesh3"}`, otstack.ErrorNone)
	if !strings.Contains(out.String(), "stop disabled commissioner") {
		t.Error("CommissionerStop failure was not logged")
	}
}

func TestMgmtSet(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.g, "mgmtset", `{"networkname":"Mesh2"}`, otstack.ErrorInvalidState)
	expectCode(t, env.g, "threadstart", "", otstack.ErrorNone)

	expectCode(t, env.g, "mgmtset", `{"networkname":"Mesh2","channel":"20","panid":"0xbeef"}`, otstack.ErrorNone)
	doc := call(t, env.g, "networkname", "")
	if got := stringField(t, doc, "NetworkName"); got != "Mesh2" {
		t.Errorf("NetworkName = %q", got)
	}
	doc = call(t, env.g, "channel", "")
	if got := intField(t, doc, "Channel"); got != 20 {
		t.Errorf("Channel = %d", got)
	}
	doc = call(t, env.g, "panid", "")
	if got := stringField(t, doc, "PanId"); got != "0xbeef" {
		t.Errorf("PanId = %q", got)
	}

	expectCode(t, env.g, "mgmtset", `{"networkname":"Mesh3","masterkey":"abc"}`, otstack.ErrorParse)
	expectCode(t, env.g, "mgmtset", `{"networkname":"a-very-long-network-name"}`, otstack.ErrorParse)
	doc = call(t, env.g, "networkname", "")
	if got := stringField(t, doc, "NetworkName"); got != "Mesh2" {
		t.Errorf("NetworkName = %q after rejected set", got)
	}
}

func TestLeave(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.g, "threadstart", "", otstack.ErrorNone)
	expectCode(t, env.g, "setmode", `{"mode":"r"}`, otstack.ErrorNone)
	expectCode(t, env.g, "networkdata", "", otstack.ErrorNone)

	expectCode(t, env.g, "leave", "", otstack.ErrorNone)
	doc := call(t, env.g, "state", "")
	if got := stringField(t, doc, "State"); got != "disabled" {
		t.Errorf("State = %q after leave", got)
	}
	doc = call(t, env.g, "mode", "")
	if got := stringField(t, doc, "Mode"); got != "rsdn" {
		t.Errorf("Mode = %q after leave", got)
	}
	// The cool-down is reset, so the next request queries the detached stack.
	expectCode(t, env.g, "networkdata", "", otstack.ErrorInvalidState)
	if n := env.stack.diagGets.Load(); n != 2 {
		t.Errorf("diagnostic gets = %d, want 2", n)
	}
}

func TestStartAppliesAndResumes(t *testing.T) {
	st := newTestStore(t)
	env := newTestEnv(t, nil, WithStore(st))
	ctx := context.Background()
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	n := Network{
		Channel:     20,
		PanID:       0x1234,
		ExtPanID:    [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		NetworkName: "Home",
		NetworkKey:  &key,
	}

	if err := env.g.Start(ctx, n); err != nil {
		t.Fatal(err)
	}
	if env.stack.setChannels.Load() != 1 {
		t.Errorf("set channel calls = %d, want 1", env.stack.setChannels.Load())
	}
	ns, err := st.GetNetworkState()
	if err != nil {
		t.Fatal(err)
	}
	if !ns.Formed || ns.Channel != 20 || ns.ExtPanID != "0102030405060708" || ns.NetworkKey == "" {
		t.Errorf("stored state = %+v", ns)
	}
	status, err := env.g.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Role != "leader" || status.PanID != "0x1234" || status.NetworkName != "Home" {
		t.Errorf("status = %+v", status)
	}

	// Stored state and stack agree: resume without touching parameters.
	expectCode(t, env.g, "threadstop", "", otstack.ErrorNone)
	if err := env.g.Start(ctx, n); err != nil {
		t.Fatal(err)
	}
	if env.stack.setChannels.Load() != 1 {
		t.Errorf("resume changed the channel")
	}

	// Stack drifted from the stored state: apply again.
	expectCode(t, env.g, "threadstop", "", otstack.ErrorNone)
	expectCode(t, env.g, "setchannel", `{"channel":25}`, otstack.ErrorNone)
	if err := env.g.Start(ctx, n); err != nil {
		t.Fatal(err)
	}
	doc := call(t, env.g, "channel", "")
	if got := intField(t, doc, "Channel"); got != 20 {
		t.Errorf("Channel = %d, want 20", got)
	}
}
