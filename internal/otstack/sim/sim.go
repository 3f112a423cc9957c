// Package sim is an in-process Thread stack used for stack.type "sim" and
// in tests. It keeps operational state in memory and delivers scan results,
// diagnostic answers and commissioner events through an otstack.Worker.
package sim

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"otbr-gateway/internal/otstack"
)

const maxMacFilterEntries = 32

// MeshLocalPrefix is the prefix the simulated partition uses for locators.
var MeshLocalPrefix = netip.MustParsePrefix("fd00:db8::/64")

type joiner struct {
	info     otstack.JoinerInfo
	deadline time.Time
}

var _ otstack.Stack = (*Stack)(nil)

// Stack is a simulated otstack.Stack.
type Stack struct {
	worker *otstack.Worker
	logger *slog.Logger

	mu            sync.Mutex
	ip6Enabled    bool
	threadEnabled bool
	attachRole    otstack.Role
	networkName   string
	channel       uint8
	panID         uint16
	extPanID      [8]byte
	networkKey    [16]byte
	pskc          [16]byte
	mode          otstack.LinkMode
	partitionID   uint32
	timestamp     uint64
	filterMode    otstack.MacFilterMode
	filter        [][8]byte
	commState     otstack.CommissionerState
	joiners       []joiner
	scanning      bool
	scanDelay     time.Duration
	networks      []otstack.ScanResult
	neighbors     []otstack.NeighborInfo
	parent        otstack.RouterInfo
	peers         []otstack.DiagnosticResponse
	onDiag        func(otstack.DiagnosticResponse)
	onCommState   func(otstack.CommissionerState)
	onJoiner      func(otstack.JoinerEvent)
	closed        bool
	done          chan struct{}
	wg            sync.WaitGroup
}

// Option configures a simulated stack.
type Option func(*Stack)

// WithNetworks sets the networks an active scan discovers.
func WithNetworks(networks ...otstack.ScanResult) Option {
	return func(s *Stack) { s.networks = networks }
}

// WithScanDelay sets how long an active scan takes before results arrive.
func WithScanDelay(d time.Duration) Option {
	return func(s *Stack) { s.scanDelay = d }
}

// WithAttachRole sets the role taken once Thread is started.
func WithAttachRole(role otstack.Role) Option {
	return func(s *Stack) { s.attachRole = role }
}

// WithDiagnosticPeers replaces the peers that answer a diagnostic get.
func WithDiagnosticPeers(peers ...otstack.DiagnosticResponse) Option {
	return func(s *Stack) { s.peers = peers }
}

// New returns a simulated stack whose callbacks run under gate.
func New(gate sync.Locker, logger *slog.Logger, opts ...Option) *Stack {
	s := &Stack{
		worker:     otstack.NewWorker(gate, logger),
		logger:     logger,
		attachRole: otstack.RoleLeader,
		scanDelay:  200 * time.Millisecond,
		done:       make(chan struct{}),
	}
	s.resetLocked()
	s.networks = defaultNetworks()
	s.neighbors = defaultNeighbors()
	s.parent = otstack.RouterInfo{
		ExtAddress:    [8]byte{0x1a, 0x2b, 0x3c, 0x4d, 0x5e, 0x6f, 0x70, 0x81},
		Rloc16:        0x0800,
		RouterID:      2,
		Age:           12,
		LinkQualityIn: 3,
	}
	s.peers = defaultPeers()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stack) resetLocked() {
	s.ip6Enabled = false
	s.threadEnabled = false
	s.networkName = "OpenThread"
	s.channel = 11
	s.panID = 0xface
	s.extPanID = [8]byte{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe}
	_, _ = rand.Read(s.networkKey[:])
	_, _ = rand.Read(s.pskc[:])
	s.mode = otstack.LinkMode{RxOnWhenIdle: true, SecureDataRequests: true, FullThreadDevice: true, FullNetworkData: true}
	s.partitionID = 0
	s.timestamp = 1
	s.filterMode = otstack.MacFilterDisabled
	s.filter = nil
	s.commState = otstack.CommissionerDisabled
	s.joiners = nil
}

func defaultNetworks() []otstack.ScanResult {
	return []otstack.ScanResult{
		{
			ExtAddress:  [8]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0},
			ExtPanID:    [8]byte{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe},
			NetworkName: "OpenThread",
			PanID:       0xface,
			Channel:     11,
			Rssi:        -42,
			Lqi:         255,
			IsJoinable:  false,
		},
		{
			ExtAddress:  [8]byte{0x02, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77},
			ExtPanID:    [8]byte{0x11, 0x11, 0x11, 0x11, 0x22, 0x22, 0x22, 0x22},
			NetworkName: "Neighbor",
			PanID:       0x1234,
			Channel:     15,
			Rssi:        -71,
			Lqi:         128,
			IsJoinable:  true,
		},
	}
}

func defaultNeighbors() []otstack.NeighborInfo {
	return []otstack.NeighborInfo{
		{
			ExtAddress:    [8]byte{0x1a, 0x2b, 0x3c, 0x4d, 0x5e, 0x6f, 0x70, 0x81},
			Age:           12,
			Rloc16:        0x0800,
			LinkQualityIn: 3,
			AverageRssi:   -38,
			LastRssi:      -40,
			Mode:          otstack.LinkMode{RxOnWhenIdle: true, SecureDataRequests: true, FullThreadDevice: true, FullNetworkData: true},
		},
		{
			ExtAddress:    [8]byte{0x5a, 0x6b, 0x7c, 0x8d, 0x9e, 0xaf, 0xb0, 0xc1},
			Age:           3,
			Rloc16:        0x0401,
			LinkQualityIn: 2,
			AverageRssi:   -60,
			LastRssi:      -63,
			Mode:          otstack.LinkMode{RxOnWhenIdle: true, FullNetworkData: true},
			IsChild:       true,
		},
	}
}

// DiagnosticPeer builds a diagnostic answer from a router's route and child tables.
func DiagnosticPeer(rloc16 uint16, routes []otstack.RouteEntry, children []otstack.ChildEntry) otstack.DiagnosticResponse {
	var b []byte
	b = append(b, otstack.DiagTLVShortAddress, 2, byte(rloc16>>8), byte(rloc16))
	b = otstack.AppendRouteTLV(b, otstack.RouteTLV{IDSequence: 1, Routes: routes})
	if len(children) > 0 {
		b = otstack.AppendChildTableTLV(b, children)
	}
	tlvs, _ := otstack.ParseDiagnosticTLVs(b)
	return otstack.DiagnosticResponse{
		Peer: otstack.RoutingLocatorAddr(MeshLocalPrefix, rloc16),
		TLVs: tlvs,
	}
}

func defaultPeers() []otstack.DiagnosticResponse {
	return []otstack.DiagnosticResponse{
		DiagnosticPeer(0x0400,
			[]otstack.RouteEntry{
				{RouterID: 1},
				{RouterID: 2, LinkQualityOut: 3, LinkQualityIn: 3, RouteCost: 1},
			},
			[]otstack.ChildEntry{
				{Timeout: 6, LinkQuality: 2, ChildID: 1, Mode: otstack.LinkMode{RxOnWhenIdle: true, FullNetworkData: true}},
			}),
		DiagnosticPeer(0x0800,
			[]otstack.RouteEntry{
				{RouterID: 1, LinkQualityOut: 3, LinkQualityIn: 3, RouteCost: 1},
				{RouterID: 2},
			}, nil),
	}
}

func (s *Stack) attached() bool {
	return s.threadEnabled && s.attachRole >= otstack.RoleChild
}

func (s *Stack) SetIP6Enabled(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !enabled && s.threadEnabled {
		return otstack.ErrorInvalidState
	}
	s.ip6Enabled = enabled
	return nil
}

func (s *Stack) SetThreadEnabled(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled && !s.ip6Enabled {
		return otstack.ErrorInvalidState
	}
	s.threadEnabled = enabled
	return nil
}

func (s *Stack) FactoryReset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.logger.Info("sim stack factory reset")
	return nil
}

func (s *Stack) DeviceRole(_ context.Context) (otstack.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.threadEnabled {
		return otstack.RoleDisabled, nil
	}
	return s.attachRole, nil
}

func (s *Stack) NetworkName(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.networkName, nil
}

func (s *Stack) SetNetworkName(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadEnabled {
		return otstack.ErrorInvalidState
	}
	if len(name) > otstack.MaxNetworkNameLength {
		return otstack.ErrorInvalidArgs
	}
	s.networkName = name
	return nil
}

func (s *Stack) Channel(_ context.Context) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel, nil
}

func (s *Stack) SetChannel(_ context.Context, channel uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadEnabled {
		return otstack.ErrorInvalidState
	}
	if channel < otstack.MinChannel || channel > otstack.MaxChannel {
		return otstack.ErrorInvalidArgs
	}
	s.channel = channel
	return nil
}

func (s *Stack) PanID(_ context.Context) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panID, nil
}

func (s *Stack) SetPanID(_ context.Context, panID uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadEnabled {
		return otstack.ErrorInvalidState
	}
	if panID == 0xffff {
		return otstack.ErrorInvalidArgs
	}
	s.panID = panID
	return nil
}

func (s *Stack) ExtendedPanID(_ context.Context) ([8]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extPanID, nil
}

func (s *Stack) SetExtendedPanID(_ context.Context, extPanID [8]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadEnabled {
		return otstack.ErrorInvalidState
	}
	s.extPanID = extPanID
	return nil
}

func (s *Stack) NetworkKey(_ context.Context) ([16]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.networkKey, nil
}

func (s *Stack) SetNetworkKey(_ context.Context, key [16]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadEnabled {
		return otstack.ErrorInvalidState
	}
	s.networkKey = key
	return nil
}

func (s *Stack) PSKc(_ context.Context) ([16]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pskc, nil
}

func (s *Stack) SetPSKc(_ context.Context, pskc [16]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadEnabled {
		return otstack.ErrorInvalidState
	}
	s.pskc = pskc
	return nil
}

func (s *Stack) LinkMode(_ context.Context) (otstack.LinkMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, nil
}

func (s *Stack) SetLinkMode(_ context.Context, mode otstack.LinkMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

func (s *Stack) LocalLeaderPartitionID(_ context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partitionID, nil
}

func (s *Stack) SetLocalLeaderPartitionID(_ context.Context, id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitionID = id
	return nil
}

func (s *Stack) Rloc16(_ context.Context) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached() {
		return 0xfffe, nil
	}
	if s.attachRole == otstack.RoleChild {
		return s.parent.Rloc16 | 1, nil
	}
	return 0x0400, nil
}

func (s *Stack) LeaderData(_ context.Context) (*otstack.LeaderData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached() {
		return nil, otstack.ErrorDetached
	}
	return &otstack.LeaderData{
		PartitionID:       s.partitionID,
		Weighting:         64,
		DataVersion:       uint8(s.timestamp),
		StableDataVersion: uint8(s.timestamp),
		LeaderRouterID:    1,
	}, nil
}

func (s *Stack) Neighbors(_ context.Context) ([]otstack.NeighborInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached() {
		return nil, nil
	}
	out := make([]otstack.NeighborInfo, len(s.neighbors))
	copy(out, s.neighbors)
	return out, nil
}

func (s *Stack) Parent(_ context.Context) (*otstack.RouterInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.threadEnabled || s.attachRole != otstack.RoleChild {
		return nil, otstack.ErrorInvalidState
	}
	p := s.parent
	return &p, nil
}

func (s *Stack) MacFilterMode(_ context.Context) (otstack.MacFilterMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterMode, nil
}

func (s *Stack) SetMacFilterMode(_ context.Context, mode otstack.MacFilterMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filterMode = mode
	return nil
}

func (s *Stack) MacFilterAddresses(_ context.Context) ([][8]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][8]byte, len(s.filter))
	copy(out, s.filter)
	return out, nil
}

func (s *Stack) MacFilterAdd(_ context.Context, extAddr [8]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.filter {
		if a == extAddr {
			return otstack.ErrorAlready
		}
	}
	if len(s.filter) >= maxMacFilterEntries {
		return otstack.ErrorNoBufs
	}
	s.filter = append(s.filter, extAddr)
	return nil
}

func (s *Stack) MacFilterRemove(_ context.Context, extAddr [8]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.filter {
		if a == extAddr {
			s.filter = append(s.filter[:i], s.filter[i+1:]...)
			return nil
		}
	}
	return otstack.ErrorNotFound
}

func (s *Stack) MacFilterClear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = nil
	return nil
}

func (s *Stack) ActiveScan(_ context.Context, handler func(*otstack.ScanResult)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return otstack.ErrClosed
	}
	if !s.ip6Enabled {
		return otstack.ErrorInvalidState
	}
	if s.scanning {
		return otstack.ErrorBusy
	}
	s.scanning = true
	networks := make([]otstack.ScanResult, len(s.networks))
	copy(networks, s.networks)
	delay := s.scanDelay

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(delay):
		case <-s.done:
			return
		}
		for i := range networks {
			r := networks[i]
			s.worker.Post(func() { handler(&r) })
		}
		s.worker.Post(func() {
			s.mu.Lock()
			s.scanning = false
			s.mu.Unlock()
			handler(nil)
		})
	}()
	return nil
}

func (s *Stack) SendDiagnosticGet(_ context.Context, dst netip.Addr, tlvTypes []uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached() {
		return otstack.ErrorInvalidState
	}
	if !dst.IsValid() || len(tlvTypes) == 0 {
		return otstack.ErrorInvalidArgs
	}
	want := make(map[uint8]bool, len(tlvTypes))
	for _, t := range tlvTypes {
		want[t] = true
	}
	onDiag := s.onDiag
	if onDiag == nil {
		return nil
	}
	for _, peer := range s.peers {
		resp := otstack.DiagnosticResponse{Peer: peer.Peer}
		for _, tlv := range peer.TLVs {
			if want[tlv.Type] {
				resp.TLVs = append(resp.TLVs, tlv)
			}
		}
		s.worker.Post(func() { onDiag(resp) })
	}
	return nil
}

func (s *Stack) OnDiagnosticResponse(handler func(otstack.DiagnosticResponse)) {
	s.mu.Lock()
	s.onDiag = handler
	s.mu.Unlock()
}

func (s *Stack) CommissionerState(_ context.Context) (otstack.CommissionerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commState, nil
}

func (s *Stack) CommissionerStart(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached() {
		return otstack.ErrorInvalidState
	}
	if s.commState != otstack.CommissionerDisabled {
		return otstack.ErrorAlready
	}
	s.commState = otstack.CommissionerPetition
	s.notifyCommStateLocked(otstack.CommissionerPetition)
	s.commState = otstack.CommissionerActive
	s.notifyCommStateLocked(otstack.CommissionerActive)
	return nil
}

func (s *Stack) CommissionerStop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commState == otstack.CommissionerDisabled {
		return otstack.ErrorAlready
	}
	s.commState = otstack.CommissionerDisabled
	s.joiners = nil
	s.notifyCommStateLocked(otstack.CommissionerDisabled)
	return nil
}

func (s *Stack) notifyCommStateLocked(state otstack.CommissionerState) {
	if h := s.onCommState; h != nil {
		s.worker.Post(func() { h(state) })
	}
}

func (s *Stack) OnCommissionerState(handler func(otstack.CommissionerState)) {
	s.mu.Lock()
	s.onCommState = handler
	s.mu.Unlock()
}

func (s *Stack) OnJoinerEvent(handler func(otstack.JoinerEvent)) {
	s.mu.Lock()
	s.onJoiner = handler
	s.mu.Unlock()
}

func (s *Stack) AddJoiner(_ context.Context, eui64 *[8]byte, pskd string, timeout time.Duration) error {
	if len(pskd) < otstack.MinPSKdLength || len(pskd) > otstack.MaxPSKdLength {
		return otstack.ErrorInvalidArgs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j := joiner{
		info:     otstack.JoinerInfo{Any: eui64 == nil, PSKd: pskd, Expiration: timeout},
		deadline: time.Now().Add(timeout),
	}
	if eui64 != nil {
		j.info.EUI64 = *eui64
	}
	for i := range s.joiners {
		if s.joiners[i].info.Any == j.info.Any && s.joiners[i].info.EUI64 == j.info.EUI64 {
			s.joiners[i] = j
			return nil
		}
	}
	s.joiners = append(s.joiners, j)
	return nil
}

func (s *Stack) RemoveJoiner(_ context.Context, eui64 *[8]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.joiners {
		match := j.info.Any && eui64 == nil
		if eui64 != nil && !j.info.Any && j.info.EUI64 == *eui64 {
			match = true
		}
		if match {
			s.joiners = append(s.joiners[:i], s.joiners[i+1:]...)
			if h := s.onJoiner; h != nil {
				ev := otstack.JoinerEvent{Type: otstack.JoinerRemoved, JoinerID: j.info.EUI64}
				s.worker.Post(func() { h(ev) })
			}
			return nil
		}
	}
	return otstack.ErrorNotFound
}

func (s *Stack) Joiners(_ context.Context) ([]otstack.JoinerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make([]otstack.JoinerInfo, 0, len(s.joiners))
	for _, j := range s.joiners {
		info := j.info
		info.Expiration = j.deadline.Sub(now)
		if info.Expiration < 0 {
			info.Expiration = 0
		}
		out = append(out, info)
	}
	return out, nil
}

// SimulateJoin plays the joiner lifecycle for eui64 as the commissioner
// would report it for a successful join.
func (s *Stack) SimulateJoin(eui64 [8]byte) {
	s.mu.Lock()
	h := s.onJoiner
	s.mu.Unlock()
	if h == nil {
		return
	}
	for _, typ := range []otstack.JoinerEventType{otstack.JoinerStart, otstack.JoinerConnected, otstack.JoinerFinalize, otstack.JoinerEnd} {
		ev := otstack.JoinerEvent{Type: typ, JoinerID: eui64}
		s.worker.Post(func() { h(ev) })
	}
}

func (s *Stack) ActiveDataset(_ context.Context) (*otstack.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &otstack.Dataset{
		ActiveTimestamp:      s.timestamp,
		NetworkKey:           s.networkKey,
		NetworkName:          s.networkName,
		ExtendedPanID:        s.extPanID,
		PanID:                s.panID,
		Channel:              uint16(s.channel),
		PSKc:                 s.pskc,
		NetworkKeyPresent:    true,
		NetworkNamePresent:   true,
		ExtendedPanIDPresent: true,
		PanIDPresent:         true,
		ChannelPresent:       true,
		PSKcPresent:          true,
	}, nil
}

func (s *Stack) SendMgmtActiveSet(_ context.Context, ds *otstack.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached() {
		return otstack.ErrorInvalidState
	}
	if ds.ActiveTimestamp <= s.timestamp {
		return otstack.ErrorInvalidArgs
	}
	if ds.ChannelPresent && (ds.Channel < otstack.MinChannel || ds.Channel > otstack.MaxChannel) {
		return otstack.ErrorInvalidArgs
	}
	if ds.NetworkNamePresent && len(ds.NetworkName) > otstack.MaxNetworkNameLength {
		return otstack.ErrorInvalidArgs
	}
	s.timestamp = ds.ActiveTimestamp
	if ds.NetworkKeyPresent {
		s.networkKey = ds.NetworkKey
	}
	if ds.NetworkNamePresent {
		s.networkName = ds.NetworkName
	}
	if ds.ExtendedPanIDPresent {
		s.extPanID = ds.ExtendedPanID
	}
	if ds.PanIDPresent {
		s.panID = ds.PanID
	}
	if ds.ChannelPresent {
		s.channel = uint8(ds.Channel)
	}
	if ds.PSKcPresent {
		s.pskc = ds.PSKc
	}
	return nil
}

func (s *Stack) Wake() error {
	return s.worker.Wake()
}

func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
	s.worker.Close()
	return nil
}
