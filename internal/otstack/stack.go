// Package otstack defines the interface to the Thread border-router stack
// and the types exchanged with it.
//
// The stack is not safe for concurrent use. Callers serialize access with a
// shared lock, and every backend delivers its asynchronous callbacks through
// a Worker that holds that same lock.
package otstack

import (
	"context"
	"net/netip"
	"time"
)

// Stack is the command API of a Thread stack instance.
type Stack interface {
	// Role control
	SetIP6Enabled(ctx context.Context, enabled bool) error
	SetThreadEnabled(ctx context.Context, enabled bool) error
	FactoryReset(ctx context.Context) error
	DeviceRole(ctx context.Context) (Role, error)

	// Operational parameters
	NetworkName(ctx context.Context) (string, error)
	SetNetworkName(ctx context.Context, name string) error
	Channel(ctx context.Context) (uint8, error)
	SetChannel(ctx context.Context, channel uint8) error
	PanID(ctx context.Context) (uint16, error)
	SetPanID(ctx context.Context, panID uint16) error
	ExtendedPanID(ctx context.Context) ([8]byte, error)
	SetExtendedPanID(ctx context.Context, extPanID [8]byte) error
	NetworkKey(ctx context.Context) ([16]byte, error)
	SetNetworkKey(ctx context.Context, key [16]byte) error
	PSKc(ctx context.Context) ([16]byte, error)
	SetPSKc(ctx context.Context, pskc [16]byte) error
	LinkMode(ctx context.Context) (LinkMode, error)
	SetLinkMode(ctx context.Context, mode LinkMode) error
	LocalLeaderPartitionID(ctx context.Context) (uint32, error)
	SetLocalLeaderPartitionID(ctx context.Context, id uint32) error
	Rloc16(ctx context.Context) (uint16, error)

	// Topology
	LeaderData(ctx context.Context) (*LeaderData, error)
	Neighbors(ctx context.Context) ([]NeighborInfo, error)
	Parent(ctx context.Context) (*RouterInfo, error)

	// MAC filter
	MacFilterMode(ctx context.Context) (MacFilterMode, error)
	SetMacFilterMode(ctx context.Context, mode MacFilterMode) error
	MacFilterAddresses(ctx context.Context) ([][8]byte, error)
	MacFilterAdd(ctx context.Context, extAddr [8]byte) error
	MacFilterRemove(ctx context.Context, extAddr [8]byte) error
	MacFilterClear(ctx context.Context) error

	// ActiveScan starts an active scan and returns once it is triggered.
	// handler runs on the worker once per discovered network and a final
	// time with nil when the scan is done.
	ActiveScan(ctx context.Context, handler func(*ScanResult)) error

	// Network diagnostics
	SendDiagnosticGet(ctx context.Context, dst netip.Addr, tlvTypes []uint8) error
	OnDiagnosticResponse(handler func(DiagnosticResponse))

	// Commissioner
	CommissionerState(ctx context.Context) (CommissionerState, error)
	CommissionerStart(ctx context.Context) error
	CommissionerStop(ctx context.Context) error
	OnCommissionerState(handler func(CommissionerState))
	OnJoinerEvent(handler func(JoinerEvent))
	// AddJoiner registers a joiner. A nil eui64 accepts any joiner.
	AddJoiner(ctx context.Context, eui64 *[8]byte, pskd string, timeout time.Duration) error
	// RemoveJoiner removes a joiner. A nil eui64 removes the wildcard entry.
	RemoveJoiner(ctx context.Context, eui64 *[8]byte) error
	Joiners(ctx context.Context) ([]JoinerInfo, error)

	// Datasets
	ActiveDataset(ctx context.Context) (*Dataset, error)
	SendMgmtActiveSet(ctx context.Context, ds *Dataset) error

	// Wake nudges the stack event loop so queued work and callbacks run.
	Wake() error

	// Lifecycle
	Close() error
}

// Role is the Thread device role.
type Role uint8

const (
	RoleDisabled Role = iota
	RoleDetached
	RoleChild
	RoleRouter
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleDisabled:
		return "disabled"
	case RoleDetached:
		return "detached"
	case RoleChild:
		return "child"
	case RoleRouter:
		return "router"
	case RoleLeader:
		return "leader"
	}
	return "invalid state"
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, bool) {
	for r := RoleDisabled; r <= RoleLeader; r++ {
		if r.String() == s {
			return r, true
		}
	}
	return 0, false
}

// LinkMode is the MLE link mode of a device.
type LinkMode struct {
	RxOnWhenIdle       bool
	SecureDataRequests bool
	FullThreadDevice   bool
	FullNetworkData    bool
}

// String renders the mode as the letters r, s, d, n in that order.
func (m LinkMode) String() string {
	var b [4]byte
	n := 0
	if m.RxOnWhenIdle {
		b[n] = 'r'
		n++
	}
	if m.SecureDataRequests {
		b[n] = 's'
		n++
	}
	if m.FullThreadDevice {
		b[n] = 'd'
		n++
	}
	if m.FullNetworkData {
		b[n] = 'n'
		n++
	}
	return string(b[:n])
}

// ParseLinkMode parses a mode string. Any letter other than r, s, d or n
// is a parse error.
func ParseLinkMode(s string) (LinkMode, error) {
	var m LinkMode
	for _, c := range s {
		switch c {
		case 'r':
			m.RxOnWhenIdle = true
		case 's':
			m.SecureDataRequests = true
		case 'd':
			m.FullThreadDevice = true
		case 'n':
			m.FullNetworkData = true
		default:
			return LinkMode{}, ErrorParse
		}
	}
	return m, nil
}

// Bits packs the mode into the diagnostic child-table bitmask.
func (m LinkMode) Bits() uint8 {
	var v uint8
	if m.RxOnWhenIdle {
		v |= 1 << 3
	}
	if m.SecureDataRequests {
		v |= 1 << 2
	}
	if m.FullThreadDevice {
		v |= 1 << 1
	}
	if m.FullNetworkData {
		v |= 1 << 0
	}
	return v
}

// LinkModeFromBits is the inverse of Bits.
func LinkModeFromBits(v uint8) LinkMode {
	return LinkMode{
		RxOnWhenIdle:       v&(1<<3) != 0,
		SecureDataRequests: v&(1<<2) != 0,
		FullThreadDevice:   v&(1<<1) != 0,
		FullNetworkData:    v&(1<<0) != 0,
	}
}

// LeaderData is the Thread leader data of the current partition.
type LeaderData struct {
	PartitionID       uint32
	Weighting         uint8
	DataVersion       uint8
	StableDataVersion uint8
	LeaderRouterID    uint8
}

// NeighborInfo describes one entry of the neighbor table.
type NeighborInfo struct {
	ExtAddress    [8]byte
	Age           uint32
	Rloc16        uint16
	LinkQualityIn uint8
	AverageRssi   int8
	LastRssi      int8
	Mode          LinkMode
	IsChild       bool
}

// RouterInfo describes the parent router.
type RouterInfo struct {
	ExtAddress    [8]byte
	Rloc16        uint16
	RouterID      uint8
	Age           uint8
	LinkQualityIn uint8
}

// MacFilterMode is the MAC address filter mode.
type MacFilterMode uint8

const (
	MacFilterDisabled MacFilterMode = iota
	MacFilterAllowlist
	MacFilterDenylist
)

// ScanResult is one network found by an active scan.
type ScanResult struct {
	ExtAddress  [8]byte
	ExtPanID    [8]byte
	NetworkName string
	PanID       uint16
	Channel     uint8
	Rssi        int8
	Lqi         uint8
	IsJoinable  bool
}

// CommissionerState is the state of the local commissioner role.
type CommissionerState uint8

const (
	CommissionerDisabled CommissionerState = iota
	CommissionerPetition
	CommissionerActive
)

func (s CommissionerState) String() string {
	switch s {
	case CommissionerDisabled:
		return "disabled"
	case CommissionerPetition:
		return "petition"
	case CommissionerActive:
		return "active"
	}
	return "unknown"
}

// JoinerEventType is a joiner lifecycle notification.
type JoinerEventType uint8

const (
	JoinerStart JoinerEventType = iota
	JoinerConnected
	JoinerFinalize
	JoinerEnd
	JoinerRemoved
)

func (e JoinerEventType) String() string {
	switch e {
	case JoinerStart:
		return "start"
	case JoinerConnected:
		return "connected"
	case JoinerFinalize:
		return "finalize"
	case JoinerEnd:
		return "end"
	case JoinerRemoved:
		return "removed"
	}
	return "unknown"
}

// JoinerEvent is delivered by the commissioner for each joiner transition.
type JoinerEvent struct {
	Type     JoinerEventType
	JoinerID [8]byte
}

// JoinerInfo is one entry of the commissioner's joiner table.
type JoinerInfo struct {
	EUI64      [8]byte
	Any        bool
	PSKd       string
	Expiration time.Duration
}

// Dataset is an operational dataset. Only present components are applied.
type Dataset struct {
	ActiveTimestamp uint64

	NetworkKey      [16]byte
	NetworkName     string
	ExtendedPanID   [8]byte
	PanID           uint16
	Channel         uint16
	PSKc            [16]byte

	NetworkKeyPresent    bool
	NetworkNamePresent   bool
	ExtendedPanIDPresent bool
	PanIDPresent         bool
	ChannelPresent       bool
	PSKcPresent          bool
}

// DiagnosticResponse is one peer's answer to a diagnostic get.
type DiagnosticResponse struct {
	Peer netip.Addr
	TLVs []DiagnosticTLV
}

// Limits of the operational parameters.
const (
	MaxNetworkNameLength = 16
	MaxPSKdLength        = 32
	MinPSKdLength        = 1
	MinChannel           = 11
	MaxChannel           = 26
)
