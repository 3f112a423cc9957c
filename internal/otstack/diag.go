package otstack

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Network diagnostic TLV types.
const (
	DiagTLVExtAddress   uint8 = 0
	DiagTLVShortAddress uint8 = 1
	DiagTLVMode         uint8 = 2
	DiagTLVTimeout      uint8 = 3
	DiagTLVConnectivity uint8 = 4
	DiagTLVRoute        uint8 = 5
	DiagTLVLeaderData   uint8 = 6
	DiagTLVNetworkData  uint8 = 7
	DiagTLVChildTable   uint8 = 16
)

var errShortTLV = errors.New("diag tlv: truncated")

// DiagnosticTLV is one decoded diagnostic record. Route and ChildTable are
// set for their respective types; Value keeps the raw payload of any type.
type DiagnosticTLV struct {
	Type       uint8
	Value      []byte
	Route      *RouteTLV
	ChildTable []ChildEntry
}

// RouteTLV is the Route64 diagnostic record.
type RouteTLV struct {
	IDSequence uint8
	Routes     []RouteEntry
}

// RouteEntry is the route data for one allocated router id.
type RouteEntry struct {
	RouterID       uint8
	LinkQualityOut uint8
	LinkQualityIn  uint8
	RouteCost      uint8
}

// ChildEntry is one row of the child table record.
type ChildEntry struct {
	Timeout     uint8
	LinkQuality uint8
	ChildID     uint16
	Mode        LinkMode
}

// ParseDiagnosticTLVs decodes a diagnostic payload into records.
func ParseDiagnosticTLVs(b []byte) ([]DiagnosticTLV, error) {
	var tlvs []DiagnosticTLV
	for len(b) > 0 {
		if len(b) < 2 {
			return tlvs, errShortTLV
		}
		typ := b[0]
		length := int(b[1])
		hdr := 2
		if length == 0xff {
			if len(b) < 4 {
				return tlvs, errShortTLV
			}
			length = int(binary.BigEndian.Uint16(b[2:4]))
			hdr = 4
		}
		if len(b) < hdr+length {
			return tlvs, fmt.Errorf("%w: type %d wants %d bytes, have %d", errShortTLV, typ, length, len(b)-hdr)
		}
		value := b[hdr : hdr+length]
		b = b[hdr+length:]

		tlv := DiagnosticTLV{Type: typ, Value: value}
		switch typ {
		case DiagTLVRoute:
			route, err := parseRouteTLV(value)
			if err != nil {
				return tlvs, err
			}
			tlv.Route = route
		case DiagTLVChildTable:
			if len(value)%3 != 0 {
				return tlvs, fmt.Errorf("diag tlv: child table length %d", len(value))
			}
			for i := 0; i < len(value); i += 3 {
				v := binary.BigEndian.Uint16(value[i : i+2])
				tlv.ChildTable = append(tlv.ChildTable, ChildEntry{
					Timeout:     uint8(v >> 11),
					LinkQuality: uint8(v>>9) & 0x03,
					ChildID:     v & 0x01ff,
					Mode:        LinkModeFromBits(value[i+2]),
				})
			}
		}
		tlvs = append(tlvs, tlv)
	}
	return tlvs, nil
}

func parseRouteTLV(v []byte) (*RouteTLV, error) {
	if len(v) < 9 {
		return nil, fmt.Errorf("%w: route tlv", errShortTLV)
	}
	route := &RouteTLV{IDSequence: v[0]}
	mask := v[1:9]
	data := v[9:]
	for id := 0; id < 64; id++ {
		if mask[id/8]&(0x80>>(id%8)) == 0 {
			continue
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: route data for router %d", errShortTLV, id)
		}
		rd := data[0]
		data = data[1:]
		route.Routes = append(route.Routes, RouteEntry{
			RouterID:       uint8(id),
			LinkQualityOut: rd >> 6,
			LinkQualityIn:  (rd >> 4) & 0x03,
			RouteCost:      rd & 0x0f,
		})
	}
	return route, nil
}

// AppendRouteTLV encodes a Route64 record.
func AppendRouteTLV(b []byte, r RouteTLV) []byte {
	var mask [8]byte
	var data []byte
	byID := make(map[uint8]RouteEntry, len(r.Routes))
	for _, e := range r.Routes {
		mask[e.RouterID/8] |= 0x80 >> (e.RouterID % 8)
		byID[e.RouterID] = e
	}
	for id := 0; id < 64; id++ {
		e, ok := byID[uint8(id)]
		if !ok {
			continue
		}
		data = append(data, e.LinkQualityOut<<6|(e.LinkQualityIn&0x03)<<4|e.RouteCost&0x0f)
	}
	b = append(b, DiagTLVRoute, byte(9+len(data)), r.IDSequence)
	b = append(b, mask[:]...)
	return append(b, data...)
}

// AppendChildTableTLV encodes a child table record.
func AppendChildTableTLV(b []byte, children []ChildEntry) []byte {
	b = append(b, DiagTLVChildTable, byte(3*len(children)))
	for _, c := range children {
		v := uint16(c.Timeout&0x1f)<<11 | uint16(c.LinkQuality&0x03)<<9 | c.ChildID&0x01ff
		b = binary.BigEndian.AppendUint16(b, v)
		b = append(b, c.Mode.Bits())
	}
	return b
}
