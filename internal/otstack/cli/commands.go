package cli

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"otbr-gateway/internal/hexcodec"
	"otbr-gateway/internal/otstack"
)

func onOff(enabled bool, on, off string) string {
	if enabled {
		return on
	}
	return off
}

func (s *Stack) SetIP6Enabled(ctx context.Context, enabled bool) error {
	_, err := s.exec(ctx, "ifconfig %s", onOff(enabled, "up", "down"))
	return err
}

func (s *Stack) SetThreadEnabled(ctx context.Context, enabled bool) error {
	_, err := s.exec(ctx, "thread %s", onOff(enabled, "start", "stop"))
	return err
}

// FactoryReset erases settings and reboots the device. The device answers
// with its boot banner rather than Done.
func (s *Stack) FactoryReset(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	s.writeMu.Lock()
	_, err := s.rw.Write([]byte("factoryreset\r\n"))
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	s.logger.Info("factory reset sent")
	return nil
}

func (s *Stack) DeviceRole(ctx context.Context) (otstack.Role, error) {
	v, err := s.value(ctx, "state")
	if err != nil {
		return 0, err
	}
	role, ok := otstack.ParseRole(v)
	if !ok {
		return 0, fmt.Errorf("ot-cli: unknown state %q", v)
	}
	return role, nil
}

func (s *Stack) NetworkName(ctx context.Context) (string, error) {
	return s.value(ctx, "networkname")
}

func (s *Stack) SetNetworkName(ctx context.Context, name string) error {
	if len(name) > otstack.MaxNetworkNameLength || !validArg(name) {
		return otstack.ErrorInvalidArgs
	}
	_, err := s.exec(ctx, "networkname %s", escapeArg(name))
	return err
}

func (s *Stack) Channel(ctx context.Context) (uint8, error) {
	v, err := s.value(ctx, "channel")
	if err != nil {
		return 0, err
	}
	ch, err := parseUint(v, 8)
	return uint8(ch), err
}

func (s *Stack) SetChannel(ctx context.Context, channel uint8) error {
	_, err := s.exec(ctx, "channel %d", channel)
	return err
}

func (s *Stack) PanID(ctx context.Context) (uint16, error) {
	v, err := s.value(ctx, "panid")
	if err != nil {
		return 0, err
	}
	return parseHex16(v)
}

func (s *Stack) SetPanID(ctx context.Context, panID uint16) error {
	_, err := s.exec(ctx, "panid 0x%04x", panID)
	return err
}

func (s *Stack) hex8(ctx context.Context, cmd string) ([8]byte, error) {
	v, err := s.value(ctx, cmd)
	if err != nil {
		return [8]byte{}, err
	}
	return hexcodec.DecodeArray8(v)
}

func (s *Stack) hex16(ctx context.Context, cmd string) ([16]byte, error) {
	v, err := s.value(ctx, cmd)
	if err != nil {
		return [16]byte{}, err
	}
	return hexcodec.DecodeArray16(v)
}

func (s *Stack) ExtendedPanID(ctx context.Context) ([8]byte, error) {
	return s.hex8(ctx, "extpanid")
}

func (s *Stack) SetExtendedPanID(ctx context.Context, extPanID [8]byte) error {
	_, err := s.exec(ctx, "extpanid %s", hexcodec.Encode(extPanID[:]))
	return err
}

func (s *Stack) NetworkKey(ctx context.Context) ([16]byte, error) {
	return s.hex16(ctx, "networkkey")
}

func (s *Stack) SetNetworkKey(ctx context.Context, key [16]byte) error {
	_, err := s.exec(ctx, "networkkey %s", hexcodec.Encode(key[:]))
	return err
}

func (s *Stack) PSKc(ctx context.Context) ([16]byte, error) {
	return s.hex16(ctx, "pskc")
}

func (s *Stack) SetPSKc(ctx context.Context, pskc [16]byte) error {
	_, err := s.exec(ctx, "pskc %s", hexcodec.Encode(pskc[:]))
	return err
}

func (s *Stack) LinkMode(ctx context.Context) (otstack.LinkMode, error) {
	v, err := s.value(ctx, "mode")
	if err != nil {
		return otstack.LinkMode{}, err
	}
	return parseMode(v)
}

func (s *Stack) SetLinkMode(ctx context.Context, mode otstack.LinkMode) error {
	_, err := s.exec(ctx, "mode %s", formatMode(mode))
	return err
}

func (s *Stack) LocalLeaderPartitionID(ctx context.Context) (uint32, error) {
	v, err := s.value(ctx, "partitionid preferred")
	if err != nil {
		return 0, err
	}
	id, err := parseUint(v, 32)
	return uint32(id), err
}

func (s *Stack) SetLocalLeaderPartitionID(ctx context.Context, id uint32) error {
	_, err := s.exec(ctx, "partitionid preferred %d", id)
	return err
}

func (s *Stack) Rloc16(ctx context.Context) (uint16, error) {
	v, err := s.value(ctx, "rloc16")
	if err != nil {
		return 0, err
	}
	return parseHex16(v)
}

func (s *Stack) LeaderData(ctx context.Context) (*otstack.LeaderData, error) {
	lines, err := s.exec(ctx, "leaderdata")
	if err != nil {
		return nil, err
	}
	f := parseFields(lines)
	var ld otstack.LeaderData
	var v uint64
	if v, err = parseUint(f["Partition ID"], 32); err != nil {
		return nil, err
	}
	ld.PartitionID = uint32(v)
	if v, err = parseUint(f["Weighting"], 8); err != nil {
		return nil, err
	}
	ld.Weighting = uint8(v)
	if v, err = parseUint(f["Data Version"], 8); err != nil {
		return nil, err
	}
	ld.DataVersion = uint8(v)
	if v, err = parseUint(f["Stable Data Version"], 8); err != nil {
		return nil, err
	}
	ld.StableDataVersion = uint8(v)
	if v, err = parseUint(f["Leader Router ID"], 8); err != nil {
		return nil, err
	}
	ld.LeaderRouterID = uint8(v)
	return &ld, nil
}

func (s *Stack) Neighbors(ctx context.Context) ([]otstack.NeighborInfo, error) {
	lines, err := s.exec(ctx, "neighbor table")
	if err != nil {
		return nil, err
	}
	var out []otstack.NeighborInfo
	for _, row := range parseTable(lines) {
		var n otstack.NeighborInfo
		if n.Rloc16, err = parseHex16(row["RLOC16"]); err != nil {
			return nil, err
		}
		if n.ExtAddress, err = hexcodec.DecodeArray8(row["Extended MAC"]); err != nil {
			return nil, fmt.Errorf("ot-cli: neighbor mac: %w", err)
		}
		age, _ := parseUint(row["Age"], 32)
		n.Age = uint32(age)
		n.AverageRssi = parseInt8(row["Avg RSSI"])
		n.LastRssi = parseInt8(row["Last RSSI"])
		if lq, ok := row["LQ In"]; ok {
			v, _ := parseUint(lq, 8)
			n.LinkQualityIn = uint8(v)
		}
		n.IsChild = row["Role"] == "C"
		n.Mode = otstack.LinkMode{
			RxOnWhenIdle:       row["R"] == "1",
			SecureDataRequests: row["S"] == "1",
			FullThreadDevice:   row["D"] == "1",
			FullNetworkData:    row["N"] == "1",
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Stack) Parent(ctx context.Context) (*otstack.RouterInfo, error) {
	lines, err := s.exec(ctx, "parent")
	if err != nil {
		return nil, err
	}
	f := parseFields(lines)
	var p otstack.RouterInfo
	if p.ExtAddress, err = hexcodec.DecodeArray8(f["Ext Addr"]); err != nil {
		return nil, fmt.Errorf("ot-cli: parent ext addr: %w", err)
	}
	if p.Rloc16, err = parseHex16(f["Rloc"]); err != nil {
		return nil, err
	}
	p.RouterID = uint8(p.Rloc16 >> 10)
	lq, _ := parseUint(f["Link Quality In"], 8)
	p.LinkQualityIn = uint8(lq)
	age, _ := parseUint(f["Age"], 8)
	p.Age = uint8(age)
	return &p, nil
}

var macFilterModes = map[string]otstack.MacFilterMode{
	"disabled":  otstack.MacFilterDisabled,
	"allowlist": otstack.MacFilterAllowlist,
	"denylist":  otstack.MacFilterDenylist,
}

// macFilter reads "macfilter addr": the mode on the first line, then one
// address per line, optionally followed by " : rss".
func (s *Stack) macFilter(ctx context.Context) (otstack.MacFilterMode, [][8]byte, error) {
	lines, err := s.exec(ctx, "macfilter addr")
	if err != nil {
		return 0, nil, err
	}
	if len(lines) == 0 {
		return 0, nil, fmt.Errorf("ot-cli: empty macfilter reply")
	}
	mode, ok := macFilterModes[strings.ToLower(lines[0])]
	if !ok {
		return 0, nil, fmt.Errorf("ot-cli: unknown macfilter mode %q", lines[0])
	}
	var addrs [][8]byte
	for _, line := range lines[1:] {
		field, _, _ := strings.Cut(line, " ")
		a, err := hexcodec.DecodeArray8(field)
		if err != nil {
			return 0, nil, fmt.Errorf("ot-cli: macfilter entry %q: %w", line, err)
		}
		addrs = append(addrs, a)
	}
	return mode, addrs, nil
}

func (s *Stack) MacFilterMode(ctx context.Context) (otstack.MacFilterMode, error) {
	mode, _, err := s.macFilter(ctx)
	return mode, err
}

func (s *Stack) SetMacFilterMode(ctx context.Context, mode otstack.MacFilterMode) error {
	arg := "disable"
	switch mode {
	case otstack.MacFilterAllowlist:
		arg = "allowlist"
	case otstack.MacFilterDenylist:
		arg = "denylist"
	}
	_, err := s.exec(ctx, "macfilter addr %s", arg)
	return err
}

func (s *Stack) MacFilterAddresses(ctx context.Context) ([][8]byte, error) {
	_, addrs, err := s.macFilter(ctx)
	return addrs, err
}

func (s *Stack) MacFilterAdd(ctx context.Context, extAddr [8]byte) error {
	_, err := s.exec(ctx, "macfilter addr add %s", hexcodec.Encode(extAddr[:]))
	return err
}

func (s *Stack) MacFilterRemove(ctx context.Context, extAddr [8]byte) error {
	_, err := s.exec(ctx, "macfilter addr remove %s", hexcodec.Encode(extAddr[:]))
	return err
}

func (s *Stack) MacFilterClear(ctx context.Context) error {
	_, err := s.exec(ctx, "macfilter addr clear")
	return err
}

// ActiveScan runs an MLE discover scan, which reports the network name and
// joinable flag next to the beacon fields.
func (s *Stack) ActiveScan(ctx context.Context, handler func(*otstack.ScanResult)) error {
	var header []string
	onLine := func(line string) {
		if !strings.HasPrefix(line, "|") {
			return
		}
		cells := splitRow(line)
		if header == nil {
			header = cells
			return
		}
		r, err := scanResultFromRow(header, cells)
		if err != nil {
			s.logger.Warn("ot-cli bad scan row", "line", line, "err", err)
			return
		}
		s.worker.Post(func() { handler(r) })
	}
	finish := func(err error) {
		if err != nil {
			s.logger.Warn("ot-cli discover ended", "err", err)
		}
		s.worker.Post(func() { handler(nil) })
	}
	return s.stream(ctx, "discover", onLine, finish)
}

func scanResultFromRow(header, cells []string) (*otstack.ScanResult, error) {
	row := make(map[string]string, len(header))
	for i, name := range header {
		if i < len(cells) {
			row[name] = cells[i]
		}
	}
	r := &otstack.ScanResult{NetworkName: row["Network Name"], IsJoinable: row["J"] == "1"}
	var err error
	if r.ExtPanID, err = hexcodec.DecodeArray8(row["Extended PAN"]); err != nil {
		return nil, err
	}
	if r.ExtAddress, err = hexcodec.DecodeArray8(row["MAC Address"]); err != nil {
		return nil, err
	}
	if r.PanID, err = parseHex16(row["PAN"]); err != nil {
		return nil, err
	}
	ch, err := parseUint(row["Ch"], 8)
	if err != nil {
		return nil, err
	}
	r.Channel = uint8(ch)
	r.Rssi = parseInt8(row["dBm"])
	lqi, _ := parseUint(row["LQI"], 8)
	r.Lqi = uint8(lqi)
	return r, nil
}

func (s *Stack) SendDiagnosticGet(ctx context.Context, dst netip.Addr, tlvTypes []uint8) error {
	args := make([]string, len(tlvTypes))
	for i, t := range tlvTypes {
		args[i] = strconv.Itoa(int(t))
	}
	_, err := s.exec(ctx, "networkdiagnostic get %s %s", dst, strings.Join(args, " "))
	return err
}

func (s *Stack) OnDiagnosticResponse(handler func(otstack.DiagnosticResponse)) {
	s.handlerMu.Lock()
	s.onDiag = handler
	s.handlerMu.Unlock()
}

func (s *Stack) CommissionerState(ctx context.Context) (otstack.CommissionerState, error) {
	v, err := s.value(ctx, "commissioner state")
	if err != nil {
		return 0, err
	}
	state, ok := parseCommissionerState(v)
	if !ok {
		return 0, fmt.Errorf("ot-cli: unknown commissioner state %q", v)
	}
	return state, nil
}

func (s *Stack) CommissionerStart(ctx context.Context) error {
	_, err := s.exec(ctx, "commissioner start")
	return err
}

func (s *Stack) CommissionerStop(ctx context.Context) error {
	_, err := s.exec(ctx, "commissioner stop")
	return err
}

func (s *Stack) OnCommissionerState(handler func(otstack.CommissionerState)) {
	s.handlerMu.Lock()
	s.onCommish = handler
	s.handlerMu.Unlock()
}

func (s *Stack) OnJoinerEvent(handler func(otstack.JoinerEvent)) {
	s.handlerMu.Lock()
	s.onJoiner = handler
	s.handlerMu.Unlock()
}

func joinerArg(eui64 *[8]byte) string {
	if eui64 == nil {
		return "*"
	}
	return hexcodec.Encode(eui64[:])
}

func (s *Stack) AddJoiner(ctx context.Context, eui64 *[8]byte, pskd string, timeout time.Duration) error {
	if len(pskd) < otstack.MinPSKdLength || len(pskd) > otstack.MaxPSKdLength || strings.ContainsAny(pskd, " \\") || !validArg(pskd) {
		return otstack.ErrorInvalidArgs
	}
	_, err := s.exec(ctx, "commissioner joiner add %s %s %d", joinerArg(eui64), pskd, int(timeout.Seconds()))
	return err
}

func (s *Stack) RemoveJoiner(ctx context.Context, eui64 *[8]byte) error {
	_, err := s.exec(ctx, "commissioner joiner remove %s", joinerArg(eui64))
	return err
}

func (s *Stack) Joiners(ctx context.Context) ([]otstack.JoinerInfo, error) {
	lines, err := s.exec(ctx, "commissioner joiner table")
	if err != nil {
		return nil, err
	}
	var out []otstack.JoinerInfo
	for _, row := range parseTable(lines) {
		j := otstack.JoinerInfo{PSKd: row["PSKd"]}
		if id := row["ID"]; id == "*" {
			j.Any = true
		} else if j.EUI64, err = hexcodec.DecodeArray8(id); err != nil {
			return nil, fmt.Errorf("ot-cli: joiner id %q: %w", id, err)
		}
		ms, _ := parseUint(row["Expiration"], 32)
		j.Expiration = time.Duration(ms) * time.Millisecond
		out = append(out, j)
	}
	return out, nil
}

func (s *Stack) ActiveDataset(ctx context.Context) (*otstack.Dataset, error) {
	lines, err := s.exec(ctx, "dataset active")
	if err != nil {
		return nil, err
	}
	f := parseFields(lines)
	ds := &otstack.Dataset{}
	if v, ok := f["Active Timestamp"]; ok {
		if ds.ActiveTimestamp, err = parseUint(v, 64); err != nil {
			return nil, err
		}
	}
	if v, ok := f["Network Key"]; ok {
		if ds.NetworkKey, err = hexcodec.DecodeArray16(v); err != nil {
			return nil, err
		}
		ds.NetworkKeyPresent = true
	}
	if v, ok := f["Network Name"]; ok {
		ds.NetworkName, ds.NetworkNamePresent = v, true
	}
	if v, ok := f["Ext PAN ID"]; ok {
		if ds.ExtendedPanID, err = hexcodec.DecodeArray8(v); err != nil {
			return nil, err
		}
		ds.ExtendedPanIDPresent = true
	}
	if v, ok := f["PAN ID"]; ok {
		if ds.PanID, err = parseHex16(v); err != nil {
			return nil, err
		}
		ds.PanIDPresent = true
	}
	if v, ok := f["Channel"]; ok {
		ch, err := parseUint(v, 16)
		if err != nil {
			return nil, err
		}
		ds.Channel, ds.ChannelPresent = uint16(ch), true
	}
	if v, ok := f["PSKc"]; ok {
		if ds.PSKc, err = hexcodec.DecodeArray16(v); err != nil {
			return nil, err
		}
		ds.PSKcPresent = true
	}
	return ds, nil
}

func (s *Stack) SendMgmtActiveSet(ctx context.Context, ds *otstack.Dataset) error {
	if ds.NetworkNamePresent && (len(ds.NetworkName) > otstack.MaxNetworkNameLength || !validArg(ds.NetworkName)) {
		return otstack.ErrorInvalidArgs
	}
	args := []string{"dataset mgmtsetcommand active", "activetimestamp " + strconv.FormatUint(ds.ActiveTimestamp, 10)}
	if ds.ChannelPresent {
		args = append(args, "channel "+strconv.Itoa(int(ds.Channel)))
	}
	if ds.PanIDPresent {
		args = append(args, fmt.Sprintf("panid 0x%04x", ds.PanID))
	}
	if ds.ExtendedPanIDPresent {
		args = append(args, "extpanid "+hexcodec.Encode(ds.ExtendedPanID[:]))
	}
	if ds.NetworkNamePresent {
		args = append(args, "networkname "+escapeArg(ds.NetworkName))
	}
	if ds.NetworkKeyPresent {
		args = append(args, "networkkey "+hexcodec.Encode(ds.NetworkKey[:]))
	}
	if ds.PSKcPresent {
		args = append(args, "pskc "+hexcodec.Encode(ds.PSKc[:]))
	}
	_, err := s.exec(ctx, "%s", strings.Join(args, " "))
	return err
}
