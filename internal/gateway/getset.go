package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"otbr-gateway/internal/hexcodec"
	"otbr-gateway/internal/otstack"
)

// getter reads from the stack and appends to the reply. It runs with the
// gate held.
type getter func(ctx context.Context, st otstack.Stack, doc *Document) error

func (g *Gateway) getHandler(get getter) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		return g.withStack(func(st otstack.Stack) error {
			return get(ctx, st, req.Reply)
		})
	}
}

func hex16(v uint16) string {
	return fmt.Sprintf("0x%04x", v)
}

// parseNumber accepts decimal, 0x-prefixed hex and 0-prefixed octal.
func parseNumber(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, otstack.ErrorParse)
	}
	return v, nil
}

func parseError(what string, err error) error {
	return fmt.Errorf("%s: %v: %w", what, err, otstack.ErrorParse)
}

func getNetworkName(ctx context.Context, st otstack.Stack, doc *Document) error {
	name, err := st.NetworkName(ctx)
	if err != nil {
		return err
	}
	doc.AddString("NetworkName", name)
	return nil
}

func getState(ctx context.Context, st otstack.Stack, doc *Document) error {
	role, err := st.DeviceRole(ctx)
	if err != nil {
		return err
	}
	doc.AddString("State", role.String())
	return nil
}

func getChannel(ctx context.Context, st otstack.Stack, doc *Document) error {
	ch, err := st.Channel(ctx)
	if err != nil {
		return err
	}
	doc.AddInt("Channel", int64(ch))
	return nil
}

func getPanID(ctx context.Context, st otstack.Stack, doc *Document) error {
	panID, err := st.PanID(ctx)
	if err != nil {
		return err
	}
	doc.AddString("PanId", hex16(panID))
	return nil
}

func getRloc16(ctx context.Context, st otstack.Stack, doc *Document) error {
	rloc, err := st.Rloc16(ctx)
	if err != nil {
		return err
	}
	doc.AddString("rloc16", hex16(rloc))
	return nil
}

func getNetworkKey(ctx context.Context, st otstack.Stack, doc *Document) error {
	key, err := st.NetworkKey(ctx)
	if err != nil {
		return err
	}
	doc.AddString("Masterkey", hexcodec.Encode(key[:]))
	return nil
}

func getPSKc(ctx context.Context, st otstack.Stack, doc *Document) error {
	pskc, err := st.PSKc(ctx)
	if err != nil {
		return err
	}
	doc.AddString("pskc", hexcodec.Encode(pskc[:]))
	return nil
}

func getExtPanID(ctx context.Context, st otstack.Stack, doc *Document) error {
	xp, err := st.ExtendedPanID(ctx)
	if err != nil {
		return err
	}
	doc.AddString("ExtPanId", hexcodec.Encode(xp[:]))
	return nil
}

func getMode(ctx context.Context, st otstack.Stack, doc *Document) error {
	mode, err := st.LinkMode(ctx)
	if err != nil {
		return err
	}
	doc.AddString("Mode", mode.String())
	return nil
}

func getLeaderPartitionID(ctx context.Context, st otstack.Stack, doc *Document) error {
	id, err := st.LocalLeaderPartitionID(ctx)
	if err != nil {
		return err
	}
	doc.AddInt("Leaderpartitionid", int64(id))
	return nil
}

func getLeaderData(ctx context.Context, st otstack.Stack, doc *Document) error {
	ld, err := st.LeaderData(ctx)
	if err != nil {
		return err
	}
	doc.OpenTable("leaderdata")
	doc.AddInt("PartitionId", int64(ld.PartitionID))
	doc.AddInt("Weighting", int64(ld.Weighting))
	doc.AddInt("DataVersion", int64(ld.DataVersion))
	doc.AddInt("StableDataVersion", int64(ld.StableDataVersion))
	doc.AddInt("LeaderRouterId", int64(ld.LeaderRouterID))
	doc.Close()
	return nil
}

func getNeighbors(ctx context.Context, st otstack.Stack, doc *Document) error {
	doc.OpenArray("neighbor_list")
	defer doc.Close()
	neighbors, err := st.Neighbors(ctx)
	if err != nil {
		return err
	}
	for _, n := range neighbors {
		doc.OpenTable("")
		role := "R"
		if n.IsChild {
			role = "C"
		}
		doc.AddString("Role", role)
		doc.AddString("Rloc16", hex16(n.Rloc16))
		doc.AddString("Age", fmt.Sprintf("%3d", n.Age))
		doc.AddString("AvgRssi", fmt.Sprintf("%8d", n.AverageRssi))
		doc.AddString("LastRssi", fmt.Sprintf("%9d", n.LastRssi))
		doc.AddString("Mode", n.Mode.String())
		doc.AddString("ExtAddress", hexcodec.Encode(n.ExtAddress[:]))
		doc.AddInt("LinkQualityIn", int64(n.LinkQualityIn))
		doc.Close()
	}
	return nil
}

func getParent(ctx context.Context, st otstack.Stack, doc *Document) error {
	p, err := st.Parent(ctx)
	if err != nil {
		return err
	}
	doc.OpenArray("parent_list")
	doc.OpenTable("parent")
	doc.AddString("Role", "R")
	doc.AddString("Rloc16", hex16(p.Rloc16))
	doc.AddString("Age", fmt.Sprintf("%3d", p.Age))
	doc.AddString("ExtAddress", hexcodec.Encode(p.ExtAddress[:]))
	doc.AddInt("LinkQualityIn", int64(p.LinkQualityIn))
	doc.Close()
	doc.Close()
	return nil
}

var macFilterModeNames = map[otstack.MacFilterMode]string{
	otstack.MacFilterDisabled:  "disable",
	otstack.MacFilterAllowlist: "whitelist",
	otstack.MacFilterDenylist:  "blacklist",
}

func getMacFilterState(ctx context.Context, st otstack.Stack, doc *Document) error {
	mode, err := st.MacFilterMode(ctx)
	if err != nil {
		return err
	}
	name, ok := macFilterModeNames[mode]
	if !ok {
		name = "error"
	}
	doc.AddString("state", name)
	return nil
}

func getMacFilterAddrs(ctx context.Context, st otstack.Stack, doc *Document) error {
	doc.OpenArray("addrlist")
	defer doc.Close()
	addrs, err := st.MacFilterAddresses(ctx)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		doc.AddString("addr", hexcodec.Encode(a[:]))
	}
	return nil
}

// Setters. A missing parameter leaves the stack untouched and succeeds.
// Parameters are parsed before the gate is taken, so a parse failure never
// reaches the stack.

func (g *Gateway) handleSetChannel(ctx context.Context, req *Request) error {
	v, ok := req.Params.Int32("channel")
	if !ok {
		return nil
	}
	if v < 0 || v > 0xff {
		return fmt.Errorf("channel %d: %w", v, otstack.ErrorInvalidArgs)
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.SetChannel(ctx, uint8(v))
	})
}

func (g *Gateway) handleSetNetworkName(ctx context.Context, req *Request) error {
	name, ok := req.Params.String("networkname")
	if !ok {
		return nil
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.SetNetworkName(ctx, name)
	})
}

func (g *Gateway) handleSetPanID(ctx context.Context, req *Request) error {
	s, ok := req.Params.String("panid")
	if !ok {
		return nil
	}
	v, err := parseNumber(s)
	if err != nil {
		return err
	}
	if v < 0 || v > 0xffff {
		return fmt.Errorf("pan id %d: %w", v, otstack.ErrorInvalidArgs)
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.SetPanID(ctx, uint16(v))
	})
}

func (g *Gateway) handleSetExtPanID(ctx context.Context, req *Request) error {
	s, ok := req.Params.String("extpanid")
	if !ok {
		return nil
	}
	xp, err := hexcodec.DecodeArray8(s)
	if err != nil {
		return parseError("extpanid", err)
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.SetExtendedPanID(ctx, xp)
	})
}

func (g *Gateway) handleSetNetworkKey(ctx context.Context, req *Request) error {
	s, ok := req.Params.String("masterkey")
	if !ok {
		return nil
	}
	key, err := hexcodec.DecodeArray16(s)
	if err != nil {
		return parseError("masterkey", err)
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.SetNetworkKey(ctx, key)
	})
}

func (g *Gateway) handleSetPSKc(ctx context.Context, req *Request) error {
	s, ok := req.Params.String("pskc")
	if !ok {
		return nil
	}
	pskc, err := hexcodec.DecodeArray16(s)
	if err != nil {
		return parseError("pskc", err)
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.SetPSKc(ctx, pskc)
	})
}

func (g *Gateway) handleSetMode(ctx context.Context, req *Request) error {
	s, ok := req.Params.String("mode")
	if !ok {
		return nil
	}
	mode, err := otstack.ParseLinkMode(s)
	if err != nil {
		return fmt.Errorf("mode %q: %w", s, err)
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.SetLinkMode(ctx, mode)
	})
}

func (g *Gateway) handleSetLeaderPartitionID(ctx context.Context, req *Request) error {
	v, ok := req.Params.Int32("leaderpartitionid")
	if !ok {
		return nil
	}
	if v < 0 {
		return fmt.Errorf("leader partition id %d: %w", v, otstack.ErrorInvalidArgs)
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.SetLocalLeaderPartitionID(ctx, uint32(v))
	})
}

func (g *Gateway) handleThreadStart(ctx context.Context, _ *Request) error {
	err := g.withStack(func(st otstack.Stack) error {
		if err := st.SetIP6Enabled(ctx, true); err != nil {
			return err
		}
		return st.SetThreadEnabled(ctx, true)
	})
	if err == nil {
		g.emit(EventNetworkState, networkState("started"))
	}
	return err
}

func (g *Gateway) handleThreadStop(ctx context.Context, _ *Request) error {
	err := g.withStack(func(st otstack.Stack) error {
		if err := st.SetThreadEnabled(ctx, false); err != nil {
			return err
		}
		return st.SetIP6Enabled(ctx, false)
	})
	if err == nil {
		g.emit(EventNetworkState, networkState("stopped"))
	}
	return err
}

func (g *Gateway) handleLeave(ctx context.Context, _ *Request) error {
	err := g.withStack(func(st otstack.Stack) error {
		if err := st.FactoryReset(ctx); err != nil {
			return err
		}
		g.diag.invalidate()
		if err := st.Wake(); err != nil {
			return fmt.Errorf("wake stack: %w", err)
		}
		return nil
	})
	if err == nil {
		g.emit(EventNetworkState, networkState("left"))
	}
	return err
}

func (g *Gateway) handleMacFilterSetState(ctx context.Context, req *Request) error {
	s, ok := req.Params.String("state")
	if !ok {
		return nil
	}
	mode, found := otstack.MacFilterMode(0), false
	for m, name := range macFilterModeNames {
		if name == s {
			mode, found = m, true
			break
		}
	}
	if !found {
		return fmt.Errorf("mac filter state %q: %w", s, otstack.ErrorInvalidArgs)
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.SetMacFilterMode(ctx, mode)
	})
}

func (g *Gateway) handleMacFilterAdd(ctx context.Context, req *Request) error {
	s, ok := req.Params.String("addr")
	if !ok {
		return nil
	}
	addr, err := hexcodec.DecodeArray8(s)
	if err != nil {
		return parseError("addr", err)
	}
	return g.withStack(func(st otstack.Stack) error {
		err := st.MacFilterAdd(ctx, addr)
		if errors.Is(err, otstack.ErrorAlready) {
			return nil
		}
		return err
	})
}

func (g *Gateway) handleMacFilterRemove(ctx context.Context, req *Request) error {
	s, ok := req.Params.String("addr")
	if !ok {
		return nil
	}
	addr, err := hexcodec.DecodeArray8(s)
	if err != nil {
		return parseError("addr", err)
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.MacFilterRemove(ctx, addr)
	})
}

func (g *Gateway) handleMacFilterClear(ctx context.Context, _ *Request) error {
	return g.withStack(func(st otstack.Stack) error {
		return st.MacFilterClear(ctx)
	})
}
