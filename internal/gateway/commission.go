package gateway

import (
	"context"
	"fmt"

	"otbr-gateway/internal/hexcodec"
	"otbr-gateway/internal/otstack"
)

// anyJoiner selects the wildcard joiner entry.
const anyJoiner = "*"

func (g *Gateway) handleCommissionerStart(ctx context.Context, _ *Request) error {
	return g.withStack(func(st otstack.Stack) error {
		state, err := st.CommissionerState(ctx)
		if err != nil {
			return err
		}
		if state != otstack.CommissionerDisabled {
			return nil
		}
		return st.CommissionerStart(ctx)
	})
}

// parseJoinerID decodes an eui64 parameter. Absent and "*" both mean any joiner.
func parseJoinerID(s string, ok bool) (*[8]byte, error) {
	if !ok || s == anyJoiner {
		return nil, nil
	}
	id, err := hexcodec.DecodeArray8(s)
	if err != nil {
		return nil, parseError("eui64", err)
	}
	return &id, nil
}

func (g *Gateway) handleJoinerAdd(ctx context.Context, req *Request) error {
	pskd, _ := req.Params.String("pskd")
	id, err := parseJoinerID(req.Params.String("eui64"))
	if err != nil {
		return err
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.AddJoiner(ctx, id, pskd, g.cfg.JoinerTimeout)
	})
}

func (g *Gateway) handleJoinerRemove(ctx context.Context, req *Request) error {
	id, err := parseJoinerID(req.Params.String("eui64"))
	if err != nil {
		return err
	}
	return g.withStack(func(st otstack.Stack) error {
		return st.RemoveJoiner(ctx, id)
	})
}

func getJoiners(ctx context.Context, st otstack.Stack, doc *Document) error {
	joiners, err := st.Joiners(ctx)
	if err != nil {
		return err
	}
	doc.OpenArray("joinerList")
	for _, j := range joiners {
		doc.OpenTable("")
		doc.AddString("pskc", j.PSKd)
		doc.AddString("eui64", hexcodec.Encode(j.EUI64[:]))
		isAny := int64(0)
		if j.Any {
			isAny = 1
		}
		doc.AddInt("isAny", isAny)
		doc.Close()
	}
	doc.Close()
	doc.AddInt("joinernum", int64(len(joiners)))
	return nil
}

// datasetUpdate holds the parsed mgmtset fields; nil means absent.
type datasetUpdate struct {
	networkKey  *[16]byte
	networkName *string
	extPanID    *[8]byte
	panID       *uint16
	channel     *uint16
	pskc        *[16]byte
}

func parseDatasetUpdate(p Params) (*datasetUpdate, error) {
	u := &datasetUpdate{}
	if s, ok := p.String("masterkey"); ok {
		key, err := hexcodec.DecodeArray16(s)
		if err != nil {
			return nil, parseError("masterkey", err)
		}
		u.networkKey = &key
	}
	if s, ok := p.String("networkname"); ok {
		if len(s) > otstack.MaxNetworkNameLength {
			return nil, fmt.Errorf("networkname longer than %d bytes: %w", otstack.MaxNetworkNameLength, otstack.ErrorParse)
		}
		u.networkName = &s
	}
	if s, ok := p.String("extpanid"); ok {
		xp, err := hexcodec.DecodeArray8(s)
		if err != nil {
			return nil, parseError("extpanid", err)
		}
		u.extPanID = &xp
	}
	if s, ok := p.String("panid"); ok {
		v, err := parseNumber(s)
		if err != nil {
			return nil, err
		}
		if v < 0 || v > 0xffff {
			return nil, fmt.Errorf("pan id %d: %w", v, otstack.ErrorInvalidArgs)
		}
		panID := uint16(v)
		u.panID = &panID
	}
	if s, ok := p.String("channel"); ok {
		v, err := parseNumber(s)
		if err != nil {
			return nil, err
		}
		if v < 0 || v > 0xffff {
			return nil, fmt.Errorf("channel %d: %w", v, otstack.ErrorInvalidArgs)
		}
		ch := uint16(v)
		u.channel = &ch
	}
	if s, ok := p.String("pskc"); ok {
		pskc, err := hexcodec.DecodeArray16(s)
		if err != nil {
			return nil, parseError("pskc", err)
		}
		u.pskc = &pskc
	}
	return u, nil
}

func (u *datasetUpdate) apply(ds *otstack.Dataset) {
	if u.networkKey != nil {
		ds.NetworkKey, ds.NetworkKeyPresent = *u.networkKey, true
	}
	if u.networkName != nil {
		ds.NetworkName, ds.NetworkNamePresent = *u.networkName, true
	}
	if u.extPanID != nil {
		ds.ExtendedPanID, ds.ExtendedPanIDPresent = *u.extPanID, true
	}
	if u.panID != nil {
		ds.PanID, ds.PanIDPresent = *u.panID, true
	}
	if u.channel != nil {
		ds.Channel, ds.ChannelPresent = *u.channel, true
	}
	if u.pskc != nil {
		ds.PSKc, ds.PSKcPresent = *u.pskc, true
	}
}

// handleMgmtSet sends the active dataset with the requested changes applied
// and its timestamp bumped, so the leader distributes it to the partition.
func (g *Gateway) handleMgmtSet(ctx context.Context, req *Request) error {
	update, err := parseDatasetUpdate(req.Params)
	if err != nil {
		return err
	}
	return g.withStack(func(st otstack.Stack) error {
		ds, err := st.ActiveDataset(ctx)
		if err != nil {
			return fmt.Errorf("active dataset: %w", err)
		}
		update.apply(ds)
		ds.ActiveTimestamp++

		state, err := st.CommissionerState(ctx)
		if err != nil {
			return err
		}
		if state == otstack.CommissionerDisabled {
			if err := st.CommissionerStop(ctx); err != nil {
				g.logger.Debug("stop disabled commissioner before mgmtset", "err", err)
			}
		}
		return st.SendMgmtActiveSet(ctx, ds)
	})
}

// handleCommissionerState runs on the stack worker.
func (g *Gateway) handleCommissionerState(state otstack.CommissionerState) {
	g.logger.Info("commissioner state " + state.String())
	g.emit(EventCommissionerState, map[string]any{"state": state.String()})
}

// handleJoinerEvent runs on the stack worker.
func (g *Gateway) handleJoinerEvent(ev otstack.JoinerEvent) {
	id := hexcodec.Encode(ev.JoinerID[:])
	g.logger.Info("joiner "+ev.Type.String(), "joiner_id", id)
	g.emit(EventJoiner, map[string]any{"event": ev.Type.String(), "joiner_id": id})
}
