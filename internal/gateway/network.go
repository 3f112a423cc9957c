package gateway

import (
	"context"
	"fmt"
	"time"

	"otbr-gateway/internal/hexcodec"
	"otbr-gateway/internal/otstack"
	"otbr-gateway/internal/store"
)

// Network is the operational configuration applied at startup.
type Network struct {
	Channel     uint8
	PanID       uint16
	ExtPanID    [8]byte
	NetworkName string
	// NetworkKey is left unchanged on the stack when nil.
	NetworkKey *[16]byte
}

// Start brings the Thread interface up. If the stored state and the stack
// both already match n, Thread is started as is; otherwise the parameters
// are applied first and the new state is stored.
func (g *Gateway) Start(ctx context.Context, n Network) error {
	if g.canResumeNetwork(ctx, n) {
		g.logger.Info("resuming existing network...")
		if err := g.withStack(func(st otstack.Stack) error { return bringUp(ctx, st) }); err != nil {
			return fmt.Errorf("resume network: %w", err)
		}
		g.logger.Info("network resumed", "channel", n.Channel, "panID", fmt.Sprintf("0x%04X", n.PanID))
		g.emit(EventNetworkState, networkState("started"))
		return nil
	}

	g.logger.Info("applying network parameters...")
	err := g.withStack(func(st otstack.Stack) error {
		if err := st.SetThreadEnabled(ctx, false); err != nil {
			return fmt.Errorf("thread down: %w", err)
		}
		if err := st.SetChannel(ctx, n.Channel); err != nil {
			return fmt.Errorf("set channel: %w", err)
		}
		if err := st.SetPanID(ctx, n.PanID); err != nil {
			return fmt.Errorf("set pan id: %w", err)
		}
		if err := st.SetExtendedPanID(ctx, n.ExtPanID); err != nil {
			return fmt.Errorf("set extended pan id: %w", err)
		}
		if n.NetworkName != "" {
			if err := st.SetNetworkName(ctx, n.NetworkName); err != nil {
				return fmt.Errorf("set network name: %w", err)
			}
		}
		if n.NetworkKey != nil {
			if err := st.SetNetworkKey(ctx, *n.NetworkKey); err != nil {
				return fmt.Errorf("set network key: %w", err)
			}
		}
		return bringUp(ctx, st)
	})
	if err != nil {
		return err
	}

	g.saveNetworkState(n)
	g.logger.Info("network started", "channel", n.Channel, "panID", fmt.Sprintf("0x%04X", n.PanID))
	g.emit(EventNetworkState, networkState("started"))
	return nil
}

func bringUp(ctx context.Context, st otstack.Stack) error {
	if err := st.SetIP6Enabled(ctx, true); err != nil {
		return fmt.Errorf("ip6 up: %w", err)
	}
	if err := st.SetThreadEnabled(ctx, true); err != nil {
		return fmt.Errorf("thread up: %w", err)
	}
	return nil
}

// canResumeNetwork checks the stored state and the live stack parameters
// against n.
func (g *Gateway) canResumeNetwork(ctx context.Context, n Network) bool {
	if g.store == nil {
		return false
	}
	ns, err := g.store.GetNetworkState()
	if err != nil || !ns.Formed {
		return false
	}
	if ns.Channel != n.Channel || ns.PanID != n.PanID || ns.ExtPanID != hexcodec.Encode(n.ExtPanID[:]) {
		return false
	}
	if n.NetworkName != "" && ns.NetworkName != n.NetworkName {
		return false
	}
	if n.NetworkKey != nil && ns.NetworkKey != hexcodec.Encode(n.NetworkKey[:]) {
		return false
	}

	var match bool
	err = g.withStack(func(st otstack.Stack) error {
		ch, err := st.Channel(ctx)
		if err != nil {
			return err
		}
		panID, err := st.PanID(ctx)
		if err != nil {
			return err
		}
		xp, err := st.ExtendedPanID(ctx)
		if err != nil {
			return err
		}
		match = ch == n.Channel && panID == n.PanID && xp == n.ExtPanID
		return nil
	})
	if err != nil {
		g.logger.Warn("read stack parameters", "err", err)
		return false
	}
	return match
}

func (g *Gateway) saveNetworkState(n Network) {
	if g.store == nil {
		return
	}
	ns := &store.NetworkState{
		Channel:     n.Channel,
		PanID:       n.PanID,
		ExtPanID:    hexcodec.Encode(n.ExtPanID[:]),
		NetworkName: n.NetworkName,
		Formed:      true,
		FormedAt:    g.clock.Now().UTC(),
	}
	if n.NetworkKey != nil {
		ns.NetworkKey = hexcodec.Encode(n.NetworkKey[:])
	}
	if err := g.store.SaveNetworkState(ns); err != nil {
		g.logger.Error("save network state", "err", err)
	}
}

// Status is a summary of the stack for dashboards and availability topics.
type Status struct {
	Role        string    `json:"role"`
	NetworkName string    `json:"network_name"`
	Channel     uint8     `json:"channel"`
	PanID       string    `json:"pan_id"`
	ExtPanID    string    `json:"ext_pan_id"`
	Rloc16      string    `json:"rloc16"`
	Time        time.Time `json:"time"`
}

// Status reads the current role and operational parameters.
func (g *Gateway) Status(ctx context.Context) (*Status, error) {
	s := &Status{Time: g.clock.Now().UTC()}
	err := g.withStack(func(st otstack.Stack) error {
		role, err := st.DeviceRole(ctx)
		if err != nil {
			return err
		}
		s.Role = role.String()
		if s.NetworkName, err = st.NetworkName(ctx); err != nil {
			return err
		}
		if s.Channel, err = st.Channel(ctx); err != nil {
			return err
		}
		panID, err := st.PanID(ctx)
		if err != nil {
			return err
		}
		s.PanID = hex16(panID)
		xp, err := st.ExtendedPanID(ctx)
		if err != nil {
			return err
		}
		s.ExtPanID = hexcodec.Encode(xp[:])
		rloc, err := st.Rloc16(ctx)
		if err != nil {
			return err
		}
		s.Rloc16 = hex16(rloc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	return s, nil
}
