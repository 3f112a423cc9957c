package sim

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"otbr-gateway/internal/otstack"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStack(t *testing.T, opts ...Option) *Stack {
	t.Helper()
	var gate sync.Mutex
	s := New(&gate, newTestLogger(), append([]Option{WithScanDelay(time.Millisecond)}, opts...)...)
	t.Cleanup(func() { s.Close() })
	return s
}

func start(t *testing.T, s *Stack) {
	t.Helper()
	ctx := context.Background()
	if err := s.SetIP6Enabled(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetThreadEnabled(ctx, true); err != nil {
		t.Fatal(err)
	}
}

func TestChannelValidation(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	if err := s.SetChannel(ctx, 10); !errors.Is(err, otstack.ErrorInvalidArgs) {
		t.Errorf("channel 10: err = %v", err)
	}
	if err := s.SetChannel(ctx, 15); err != nil {
		t.Fatal(err)
	}
	ch, _ := s.Channel(ctx)
	if ch != 15 {
		t.Errorf("channel = %d, want 15", ch)
	}

	start(t, s)
	if err := s.SetChannel(ctx, 20); !errors.Is(err, otstack.ErrorInvalidState) {
		t.Errorf("set while running: err = %v", err)
	}
}

func TestThreadNeedsIP6(t *testing.T) {
	s := newTestStack(t)
	if err := s.SetThreadEnabled(context.Background(), true); !errors.Is(err, otstack.ErrorInvalidState) {
		t.Errorf("err = %v, want InvalidState", err)
	}
}

func TestMacFilterDuplicate(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	addr := [8]byte{0, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}

	if err := s.MacFilterAdd(ctx, addr); err != nil {
		t.Fatal(err)
	}
	if err := s.MacFilterAdd(ctx, addr); !errors.Is(err, otstack.ErrorAlready) {
		t.Errorf("second add: err = %v", err)
	}
	addrs, _ := s.MacFilterAddresses(ctx)
	if len(addrs) != 1 {
		t.Errorf("addresses = %d, want 1", len(addrs))
	}
	if err := s.MacFilterRemove(ctx, [8]byte{}); !errors.Is(err, otstack.ErrorNotFound) {
		t.Errorf("remove missing: err = %v", err)
	}
}

func TestActiveScan(t *testing.T) {
	s := newTestStack(t)
	start(t, s)

	results := make(chan *otstack.ScanResult, 8)
	if err := s.ActiveScan(context.Background(), func(r *otstack.ScanResult) { results <- r }); err != nil {
		t.Fatal(err)
	}
	if err := s.ActiveScan(context.Background(), func(*otstack.ScanResult) {}); !errors.Is(err, otstack.ErrorBusy) {
		t.Errorf("overlapping scan: err = %v", err)
	}

	var names []string
	for {
		select {
		case r := <-results:
			if r == nil {
				if len(names) != 2 || names[0] != "OpenThread" || names[1] != "Neighbor" {
					t.Errorf("names = %v", names)
				}
				return
			}
			names = append(names, r.NetworkName)
		case <-time.After(2 * time.Second):
			t.Fatal("scan did not finish")
		}
	}
}

func TestDiagnosticGetFiltersTLVs(t *testing.T) {
	s := newTestStack(t)
	start(t, s)

	got := make(chan otstack.DiagnosticResponse, 4)
	s.OnDiagnosticResponse(func(r otstack.DiagnosticResponse) { got <- r })
	if err := s.SendDiagnosticGet(context.Background(), otstack.DiagnosticMulticast, []uint8{otstack.DiagTLVRoute}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		select {
		case r := <-got:
			if !otstack.IsRoutingLocator(r.Peer) {
				t.Errorf("peer %s is not a locator", r.Peer)
			}
			for _, tlv := range r.TLVs {
				if tlv.Type != otstack.DiagTLVRoute {
					t.Errorf("unexpected tlv type %d", tlv.Type)
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatal("missing diagnostic response")
		}
	}
}

func TestCommissionerLifecycle(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	if err := s.CommissionerStart(ctx); !errors.Is(err, otstack.ErrorInvalidState) {
		t.Errorf("start detached: err = %v", err)
	}
	start(t, s)

	states := make(chan otstack.CommissionerState, 4)
	s.OnCommissionerState(func(st otstack.CommissionerState) { states <- st })
	if err := s.CommissionerStart(ctx); err != nil {
		t.Fatal(err)
	}
	for _, want := range []otstack.CommissionerState{otstack.CommissionerPetition, otstack.CommissionerActive} {
		select {
		case st := <-states:
			if st != want {
				t.Errorf("state = %s, want %s", st, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("missing state event")
		}
	}
	if err := s.CommissionerStart(ctx); !errors.Is(err, otstack.ErrorAlready) {
		t.Errorf("second start: err = %v", err)
	}
}

func TestJoinerTable(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	eui := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}

	if err := s.AddJoiner(ctx, nil, "", time.Minute); !errors.Is(err, otstack.ErrorInvalidArgs) {
		t.Errorf("empty pskd: err = %v", err)
	}
	if err := s.AddJoiner(ctx, nil, "ABCD", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJoiner(ctx, &eui, "J01NME", time.Minute); err != nil {
		t.Fatal(err)
	}
	joiners, _ := s.Joiners(ctx)
	if len(joiners) != 2 || !joiners[0].Any || joiners[1].EUI64 != eui {
		t.Fatalf("joiners = %+v", joiners)
	}
	if err := s.RemoveJoiner(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJoiner(ctx, nil); !errors.Is(err, otstack.ErrorNotFound) {
		t.Errorf("remove twice: err = %v", err)
	}
}

func TestMgmtActiveSetTimestamp(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	start(t, s)

	ds, _ := s.ActiveDataset(ctx)
	if err := s.SendMgmtActiveSet(ctx, ds); !errors.Is(err, otstack.ErrorInvalidArgs) {
		t.Errorf("stale timestamp: err = %v", err)
	}
	ds.ActiveTimestamp++
	ds.NetworkName = "Renamed"
	if err := s.SendMgmtActiveSet(ctx, ds); err != nil {
		t.Fatal(err)
	}
	name, _ := s.NetworkName(ctx)
	if name != "Renamed" {
		t.Errorf("name = %q", name)
	}
}

func TestFactoryReset(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	start(t, s)
	if err := s.FactoryReset(ctx); err != nil {
		t.Fatal(err)
	}
	role, _ := s.DeviceRole(ctx)
	if role != otstack.RoleDisabled {
		t.Errorf("role = %s after reset", role)
	}
}
