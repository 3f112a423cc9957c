package gateway

import (
	"context"
	"testing"
	"time"

	"otbr-gateway/internal/otstack"
	"otbr-gateway/internal/otstack/sim"
)

func TestScan(t *testing.T) {
	env := newTestEnv(t, nil)
	done := subscribe(env.g, EventScanComplete)

	doc := expectCode(t, env.g, "scan", "", otstack.ErrorInvalidState)
	if list := doc.Field("scan_list"); list == nil || len(list.Children) != 0 {
		t.Errorf("scan_list on failure = %+v", list)
	}

	expectCode(t, env.g, "threadstart", "", otstack.ErrorNone)
	doc = expectCode(t, env.g, "scan", "", otstack.ErrorNone)
	list := doc.Field("scan_list")
	if list == nil || list.Kind != KindArray || len(list.Children) != 2 {
		t.Fatalf("scan_list = %+v", list)
	}
	first := list.Children[0]
	if first.Field("NetworkName").Str != "OpenThread" ||
		first.Field("PanId").Str != "0xface" ||
		first.Field("ExtendedPanId").Str != "dead00beef00cafe" ||
		first.Field("Rssi").Int != -42 ||
		first.Field("IsJoinable").Int != 0 {
		t.Errorf("first result = %+v", first)
	}
	if list.Children[1].Field("IsJoinable").Int != 1 {
		t.Error("second network should be joinable")
	}
	if env.g.scanning.Load() {
		t.Error("scan flag still set")
	}
	ev := waitEvents(t, done, 1)[0]
	if data, _ := ev.Data.(map[string]any); data["networks"] != 2 {
		t.Errorf("scan event = %v", ev.Data)
	}

	// Back to idle: a second scan runs normally.
	expectCode(t, env.g, "scan", "", otstack.ErrorNone)
}

func TestScanSingleFlightAndTimeout(t *testing.T) {
	env := newTestEnv(t, []sim.Option{sim.WithScanDelay(time.Hour)})
	expectCode(t, env.g, "threadstart", "", otstack.ErrorNone)

	first := make(chan *Document, 1)
	go func() {
		doc, _ := env.g.Call(context.Background(), "scan", nil)
		first <- doc
	}()

	// The first scan is waiting once its timeout is armed.
	if err := env.clock.WaitAdvance(0, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	expectCode(t, env.g, "scan", "", otstack.ErrorBusy)

	env.clock.Advance(30 * time.Second)
	var doc *Document
	select {
	case doc = <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not time out")
	}
	if got := errCode(t, doc); got != otstack.ErrorResponseTimeout {
		t.Errorf("Error = %v, want ResponseTimeout", got)
	}
	if list := doc.Field("scan_list"); list == nil || list.Kind != KindArray {
		t.Errorf("scan_list = %+v", list)
	}
	if env.g.scanning.Load() {
		t.Error("scan flag still set after timeout")
	}
	if !env.gate.TryLock() {
		t.Fatal("gate held after timeout")
	}
	env.gate.Unlock()
}
