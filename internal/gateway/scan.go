package gateway

import (
	"context"
	"fmt"

	"otbr-gateway/internal/hexcodec"
	"otbr-gateway/internal/otstack"
)

// ErrScanInProgress is returned when a scan is requested while another one
// has not reached its terminal callback.
var ErrScanInProgress = fmt.Errorf("scan already in progress: %w", otstack.ErrorBusy)

// handleScan starts an active scan and blocks until the stack reports the
// end of the scan or the scan timeout expires. Results are delivered by the
// worker with the gate held, so the handler waits without holding it.
func (g *Gateway) handleScan(ctx context.Context, req *Request) error {
	if !g.scanning.CompareAndSwap(false, true) {
		return ErrScanInProgress
	}
	defer g.scanning.Store(false)
	if g.metrics != nil {
		g.metrics.scanInFlight.Inc()
		defer g.metrics.scanInFlight.Dec()
	}

	doc := req.Reply
	doc.OpenArray("scan_list")
	defer doc.Close()

	results := make(chan *otstack.ScanResult)
	done := make(chan struct{})
	defer close(done)

	err := g.withStack(func(st otstack.Stack) error {
		return st.ActiveScan(ctx, func(r *otstack.ScanResult) {
			select {
			case results <- r:
			case <-done:
			}
		})
	})
	if err != nil {
		return err
	}
	if err := g.stack.Wake(); err != nil {
		return fmt.Errorf("wake stack: %w", err)
	}

	timeout := g.clock.After(g.cfg.ScanTimeout)
	found := 0
	for {
		select {
		case r := <-results:
			if r == nil {
				g.logger.Debug("scan done", "networks", found)
				g.emit(EventScanComplete, map[string]any{"networks": found})
				return nil
			}
			appendScanResult(doc, r)
			found++
		case <-timeout:
			g.logger.Warn("scan timed out", "timeout", g.cfg.ScanTimeout, "networks", found)
			return fmt.Errorf("scan: %w", otstack.ErrorResponseTimeout)
		}
	}
}

func appendScanResult(doc *Document, r *otstack.ScanResult) {
	joinable := int64(0)
	if r.IsJoinable {
		joinable = 1
	}
	doc.OpenTable("")
	doc.AddInt("IsJoinable", joinable)
	doc.AddString("NetworkName", r.NetworkName)
	doc.AddString("ExtendedPanId", hexcodec.Encode(r.ExtPanID[:]))
	doc.AddString("PanId", hex16(r.PanID))
	doc.AddInt("Channel", int64(r.Channel))
	doc.AddInt("Rssi", int64(r.Rssi))
	doc.AddInt("Lqi", int64(r.Lqi))
	doc.Close()
}
