package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"otbr-gateway/internal/otstack"
	"otbr-gateway/internal/store"
)

// diagTLVTypes are the records requested from every router.
var diagTLVTypes = []uint8{otstack.DiagTLVRoute, otstack.DiagTLVChildTable}

// diagCache is guarded by the gate. published is never mutated once it has
// been handed out: each response builds a new document from a clone.
type diagCache struct {
	published *Document
	count     int
	lastQuery time.Time
	queried   bool
}

// stale reports whether a new query may be issued at now. A clock that went
// backwards counts as stale.
func (c *diagCache) stale(now time.Time, cooldown time.Duration) bool {
	if !c.queried {
		return true
	}
	elapsed := now.Sub(c.lastQuery)
	return elapsed < 0 || elapsed > cooldown
}

func (c *diagCache) invalidate() {
	c.queried = false
}

// handleNetworkData replies with the current diagnostics snapshot. When the
// snapshot is older than the cool-down it also sends a new diagnostic get;
// responses arrive later and fill the next snapshot.
func (g *Gateway) handleNetworkData(ctx context.Context, req *Request) error {
	var snapshot *Document
	err := g.withStack(func(st otstack.Stack) error {
		snapshot = g.diag.published
		now := g.clock.Now()
		if !g.diag.stale(now, g.cfg.DiagCooldown) {
			return nil
		}
		if err := st.SendDiagnosticGet(ctx, otstack.DiagnosticMulticast, diagTLVTypes); err != nil {
			return fmt.Errorf("diagnostic get: %w", err)
		}
		g.diag.published = NewDocument()
		g.diag.count = 0
		g.diag.lastQuery = now
		g.diag.queried = true
		if g.metrics != nil {
			g.metrics.diagQueries.Inc()
		}
		g.logger.Debug("diagnostic query sent", "dst", otstack.DiagnosticMulticast)
		return nil
	})
	req.Reply = snapshot.Clone()
	return err
}

// handleDiagnosticResponse runs on the stack worker with the gate held.
func (g *Gateway) handleDiagnosticResponse(resp otstack.DiagnosticResponse) {
	doc := g.diag.published.Clone()
	index := g.diag.count
	rloc, hasRloc := appendDiagnostic(doc, index, resp)
	g.diag.published = doc
	g.diag.count++
	if g.metrics != nil {
		g.metrics.diagResponses.Inc()
	}
	g.saveDiagnostics(doc, g.diag.count)

	ev := map[string]any{"index": index, "peer": resp.Peer.String()}
	if hasRloc {
		ev["rloc"] = hex16(rloc)
	}
	g.emit(EventDiagnostic, ev)
}

// appendDiagnostic adds the networkdata<index> table for one response and
// returns the responder's locator when the peer address carries one.
func appendDiagnostic(doc *Document, index int, resp otstack.DiagnosticResponse) (uint16, bool) {
	doc.OpenTable(fmt.Sprintf("networkdata%d", index))
	defer doc.Close()

	var parent uint16
	hasRloc := otstack.IsRoutingLocator(resp.Peer)
	if hasRloc {
		parent = otstack.Rloc16FromAddr(resp.Peer)
		doc.AddString("rloc", hex16(parent))
	}
	for _, tlv := range resp.TLVs {
		switch tlv.Type {
		case otstack.DiagTLVRoute:
			doc.OpenArray("routedata")
			if tlv.Route != nil {
				for _, r := range tlv.Route.Routes {
					if r.LinkQualityIn == 0 || r.LinkQualityOut == 0 {
						continue
					}
					doc.OpenTable("router")
					doc.AddInt("routerid", int64(r.RouterID))
					doc.AddString("rloc", hex16(otstack.RouterRloc16(r.RouterID)))
					doc.Close()
				}
			}
			doc.Close()
		case otstack.DiagTLVChildTable:
			doc.OpenArray("childdata")
			for _, c := range tlv.ChildTable {
				doc.OpenTable("child")
				doc.AddString("rloc", hex16(parent|c.ChildID))
				doc.AddInt("mode", int64(c.Mode.Bits()))
				doc.Close()
			}
			doc.Close()
		}
	}
	return parent, hasRloc
}

func (g *Gateway) saveDiagnostics(doc *Document, responses int) {
	if g.store == nil {
		return
	}
	b, err := json.Marshal(doc)
	if err != nil {
		g.logger.Error("encode diagnostics snapshot", "err", err)
		return
	}
	snap := &store.DiagnosticsSnapshot{Document: b, Responses: responses, UpdatedAt: g.clock.Now()}
	if err := g.store.SaveDiagnostics(snap); err != nil {
		g.logger.Error("save diagnostics snapshot", "err", err)
	}
}
