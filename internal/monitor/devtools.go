package monitor

import (
	"context"
	"log"
	"sync"
)

// DevToolsThreshold is the outer/inner size gap, in pixels, taken to mean docked developer tools.
const DevToolsThreshold = 160

// Viewport is a pair of window dimensions reported by the client.
type Viewport struct {
	OuterWidth  int
	OuterHeight int
	InnerWidth  int
	InnerHeight int
}

// Open reports whether either gap exceeds DevToolsThreshold.
func (v Viewport) Open() bool {
	return v.OuterWidth-v.InnerWidth > DevToolsThreshold || v.OuterHeight-v.InnerHeight > DevToolsThreshold
}

// ViewportProbe returns the current viewport. ok is false when nothing has been reported yet.
type ViewportProbe interface {
	Viewport(ctx context.Context) (v Viewport, ok bool, err error)
}

// ReportedViewport is a ViewportProbe holding the latest viewport reported by the client.
type ReportedViewport struct {
	mu  sync.Mutex
	v   Viewport
	set bool
}

// Update stores v as the latest viewport.
func (r *ReportedViewport) Update(v Viewport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.v = v
	r.set = true
}

func (r *ReportedViewport) Viewport(context.Context) (Viewport, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.v, r.set, nil
}

// DevToolsDetector reports when the probed viewport changes from closed to open.
type DevToolsDetector struct {
	probe  ViewportProbe
	report func(context.Context, Event)

	mu   sync.Mutex
	open bool
}

// NewDevToolsDetector returns a detector that starts in the closed state.
func NewDevToolsDetector(probe ViewportProbe, report func(context.Context, Event)) *DevToolsDetector {
	return &DevToolsDetector{probe: probe, report: report}
}

// Check probes once. Only the closed to open transition is reported.
func (d *DevToolsDetector) Check(ctx context.Context) {
	v, ok, err := d.probe.Viewport(ctx)
	if err != nil {
		log.Printf("monitor: probe viewport: %v", err)
		return
	}
	if !ok {
		return
	}
	d.mu.Lock()
	opened := v.Open() && !d.open
	d.open = v.Open()
	d.mu.Unlock()

	if opened && d.report != nil {
		d.report(ctx, Event{
			Type:        EventSuspiciousActivity,
			Severity:    SeverityMedium,
			Description: "Developer tools opened",
			Metadata: map[string]any{
				"width_gap":  v.OuterWidth - v.InnerWidth,
				"height_gap": v.OuterHeight - v.InnerHeight,
			},
		})
	}
}
