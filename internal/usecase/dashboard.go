package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"CryptoAgent/internal/chart"
	"CryptoAgent/internal/domain/models"
	domrepo "CryptoAgent/internal/domain/repository"
	"CryptoAgent/internal/panel"
	"CryptoAgent/pkg/logger"
)

// ErrClosed is returned once the dashboard has been shut down.
var ErrClosed = errors.New("dashboard closed")

// PanelInfo lists a panel and what it shows.
type PanelInfo struct {
	ID      string          `json:"id"`
	Key     models.QueryKey `json:"key"`
	Mounted bool            `json:"mounted"`
}

// DashboardOption configures Dashboard.
type DashboardOption func(*Dashboard)

// WithPanelOptions passes options to every panel the dashboard creates.
func WithPanelOptions(opts ...panel.Option) DashboardOption {
	return func(d *Dashboard) { d.panelOpts = append(d.panelOpts, opts...) }
}

// WithTimeout bounds Load, Reload and Preview.
func WithTimeout(t time.Duration) DashboardOption {
	return func(d *Dashboard) { d.timeout = t }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) DashboardOption {
	return func(d *Dashboard) { d.log = l.Component("dashboard") }
}

// Dashboard keeps the chart panels of the service by ID.
type Dashboard struct {
	source    domrepo.AnalysisSource
	factory   domrepo.SurfaceFactory
	panelOpts []panel.Option
	timeout   time.Duration
	log       *logger.Logger

	mu     sync.Mutex
	panels map[string]*panel.Panel
	closed bool
}

// NewDashboard creates an empty dashboard. source serves full loads and previews.
func NewDashboard(source domrepo.AnalysisSource, factory domrepo.SurfaceFactory, opts ...DashboardOption) *Dashboard {
	d := &Dashboard{
		source:  source,
		factory: factory,
		timeout: 20 * time.Second,
		log:     logger.Nop(),
		panels:  make(map[string]*panel.Panel),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dashboard) panel(id string, create bool) (*panel.Panel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	p, ok := d.panels[id]
	if !ok {
		if !create {
			return nil, panel.ErrNotMounted
		}
		p = panel.New(id, d.source, d.factory, d.panelOpts...)
		d.panels[id] = p
	}
	return p, nil
}

func (d *Dashboard) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.timeout)
}

// Load shows key on panel id, creating the panel on first use.
func (d *Dashboard) Load(ctx context.Context, id string, key models.QueryKey) (models.RenderReport, error) {
	if err := key.Validate(); err != nil {
		return models.RenderReport{}, err
	}
	p, err := d.panel(id, true)
	if err != nil {
		return models.RenderReport{}, err
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return p.LoadAndRender(ctx, key)
}

// Scene returns what panel id currently draws.
func (d *Dashboard) Scene(id string) (models.Scene, error) {
	p, err := d.panel(id, false)
	if err != nil {
		return models.Scene{}, err
	}
	return p.Scene()
}

// Report returns the last full render of panel id.
func (d *Dashboard) Report(id string) (models.RenderReport, error) {
	p, err := d.panel(id, false)
	if err != nil {
		return models.RenderReport{}, err
	}
	r, ok := p.Report()
	if !ok {
		return models.RenderReport{}, panel.ErrNotMounted
	}
	return r, nil
}

// Refresh runs one incremental update of panel id now.
func (d *Dashboard) Refresh(ctx context.Context, id string) (models.UpdateKind, error) {
	p, err := d.panel(id, false)
	if err != nil {
		return "", err
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return p.ApplyIncrementalUpdate(ctx)
}

// Reload re-fetches and remounts panel id.
func (d *Dashboard) Reload(ctx context.Context, id string) (models.RenderReport, error) {
	p, err := d.panel(id, false)
	if err != nil {
		return models.RenderReport{}, err
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return p.Reload(ctx)
}

// Unmount disposes panel id and forgets it. Unknown ids are ignored. A load still running
// on the removed panel fails instead of mounting it again.
func (d *Dashboard) Unmount(id string) {
	d.mu.Lock()
	p, ok := d.panels[id]
	delete(d.panels, id)
	d.mu.Unlock()
	if ok {
		p.Close()
	}
}

// Preview fetches key and returns its render plan without mounting anything.
func (d *Dashboard) Preview(ctx context.Context, key models.QueryKey) (*chart.Plan, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	a, err := d.source.FetchAnalysis(ctx, key)
	if err != nil {
		return nil, err
	}
	plan, err := chart.Build(a)
	if err != nil {
		return nil, fmt.Errorf("preview %s: %w", key, err)
	}
	return plan, nil
}

// Panels lists the known panels sorted by ID.
func (d *Dashboard) Panels() []PanelInfo {
	d.mu.Lock()
	out := make([]PanelInfo, 0, len(d.panels))
	ps := make([]*panel.Panel, 0, len(d.panels))
	for _, p := range d.panels {
		ps = append(ps, p)
	}
	d.mu.Unlock()

	for _, p := range ps {
		_, mounted := p.Report()
		out = append(out, PanelInfo{ID: p.ID(), Key: p.Key(), Mounted: mounted})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close unmounts every panel and rejects further calls.
func (d *Dashboard) Close() {
	d.mu.Lock()
	d.closed = true
	ps := d.panels
	d.panels = make(map[string]*panel.Panel)
	d.mu.Unlock()

	for id, p := range ps {
		p.Close()
		d.log.Debug("panel unmounted", logger.String("panel", id))
	}
}
