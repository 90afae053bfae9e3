// Package layer keeps the UI, compositor and engine views of the viewport
// consistent.
//
// The Client owns the current viewport metrics. Writers (the UI loop and
// engine message handlers) serialize on a mutex and publish immutable
// snapshots; the compositor reads snapshots through an atomic pointer and
// never takes the lock.
package layer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-layersync/internal/engine"
	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

// ErrMissingCollaborator is returned by New when a required collaborator is nil.
var ErrMissingCollaborator = errors.New("layer: missing collaborator")

// maxUnsyncedUpdates bounds how many engine updates without a paint sync id
// may arrive while a resize waits for its echo.
const maxUnsyncedUpdates = 8

// Stats is a snapshot of the client counters.
type Stats struct {
	FramesSynced     uint64
	LayerUpdates     uint64
	FramesCreated    uint64
	RenderErrors     uint64
	HotPathPanics    uint64
	ViewportMessages uint64
	StaleMessages    uint64
	RejectedMessages uint64
	Resizes          uint64
	ExpiredResizes   uint64
	ProgressiveCalls uint64
	// Decisions counts governor outcomes by rule; index 0 is "continue".
	Decisions [ruleCount]uint64
}

type rendererBox struct{ r Renderer }

// Client is the viewport synchronization point between the three contexts.
type Client struct {
	eng     engine.Engine
	panZoom PanZoom
	view    View
	tabs    TabSelector
	screen  ScreenSizer
	calc    *viewport.Calculator
	logger  *slog.Logger
	opts    Options
	now     func() time.Time

	mu             sync.Mutex
	metrics        atomic.Pointer[viewport.Metrics]
	displayPort    atomic.Pointer[viewport.DisplayPort]
	lastSent       atomic.Pointer[viewport.DisplayPort]
	engineViewport atomic.Pointer[viewport.Metrics]

	engineReady     atomic.Bool
	docState        atomic.Int32
	paintSyncID     atomic.Uint32
	pendingResize   atomic.Uint32
	recordDrawTimes atomic.Bool

	// unsyncedUpdates counts updates without an id since the pending
	// resize was issued. Guarded by mu.
	unsyncedUpdates int

	drawTiming *DrawTimingQueue
	governor   *Governor
	renderer   atomic.Pointer[rendererBox]

	// frame is written by SyncViewportInfo and read by CreateFrame, both on
	// the compositor goroutine.
	frame Frame

	framesSynced     atomic.Uint64
	layerUpdates     atomic.Uint64
	framesCreated    atomic.Uint64
	renderErrors     atomic.Uint64
	hotPathPanics    atomic.Uint64
	viewportMessages atomic.Uint64
	staleMessages    atomic.Uint64
	rejectedMessages atomic.Uint64
	resizes          atomic.Uint64
	expiredResizes   atomic.Uint64
	progressiveCalls atomic.Uint64
}

// New creates a client for the initial device metrics. Engine, PanZoom,
// View and Calculator are required.
func New(initial viewport.Metrics, opts Options) (*Client, error) {
	switch {
	case opts.Engine == nil:
		return nil, fmt.Errorf("%w: engine", ErrMissingCollaborator)
	case opts.PanZoom == nil:
		return nil, fmt.Errorf("%w: pan zoom", ErrMissingCollaborator)
	case opts.View == nil:
		return nil, fmt.Errorf("%w: view", ErrMissingCollaborator)
	case opts.Calculator == nil:
		return nil, fmt.Errorf("%w: calculator", ErrMissingCollaborator)
	}
	m, err := viewport.Sanitize(initial)
	if err != nil {
		return nil, fmt.Errorf("initial metrics: %w", err)
	}

	def := DefaultOptions()
	if opts.ZoomEpsilon <= 0 {
		opts.ZoomEpsilon = def.ZoomEpsilon
	}
	if opts.ProgressiveTolerance < 0 {
		opts.ProgressiveTolerance = def.ProgressiveTolerance
	}
	if opts.VisibleSlack < 0 {
		opts.VisibleSlack = def.VisibleSlack
	}
	if opts.ScreenFallbackWidth <= 0 || opts.ScreenFallbackHeight <= 0 {
		opts.ScreenFallbackWidth, opts.ScreenFallbackHeight = def.ScreenFallbackWidth, def.ScreenFallbackHeight
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Client{
		eng:        opts.Engine,
		panZoom:    opts.PanZoom,
		view:       opts.View,
		tabs:       opts.Tabs,
		screen:     opts.Screen,
		calc:       opts.Calculator,
		logger:     opts.Logger,
		opts:       opts,
		now:        opts.Now,
		drawTiming: NewDrawTimingQueue(opts.DrawTimingCapacity),
	}
	c.governor = NewGovernor(opts.ZoomEpsilon, opts.ProgressiveTolerance, opts.VisibleSlack, c.calc.AboutToCheckerboard)
	c.recordDrawTimes.Store(opts.RecordDrawTimes)

	c.metrics.Store(&m)
	engineView := m
	c.engineViewport.Store(&engineView)
	dp := c.calc.Calculate(m, geom.PointF{})
	c.displayPort.Store(&dp)
	c.frame.Metrics = m
	c.frame.DisplayPort = dp
	c.frame.Resolution = m.ZoomFactor
	return c, nil
}

// SetRenderer attaches the renderer used by CreateFrame. A nil renderer
// detaches it.
func (c *Client) SetRenderer(r Renderer) {
	if r == nil {
		c.renderer.Store(nil)
		return
	}
	c.renderer.Store(&rendererBox{r: r})
}

// ViewportMetrics returns the current snapshot. Safe from any goroutine.
func (c *Client) ViewportMetrics() viewport.Metrics { return *c.metrics.Load() }

// DisplayPort returns the display port last computed.
func (c *Client) DisplayPort() viewport.DisplayPort { return *c.displayPort.Load() }

// EngineViewport returns the engine's last acknowledged viewport.
func (c *Client) EngineViewport() viewport.Metrics { return *c.engineViewport.Load() }

// DocumentState returns the document state machine position.
func (c *Client) DocumentState() DocumentState { return DocumentState(c.docState.Load()) }

// EngineReady reports whether SetEngineReady was called.
func (c *Client) EngineReady() bool { return c.engineReady.Load() }

// PendingResize returns the paint sync id of the resize the engine has not
// acknowledged yet, or 0.
func (c *Client) PendingResize() uint32 { return c.pendingResize.Load() }

// InDanger reports whether the current document risks checkerboarding.
// Safe from any goroutine.
func (c *Client) InDanger() bool { return c.governor.InDanger() }

// Governor exposes the progressive update governor.
func (c *Client) Governor() *Governor { return c.governor }

// DrawTiming exposes the draw timing queue.
func (c *Client) DrawTiming() *DrawTimingQueue { return c.drawTiming }

// Stats returns the current counters.
func (c *Client) Stats() Stats {
	return Stats{
		FramesSynced:     c.framesSynced.Load(),
		LayerUpdates:     c.layerUpdates.Load(),
		FramesCreated:    c.framesCreated.Load(),
		RenderErrors:     c.renderErrors.Load(),
		HotPathPanics:    c.hotPathPanics.Load(),
		ViewportMessages: c.viewportMessages.Load(),
		StaleMessages:    c.staleMessages.Load(),
		RejectedMessages: c.rejectedMessages.Load(),
		Resizes:          c.resizes.Load(),
		ExpiredResizes:   c.expiredResizes.Load(),
		ProgressiveCalls: c.progressiveCalls.Load(),
		Decisions:        c.governor.Decisions(),
	}
}

// SetEngineReady marks the engine as able to receive messages and reports
// the current size to it.
func (c *Client) SetEngineReady() {
	c.engineReady.Store(true)
	c.docState.CompareAndSwap(int32(NoDocument), int32(FirstPaintPending))
	m := c.metrics.Load()
	sw, sh := c.screenSize()
	c.eng.NotifyResize(m.ViewportSize.Width, m.ViewportSize.Height, sw, sh, 0)
}

// SetViewportSize applies a new surface size and an optional scroll shift
// caused by the resize. It returns false when nothing changed. A resize
// reported to the engine carries a new paint sync id and stays pending
// until a frame echoes that id.
func (c *Client) SetViewportSize(width, height int, scrollChange *geom.PointF) bool {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	scrolled := scrollChange != nil && !scrollChange.IsZero() && scrollChange.IsFinite()

	c.mu.Lock()
	old := c.metrics.Load()
	if old.ViewportSize == (geom.IntSize{Width: width, Height: height}) && !scrolled {
		c.mu.Unlock()
		return false
	}
	m := old.WithViewportSize(width, height)
	if scrolled {
		m = m.OffsetBy(scrollChange.X, scrollChange.Y)
	}
	c.metrics.Store(&m)
	ready := c.engineReady.Load()
	var id uint32
	if ready {
		id = c.nextPaintSyncID()
		c.pendingResize.Store(id)
		c.unsyncedUpdates = 0
	}
	c.mu.Unlock()

	c.resizes.Add(1)
	if scrolled {
		c.panZoom.AdjustScrollForSurfaceShift(*scrollChange)
	}
	c.view.RequestRender()
	if !ready {
		return true
	}

	sw, sh := c.screenSize()
	c.eng.NotifyResize(width, height, sw, sh, id)
	if scrolled {
		payload, err := engine.ScrollChange{
			X:  m.Origin.X / m.ZoomFactor,
			Y:  m.Origin.Y / m.ZoomFactor,
			ID: id,
		}.Encode()
		if err != nil {
			c.logger.Error("encode scroll change", "error", err)
			return true
		}
		c.eng.SendScrollChanged(payload)
	}
	c.logger.Debug("viewport resized", "width", width, "height", height, "paint_sync_id", id)
	return true
}

// nextPaintSyncID issues a new id, skipping 0. Callers hold mu.
func (c *Client) nextPaintSyncID() uint32 {
	id := c.paintSyncID.Add(1)
	if id == 0 {
		id = c.paintSyncID.Add(1)
	}
	return id
}

// stale reports whether id names a transaction older than the latest one.
func (c *Client) stale(id uint32) bool {
	if id == 0 {
		return false
	}
	latest := c.paintSyncID.Load()
	return id != latest && int32(latest-id) > 0
}

// HandleViewportMessage reconciles a viewport message from the engine and
// returns the display port the engine should draw.
func (c *Client) HandleViewportMessage(msg viewport.Metrics, kind MessageKind) viewport.DisplayPort {
	return c.HandleSyncedViewportMessage(msg, kind, 0)
}

// HandleSyncedViewportMessage is HandleViewportMessage for a message that
// echoes a paint sync id. Messages older than the latest issued id are
// dropped.
func (c *Client) HandleSyncedViewportMessage(msg viewport.Metrics, kind MessageKind, paintSyncID uint32) viewport.DisplayPort {
	c.viewportMessages.Add(1)
	if c.stale(paintSyncID) {
		c.staleMessages.Add(1)
		c.logger.Debug("dropping stale viewport message", "paint_sync_id", paintSyncID, "latest", c.paintSyncID.Load())
		return c.DisplayPort()
	}
	clean, err := viewport.Sanitize(msg)
	if err != nil {
		c.rejectedMessages.Add(1)
		c.logger.Warn("rejecting viewport message", "kind", kind, "error", err)
		return c.DisplayPort()
	}
	if state := c.DocumentState(); state != Active {
		c.logger.Debug("viewport message outside an active document", "state", state, "kind", kind)
	}

	abort := false
	c.mu.Lock()
	old := *c.metrics.Load()
	var next viewport.Metrics
	switch kind {
	case MessagePageSize:
		scale := old.ZoomFactor / clean.ZoomFactor
		next = old.WithPageRect(clean.PageRect.Scale(scale), clean.CSSPageRect)
	default:
		next = clean.WithViewportSize(old.ViewportSize.Width, old.ViewportSize.Height)
		if c.resizeInFlight(paintSyncID) {
			next = next.WithOrigin(old.Origin.X, old.Origin.Y)
		} else if !old.FuzzyEquals(next, c.opts.ZoomEpsilon) {
			abort = true
		}
	}
	c.metrics.Store(&next)
	clamped := next.ClampToPageBounds()
	dp := c.calc.Calculate(clamped, geom.PointF{})
	c.displayPort.Store(&dp)
	c.lastSent.Store(&dp)
	c.mu.Unlock()

	c.postEngineViewport(clamped)
	if abort {
		c.panZoom.AbortAnimation()
	}
	c.view.RequestRender()
	return dp
}

// resizeInFlight reports whether a resize still waits for its echo. Updates
// without an id count against maxUnsyncedUpdates; past it the resize is
// dropped and the update is taken as authoritative. Callers hold mu.
func (c *Client) resizeInFlight(paintSyncID uint32) bool {
	pending := c.pendingResize.Load()
	if pending == 0 {
		return false
	}
	if paintSyncID == 0 {
		c.unsyncedUpdates++
		if c.unsyncedUpdates > maxUnsyncedUpdates {
			c.pendingResize.CompareAndSwap(pending, 0)
			c.expiredResizes.Add(1)
			c.logger.Warn("resize never acknowledged, dropping it", "paint_sync_id", pending)
			return false
		}
	}
	return true
}

// GetDisplayPort answers an engine display port request. Requests from a
// background tab are computed without touching shared state.
func (c *Client) GetDisplayPort(pageSizeUpdate, isForeground bool, tabID int, msg viewport.Metrics) viewport.DisplayPort {
	return c.getDisplayPort(pageSizeUpdate, isForeground, tabID, msg, 0)
}

// GetSyncedDisplayPort answers an engine viewport update.
func (c *Client) GetSyncedDisplayPort(up engine.ViewportUpdate, isForeground bool) viewport.DisplayPort {
	return c.getDisplayPort(up.PageSizeUpdate, isForeground, up.TabID, up.Metrics, up.PaintSyncID)
}

func (c *Client) getDisplayPort(pageSizeUpdate, isForeground bool, tabID int, msg viewport.Metrics, paintSyncID uint32) viewport.DisplayPort {
	if isForeground && (c.tabs == nil || c.tabs.SelectedTabID() == tabID) {
		kind := MessageUpdate
		if pageSizeUpdate {
			kind = MessagePageSize
		}
		return c.HandleSyncedViewportMessage(msg, kind, paintSyncID)
	}
	clean, err := viewport.Sanitize(msg)
	if err != nil {
		c.rejectedMessages.Add(1)
		return c.DisplayPort()
	}
	return c.calc.Calculate(clean, geom.PointF{})
}

// SyncViewportInfo is called by the compositor at the start of each frame
// with the root layer position the engine drew. It snapshots the metrics
// for the frame and returns the transform to composite with. It never
// blocks; a failure yields the identity transform.
func (c *Client) SyncViewportInfo(x, y, width, height int, resolution float64, layersUpdated bool, paintSyncID uint32) (vt viewport.ViewTransform) {
	defer func() {
		if r := recover(); r != nil {
			c.hotPathPanics.Add(1)
			vt = viewport.IdentityTransform
		}
	}()

	m := c.metrics.Load()
	c.frame.Metrics = *m
	c.frame.DisplayPort = *c.displayPort.Load()
	c.frame.Layer = geom.RectXYWH(float64(x), float64(y), float64(width), float64(height))
	c.frame.Resolution = resolution
	c.framesSynced.Add(1)

	if layersUpdated {
		c.layerUpdates.Add(1)
		if c.recordDrawTimes.Load() {
			if d, ok := c.drawTiming.Match(c.frame.Layer, resolution, c.now()); ok {
				if !c.calc.DrawTimeUpdate(d, width*height) {
					c.recordDrawTimes.Store(false)
				}
			}
		}
	}
	if paintSyncID != 0 {
		c.pendingResize.CompareAndSwap(paintSyncID, 0)
	}
	return viewport.ViewTransform{X: m.Origin.X, Y: m.Origin.Y, Scale: m.ZoomFactor}
}

// ProgressiveUpdateCallback is called by the compositor between tiles of
// an incremental raster pass and decides whether the pass should stop.
// A failure aborts the pass.
func (c *Client) ProgressiveUpdateCallback(hasPendingNewContent bool, region geom.RectF, resolution float64, lowPrecision bool) (data ProgressiveUpdateData) {
	defer func() {
		if r := recover(); r != nil {
			c.hotPathPanics.Add(1)
			data = ProgressiveUpdateData{Abort: true}
		}
	}()
	c.progressiveCalls.Add(1)

	in := ProgressiveInput{
		Metrics:              *c.metrics.Load(),
		Velocity:             c.panZoom.Velocity(),
		Region:               region,
		Resolution:           resolution,
		LowPrecision:         lowPrecision,
		HasPendingNewContent: hasPendingNewContent,
	}
	if ls := c.lastSent.Load(); ls != nil {
		in.LastSent = *ls
		in.HasLastSent = true
	}
	return c.governor.Update(in)
}

// CreateFrame renders the frame captured by the last SyncViewportInfo. It
// returns nil when no renderer is attached or rendering failed.
func (c *Client) CreateFrame() (f *Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.hotPathPanics.Add(1)
			f = nil
		}
	}()
	box := c.renderer.Load()
	if box == nil {
		return nil
	}
	if err := box.r.RenderFrame(&c.frame); err != nil {
		c.renderErrors.Add(1)
		c.logger.Debug("render frame", "error", err)
		return nil
	}
	if c.view.PaintState() == PaintBeforeFirst {
		c.view.SetPaintState(PaintAfterFirst)
	}
	c.framesCreated.Add(1)
	return &c.frame
}

// SetFirstPaintViewport installs the metrics of a newly painted document.
// Offsets are CSS pixels. All per-document bookkeeping is reset.
func (c *Client) SetFirstPaintViewport(offsetX, offsetY, zoom float64, cssPageRect geom.RectF, isRTL bool) error {
	c.mu.Lock()
	old := c.metrics.Load()
	m, err := viewport.Sanitize(old.
		WithZoomFactor(zoom).
		WithPageRect(cssPageRect.Scale(zoom), cssPageRect).
		WithOrigin(offsetX*zoom, offsetY*zoom).
		WithRTL(isRTL))
	if err != nil {
		c.mu.Unlock()
		c.rejectedMessages.Add(1)
		return fmt.Errorf("first paint viewport: %w", err)
	}
	c.metrics.Store(&m)
	dp := c.calc.Calculate(m.ClampToPageBounds(), geom.PointF{})
	c.displayPort.Store(&dp)
	c.lastSent.Store(nil)
	c.pendingResize.Store(0)
	c.unsyncedUpdates = 0
	c.governor.Reset()
	c.drawTiming.Reset()
	c.calc.ResetPageState()
	c.recordDrawTimes.Store(c.opts.RecordDrawTimes)
	c.docState.Store(int32(Active))
	c.mu.Unlock()

	c.postEngineViewport(m.ClampToPageBounds())
	c.panZoom.AbortAnimation()
	if c.view.PaintState() == PaintStart {
		c.view.SetPaintState(PaintBeforeFirst)
	}
	c.view.RequestRender()
	c.logger.Info("first paint", "metrics", m.String())
	return nil
}

// SetPageRect applies a page size change of the current document. Nothing
// is sent to the engine.
func (c *Client) SetPageRect(cssPageRect geom.RectF) error {
	if !cssPageRect.IsFinite() {
		c.rejectedMessages.Add(1)
		return fmt.Errorf("page rect %v: %w", cssPageRect, viewport.ErrNonFiniteGeometry)
	}
	css := cssPageRect.Normalize()
	c.mu.Lock()
	old := c.metrics.Load()
	m := old.WithPageRect(css.Scale(old.ZoomFactor), css)
	c.metrics.Store(&m)
	c.mu.Unlock()

	c.postEngineViewport(m.ClampToPageBounds())
	c.view.RequestRender()
	return nil
}

// AdjustViewport sends the clamped current metrics to the engine with dp,
// or with a display port computed for the current pan velocity when dp is
// nil.
func (c *Client) AdjustViewport(dp *viewport.DisplayPort) {
	c.mu.Lock()
	m := c.metrics.Load().ClampToPageBounds()
	var d viewport.DisplayPort
	if dp != nil {
		d = *dp
	} else {
		d = c.calc.Calculate(m, c.panZoom.Velocity())
	}
	c.displayPort.Store(&d)
	c.lastSent.Store(&d)
	c.mu.Unlock()

	if c.recordDrawTimes.Load() {
		c.drawTiming.Add(d, c.now())
	}
	c.eng.SendViewportEvent(m, d)
	c.postEngineViewport(m)
}

// AbortPanZoomAnimation stops any running animation and, once the engine
// is ready, forces a redraw at the resting position. Calling it
// repeatedly is harmless.
func (c *Client) AbortPanZoomAnimation() {
	c.panZoom.AbortAnimation()
	c.adjustIfReady()
}

// ScrollBy scrolls by (dx, dy) device pixels, clamped to the page.
func (c *Client) ScrollBy(dx, dy float64) {
	if !geom.IsFinite(dx) || !geom.IsFinite(dy) {
		return
	}
	c.mu.Lock()
	m := c.metrics.Load().OffsetBy(dx, dy).ClampToPageBounds()
	c.metrics.Store(&m)
	c.mu.Unlock()
	c.view.RequestRender()
	c.adjustIfReady()
}

// SetZoom zooms to zoom keeping focus, a view point, fixed on screen.
func (c *Client) SetZoom(zoom float64, focus geom.PointF) error {
	if !geom.IsFinite(zoom) || zoom <= 0 {
		return fmt.Errorf("%w: %v", viewport.ErrInvalidZoom, zoom)
	}
	c.mu.Lock()
	m := c.metrics.Load().ScaleTo(zoom, focus).ClampToPageBounds()
	c.metrics.Store(&m)
	c.mu.Unlock()
	c.view.RequestRender()
	c.adjustIfReady()
	return nil
}

// ConvertViewPointToLayerPoint maps a view point to CSS pixels relative to
// the scroll position the engine last acknowledged. Called on the UI loop.
func (c *Client) ConvertViewPointToLayerPoint(p geom.PointF) geom.PointF {
	m := c.metrics.Load()
	g := c.engineViewport.Load()
	return geom.PointF{
		X: (p.X+m.Origin.X)/m.ZoomFactor - g.Origin.X/g.ZoomFactor,
		Y: (p.Y+m.Origin.Y)/m.ZoomFactor - g.Origin.Y/g.ZoomFactor,
	}
}

func (c *Client) adjustIfReady() {
	if c.engineReady.Load() {
		c.AdjustViewport(nil)
	}
}

// postEngineViewport records m as the engine viewport on the UI loop.
func (c *Client) postEngineViewport(m viewport.Metrics) {
	c.view.Post(func() { c.engineViewport.Store(&m) })
}

func (c *Client) screenSize() (int, int) {
	if c.screen != nil {
		w, h, err := c.screen.ScreenSize()
		if err == nil && w > 0 && h > 0 {
			return w, h
		}
		if err != nil {
			c.logger.Debug("screen size unavailable", "error", err)
		}
	}
	return c.opts.ScreenFallbackWidth, c.opts.ScreenFallbackHeight
}
