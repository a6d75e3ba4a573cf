// Package controller drives one interactive diagram.
//
// A [Controller] loads a project's feature tree, tests and stored node
// positions, runs the layout, and routes user interaction back into the
// position store and the debounced writer. Every load is tagged with a
// generation number; results that arrive for an older generation, or
// after Close, are dropped.
package controller

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/testmap/pkg/cache"
	"github.com/matzehuels/testmap/pkg/diagram"
	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/notify"
	"github.com/matzehuels/testmap/pkg/observability"
	"github.com/matzehuels/testmap/pkg/persist"
	"github.com/matzehuels/testmap/pkg/positions"
	"github.com/matzehuels/testmap/pkg/source"
)

var (
	// ErrNodeNotFound is returned for interaction with a node id that is
	// not in the current diagram.
	ErrNodeNotFound = errs.New(errs.ErrCodeNodeNotFound, "node not found")
	// ErrNotOpen is returned by operations that need an open project.
	ErrNotOpen = errs.New(errs.ErrCodeInvalidInput, "no project is open")
	// ErrClosed is returned after Close.
	ErrClosed = errs.New(errs.ErrCodeInternal, "controller closed")
)

// DefaultCacheTTL is how long fetched collections stay cached.
const DefaultCacheTTL = 5 * time.Minute

// State is the controller's load state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "idle"
	}
}

// Options configures a Controller.
type Options struct {
	Source source.Source
	// Positions is the durable override store. Nil disables loading and
	// saving of positions.
	Positions positions.Repository
	Layout    diagram.Options
	// Persist configures the debounced writer. Logger and Notifier default
	// to the controller's.
	Persist persist.Options
	// Cache holds fetched projects, trees and tests. Nil disables caching.
	Cache    cache.Cache
	Keyer    cache.Keyer
	CacheTTL time.Duration
	Logger   *log.Logger
	Notifier notify.Sink
}

// Controller owns the diagram and the in-memory override store of the open
// project. It is safe for concurrent use.
type Controller struct {
	src      source.Source
	repo     positions.Repository
	writer   *persist.Writer
	cache    cache.Cache
	keyer    cache.Keyer
	ttl      time.Duration
	layout   diagram.Options
	logger   *log.Logger
	notifier notify.Sink

	mu         sync.Mutex
	gen        uint64
	state      State
	closed     bool
	project    domain.Project
	forest     []domain.Feature
	tests      []domain.Test
	store      *positions.Store
	touched    map[string]bool // nodes moved or reset since Open
	current    diagram.Diagram
	overrides  chan struct{}
	cancelLoad context.CancelFunc
	subs       map[int]func(diagram.Diagram)
	nextSub    int
	loads      sync.WaitGroup
}

// New returns a controller. No project is open until Open is called.
func New(opts Options) (*Controller, error) {
	if opts.Layout == (diagram.Options{}) {
		opts.Layout = diagram.DefaultOptions()
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrCodeInvalidInput, err, "layout options")
	}
	if opts.Source.Projects == nil || opts.Source.Features == nil || opts.Source.Tests == nil {
		return nil, errs.New(errs.ErrCodeInvalidInput, "source needs project, feature and test repositories")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard{}
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNullCache()
	}
	if opts.Keyer == nil {
		opts.Keyer = cache.NewDefaultKeyer()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Persist.Logger == nil {
		opts.Persist.Logger = opts.Logger
	}
	if opts.Persist.Notifier == nil {
		opts.Persist.Notifier = opts.Notifier
	}

	c := &Controller{
		src:      opts.Source,
		repo:     opts.Positions,
		cache:    opts.Cache,
		keyer:    opts.Keyer,
		ttl:      opts.CacheTTL,
		layout:   opts.Layout,
		logger:   opts.Logger,
		notifier: opts.Notifier,
		store:    positions.NewStore(),
		touched:  make(map[string]bool),
		subs:     make(map[int]func(diagram.Diagram)),
	}
	if c.repo != nil {
		c.writer = persist.NewWriter(c.repo, opts.Persist)
	}
	return c, nil
}

// =============================================================================
// Loading
// =============================================================================

// Open switches the controller to projectID. Features, tests and the
// project are fetched concurrently while stored positions load in the
// background. Open returns after the first layout; if positions arrive
// later a second layout is published. Fetch failures degrade to empty
// collections.
func (c *Controller) Open(ctx context.Context, projectID domain.ID) error {
	if projectID.IsZero() {
		return errs.New(errs.ErrCodeInvalidID, "project id is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cancelLoad != nil {
		c.cancelLoad()
	}
	c.gen++
	gen := c.gen
	c.state = StateLoading
	c.project = domain.Project{ID: projectID}
	c.forest, c.tests = nil, nil
	c.current = diagram.Diagram{}
	c.store.Reset()
	c.touched = make(map[string]bool)
	done := make(chan struct{})
	c.overrides = done
	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelLoad = cancel
	c.loads.Add(1)
	c.mu.Unlock()

	go c.loadOverrides(loadCtx, gen, projectID, done)

	project, forest, tests := c.fetchAll(ctx, projectID)

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		c.logger.Debug("discarding stale project load", "project", projectID, "generation", gen)
		return nil
	}
	c.project, c.forest, c.tests = project, forest, tests
	c.state = StateReady
	c.relayoutLocked(ctx)
	c.mu.Unlock()

	c.publish()
	return nil
}

// WaitOverrides blocks until the stored positions of the open project have
// been applied or have failed to load.
func (c *Controller) WaitOverrides(ctx context.Context) error {
	c.mu.Lock()
	done := c.overrides
	c.mu.Unlock()
	if done == nil {
		return ErrNotOpen
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh drops cached lookups for the open project and reloads features
// and tests. Stored positions in memory are kept.
func (c *Controller) Refresh(ctx context.Context) error {
	pid, gen, err := c.open()
	if err != nil {
		return err
	}
	cache.Invalidate(ctx, c.cache,
		c.keyer.ProjectKey(pid.String()),
		c.keyer.FeatureTreeKey(pid.String()),
		c.keyer.TestsKey(),
	)
	project, forest, tests := c.fetchAll(ctx, pid)
	c.apply(ctx, gen, func() {
		c.project, c.forest, c.tests = project, forest, tests
	})
	return nil
}

func (c *Controller) loadOverrides(ctx context.Context, gen uint64, projectID domain.ID, done chan struct{}) {
	defer c.loads.Done()
	defer close(done)
	if c.repo == nil {
		return
	}

	rows, err := c.repo.ListByProject(ctx, projectID)
	if err != nil {
		c.logger.Warn("failed to load node positions, using defaults", "project", projectID, "err", err)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	// A node handled by Move or ResetPosition in the meantime keeps that state.
	fresh := make([]positions.Override, 0, len(rows))
	for _, o := range rows {
		if !c.touched[o.NodeID] {
			fresh = append(fresh, o)
		}
	}
	c.store.SetMany(fresh)
	ready := c.state == StateReady
	if ready {
		c.relayoutLocked(ctx)
	}
	c.mu.Unlock()

	c.logger.Debug("loaded node positions", "project", projectID, "count", len(fresh))
	if ready {
		c.publish()
	}
}

func (c *Controller) fetchAll(ctx context.Context, pid domain.ID) (domain.Project, []domain.Feature, []domain.Test) {
	var (
		project domain.Project
		forest  []domain.Feature
		tests   []domain.Test
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		project = c.fetchProject(gctx, pid)
		return nil
	})
	g.Go(func() error {
		forest, _ = c.fetchTree(gctx, pid)
		return nil
	})
	g.Go(func() error {
		tests, _ = c.fetchTests(gctx)
		return nil
	})
	g.Wait()
	return project, forest, tests
}

func (c *Controller) fetchProject(ctx context.Context, pid domain.ID) domain.Project {
	key := c.keyer.ProjectKey(pid.String())
	var p domain.Project
	if ok, _ := cache.GetJSON(ctx, c.cache, key, &p); ok {
		return p
	}
	p, err := c.src.Projects.GetProject(ctx, pid)
	if err != nil {
		c.logger.Warn("failed to load project", "project", pid, "err", err)
		return domain.Project{ID: pid, Name: pid.String()}
	}
	c.remember(ctx, key, p)
	return p
}

// fetchTree returns the feature forest of pid. ok is false when the fetch
// failed and the forest is empty.
func (c *Controller) fetchTree(ctx context.Context, pid domain.ID) (forest []domain.Feature, ok bool) {
	key := c.keyer.FeatureTreeKey(pid.String())
	if hit, _ := cache.GetJSON(ctx, c.cache, key, &forest); hit {
		return forest, true
	}
	forest, err := c.src.Features.TreeByProject(ctx, pid)
	if err != nil {
		c.logger.Warn("failed to load features", "project", pid, "err", err)
		return nil, false
	}
	c.remember(ctx, key, forest)
	return forest, true
}

func (c *Controller) fetchTests(ctx context.Context) (tests []domain.Test, ok bool) {
	key := c.keyer.TestsKey()
	if hit, _ := cache.GetJSON(ctx, c.cache, key, &tests); hit {
		return tests, true
	}
	tests, err := c.src.Tests.ListAll(ctx)
	if err != nil {
		c.logger.Warn("failed to load tests", "err", err)
		return nil, false
	}
	c.remember(ctx, key, tests)
	return tests, true
}

func (c *Controller) remember(ctx context.Context, key string, v any) {
	if err := cache.SetJSON(ctx, c.cache, key, v, c.ttl); err != nil {
		c.logger.Debug("cache write failed", "key", key, "err", err)
	}
}

// =============================================================================
// Layout and subscribers
// =============================================================================

func (c *Controller) relayoutLocked(ctx context.Context) {
	pid := c.project.ID.String()
	start := time.Now()
	observability.Layout().OnLayoutStart(ctx, pid, len(domain.Flatten(c.forest)))

	c.current = diagram.Layout(diagram.Input{
		Project: c.project,
		Forest:  c.forest,
		Tests:   c.tests,
	}, c.store, c.layout)

	took := time.Since(start)
	observability.Layout().OnLayoutComplete(ctx, pid, len(c.current.Nodes), len(c.current.Edges), took)
	c.logger.Debug("computed layout", "project", pid, "nodes", len(c.current.Nodes), "edges", len(c.current.Edges), "took", took)
}

// apply runs fn and a relayout if gen is still current, then publishes.
func (c *Controller) apply(ctx context.Context, gen uint64, fn func()) bool {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return false
	}
	fn()
	c.relayoutLocked(ctx)
	c.mu.Unlock()
	c.publish()
	return true
}

func (c *Controller) publish() {
	c.mu.Lock()
	d := c.current
	fns := make([]func(diagram.Diagram), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(d)
	}
}

// Subscribe registers fn to receive every new diagram. fn runs on the
// goroutine that produced the diagram and must not call back into the
// controller synchronously. The returned function unsubscribes.
func (c *Controller) Subscribe(fn func(diagram.Diagram)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Diagram returns the current diagram.
func (c *Controller) Diagram() diagram.Diagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State returns the load state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Project returns the open project.
func (c *Controller) Project() domain.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

// Overrides returns the in-memory overrides sorted by node id.
func (c *Controller) Overrides() []positions.Override {
	return c.store.Snapshot()
}

// Writer returns the position writer, or nil when positions are disabled.
func (c *Controller) Writer() *persist.Writer { return c.writer }

func (c *Controller) open() (domain.ID, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", 0, ErrClosed
	}
	if c.project.ID.IsZero() {
		return "", 0, ErrNotOpen
	}
	return c.project.ID, c.gen, nil
}

// =============================================================================
// Interaction
// =============================================================================

// Move places nodeID at (x, y). The override store and the diagram are
// updated at once; the full node set is handed to the writer, which saves
// it after the quiet period.
func (c *Controller) Move(nodeID string, x, y float64) error {
	if err := errs.ValidatePosition(x, y); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	node, ok := c.current.Node(nodeID)
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("move of unknown node ignored", "node", nodeID)
		return ErrNodeNotFound
	}
	pid := c.project.ID
	o := positions.FromNode(pid, node)
	o.X, o.Y = x, y
	c.store.Set(o)
	c.touched[nodeID] = true
	c.current, _ = c.current.WithPosition(nodeID, diagram.Position{X: x, Y: y})
	snapshot := positions.FromNodes(pid, c.current.Nodes)
	c.mu.Unlock()

	if c.writer != nil {
		c.writer.Submit(pid, snapshot)
	}
	c.publish()
	return nil
}

// ResetPosition drops the override of nodeID so the node returns to its
// computed position. The durable row is removed directly.
func (c *Controller) ResetPosition(ctx context.Context, nodeID string) error {
	pid, gen, err := c.open()
	if err != nil {
		return err
	}
	if _, ok := c.store.Lookup(nodeID); !ok {
		return positions.ErrNotFound
	}
	c.mu.Lock()
	c.store.Delete(nodeID)
	c.touched[nodeID] = true
	c.mu.Unlock()
	c.resubmitPending(pid, nodeID)
	if c.repo != nil {
		if err := c.repo.Delete(ctx, pid, nodeID); err != nil && !errs.IsNotFound(err) {
			c.logger.Error("failed to delete node position", "project", pid, "node", nodeID, "err", err)
			c.notifier.Notify("Failed to reset node position", notify.SeverityError)
			return err
		}
	}
	c.apply(ctx, gen, func() {})
	return nil
}

// resubmitPending replaces a snapshot still waiting in the writer with the
// current node set minus skip, so a late write cannot resurrect rows that
// were just removed.
func (c *Controller) resubmitPending(pid domain.ID, skip ...string) {
	if c.writer == nil || !c.writer.Pending() {
		return
	}
	drop := positions.KeepSet(skip)
	c.mu.Lock()
	nodes := make([]diagram.Node, 0, len(c.current.Nodes))
	for _, n := range c.current.Nodes {
		if !drop[n.ID] {
			nodes = append(nodes, n)
		}
	}
	c.mu.Unlock()
	c.writer.Submit(pid, positions.FromNodes(pid, nodes))
}

// Close flushes pending position changes and stops background work. The
// controller cannot be reopened.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	if c.cancelLoad != nil {
		c.cancelLoad()
	}
	c.subs = make(map[int]func(diagram.Diagram))
	c.mu.Unlock()

	c.loads.Wait()
	if c.writer == nil {
		return nil
	}
	err := c.writer.Flush(ctx)
	c.writer.Close()
	return err
}
