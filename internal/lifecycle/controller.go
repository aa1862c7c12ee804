// Package lifecycle installs and activates cache generations.
//
// Install fetches the whole static asset list and commits it to the new
// static partition in one batch, or commits nothing. Activate deletes every
// partition that belongs to another generation and hands the new names to
// the engine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/astra-edge/astra-edge/internal/cache"
	"github.com/astra-edge/astra-edge/internal/config"
	"github.com/astra-edge/astra-edge/internal/engine"
	"github.com/astra-edge/astra-edge/internal/statedb"
)

const defaultFetchConcurrency = 4

var (
	// ErrInstallFailed wraps the asset failure that aborted an install.
	ErrInstallFailed = errors.New("install failed")
	// ErrNotInstalled is returned by Activate before the target generation installed.
	ErrNotInstalled = errors.New("generation not installed")
)

// Options wires a Controller.
type Options struct {
	Config  *config.Config
	Store   cache.Store
	State   *statedb.Store
	Fetcher engine.Fetcher
	Logger  *logrus.Logger

	// Concurrency caps parallel asset fetches during install.
	Concurrency int
	// Now is overridable in tests.
	Now func() time.Time
}

// InstallReport summarises a committed install or refresh.
type InstallReport struct {
	Version   string `json:"version"`
	Partition string `json:"partition"`
	Assets    int    `json:"assets"`
}

// ActivateReport lists the partitions kept and removed by an activation.
type ActivateReport struct {
	Version string   `json:"version"`
	Kept    []string `json:"kept"`
	Deleted []string `json:"deleted"`
}

// Controller owns the versioned partition names.
type Controller struct {
	version     string
	target      engine.Names
	origin      *url.URL
	assets      []string
	skipWaiting bool

	store   cache.Store
	state   *statedb.Store
	fetcher engine.Fetcher
	logger  *logrus.Logger
	limit   int
	now     func() time.Time

	mu     sync.Mutex
	active atomic.Pointer[statedb.Generation]
}

// New validates options and builds a Controller.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.State == nil {
		return nil, errors.New("state store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	origin, err := url.Parse(opts.Config.Global.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultFetchConcurrency
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Controller{
		version: opts.Config.Global.CacheVersion,
		target: engine.Names{
			Static:  opts.Config.StaticPartition(),
			Dynamic: opts.Config.DynamicPartition(),
		},
		origin:      origin,
		assets:      append([]string(nil), opts.Config.StaticAssets...),
		skipWaiting: opts.Config.Global.SkipWaiting,
		store:       opts.Store,
		state:       opts.State,
		fetcher:     opts.Fetcher,
		logger:      logger,
		limit:       limit,
		now:         now,
	}, nil
}

// Names implements engine.NameSource. Until a generation has been
// activated the configured names are used.
func (c *Controller) Names() engine.Names {
	if gen := c.active.Load(); gen != nil {
		return engine.Names{Static: gen.StaticName, Dynamic: gen.DynamicName}
	}
	return c.target
}

// Target returns the configured version and its partition names.
func (c *Controller) Target() (string, engine.Names) {
	return c.version, c.target
}

// Active returns the generation in control, if any.
func (c *Controller) Active() (statedb.Generation, bool) {
	if gen := c.active.Load(); gen != nil {
		return *gen, true
	}
	return statedb.Generation{}, false
}

// Restore loads the persisted active generation.
func (c *Controller) Restore(ctx context.Context) error {
	gen, err := c.state.ActiveGeneration(ctx)
	if err != nil {
		if errors.Is(err, statedb.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("restore generation: %w", err)
	}
	c.active.Store(&gen)
	return nil
}

// Start restores state, installs the configured generation when it is not
// already active, and activates it when skip-waiting is on. A failed
// install is logged and leaves the previous generation in control.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.Restore(ctx); err != nil {
		return err
	}
	if gen, ok := c.Active(); ok && gen.Version == c.version {
		c.logger.WithFields(logrus.Fields{
			"action":  "lifecycle",
			"version": gen.Version,
		}).Info("generation already active")
		return nil
	}

	if _, err := c.Install(ctx); err != nil {
		if errors.Is(err, ErrInstallFailed) {
			return nil
		}
		return err
	}
	if !c.skipWaiting {
		c.logger.WithFields(logrus.Fields{
			"action":  "lifecycle",
			"version": c.version,
		}).Info("generation installed, waiting for activation")
		return nil
	}
	_, err := c.Activate(ctx)
	return err
}

// Install commits the static asset list into the target static partition.
func (c *Controller) Install(ctx context.Context) (InstallReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields := logrus.Fields{
		"action":    "install",
		"version":   c.version,
		"partition": c.target.Static,
		"assets":    len(c.assets),
	}
	c.logger.WithFields(fields).Info("caching static assets")

	report, err := c.commitAssets(ctx, c.target.Static)
	if err != nil {
		fields["error"] = err.Error()
		c.logger.WithFields(fields).Error("install failed")
		return report, err
	}

	if err := c.state.SaveInstalled(ctx, statedb.Generation{
		Version:     c.version,
		StaticName:  c.target.Static,
		DynamicName: c.target.Dynamic,
		InstalledAt: c.now(),
	}); err != nil {
		return report, err
	}
	c.logger.WithFields(fields).Info("static assets cached")
	return report, nil
}

// Activate removes partitions of other generations and puts the target
// generation in control.
func (c *Controller) Activate(ctx context.Context) (ActivateReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := ActivateReport{Version: c.version}
	if _, err := c.state.Generation(ctx, c.version); err != nil {
		if errors.Is(err, statedb.ErrNotFound) {
			return report, fmt.Errorf("%w: %s", ErrNotInstalled, c.version)
		}
		return report, err
	}

	names, err := c.store.Names(ctx)
	if err != nil {
		return report, fmt.Errorf("list partitions: %w", err)
	}
	for _, name := range names {
		if name == c.target.Static || name == c.target.Dynamic {
			report.Kept = append(report.Kept, name)
			continue
		}
		if _, err := c.store.Delete(ctx, name); err != nil {
			return report, fmt.Errorf("delete partition %s: %w", name, err)
		}
		c.logger.WithFields(logrus.Fields{
			"action":    "activate",
			"partition": name,
		}).Info("deleted old partition")
		report.Deleted = append(report.Deleted, name)
	}

	if err := c.state.MarkActive(ctx, c.version, c.now()); err != nil {
		return report, err
	}
	if _, err := c.state.DeleteInactive(ctx); err != nil {
		return report, err
	}
	gen, err := c.state.ActiveGeneration(ctx)
	if err != nil {
		return report, fmt.Errorf("reload generation: %w", err)
	}
	c.active.Store(&gen)

	c.logger.WithFields(logrus.Fields{
		"action":  "activate",
		"version": c.version,
		"deleted": len(report.Deleted),
	}).Info("cache cleanup complete")
	return report, nil
}

// Refresh re-runs the static batch into the static partition in control.
func (c *Controller) Refresh(ctx context.Context) (InstallReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitAssets(ctx, c.Names().Static)
}

func (c *Controller) commitAssets(ctx context.Context, partition string) (InstallReport, error) {
	report := InstallReport{Version: c.version, Partition: partition}

	items, err := c.fetchAssets(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	part, err := c.store.Open(ctx, partition)
	if err != nil {
		return report, fmt.Errorf("open partition %s: %w", partition, err)
	}
	if err := part.PutAll(ctx, items); err != nil {
		return report, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	report.Assets = len(items)
	return report, nil
}

// fetchAssets fetches every asset; one failure or non-2xx fails the batch.
func (c *Controller) fetchAssets(ctx context.Context) ([]cache.Item, error) {
	items := make([]cache.Item, len(c.assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)

	for i, asset := range c.assets {
		g.Go(func() error {
			ref, err := url.Parse(asset)
			if err != nil {
				return fmt.Errorf("asset %s: %w", asset, err)
			}
			req := engine.NewGetRequest(c.origin.ResolveReference(ref))
			snapshot, err := c.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("asset %s: %w", asset, err)
			}
			if !snapshot.OK() {
				return fmt.Errorf("asset %s: unexpected status %d", asset, snapshot.Status)
			}
			items[i] = cache.Item{Key: req.Key(), Snapshot: snapshot}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
