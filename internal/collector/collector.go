// Package collector wires every other package into the running surveillance
// process and owns its lifetime. The driver holds all components directly
// and tasks hold typed handles; no task keeps a back-reference to another.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"pmsurveil/internal/api"
	"pmsurveil/internal/book"
	"pmsurveil/internal/config"
	"pmsurveil/internal/metrics"
	"pmsurveil/internal/schema"
	"pmsurveil/internal/scheduler"
	"pmsurveil/internal/snapshotter"
	"pmsurveil/internal/stats"
	"pmsurveil/internal/subscription"
	"pmsurveil/internal/universe"
	"pmsurveil/internal/venue"
	"pmsurveil/internal/writer"
)

// venueRuntime bundles the per-venue components the driver starts and stops
// as a unit.
type venueRuntime struct {
	name    string
	cfg     config.VenueConfig
	uni     *universe.Universe
	adapter venue.Adapter
	sched   *scheduler.Scheduler
	subs    *subscription.Manager
	snap    *snapshotter.Snapshotter
	trades  chan venue.Trade

	mu  sync.Mutex
	hot []book.Key
}

// Collector owns every component for every configured venue plus the shared
// book store, writer, and metrics collector.
type Collector struct {
	cfg    *config.Config
	logger *slog.Logger

	store        *book.Store
	metrics      *metrics.Collector
	snapWriter   *writer.Writer
	tradesWriter *writer.Writer

	venues map[string]*venueRuntime

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Collector, loading each enabled venue's universe file and
// wiring its scheduler, subscription manager, adapter, and snapshotter. The
// venue adapter connection itself is opened in Start, not here.
func New(cfg *config.Config, logger *slog.Logger) (*Collector, error) {
	c := &Collector{
		cfg:    cfg,
		logger: logger.With("component", "collector"),
		store:  book.NewStore(),
		venues: make(map[string]*venueRuntime),
	}
	c.metrics = metrics.NewCollector(logger)
	c.snapWriter = writer.New(cfg.Storage.Root, cfg.Storage.FlushRows, cfg.Storage.FlushSeconds, cfg.Storage.BucketMinutes, logger)
	c.tradesWriter = writer.New(cfg.Storage.Root, cfg.Storage.FlushRows, cfg.Storage.FlushSeconds, cfg.Storage.BucketMinutes, logger, writer.WithTradesLayout())

	if cfg.Mock.Enabled {
		if err := c.addMockVenue("mock"); err != nil {
			return nil, err
		}
		return c, nil
	}

	for name, vc := range cfg.Venues {
		if !vc.Enabled {
			continue
		}
		if err := c.addVenue(name, vc); err != nil {
			return nil, fmt.Errorf("venue %s: %w", name, err)
		}
	}
	return c, nil
}

func (c *Collector) addVenue(name string, vc config.VenueConfig) error {
	date := time.Now().UTC().Format("2006-01-02")
	universePath := fmt.Sprintf("%s/metadata/venue=%s/date=%s/universe.jsonl", c.cfg.Storage.Root, name, date)
	uni, err := universe.Load(universePath)
	if err != nil {
		return fmt.Errorf("load universe: %w", err)
	}

	statsPath := fmt.Sprintf("%s/stats/venue=%s/date=%s/stats.parquet", c.cfg.Storage.Root, name, date)
	statsTable, err := stats.Load(statsPath, c.logger)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	var statsProvider scheduler.StatsProvider = scheduler.NoStats{}
	if statsTable != nil {
		statsProvider = statsTable
	}

	trades := make(chan venue.Trade, 1024)
	adapter := venue.NewWSAdapter(name, vc.WSURL, c.store, uni, c.metrics, trades, c.logger)

	sched := scheduler.New(vc, uni, statsProvider, c.logger)
	subs := subscription.New(adapter, uni, vc.SubscriptionChurnLimitPerMinute, c.logger)

	rt := &venueRuntime{name: name, cfg: vc, uni: uni, adapter: adapter, sched: sched, subs: subs, trades: trades}
	rt.snap = snapshotter.New(name, c.store, c.snapWriter, c.cfg.Storage.TopK,
		vc.SnapshotIntervalHot, vc.SnapshotIntervalWarm,
		rt.hotKeys, rt.warmKeys, c.logger,
	)
	c.venues[name] = rt
	return nil
}

// addMockVenue wires a synthetic venue with no universe file and no real
// scheduler filters, so the whole pipeline can run start-to-finish with no
// network.
func (c *Collector) addMockVenue(name string) error {
	mockAdapter := venue.NewMockAdapter(c.store, 250*time.Millisecond, c.logger)
	uni := &universe.Universe{}

	vc := config.VenueConfig{
		MaxSubs:                         10,
		RotationPeriod:                  30 * time.Second,
		SnapshotIntervalHot:             2 * time.Second,
		SnapshotIntervalWarm:            10 * time.Second,
		SubscriptionChurnLimitPerMinute: 100,
	}

	rt := &venueRuntime{name: name, cfg: vc, uni: uni, adapter: mockAdapter}
	rt.snap = snapshotter.New(name, c.store, c.snapWriter, c.cfg.Storage.TopK,
		vc.SnapshotIntervalHot, vc.SnapshotIntervalWarm,
		rt.hotKeys, rt.warmKeys, c.logger,
	)
	c.venues[name] = rt

	const mockTokens = 5
	tokens := make([]string, mockTokens)
	keys := make([]book.Key, mockTokens)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("mock-%d", i)
		keys[i] = book.Key{MarketID: tokens[i], OutcomeID: "mock"}
	}
	mockAdapter.Subscribe(tokens)
	// No scheduler runs for the mock venue (there's no universe to rank), so
	// every subscribed key is sampled at HOT cadence.
	rt.hot = keys
	return nil
}

func (rt *venueRuntime) hotKeys() []book.Key {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]book.Key(nil), rt.hot...)
}

func (rt *venueRuntime) warmKeys() []book.Key {
	if rt.sched == nil {
		return nil
	}
	_, warm := rt.sched.Desired(time.Now())
	return warm
}

// Start opens every venue's adapter connection, performs the initial
// reconcile, and starts the snapshot, scheduler, metrics, and flush timers.
// It returns once every task is running; the tasks themselves run until
// Stop cancels them.
func (c *Collector) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for _, rt := range c.venues {
		rt := rt
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			rt.adapter.Run(runCtx)
		}()

		if rt.sched != nil {
			hot, warm := rt.sched.Desired(time.Now())
			rt.mu.Lock()
			rt.hot = hot
			rt.mu.Unlock()
			rt.subs.Reconcile(time.Now(), hot, warm)

			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.schedulerLoop(runCtx, rt)
			}()
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			rt.snap.Run(runCtx)
		}()

		if rt.trades != nil {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.tradesLoop(runCtx, rt)
			}()
		}
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.metrics.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.flushLoop(runCtx)
	}()

	c.logger.Info("collector started", "venues", len(c.venues))
	return nil
}

// schedulerLoop ticks at the venue's rotation period, recomputing the
// desired HOT/WARM sets and reconciling the subscription manager.
func (c *Collector) schedulerLoop(ctx context.Context, rt *venueRuntime) {
	ticker := time.NewTicker(rt.cfg.RotationPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hot, warm := rt.sched.Desired(time.Now())
			rt.mu.Lock()
			rt.hot = hot
			rt.mu.Unlock()
			rt.subs.Reconcile(time.Now(), hot, warm)
		}
	}
}

// tradesLoop drains one venue's trade channel into the trades writer.
func (c *Collector) tradesLoop(ctx context.Context, rt *venueRuntime) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-rt.trades:
			if !ok {
				return
			}
			// Trades reuse the snapshot row's column layout rather than a
			// second schema: best_bid_px/sz carry trade price/size and every
			// trade row has status "ok". Side isn't in Row, so it's folded
			// into err, which trade rows otherwise leave unused.
			row := schema.Row{
				TsRecv:    tr.TsRecv,
				Venue:     rt.name,
				MarketID:  tr.AssetID,
				Status:    schema.StatusOK,
				BestBidPx: tr.Price,
				BestBidSz: tr.Size,
				Err:       tr.Side,
			}
			if err := c.tradesWriter.Write(rt.name, row); err != nil {
				c.logger.Error("trades write failed", "venue", rt.name, "error", err)
			}
		}
	}
}

// flushLoop runs the time-based flush trigger for both writers. Size-based
// flush is handled synchronously inside Writer.Write and needs no timer.
func (c *Collector) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.snapWriter.FlushDue(); err != nil {
				c.logger.Error("snapshot flush failed", "error", err)
			}
			if err := c.tradesWriter.FlushDue(); err != nil {
				c.logger.Error("trades flush failed", "error", err)
			}
			c.metrics.SetBufferedRows(c.snapWriter.RowsBuffered() + c.tradesWriter.RowsBuffered())
			c.metrics.SetRowsDropped(c.snapWriter.RowsDropped() + c.tradesWriter.RowsDropped())
			c.metrics.SetSubscriptionCount(c.subscriptionTotal())
		}
	}
}

// Stop cancels every task, waits for them to exit, and flushes both
// writers: stop timers, close adapter, flush writer, exit.
func (c *Collector) Stop() {
	c.logger.Info("stopping collector")
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	for _, rt := range c.venues {
		if rt.trades != nil {
			close(rt.trades)
		}
	}

	if err := c.snapWriter.FlushAll(); err != nil {
		c.logger.Error("final snapshot flush failed", "error", err)
	}
	if err := c.tradesWriter.FlushAll(); err != nil {
		c.logger.Error("final trades flush failed", "error", err)
	}
	c.logger.Info("collector stopped", "summary", c.metrics.Snapshot())
}

// Metrics exposes the shared metrics collector for the status HTTP surface.
func (c *Collector) Metrics() *metrics.Collector { return c.metrics }

// subscriptionTotal sums the live subscription counts across venues. Venues
// without a subscription manager (the mock) count what their adapter holds.
func (c *Collector) subscriptionTotal() int {
	var total int
	for _, rt := range c.venues {
		if rt.subs != nil {
			total += rt.subs.Len()
		} else {
			total += len(rt.adapter.Subscribed())
		}
	}
	return total
}

// VenueStatuses reports each venue's subscription and HOT-set sizes for the
// status surface; implements api.VenueLister.
func (c *Collector) VenueStatuses() []api.VenueStatus {
	statuses := make([]api.VenueStatus, 0, len(c.venues))
	for name, rt := range c.venues {
		vs := api.VenueStatus{Name: name}
		if rt.subs != nil {
			vs.SubscriptionCount = rt.subs.Len()
		} else {
			vs.SubscriptionCount = len(rt.adapter.Subscribed())
		}
		rt.mu.Lock()
		vs.HotCount = len(rt.hot)
		rt.mu.Unlock()
		statuses = append(statuses, vs)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}
