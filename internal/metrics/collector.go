package metrics

import (
	"context"
	"time"

	"vdotapes/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

// DBMetricsUpdater refreshes connection and file-size gauges.
type DBMetricsUpdater interface {
	UpdateDBMetrics()
}

// Stats holds the current library statistics
type Stats struct {
	TotalItems     int
	TotalFavorites int
	TotalHidden    int
	TotalRated     int
	TotalFolders   int
	TotalTags      int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	dbUpdater     DBMetricsUpdater
	interval      time.Duration
	stopChan      chan struct{}
	doneChan      chan struct{}
}

// NewCollector creates a new metrics collector. dbUpdater may be nil.
func NewCollector(provider StatsProvider, dbUpdater DBMetricsUpdater, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Collector{
		statsProvider: provider,
		dbUpdater:     dbUpdater,
		interval:      interval,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection and waits for the loop to exit
func (c *Collector) Stop() {
	close(c.stopChan)
	<-c.doneChan
}

func (c *Collector) collectLoop() {
	defer close(c.doneChan)

	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.dbUpdater != nil {
		c.dbUpdater.UpdateDBMetrics()
	}

	if c.statsProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := c.statsProvider.Stats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	LibraryItemsTotal.Set(float64(stats.TotalItems))
	LibraryAnnotationsTotal.WithLabelValues("favorite").Set(float64(stats.TotalFavorites))
	LibraryAnnotationsTotal.WithLabelValues("hidden").Set(float64(stats.TotalHidden))
	LibraryAnnotationsTotal.WithLabelValues("rated").Set(float64(stats.TotalRated))
	LibraryFoldersTotal.Set(float64(stats.TotalFolders))
	LibraryTagsTotal.Set(float64(stats.TotalTags))

	logging.Debug("Metrics collected: items=%d, favorites=%d, hidden=%d, tags=%d",
		stats.TotalItems, stats.TotalFavorites, stats.TotalHidden, stats.TotalTags)
}
