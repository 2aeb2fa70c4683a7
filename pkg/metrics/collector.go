package metrics

import "time"

// VersionSource is the minimal view the Collector needs of the Version
// Store: every Version's current status.
type VersionSource interface {
	List() []VersionSummary
}

// VersionSummary is the subset of a Version the Collector gauges on.
type VersionSummary struct {
	Status string
}

// Collector periodically refreshes the gauges that cannot be updated
// incrementally at the point of the event that changed them (e.g. the
// live count of Versions per status).
type Collector struct {
	versions VersionSource
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(versions VersionSource) *Collector {
	return &Collector{
		versions: versions,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectVersionMetrics()
}

func (c *Collector) collectVersionMetrics() {
	if c.versions == nil {
		return
	}
	counts := make(map[string]int)
	for _, v := range c.versions.List() {
		counts[v.Status]++
	}
	for status, count := range counts {
		VersionsTotal.WithLabelValues(status).Set(float64(count))
	}
}
