package metrics

import (
	"time"

	"github.com/burrowctl/burrow/pkg/storage"
	"github.com/burrowctl/burrow/pkg/types"
)

// Collector periodically samples cluster state into the gauges.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectWorkers()
	c.collectServices()
	c.collectDeployments()
	c.collectTokens()
}

func (c *Collector) collectWorkers() {
	workers, err := c.store.ListWorkers(storage.WorkerFilter{})
	if err != nil {
		return
	}

	counts := make(map[[2]string]int)
	for _, w := range workers {
		counts[[2]string{string(w.Role), string(w.Status)}]++
	}
	WorkersTotal.Reset()
	for key, count := range counts {
		WorkersTotal.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
}

func (c *Collector) collectServices() {
	services, err := c.store.ListServices()
	if err != nil {
		return
	}
	ServicesTotal.Set(float64(len(services)))
}

func (c *Collector) collectDeployments() {
	deployments, err := c.store.ListDeployments()
	if err != nil {
		return
	}

	counts := make(map[types.DeploymentStatus]int)
	for _, d := range deployments {
		counts[d.Status]++
	}
	DeploymentsTotal.Reset()
	for status, count := range counts {
		DeploymentsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectTokens() {
	tokens, err := c.store.ListTokens()
	if err != nil {
		return
	}

	now := time.Now()
	active := 0
	for _, t := range tokens {
		if t.IsActive && !t.Expired(now) && !t.Exhausted() {
			active++
		}
	}
	TokensActive.Set(float64(active))
}
