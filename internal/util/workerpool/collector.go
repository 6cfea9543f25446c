package workerpool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports pool statistics at scrape time
type Collector struct {
	pools []*WorkerPool

	activeWorkers *prometheus.Desc
	queuedTasks   *prometheus.Desc
	tasksTotal    *prometheus.Desc
}

// NewCollector returns a collector over the given pools
func NewCollector(nodeID string, pools ...*WorkerPool) *Collector {
	constLabels := prometheus.Labels{"node_id": nodeID}
	return &Collector{
		pools: pools,
		activeWorkers: prometheus.NewDesc(
			"pairdb_workerpool_active_workers",
			"Workers currently running a task",
			[]string{"pool"}, constLabels),
		queuedTasks: prometheus.NewDesc(
			"pairdb_workerpool_queued_tasks",
			"Tasks waiting for a worker",
			[]string{"pool"}, constLabels),
		tasksTotal: prometheus.NewDesc(
			"pairdb_workerpool_tasks_total",
			"Tasks by outcome",
			[]string{"pool", "outcome"}, constLabels),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeWorkers
	ch <- c.queuedTasks
	ch <- c.tasksTotal
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.pools {
		s := p.Stats()
		ch <- prometheus.MustNewConstMetric(c.activeWorkers, prometheus.GaugeValue, float64(s.ActiveWorkers), s.Name)
		ch <- prometheus.MustNewConstMetric(c.queuedTasks, prometheus.GaugeValue, float64(s.QueuedTasks), s.Name)
		ch <- prometheus.MustNewConstMetric(c.tasksTotal, prometheus.CounterValue, float64(s.CompletedTasks), s.Name, "completed")
		ch <- prometheus.MustNewConstMetric(c.tasksTotal, prometheus.CounterValue, float64(s.FailedTasks), s.Name, "failed")
		ch <- prometheus.MustNewConstMetric(c.tasksTotal, prometheus.CounterValue, float64(s.RejectedTasks), s.Name, "rejected")
	}
}
