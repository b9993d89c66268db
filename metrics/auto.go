package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// promAdjust adjusts a name for use by Prometheus: it strips off a single
// label of prefix (which is usually the name of the service, and therefore
// duplicated by Prometheus' instance labels), and replaces "-" and "." with
// "_".
func promAdjust(name string) string {
	name = strings.Replace(name, "-", "_", -1)
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return labels[0]
	}
	return strings.Join(labels[1:], "_")
}

// autoProm implements a bridge from statsd-style metrics to Prometheus-style
// metrics, automatically registering metrics the first time they are used and
// memoizing them thereafter (since Prometheus doesn't allow repeat
// registration of the same metric). It is safe for concurrent access.
type autoProm struct {
	sync.RWMutex
	metrics    map[string]prometheus.Collector
	registerer prometheus.Registerer
}

type maker func(string) prometheus.Collector

func (ap *autoProm) get(name string, make maker) prometheus.Collector {
	name = promAdjust(name)
	ap.RLock()
	result := ap.metrics[name]
	ap.RUnlock()
	if result != nil {
		return result
	}
	ap.Lock()
	defer ap.Unlock()

	// Check once more, since it could have been added while we were locked.
	if ap.metrics[name] != nil {
		return ap.metrics[name]
	}
	result = make(name)
	if ap.registerer != nil {
		ap.registerer.MustRegister(result)
	}
	ap.metrics[name] = result
	return result
}

func newAutoProm() *autoProm {
	return &autoProm{
		metrics: make(map[string]prometheus.Collector),
	}
}

// autoRegisterer bundles three autoProm instances, one per Prometheus metric
// kind, all registering against the same prometheus.Registerer. A promScope
// embeds one of these so that every Scope derived via NewScope shares the
// same memoized set of collectors and the same registry.
type autoRegisterer struct {
	gauges    *autoProm
	counters  *autoProm
	summaries *autoProm
}

func newAutoRegisterer(registerer prometheus.Registerer) *autoRegisterer {
	return &autoRegisterer{
		gauges:    &autoProm{metrics: make(map[string]prometheus.Collector), registerer: registerer},
		counters:  &autoProm{metrics: make(map[string]prometheus.Collector), registerer: registerer},
		summaries: &autoProm{metrics: make(map[string]prometheus.Collector), registerer: registerer},
	}
}

func (ar *autoRegisterer) autoGauge(name string) prometheus.Gauge {
	return ar.gauges.get(name, func(cleaned string) prometheus.Collector {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Name: cleaned,
			Help: "auto",
		})
	}).(prometheus.Gauge)
}

func (ar *autoRegisterer) autoCounter(name string) prometheus.Counter {
	return ar.counters.get(name, func(cleaned string) prometheus.Collector {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Name: cleaned,
			Help: "auto",
		})
	}).(prometheus.Counter)
}

func (ar *autoRegisterer) autoSummary(name string) prometheus.Summary {
	return ar.summaries.get(name, func(cleaned string) prometheus.Collector {
		return prometheus.NewSummary(prometheus.SummaryOpts{
			Name: cleaned,
			Help: "auto",
		})
	}).(prometheus.Summary)
}
