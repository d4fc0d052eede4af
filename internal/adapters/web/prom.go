// Прометеевский коллектор показателей репликации. Значения читаются из
// живых источников в момент scrape: счётчики пар монотонны, потому что
// накапливаются в базе вместе с парами, остальное публикуется гейджами.

package web

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunil55999/Luffy/internal/domain/dispatch"
	"github.com/sunil55999/Luffy/internal/domain/metrics"
	"github.com/sunil55999/Luffy/internal/domain/pairs"
)

var (
	descCopied = prometheus.NewDesc(
		"luffy_messages_copied_total",
		"Messages replicated to destination chats.",
		nil, nil,
	)
	descFiltered = prometheus.NewDesc(
		"luffy_messages_filtered_total",
		"Messages suppressed by pair filters.",
		nil, nil,
	)
	descErrors = prometheus.NewDesc(
		"luffy_delivery_errors_total",
		"Delivery attempts that ended with an error.",
		nil, nil,
	)
	descQueueDepth = prometheus.NewDesc(
		"luffy_queue_depth",
		"Jobs waiting in the dispatch queue.",
		[]string{"priority"}, nil,
	)
	descQueueDropped = prometheus.NewDesc(
		"luffy_queue_dropped_total",
		"Jobs evicted from the dispatch queue on overflow.",
		nil, nil,
	)
	descBotSuccess = prometheus.NewDesc(
		"luffy_bot_success_rate",
		"Exponential moving average of per-bot delivery success.",
		[]string{"bot"}, nil,
	)
	descBotProcessed = prometheus.NewDesc(
		"luffy_bot_messages_processed_total",
		"Jobs processed per bot.",
		[]string{"bot"}, nil,
	)
	descObserverOnline = prometheus.NewDesc(
		"luffy_observer_online",
		"Whether the MTProto observer connection is alive.",
		nil, nil,
	)
)

// Collector публикует показатели очереди, пар и ботов.
type Collector struct {
	queue    *dispatch.Queue
	registry *pairs.Registry
	bots     *metrics.Registry
	online   func() bool
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector создаёт коллектор поверх живых источников.
func NewCollector(queue *dispatch.Queue, registry *pairs.Registry, bots *metrics.Registry, online func() bool) *Collector {
	if online == nil {
		online = func() bool { return false }
	}
	return &Collector{queue: queue, registry: registry, bots: bots, online: online}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descCopied
	ch <- descFiltered
	ch <- descErrors
	ch <- descQueueDepth
	ch <- descQueueDropped
	ch <- descBotSuccess
	ch <- descBotProcessed
	ch <- descObserverOnline
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var copied, filtered, failed int64
	for _, p := range c.registry.All() {
		st := c.registry.StatsFor(p)
		copied += st.MessagesCopied
		filtered += st.MessagesFiltered
		failed += st.Errors
	}
	ch <- prometheus.MustNewConstMetric(descCopied, prometheus.CounterValue, float64(copied))
	ch <- prometheus.MustNewConstMetric(descFiltered, prometheus.CounterValue, float64(filtered))
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(failed))

	qs := c.queue.Snapshot()
	ch <- prometheus.MustNewConstMetric(descQueueDepth, prometheus.GaugeValue, float64(qs.Urgent), "urgent")
	ch <- prometheus.MustNewConstMetric(descQueueDepth, prometheus.GaugeValue, float64(qs.High), "high")
	ch <- prometheus.MustNewConstMetric(descQueueDepth, prometheus.GaugeValue, float64(qs.Normal), "normal")
	ch <- prometheus.MustNewConstMetric(descQueueDepth, prometheus.GaugeValue, float64(qs.Low), "low")
	ch <- prometheus.MustNewConstMetric(descQueueDropped, prometheus.CounterValue, float64(qs.Dropped))

	for idx, st := range c.bots.Snapshot() {
		bot := strconv.Itoa(idx)
		ch <- prometheus.MustNewConstMetric(descBotSuccess, prometheus.GaugeValue, st.SuccessRate, bot)
		ch <- prometheus.MustNewConstMetric(descBotProcessed, prometheus.CounterValue, float64(st.MessagesProcessed), bot)
	}

	alive := 0.0
	if c.online() {
		alive = 1.0
	}
	ch <- prometheus.MustNewConstMetric(descObserverOnline, prometheus.GaugeValue, alive)
}
