// Package stream distributes published refresh-cycle reports to live
// consumers such as WebSocket clients and the terminal watcher.
package stream

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pnl-dashboard/internal/models"
)

// HubConfig holds configuration for the Stream Hub.
type HubConfig struct {
	// BufferSize is the size of the internal report channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
	// SlowConsumerDropThreshold is the number of consecutive drops before logging.
	SlowConsumerDropThreshold int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:                64,
		SubscriberBufferSize:      8,
		SlowConsumerDropThreshold: 5,
	}
}

// Hub fans published reports out to subscribers. It keeps the newest
// report by sequence number and refuses anything older, so a cycle that
// finishes after a later-started one never overwrites it.
type Hub struct {
	config      HubConfig
	logger      zerolog.Logger
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	latest      *models.Report
	reportChan  chan *models.Report
	done        chan struct{}
	started     bool
	consumers   []Consumer
	consumersMu sync.RWMutex
	nextID      uint64

	// Metrics
	published uint64
	stale     uint64
	broadcast uint64
	dropped   uint64
	metricsMu sync.RWMutex
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Channel      chan *models.Report
	DroppedCount int
	CreatedAt    time.Time
	lastSeq      uint64
}

// NewHub creates a new stream hub with default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig creates a new stream hub with custom configuration.
func NewHubWithConfig(config HubConfig, logger zerolog.Logger) *Hub {
	if config.BufferSize < 1 {
		config.BufferSize = 1
	}
	if config.SubscriberBufferSize < 1 {
		config.SubscriberBufferSize = 1
	}
	return &Hub{
		config:      config,
		logger:      logger.With().Str("component", "hub").Logger(),
		subscribers: make(map[string]*Subscriber),
		reportChan:  make(chan *models.Report, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the hub's distribution loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop(ctx)
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case report := <-h.reportChan:
			h.fanOut(report)
			h.notifyConsumers(report)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}

	close(h.done)
	h.started = false

	for id, sub := range h.subscribers {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// Publish offers a report for distribution. It returns false when the
// report is older than (or the same cycle as) the latest accepted one.
func (h *Hub) Publish(report *models.Report) bool {
	if report == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.latest != nil && report.Seq <= h.latest.Seq {
		h.metricsMu.Lock()
		h.stale++
		h.metricsMu.Unlock()
		h.logger.Debug().
			Uint64("seq", report.Seq).
			Uint64("latest", h.latest.Seq).
			Msg("discarding stale report")
		return false
	}
	h.latest = report

	h.metricsMu.Lock()
	h.published++
	h.metricsMu.Unlock()

	// Enqueue while holding mu so the channel order matches seq order.
	select {
	case h.reportChan <- report:
	default:
		h.metricsMu.Lock()
		h.dropped++
		h.metricsMu.Unlock()
	}
	return true
}

// Latest returns the newest accepted report, or nil before the first one.
func (h *Hub) Latest() *models.Report {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Subscribe registers a subscriber. The channel is primed with the latest
// report when there is one.
func (h *Hub) Subscribe() (string, <-chan *models.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := "sub-" + strconv.FormatUint(h.nextID, 10)
	sub := &Subscriber{
		ID:        id,
		Channel:   make(chan *models.Report, h.config.SubscriberBufferSize),
		CreatedAt: time.Now(),
	}
	if h.latest != nil {
		sub.Channel <- h.latest
		sub.lastSeq = h.latest.Seq
	}
	h.subscribers[id] = sub
	return id, sub.Channel
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[id]; ok {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// fanOut sends a report to every subscriber without blocking on slow ones.
// A subscriber whose buffer is full loses its oldest queued report.
func (h *Hub) fanOut(report *models.Report) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		// Primed subscribers may already hold this report.
		if report.Seq <= sub.lastSeq {
			continue
		}
		sub.lastSeq = report.Seq

		select {
		case sub.Channel <- report:
			sub.DroppedCount = 0
			h.metricsMu.Lock()
			h.broadcast++
			h.metricsMu.Unlock()
			continue
		default:
		}

		select {
		case <-sub.Channel:
		default:
		}
		select {
		case sub.Channel <- report:
		default:
		}

		sub.DroppedCount++
		h.metricsMu.Lock()
		h.dropped++
		h.metricsMu.Unlock()
		if sub.DroppedCount == h.config.SlowConsumerDropThreshold {
			h.logger.Warn().Str("subscriber", sub.ID).Int("dropped", sub.DroppedCount).Msg("slow consumer")
		}
	}
}

// GetSubscriberCount returns the number of active subscribers.
func (h *Hub) GetSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Published   uint64 `json:"published"`
	Stale       uint64 `json:"stale"`
	Broadcast   uint64 `json:"broadcast"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() HubMetrics {
	subscribers := h.GetSubscriberCount()

	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()

	return HubMetrics{
		Published:   h.published,
		Stale:       h.stale,
		Broadcast:   h.broadcast,
		Dropped:     h.dropped,
		Subscribers: subscribers,
	}
}

// Consumer processes every report the hub distributes.
type Consumer interface {
	OnReport(report *models.Report)
}

// ConsumerFunc is a function adapter for Consumer.
type ConsumerFunc func(report *models.Report)

// OnReport implements Consumer.
func (f ConsumerFunc) OnReport(report *models.Report) {
	f(report)
}

// RegisterConsumer adds a consumer to receive reports.
func (h *Hub) RegisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, consumer)
	h.consumersMu.Unlock()
}

// notifyConsumers runs consumers on the broadcast goroutine, in seq order.
func (h *Hub) notifyConsumers(report *models.Report) {
	h.consumersMu.RLock()
	consumers := make([]Consumer, len(h.consumers))
	copy(consumers, h.consumers)
	h.consumersMu.RUnlock()

	for _, consumer := range consumers {
		consumer.OnReport(report)
	}
}
