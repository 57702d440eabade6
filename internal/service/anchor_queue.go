package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/ledger"
	"github.com/permitguard/permitguard/internal/metrics"
	"github.com/permitguard/permitguard/internal/models"
)

// Compile-time check: *AnchorQueue must satisfy domain.AnchorService.
var _ domain.AnchorService = (*AnchorQueue)(nil)

// Dead-letter reasons.
const (
	reasonQueueFull  = "queue_full"
	reasonMaxRetries = "max_retries"
	reasonRejected   = "rejected"
)

// anchorUpdateTimeout bounds the entry update made after a ledger reply.
const anchorUpdateTimeout = 10 * time.Second

// AnchorQueueConfig sizes the queue and its retry policy.
type AnchorQueueConfig struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// AnchorQueue submits audit hashes to the external ledger in the background.
// Items are sharded across workers by related entry ID, so submissions for
// one entry keep their order while different entries proceed in parallel.
// An item that exhausts its retries is dead-lettered, never dropped.
type AnchorQueue struct {
	ledger   Ledger
	entries  AnchorStore
	notifier Notifier
	log      *logrus.Logger
	cfg      AnchorQueueConfig
	shards   []chan *models.AnchorItem

	mu       sync.Mutex
	nextID   uint64
	items    map[uint64]*models.AnchorItem
	inFlight int
	dead     []models.DeadLetter
}

// NewAnchorQueue creates an AnchorQueue. Call Run to start its workers.
func NewAnchorQueue(l Ledger, entries AnchorStore, notifier Notifier, log *logrus.Logger, cfg AnchorQueueConfig) *AnchorQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	perShard := max(cfg.QueueSize/cfg.Workers, 1)
	shards := make([]chan *models.AnchorItem, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan *models.AnchorItem, perShard)
	}

	return &AnchorQueue{
		ledger:   l,
		entries:  entries,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		shards:   shards,
		items:    make(map[uint64]*models.AnchorItem),
	}
}

// LedgerEnabled reports whether submissions reach a real ledger.
func (q *AnchorQueue) LedgerEnabled() bool {
	return q.ledger.Enabled()
}

// Enqueue adds an anchor item. Non-blocking; a full shard dead-letters the
// item with reason queue_full.
func (q *AnchorQueue) Enqueue(op models.AnchorOp, hash, label, relatedEntryID string) {
	q.mu.Lock()
	q.nextID++
	item := &models.AnchorItem{
		ID:             q.nextID,
		Op:             op,
		Hash:           hash,
		Label:          label,
		RelatedEntryID: relatedEntryID,
		EnqueuedAt:     time.Now(),
	}
	q.items[item.ID] = item
	q.mu.Unlock()

	q.push(item)
}

func (q *AnchorQueue) push(item *models.AnchorItem) {
	select {
	case q.shardFor(item) <- item:
		metrics.AnchorQueueDepth.Set(float64(q.queueLength()))
	default:
		q.mu.Lock()
		delete(q.items, item.ID)
		q.mu.Unlock()

		q.deadLetter(item, reasonQueueFull)

		go q.markFailed(item)
	}
}

// shardFor keys by related entry so one entry's items stay ordered.
func (q *AnchorQueue) shardFor(item *models.AnchorItem) chan *models.AnchorItem {
	if item.RelatedEntryID == "" {
		return q.shards[item.ID%uint64(len(q.shards))]
	}

	h := fnv.New32a()
	h.Write([]byte(item.RelatedEntryID))

	return q.shards[h.Sum32()%uint32(len(q.shards))]
}

// Run starts one worker per shard and blocks until ctx is cancelled and
// all workers have stopped. Call in a goroutine.
func (q *AnchorQueue) Run(ctx context.Context) {
	var wg sync.WaitGroup

	q.log.WithField("workers", len(q.shards)).Info("starting anchor workers")

	for i, shard := range q.shards {
		wg.Add(1)
		go func(id int, jobs <-chan *models.AnchorItem) {
			defer wg.Done()
			q.runWorker(ctx, id, jobs)
		}(i, shard)
	}

	wg.Wait()

	if left := q.queueLength(); left > 0 {
		q.log.WithField("remaining", left).Warn("anchor workers stopped with items queued; pending entries are re-enqueued on next start")
	}

	q.log.Info("all anchor workers stopped")
}

func (q *AnchorQueue) runWorker(ctx context.Context, id int, jobs <-chan *models.AnchorItem) {
	q.log.WithField("worker_id", id).Debug("anchor worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-jobs:
			metrics.AnchorQueueDepth.Set(float64(q.queueLength()))
			q.begin()
			q.processWithRetry(ctx, item)
			q.finish(item)
		}
	}
}

func (q *AnchorQueue) begin() {
	q.mu.Lock()
	q.inFlight++
	metrics.AnchorInFlight.Set(float64(q.inFlight))
	q.mu.Unlock()
}

func (q *AnchorQueue) finish(item *models.AnchorItem) {
	q.mu.Lock()
	q.inFlight--
	delete(q.items, item.ID)
	metrics.AnchorInFlight.Set(float64(q.inFlight))
	q.mu.Unlock()
}

func (q *AnchorQueue) processWithRetry(ctx context.Context, item *models.AnchorItem) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !q.ledger.Enabled() {
			metrics.AnchorOutcomes.WithLabelValues(string(item.Op), "skipped").Inc()
			return
		}

		receipt, err := q.ledger.Submit(ctx, item.Op, item.Hash, item.Label)
		if err == nil {
			q.recordReceipt(item, receipt)
			return
		}

		if ctx.Err() != nil {
			return
		}

		retries := q.noteFailure(item, err)

		log := q.log.WithError(err).WithFields(logrus.Fields{
			"op":       item.Op,
			"entry_id": item.RelatedEntryID,
			"attempt":  retries,
		})

		if errors.Is(err, ledger.ErrRejected) {
			q.deadLetter(item, reasonRejected)
			q.markFailed(item)
			return
		}

		if retries > q.cfg.MaxRetries {
			q.deadLetter(item, reasonMaxRetries)
			q.markFailed(item)
			return
		}

		delay := q.backoff(retries)
		metrics.AnchorOutcomes.WithLabelValues(string(item.Op), "retried").Inc()
		log.WithField("retry_in", delay).Warn("anchor submission failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// backoff returns BaseDelay * 2^(retries-1), capped at MaxDelay.
func (q *AnchorQueue) backoff(retries int) time.Duration {
	delay := q.cfg.BaseDelay
	for i := 1; i < retries && delay < q.cfg.MaxDelay; i++ {
		delay *= 2
	}

	return min(delay, q.cfg.MaxDelay)
}

func (q *AnchorQueue) noteFailure(item *models.AnchorItem, err error) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	item.Retries++
	item.LastError = err.Error()

	return item.Retries
}

func (q *AnchorQueue) recordReceipt(item *models.AnchorItem, receipt *models.AnchorReceipt) {
	metrics.AnchorOutcomes.WithLabelValues(string(item.Op), "anchored").Inc()

	log := q.log.WithFields(logrus.Fields{
		"op":       item.Op,
		"entry_id": item.RelatedEntryID,
		"tx_ref":   receipt.TxRef,
	})

	if item.RelatedEntryID == "" {
		log.Debug("anchored")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), anchorUpdateTimeout)
	defer cancel()

	if err := q.entries.MarkAnchored(ctx, item.RelatedEntryID, receipt); err != nil {
		log.WithError(err).Error("anchored but failed to record receipt on entry")
		return
	}

	log.Debug("anchored")
}

func (q *AnchorQueue) deadLetter(item *models.AnchorItem, reason string) {
	q.mu.Lock()
	q.dead = append(q.dead, models.DeadLetter{Item: *item, Reason: reason, FailedAt: time.Now()})
	deadCount := len(q.dead)
	q.mu.Unlock()

	metrics.AnchorDeadLetters.Set(float64(deadCount))
	metrics.AnchorOutcomes.WithLabelValues(string(item.Op), "dead_letter").Inc()

	q.log.WithFields(logrus.Fields{
		"op":         item.Op,
		"entry_id":   item.RelatedEntryID,
		"reason":     reason,
		"retries":    item.Retries,
		"last_error": item.LastError,
	}).Error("anchor item dead-lettered")

	raise(q.notifier, q.log, models.Alert{
		Kind:    models.AlertAnchorDeadLetter,
		Message: fmt.Sprintf("anchoring %s gave up: %s", item.Label, reason),
		Detail:  map[string]any{"entry_id": item.RelatedEntryID, "reason": reason},
	}, time.Now())
}

func (q *AnchorQueue) markFailed(item *models.AnchorItem) {
	if item.RelatedEntryID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), anchorUpdateTimeout)
	defer cancel()

	if err := q.entries.SetAnchorStatus(ctx, item.RelatedEntryID, models.AnchorStatusFailed); err != nil {
		q.log.WithError(err).WithField("entry_id", item.RelatedEntryID).Error("marking entry anchor failed")
	}
}

func (q *AnchorQueue) queueLength() int {
	n := 0
	for _, s := range q.shards {
		n += len(s)
	}

	return n
}

// Status returns a point-in-time view of queued, in-flight and dead items.
func (q *AnchorQueue) Status() models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]models.AnchorItem, 0, len(q.items))
	for _, it := range q.items {
		items = append(items, *it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	dead := make([]models.DeadLetter, len(q.dead))
	copy(dead, q.dead)

	return models.QueueStatus{
		QueueLength: q.queueLength(),
		Processing:  q.inFlight > 0,
		InFlight:    q.inFlight,
		Items:       items,
		DeadLetters: dead,
		LedgerOn:    q.ledger.Enabled(),
	}
}

// RetryDeadLetters re-enqueues every dead-lettered item with a fresh retry
// budget and returns how many were re-enqueued.
func (q *AnchorQueue) RetryDeadLetters() int {
	q.mu.Lock()
	dead := q.dead
	q.dead = nil
	q.mu.Unlock()

	metrics.AnchorDeadLetters.Set(0)

	for _, d := range dead {
		q.Enqueue(d.Item.Op, d.Item.Hash, d.Item.Label, d.Item.RelatedEntryID)
	}

	if len(dead) > 0 {
		q.log.WithField("count", len(dead)).Info("dead-lettered anchor items re-enqueued")
	}

	return len(dead)
}

// Clear discards queued items and dead letters. Administrative use only;
// in-flight items finish normally.
func (q *AnchorQueue) Clear() int {
	cleared := 0

	for _, s := range q.shards {
	drain:
		for {
			select {
			case item := <-s:
				q.mu.Lock()
				delete(q.items, item.ID)
				q.mu.Unlock()
				cleared++
			default:
				break drain
			}
		}
	}

	q.mu.Lock()
	cleared += len(q.dead)
	q.dead = nil
	q.mu.Unlock()

	metrics.AnchorQueueDepth.Set(0)
	metrics.AnchorDeadLetters.Set(0)

	q.log.WithField("cleared", cleared).Warn("anchor queue cleared")

	return cleared
}

// RequeuePending enqueues entries still awaiting anchoring, such as those
// left behind by a previous process. Returns how many were enqueued.
func (q *AnchorQueue) RequeuePending(ctx context.Context, limit int) (int, error) {
	if !q.ledger.Enabled() {
		return 0, nil
	}

	pending, err := q.entries.PendingAnchors(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("loading pending anchors: %w", err)
	}

	for _, e := range pending {
		q.Enqueue(anchorOpFor(e.EventType), e.Hash, e.EventType+":"+e.ID, e.ID)
	}

	if len(pending) > 0 {
		q.log.WithField("count", len(pending)).Info("re-enqueued pending anchors")
	}

	return len(pending), nil
}
