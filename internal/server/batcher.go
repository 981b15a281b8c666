// Package server hosts the request-serving surfaces: the gRPC service,
// the JSON/HTTP gateway, the dispatch batcher and the Prometheus
// metrics around them.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/born-ml/serve/internal/servable"
	"github.com/born-ml/serve/internal/tensor"
)

var (
	// ErrQueueFull is returned when the bounded request queue rejects a
	// submission.
	ErrQueueFull = errors.New("request queue is full")
	// ErrBatcherStopped is returned for submissions after shutdown began.
	ErrBatcherStopped = errors.New("batcher is stopped")
)

// batchKey identifies jobs that may execute as one batch.
type batchKey struct {
	servable string
	version  int64
	method   string
}

type batchItem struct {
	ctx       context.Context
	key       batchKey
	method    *servable.Method
	instances []map[string]*tensor.RawTensor
	enqueued  time.Time
	result    chan batchResult
}

type batchResult struct {
	outputs []map[string]*tensor.RawTensor
	err     error
}

// BatcherConfig sizes the dispatch queue and batching window.
type BatcherConfig struct {
	MaxBatchSize int
	BatchWindow  time.Duration
	QueueSize    int
	Logger       *zap.Logger
	// OnBatch observes each executed batch for metrics.
	OnBatch func(key batchKey, batchSize int, queueWait, inferenceTime time.Duration, err error)
}

// Batcher collects submitted jobs into a bounded queue and executes jobs
// with the same (servable, version, method) target as one batch.
type Batcher struct {
	cfg    BatcherConfig
	logger *zap.Logger

	queue    chan batchItem
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBatcher validates the configuration and builds a stopped batcher.
func NewBatcher(cfg BatcherConfig) (*Batcher, error) {
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive")
	}
	if cfg.BatchWindow <= 0 {
		return nil, fmt.Errorf("batch window must be positive")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Batcher{
		cfg:    cfg,
		logger: cfg.Logger,
		queue:  make(chan batchItem, cfg.QueueSize),
		stop:   make(chan struct{}),
	}, nil
}

// Start launches the dispatch loop.
func (b *Batcher) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run()
	}()
}

// Stop drains nothing further; queued jobs in flight finish, waiting
// submitters get ErrBatcherStopped. Stop is idempotent.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
}

// Submit enqueues one job and blocks until its batch executes.
func (b *Batcher) Submit(ctx context.Context, key batchKey, method *servable.Method, instances []map[string]*tensor.RawTensor) ([]map[string]*tensor.RawTensor, error) {
	resultCh := make(chan batchResult, 1)
	item := batchItem{
		ctx:       ctx,
		key:       key,
		method:    method,
		instances: instances,
		enqueued:  time.Now(),
		result:    resultCh,
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.stop:
		return nil, ErrBatcherStopped
	default:
	}

	select {
	case b.queue <- item:
	default:
		return nil, ErrQueueFull
	}

	select {
	case result := <-resultCh:
		return result.outputs, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.stop:
		return nil, ErrBatcherStopped
	}
}

func (b *Batcher) run() {
	for {
		select {
		case <-b.stop:
			b.drain()
			return
		case first := <-b.queue:
			b.processWindow(first)
		}
	}
}

// drain fails whatever is still queued at shutdown.
func (b *Batcher) drain() {
	for {
		select {
		case item := <-b.queue:
			item.result <- batchResult{err: ErrBatcherStopped}
		default:
			return
		}
	}
}

// processWindow collects jobs for one batching window, then executes
// them grouped by target.
func (b *Batcher) processWindow(first batchItem) {
	batch := []batchItem{first}
	timer := time.NewTimer(b.cfg.BatchWindow)
	defer timer.Stop()

	total := instanceCount(batch)
collect:
	for total < b.cfg.MaxBatchSize {
		select {
		case <-b.stop:
			b.failAll(batch, ErrBatcherStopped)
			return
		case next := <-b.queue:
			batch = append(batch, next)
			total += len(next.instances)
		case <-timer.C:
			break collect
		}
	}

	groups := make(map[batchKey][]batchItem)
	order := make([]batchKey, 0, 1)
	for _, item := range batch {
		if _, ok := groups[item.key]; !ok {
			order = append(order, item.key)
		}
		groups[item.key] = append(groups[item.key], item)
	}
	for _, key := range order {
		b.executeGroup(key, groups[key])
	}
}

// executeGroup flattens same-target jobs into one run and hands each job
// its slice of the results. Jobs whose submitter already gave up are
// failed with their context error instead of executing.
func (b *Batcher) executeGroup(key batchKey, items []batchItem) {
	live := items[:0]
	for _, item := range items {
		if err := item.ctx.Err(); err != nil {
			item.result <- batchResult{err: err}
			continue
		}
		live = append(live, item)
	}
	items = live
	if len(items) == 0 {
		return
	}

	start := time.Now()
	var queueWait time.Duration
	for _, item := range items {
		if wait := start.Sub(item.enqueued); wait > 0 {
			queueWait += wait
		}
	}
	queueWait /= time.Duration(len(items))

	var instances []map[string]*tensor.RawTensor
	for _, item := range items {
		instances = append(instances, item.instances...)
	}

	outputs, err := items[0].method.ExecuteBatch(context.Background(), instances)
	inferenceTime := time.Since(start)
	if b.cfg.OnBatch != nil {
		b.cfg.OnBatch(key, len(instances), queueWait, inferenceTime, err)
	}

	if err != nil {
		b.logger.Error("batch execution failed",
			zap.String("servable", key.servable),
			zap.Int64("version", key.version),
			zap.String("method", key.method),
			zap.Int("batch_size", len(instances)),
			zap.Error(err))
		b.failAll(items, err)
		return
	}
	if len(outputs) != len(instances) {
		b.failAll(items, fmt.Errorf("executor returned %d results for %d instances", len(outputs), len(instances)))
		return
	}

	b.logger.Debug("batch executed",
		zap.String("servable", key.servable),
		zap.Int64("version", key.version),
		zap.String("method", key.method),
		zap.Int("batch_size", len(instances)),
		zap.Duration("queue_wait", queueWait),
		zap.Duration("inference_time", inferenceTime))

	offset := 0
	for _, item := range items {
		n := len(item.instances)
		item.result <- batchResult{outputs: outputs[offset : offset+n]}
		offset += n
	}
}

func (b *Batcher) failAll(items []batchItem, err error) {
	for _, item := range items {
		item.result <- batchResult{err: err}
	}
}

func instanceCount(items []batchItem) int {
	n := 0
	for _, item := range items {
		n += len(item.instances)
	}
	return n
}
