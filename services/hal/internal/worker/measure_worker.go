package worker

import (
	"context"
	"errors"
	"time"

	"dhtcode-go/services/hal/internal/halcore"
	"dhtcode-go/services/hal/internal/util"
)

// MeasureWorker runs trigger/collect cycles for every adaptor on one bus.
// Calls into adaptors are made from a single goroutine, so devices sharing
// a worker never overlap.
type MeasureWorker struct {
	cfg  halcore.WorkerConfig
	reqQ chan halcore.MeasureReq
	sink chan<- halcore.Result // fan-in sink owned by service

	pending  map[string]*collectItem
	want     map[string]bool
	collects []*collectItem
	timer    *time.Timer
}

type collectItem struct {
	id      string
	adaptor halcore.Adaptor
	due     time.Time
	retries int
}

func New(cfg halcore.WorkerConfig, sink chan<- halcore.Result) *MeasureWorker {
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 100 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 250 * time.Millisecond
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 15 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.InputQueueSize <= 0 {
		cfg.InputQueueSize = 16
	}
	return &MeasureWorker{
		cfg:     cfg,
		reqQ:    make(chan halcore.MeasureReq, cfg.InputQueueSize),
		sink:    sink,
		pending: map[string]*collectItem{},
		want:    map[string]bool{},
		timer:   time.NewTimer(time.Hour),
	}
}

// Submit queues a request without blocking. Priority requests wait briefly
// for queue space.
func (w *MeasureWorker) Submit(req halcore.MeasureReq) bool {
	select {
	case w.reqQ <- req:
		return true
	default:
		if req.Prio {
			select {
			case w.reqQ <- req:
				return true
			case <-time.After(5 * time.Millisecond):
			}
		}
		return false
	}
}

func (w *MeasureWorker) Start(ctx context.Context) {
	if !w.timer.Stop() {
		util.DrainTimer(w.timer)
	}
	go w.run(ctx)
}

func (w *MeasureWorker) run(ctx context.Context) {
	for {
		if next := w.minDue(); next.IsZero() {
			util.ResetTimer(w.timer, time.Hour)
		} else {
			util.ResetTimer(w.timer, time.Until(next))
		}
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqQ:
			if _, ok := w.pending[req.ID]; ok {
				if req.Prio {
					w.want[req.ID] = true
				}
				continue
			}
			it := &collectItem{id: req.ID, adaptor: req.Adaptor}
			if w.trigger(ctx, it) {
				w.pending[req.ID] = it
				w.collects = append(w.collects, it)
			}
		case <-w.timer.C:
			w.collectDue(ctx)
		}
	}
}

// trigger starts a cycle; false means the error was emitted.
func (w *MeasureWorker) trigger(ctx context.Context, it *collectItem) bool {
	tctx, cancel := context.WithTimeout(ctx, w.cfg.TriggerTimeout)
	after, err := it.adaptor.Trigger(tctx)
	cancel()
	if err != nil {
		w.emit(ctx, halcore.Result{ID: it.id, Err: err})
		return false
	}
	it.retries = 0
	it.due = time.Now().Add(after)
	return true
}

func (w *MeasureWorker) collectDue(ctx context.Context) {
	now := time.Now()
	var keep []*collectItem
	for _, it := range w.collects {
		if now.Before(it.due) {
			keep = append(keep, it)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, w.cfg.CollectTimeout)
		s, err := it.adaptor.Collect(cctx)
		cancel()

		var retry *halcore.RetryError
		switch {
		case err == nil:
			delete(w.pending, it.id)
			delete(w.want, it.id)
			w.emit(ctx, halcore.Result{ID: it.id, Sample: s})
			continue
		case errors.Is(err, halcore.ErrNotReady) && it.retries < w.cfg.MaxRetries:
			it.retries++
			it.due = time.Now().Add(w.cfg.RetryBackoff)
			keep = append(keep, it)
			continue
		case errors.As(err, &retry) && it.retries < w.cfg.MaxRetries:
			it.retries++
			it.due = time.Now().Add(retry.After)
			keep = append(keep, it)
			continue
		case retry != nil:
			err = retry.Err
		}

		delete(w.pending, it.id)
		w.emit(ctx, halcore.Result{ID: it.id, Err: err})
		if w.want[it.id] {
			delete(w.want, it.id)
			if w.trigger(ctx, it) {
				w.pending[it.id] = it
				keep = append(keep, it)
			}
		}
	}
	w.collects = keep
}

// emit blocks until the service takes r or the worker is stopped.
func (w *MeasureWorker) emit(ctx context.Context, r halcore.Result) {
	select {
	case w.sink <- r:
	case <-ctx.Done():
	}
}

func (w *MeasureWorker) minDue() time.Time {
	var min time.Time
	for _, it := range w.collects {
		if min.IsZero() || it.due.Before(min) {
			min = it.due
		}
	}
	return min
}
