package entity

import (
	"strconv"
	"sync"
	"time"

	"github.com/wattsync/wattsync/pkg/intervals"
	"github.com/wattsync/wattsync/pkg/types"
)

// Offpeak is a binary entity reporting whether the current wall-clock
// time falls inside an offpeak window. It recomputes on its own short
// timer from static configuration only, so it stays live between refresh
// cycles. Close must be called when the entity is torn down.
type Offpeak struct {
	id    string
	model *intervals.Model
	now   func() time.Time

	mu      sync.Mutex
	in      bool
	subs    map[int]func()
	nextSub int

	stop     chan struct{}
	stopOnce sync.Once
}

// NewOffpeak builds the entity and starts its timer. period defaults to
// one minute when zero.
func NewOffpeak(pdl string, model *intervals.Model, period time.Duration) *Offpeak {
	if period <= 0 {
		period = time.Minute
	}
	e := &Offpeak{
		id:    pdl + "_offpeak",
		model: model,
		now:   time.Now,
		subs:  map[int]func(){},
		stop:  make(chan struct{}),
	}
	e.in = e.model.CurrentlyIn(types.LabelOffpeak, e.now())
	go e.run(period)
	return e
}

func (e *Offpeak) run(period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-t.C:
			e.recompute()
		}
	}
}

func (e *Offpeak) recompute() {
	in := e.model.CurrentlyIn(types.LabelOffpeak, e.now())

	e.mu.Lock()
	changed := in != e.in
	e.in = in
	var fns []func()
	if changed {
		fns = make([]func(), 0, len(e.subs))
		for _, fn := range e.subs {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (e *Offpeak) ID() string { return e.id }

func (e *Offpeak) ReadState() Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Value{State: strconv.FormatBool(e.in), Available: true}
}

func (e *Offpeak) OnUpstreamUpdate(fn func()) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// Close stops the timer. Safe to call more than once.
func (e *Offpeak) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
}
