package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattsync/wattsync/pkg/config"
	"github.com/wattsync/wattsync/pkg/meterapi"
	"github.com/wattsync/wattsync/pkg/reconcile"
	"github.com/wattsync/wattsync/pkg/statstore"
)

// Set holds one coordinator per configured meter.
type Set struct {
	coordinators map[string]*Coordinator
	order        []string
}

// Configured builds the coordinator set from the meters file.
// It registers flags for configuration.
func Configured(cfg *config.Config, factory *meterapi.Factory, store statstore.Store) *Set {
	interval := lflag.Duration("refresh-interval", 3*time.Hour, "How often to refresh each meter")
	lookbackDaily := lflag.Duration("lookback-daily", reconcile.DefaultLookback.Daily, "First-collection lookback for daily services")
	lookbackDetail := lflag.Duration("lookback-detail", reconcile.DefaultLookback.Detail, "First-collection lookback for load curve services")

	s := &Set{coordinators: map[string]*Coordinator{}}

	lflag.Do(func() {
		lookback := reconcile.Lookback{Daily: *lookbackDaily, Detail: *lookbackDetail}
		for _, m := range cfg.Meters {
			api := factory.Client(m.PDL, m.Token)
			s.coordinators[m.PDL] = New(m, api, store, lookback, *interval)
			s.order = append(s.order, m.PDL)
		}
	})

	return s
}

// NewSet builds a Set from already-constructed coordinators.
func NewSet(coordinators ...*Coordinator) *Set {
	s := &Set{coordinators: map[string]*Coordinator{}}
	for _, c := range coordinators {
		s.coordinators[c.PDL()] = c
		s.order = append(s.order, c.PDL())
	}
	return s
}

// ByPDL returns the coordinator for a delivery point.
func (s *Set) ByPDL(pdl string) (*Coordinator, bool) {
	c, ok := s.coordinators[pdl]
	return c, ok
}

// All returns the coordinators in configuration order.
func (s *Set) All() []*Coordinator {
	out := make([]*Coordinator, 0, len(s.order))
	for _, pdl := range s.order {
		out = append(out, s.coordinators[pdl])
	}
	return out
}

// Run runs every coordinator until ctx is cancelled.
func (s *Set) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range s.coordinators {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			c.Run(ctx)
		}(c)
	}
	wg.Wait()
}
