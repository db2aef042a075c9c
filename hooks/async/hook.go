// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/lockstore"
//	asynchook "github.com/unkn0wn-root/lockstore/hooks/async"
//	sloghook "github.com/unkn0wn-root/lockstore/hooks/sloghook"
//
// )
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	    HitMissEvery:  100,
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cached, _ := lockstore.NewCached[User](inner, lockstore.CacheOptions[User]{
//	    Namespace: "app:prod:user",
//	    Codec:     codec.JSON[User]{},
//	    Capacity:  4096,
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/lockstore"
)

type Hooks struct {
	inner lockstore.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ lockstore.Hooks = (*Hooks)(nil)

func New(inner lockstore.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) Hit(k string)              { h.try(func() { h.inner.Hit(k) }) }
func (h *Hooks) Miss(k string)             { h.try(func() { h.inner.Miss(k) }) }
func (h *Hooks) SelfHeal(k, reason string) { h.try(func() { h.inner.SelfHeal(k, reason) }) }
func (h *Hooks) Evicted(k string)          { h.try(func() { h.inner.Evicted(k) }) }
func (h *Hooks) ProviderSetRejected(k string) {
	h.try(func() { h.inner.ProviderSetRejected(k) })
}
