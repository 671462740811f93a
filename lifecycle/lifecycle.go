package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// State is the foreground state of the host process.
type State string

const (
	Active     State = "active"
	Background State = "background"
	Inactive   State = "inactive"
)

// Observer exposes the current process state and its transitions.
type Observer interface {
	Current() State
	// Subscribe registers fn for every later transition. The returned function
	// releases the subscription and is safe to call more than once.
	Subscribe(fn func(State)) (unsubscribe func())
}

var _ Observer = (*Tracker)(nil)

// Tracker is an Observer fed by Set. Notifications are delivered in the order
// the transitions happened; repeated states are not re-announced.
type Tracker struct {
	dispatch sync.Mutex

	mu    sync.RWMutex
	state State
	subs  map[uint64]func(State)
	next  uint64
}

func NewTracker(initial State) *Tracker {
	return &Tracker{state: initial, subs: make(map[uint64]func(State))}
}

func (t *Tracker) Current() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Tracker) Subscribe(fn func(State)) func() {
	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Set records a transition and notifies subscribers in subscription order.
func (t *Tracker) Set(s State) {
	t.dispatch.Lock()
	defer t.dispatch.Unlock()

	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	prev := t.state
	t.state = s
	ids := make([]uint64, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.subs[id])
	}
	t.mu.Unlock()

	log.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("lifecycle: state changed")
	for _, fn := range fns {
		fn(s)
	}
}

// Follow applies the state mapped to every signal received on ch until ctx
// is done or ch is closed.
func Follow(ctx context.Context, t *Tracker, ch <-chan os.Signal, mapping map[os.Signal]State) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			s, known := mapping[sig]
			if !known {
				log.Warn().Str("signal", sig.String()).Msg("lifecycle: unmapped signal")
				continue
			}
			t.Set(s)
		}
	}
}

// WatchSignals moves t to Background on background and back to Active on
// foreground until ctx is done.
func WatchSignals(ctx context.Context, t *Tracker, background, foreground os.Signal) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, background, foreground)
	defer signal.Stop(ch)
	Follow(ctx, t, ch, map[os.Signal]State{background: Background, foreground: Active})
}
