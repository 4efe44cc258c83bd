package apiclient

import "sync"

// State is a snapshot of a Tracker.
type State struct {
	Loading bool
	Err     error
}

// Tracker exposes the loading flag and last error of the calls made through
// a Client. Overlapping calls keep Loading true until the last one ends.
type Tracker struct {
	mu       sync.Mutex
	inflight int
	err      error
	nextID   int
	subs     map[int]func(State)
}

func NewTracker() *Tracker {
	return &Tracker{subs: make(map[int]func(State))}
}

func (t *Tracker) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight > 0
}

// Err returns the error of the most recent failed call, cleared when the
// next call starts.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{Loading: t.inflight > 0, Err: t.err}
}

// Subscribe registers fn for every state change and returns a function that
// removes it. fn runs on the calling goroutine of the request.
func (t *Tracker) Subscribe(fn func(State)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// begin marks a call as started and returns the function that ends it.
func (t *Tracker) begin() func(error) {
	t.mu.Lock()
	t.inflight++
	t.err = nil
	t.mu.Unlock()
	t.notify()

	var once sync.Once
	return func(err error) {
		once.Do(func() {
			t.mu.Lock()
			t.inflight--
			if err != nil {
				t.err = err
			}
			t.mu.Unlock()
			t.notify()
		})
	}
}

func (t *Tracker) notify() {
	t.mu.Lock()
	state := State{Loading: t.inflight > 0, Err: t.err}
	subs := make([]func(State), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}
