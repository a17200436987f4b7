package entrycache

import "sync"

// ObserverRegistry keeps, per key, the observers waiting on the fetch in
// flight. A key with registered observers has exactly one fetch in flight;
// the list is cleared when that fetch reaches a terminal status.
type ObserverRegistry struct {
	mu        sync.Mutex
	observers map[string][]Observer
}

func NewObserverRegistry() *ObserverRegistry {
	return &ObserverRegistry{observers: make(map[string][]Observer)}
}

// Register appends o to the observers of key. It returns true when o is
// the first one, in which case the caller owns starting the fetch.
func (r *ObserverRegistry) Register(key string, o Observer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, inFlight := r.observers[key]
	r.observers[key] = append(list, o)
	return !inFlight
}

// Remove unregisters a single observer without signaling it. The fetch
// stays in flight even when no observer is left.
func (r *ObserverRegistry) Remove(key string, o Observer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.observers[key]
	for i, registered := range list {
		if registered == o {
			r.observers[key] = append(list[:i:i], list[i+1:]...)
			// keep the key present, see Register
			return true
		}
	}
	return false
}

// Detach removes and returns all observers of key, in registration order.
func (r *ObserverRegistry) Detach(key string) []Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.observers[key]
	delete(r.observers, key)
	return list
}

// Len returns the number of observers waiting on key.
func (r *ObserverRegistry) Len(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers[key])
}

// SignalAll releases the observers of key: each gets OnFinish, or OnFail
// with err when it is non-nil, in registration order.
func (r *ObserverRegistry) SignalAll(key string, e *Entry, err error) {
	for _, o := range r.Detach(key) {
		if err != nil {
			o.OnFail(e, err)
		} else {
			o.OnFinish(e)
		}
	}
}

// Progress forwards a progress event to the observers of key without
// releasing them.
func (r *ObserverRegistry) Progress(key string, e *Entry, received, expected int64) {
	r.mu.Lock()
	list := append([]Observer(nil), r.observers[key]...)
	r.mu.Unlock()
	for _, o := range list {
		o.OnProgress(e, received, expected)
	}
}
