package entrycache

// Observer is notified about the outcome of the fetch it waits on.
// Callbacks run synchronously on the goroutine delivering the event and
// must not block.
type Observer interface {
	// OnFinish is called once the entry holds a usable representation.
	OnFinish(e *Entry)
	// OnFail is called when the fetch failed or was cancelled.
	OnFail(e *Entry, err error)
	// OnProgress is called after each received chunk. expected is
	// UnknownLength when the response did not declare a length.
	OnProgress(e *Entry, received, expected int64)
}

// ObserverFuncs adapts closures to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Finish   func(e *Entry)
	Fail     func(e *Entry, err error)
	Progress func(e *Entry, received, expected int64)
}

func (o *ObserverFuncs) OnFinish(e *Entry) {
	if o.Finish != nil {
		o.Finish(e)
	}
}

func (o *ObserverFuncs) OnFail(e *Entry, err error) {
	if o.Fail != nil {
		o.Fail(e, err)
	}
}

func (o *ObserverFuncs) OnProgress(e *Entry, received, expected int64) {
	if o.Progress != nil {
		o.Progress(e, received, expected)
	}
}

// waiter turns the outcome into a channel receive.
type waiter struct {
	done chan error
}

func newWaiter() *waiter {
	return &waiter{done: make(chan error, 1)}
}

func (w *waiter) OnFinish(*Entry) {
	w.done <- nil
}

func (w *waiter) OnFail(_ *Entry, err error) {
	w.done <- err
}

func (w *waiter) OnProgress(*Entry, int64, int64) {}
