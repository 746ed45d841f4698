package replay

import "slices"

// Subscribe returns a channel that receives every future save result.
// Slow subscribers miss results rather than delaying the worker.
func (o *Orchestrator) Subscribe() chan SaveResult {
	ch := make(chan SaveResult, 10)
	o.mu.Lock()
	o.listeners = append(o.listeners, ch)
	o.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (o *Orchestrator) Unsubscribe(ch chan SaveResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, listener := range o.listeners {
		if listener == ch {
			o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// OnSave registers a callback run on the save worker after each save.
// Callbacks must return quickly.
func (o *Orchestrator) OnSave(fn func(SaveResult)) {
	o.mu.Lock()
	o.hooks = append(o.hooks, fn)
	o.mu.Unlock()
}

func (o *Orchestrator) notify(result SaveResult) {
	o.mu.RLock()
	for _, listener := range o.listeners {
		select {
		case listener <- result:
		default:
			// subscriber is full
		}
	}
	hooks := slices.Clone(o.hooks)
	o.mu.RUnlock()

	for _, fn := range hooks {
		fn(result)
	}
}
