package orchestrator

import "sync"

// clarificationDesk routes clarification answers to plan tasks parked on
// this pod. Delivery here is the fast path; the durable path is the plan
// document plus the transcript, which parked tasks also poll, so an answer
// applied by another replica still unparks the task.
type clarificationDesk struct {
	mu      sync.Mutex
	waiters map[string]*planWaiter
}

// planWaiter is one parked task's mailbox. The answer channel carries the
// reply text; the wake channel is closed to force an immediate re-read of
// the plan document (used for cancellation).
type planWaiter struct {
	answer   chan string
	wake     chan struct{}
	wakeOnce sync.Once
}

func newClarificationDesk() *clarificationDesk {
	return &clarificationDesk{waiters: make(map[string]*planWaiter)}
}

// register creates the waiter for a plan about to park. Callers register
// before committing the park patch, so an answer arriving right after the
// patch always finds the waiter.
func (d *clarificationDesk) register(planID string) *planWaiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := &planWaiter{
		answer: make(chan string, 1),
		wake:   make(chan struct{}),
	}
	d.waiters[planID] = w
	return w
}

// unregister removes the waiter if it is still the registered one.
func (d *clarificationDesk) unregister(planID string, w *planWaiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiters[planID] == w {
		delete(d.waiters, planID)
	}
}

// deliver hands an answer to a locally parked task. Reports whether a waiter
// received it; false means the plan is parked on another replica (or not
// parked at all) and will pick the answer up from the transcript.
func (d *clarificationDesk) deliver(planID, answer string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.waiters[planID]
	if !ok {
		return false
	}
	select {
	case w.answer <- answer:
		return true
	default:
		// A previous answer is already buffered; the extra one is dropped
		// here but remains readable from the transcript.
		return false
	}
}

// wakeUp nudges a locally parked task to re-read its plan document.
func (d *clarificationDesk) wakeUp(planID string) {
	d.mu.Lock()
	w, ok := d.waiters[planID]
	d.mu.Unlock()
	if ok {
		w.wakeOnce.Do(func() { close(w.wake) })
	}
}
