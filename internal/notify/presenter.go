// Package notify holds the single notification slot shared by every
// operation of a session and closes it automatically after a fixed delay.
package notify

import (
	"sync"
	"time"

	"github.com/neelesh18904/CryptoProject/internal/model"
)

// DefaultTimeout is how long an alert stays open without explicit dismissal.
const DefaultTimeout = 3000 * time.Millisecond

// Presenter owns the notification slot. The latest Set wins; there is no
// ordering between concurrent writers.
type Presenter struct {
	timeout time.Duration

	mu      sync.Mutex
	current model.Notification
	gen     uint64
	timer   *time.Timer
	nextID  uint64
	subs    map[uint64]func(model.Notification)
}

// New creates a presenter. A non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration) *Presenter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Presenter{
		timeout: timeout,
		subs:    make(map[uint64]func(model.Notification)),
	}
}

// Set replaces the current notification and re-arms the auto-dismiss timer.
// A notification with Open=false is a dismissal.
func (p *Presenter) Set(n model.Notification) {
	if !n.Open {
		p.Dismiss()
		return
	}
	if !n.Severity.Valid() {
		n.Severity = model.SeverityInfo
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.current = n
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.timeout, func() { p.expire(gen) })
	fns := p.listenersLocked()
	p.mu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}

// Dismiss closes the current notification, if any.
func (p *Presenter) Dismiss() {
	p.mu.Lock()
	if !p.current.Open {
		p.mu.Unlock()
		return
	}
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.current = model.Notification{}
	fns := p.listenersLocked()
	p.mu.Unlock()

	for _, fn := range fns {
		fn(model.Notification{})
	}
}

// Current returns the notification in the slot.
func (p *Presenter) Current() model.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe registers fn for every change of the slot. The returned func
// unregisters it and is safe to call more than once.
func (p *Presenter) Subscribe(fn func(model.Notification)) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// Close stops the pending timer.
func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// expire closes the slot only if no newer notification replaced the one
// that armed this timer.
func (p *Presenter) expire(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.current.Open {
		p.mu.Unlock()
		return
	}
	p.current = model.Notification{}
	p.timer = nil
	fns := p.listenersLocked()
	p.mu.Unlock()

	for _, fn := range fns {
		fn(model.Notification{})
	}
}

func (p *Presenter) listenersLocked() []func(model.Notification) {
	fns := make([]func(model.Notification), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	return fns
}
