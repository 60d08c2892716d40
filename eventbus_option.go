package htnscale

import "github.com/ZanzyTHEbar/htnscale/internal/eventbus"

// WithEventBus sets the event bus component. The engine does not own a bus
// supplied this way; the caller is responsible for closing it.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) {
		e.eventBus = bus
		e.ownsBus = false
	}
}
