package protocol

import (
	"errors"
	"fmt"
)

// ErrNoHandler is returned by Dispatch for a kind with no registered handler.
var ErrNoHandler = errors.New("no handler registered")

// Handler processes one decoded message against state S. from is the
// sender's transport address.
type Handler[S any] func(state S, msg Message, from string) Effects

// Router is a lookup table from message kind to handler. Adding a message
// kind means registering one more handler.
type Router[S any] struct {
	handlers map[Kind]Handler[S]
}

// NewRouter creates an empty router.
func NewRouter[S any]() *Router[S] {
	return &Router[S]{handlers: make(map[Kind]Handler[S])}
}

// Handle registers h for kind, replacing any previous handler.
func (r *Router[S]) Handle(kind Kind, h Handler[S]) {
	r.handlers[kind] = h
}

// On registers a handler typed to a concrete variant M.
func On[S any, M Message](r *Router[S], h func(state S, msg M, from string) Effects) {
	var zero M
	r.Handle(zero.Kind(), func(state S, msg Message, from string) Effects {
		m, ok := msg.(M)
		if !ok {
			return Effects{Events: []Event{Rejected(msg.Kind(), ReasonUnhandled, from, "unexpected variant")}}
		}
		return h(state, m, from)
	})
}

// Dispatch routes msg to its handler.
func (r *Router[S]) Dispatch(state S, msg Message, from string) (Effects, error) {
	h, ok := r.handlers[msg.Kind()]
	if !ok {
		return Effects{}, fmt.Errorf("%w: %s", ErrNoHandler, msg.Kind())
	}
	return h(state, msg, from), nil
}
