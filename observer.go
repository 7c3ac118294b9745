/************************************************************************************
 *
 * crescendo, A Go client library for Spacebar-compatible chat instances
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 The Crescendo Contributors
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package crescendo

import "sync"

/*****************************
 *       Observer
 *****************************/

// Observer receives every occurrence of one event type. Update is invoked
// sequentially on the dispatcher's goroutine and must not block indefinitely.
type Observer[T any] interface {
	Update(event T)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc[T any] func(event T)

// Update implements Observer.
func (f ObserverFunc[T]) Update(event T) { f(event) }

/*****************************
 *       Publisher
 *****************************/

// Subscription is the stable identity of one subscribed observer. Keep it to
// unsubscribe exactly that observer later.
type Subscription[T any] struct {
	observer Observer[T]
}

// Publisher owns the subscriber list for one event type. Subscribers are
// notified in registration order, sequentially, on the publisher's caller.
//
// The zero value is ready to use.
type Publisher[T any] struct {
	mu   sync.Mutex
	subs []*Subscription[T]
}

// Subscribe registers an observer and returns its subscription identity.
func (p *Publisher[T]) Subscribe(observer Observer[T]) *Subscription[T] {
	sub := &Subscription[T]{observer: observer}
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
	return sub
}

// Unsubscribe removes exactly the given subscription, retaining every other
// subscriber. Unknown subscriptions are ignored.
func (p *Publisher[T]) Unsubscribe(sub *Subscription[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.subs[:0]
	for _, s := range p.subs {
		if s != sub {
			kept = append(kept, s)
		}
	}
	p.subs = kept
}

// Publish delivers the event to every subscriber in registration order.
func (p *Publisher[T]) Publish(event T) {
	p.mu.Lock()
	subs := make([]*Subscription[T], len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, s := range subs {
		s.observer.Update(event)
	}
}

// Len returns the number of current subscribers.
func (p *Publisher[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

/*****************************
 *     Helper observers
 *****************************/

// OneshotObserver fires the next occurrence of the event to its channel and
// becomes inert. Unsubscribe it after receiving.
type OneshotObserver[T any] struct {
	mu   sync.Mutex
	ch   chan T
	done bool
}

// NewOneshotObserver creates a oneshot observer and its receive channel.
func NewOneshotObserver[T any]() (*OneshotObserver[T], <-chan T) {
	ch := make(chan T, 1)
	return &OneshotObserver[T]{ch: ch}, ch
}

// Update implements Observer. The first event is buffered; later ones are
// dropped silently.
func (o *OneshotObserver[T]) Update(event T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return
	}
	o.done = true
	o.ch <- event
	close(o.ch)
}

// BroadcastObserver relays every occurrence to a bounded channel. When the
// receiver falls behind and the channel fills, events are dropped.
type BroadcastObserver[T any] struct {
	ch chan T
}

// NewBroadcastObserver creates a broadcast observer with the given channel
// depth and its receive channel.
func NewBroadcastObserver[T any](depth int) (*BroadcastObserver[T], <-chan T) {
	if depth < 1 {
		depth = 1
	}
	ch := make(chan T, depth)
	return &BroadcastObserver[T]{ch: ch}, ch
}

// Update implements Observer.
func (o *BroadcastObserver[T]) Update(event T) {
	select {
	case o.ch <- event:
	default:
		// Receiver is not keeping up; dropping beats blocking the dispatcher.
	}
}
