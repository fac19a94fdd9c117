package mapsync

import (
	"sync"
	"time"
)

// makes a copy of the list on update
// callbacks are identified by the id returned from `Add`, since funcs are not comparable
type CallbackList[T any] struct {
	mutex     sync.Mutex
	nextId    uint64
	callbacks []callbackEntry[T]
}

type callbackEntry[T any] struct {
	id       uint64
	callback T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	callbacks := make([]T, len(self.callbacks))
	for i, entry := range self.callbacks {
		callbacks[i] = entry.callback
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) (remove func()) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.nextId += 1
	id := self.nextId
	nextCallbacks := make([]callbackEntry[T], len(self.callbacks), len(self.callbacks)+1)
	copy(nextCallbacks, self.callbacks)
	nextCallbacks = append(nextCallbacks, callbackEntry[T]{id: id, callback: callback})
	self.callbacks = nextCallbacks

	return func() {
		self.remove(id)
	}
}

func (self *CallbackList[T]) remove(id uint64) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	nextCallbacks := make([]callbackEntry[T], 0, len(self.callbacks))
	for _, entry := range self.callbacks {
		if entry.id != id {
			nextCallbacks = append(nextCallbacks, entry)
		}
	}
	self.callbacks = nextCallbacks
}

// spaces reconnect attempts so that the time between connect starts is at least `timeout`
type Reconnect struct {
	startTime time.Time
	timeout   time.Duration
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		startTime: time.Now(),
		timeout:   timeout,
	}
}

func (self *Reconnect) After() <-chan time.Time {
	remaining := self.timeout - time.Since(self.startTime)
	if remaining <= 0 {
		c := make(chan time.Time, 1)
		c <- time.Now()
		return c
	}
	return time.After(remaining)
}
