package coop

// An Inbox is a level-triggered FIFO mailbox. Waiting on an inbox that holds
// items fires immediately, and items stay in the inbox until they are taken
// out explicitly.
type Inbox[T any] struct {
	name    string
	items   []T
	waiters waiterList
}

// NewInbox creates an empty Inbox.
func NewInbox[T any](name string) *Inbox[T] {
	return &Inbox[T]{name: name}
}

// Name returns the name of the inbox.
func (in *Inbox[T]) Name() string {
	return in.name
}

// Put appends an item and wakes the processes waiting on the inbox.
func (in *Inbox[T]) Put(item T) {
	in.items = append(in.items, item)
	in.waiters.notify(in, len(in.items))
}

// Len returns the number of items in the inbox.
func (in *Inbox[T]) Len() int {
	return len(in.items)
}

// Peek returns the oldest item without removing it.
func (in *Inbox[T]) Peek() (T, bool) {
	var zero T
	if len(in.items) == 0 {
		return zero, false
	}

	return in.items[0], true
}

// Pop removes and returns the oldest item.
func (in *Inbox[T]) Pop() (T, bool) {
	var zero T
	if len(in.items) == 0 {
		return zero, false
	}

	item := in.items[0]
	in.items[0] = zero
	in.items = in.items[1:]

	return item, true
}

// Items returns a copy of the items in arrival order.
func (in *Inbox[T]) Items() []T {
	return append([]T(nil), in.items...)
}

// Drain removes and returns all the items in arrival order.
func (in *Inbox[T]) Drain() []T {
	items := in.items
	in.items = nil

	return items
}

// Remove takes out the oldest item that matches the predicate.
func (in *Inbox[T]) Remove(match func(T) bool) (T, bool) {
	var zero T
	for i, item := range in.items {
		if match(item) {
			in.items = append(in.items[:i:i], in.items[i+1:]...)
			return item, true
		}
	}

	return zero, false
}

func (in *Inbox[T]) arm(w *waiter) {
	in.waiters.add(w)
	if len(in.items) > 0 {
		w.notify(in, len(in.items))
	}
}

func (in *Inbox[T]) disarm(w *waiter) {
	in.waiters.remove(w)
}

func (in *Inbox[T]) satisfied(f Fired) bool {
	return f.has(in)
}
