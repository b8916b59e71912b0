package blkfile

// arena is a fixed-capacity collection addressed by slot index. Released
// slots go on a free list and are handed out again by alloc.
type arena[T any] struct {
	slots []T
	used  []bool
	free  []int
}

func newArena[T any](capacity int) *arena[T] {
	a := &arena[T]{
		slots: make([]T, capacity),
		used:  make([]bool, capacity),
		free:  make([]int, capacity),
	}
	// lowest index on top of the stack
	for i := range a.free {
		a.free[i] = capacity - 1 - i
	}
	return a
}

func (a *arena[T]) alloc() (int, bool) {
	if len(a.free) == 0 {
		return -1, false
	}

	i := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]

	var zero T
	a.slots[i] = zero
	a.used[i] = true
	return i, true
}

func (a *arena[T]) get(i int) (*T, bool) {
	if i < 0 || i >= len(a.slots) || !a.used[i] {
		return nil, false
	}
	return &a.slots[i], true
}

func (a *arena[T]) release(i int) {
	if i < 0 || i >= len(a.slots) || !a.used[i] {
		return
	}

	var zero T
	a.slots[i] = zero
	a.used[i] = false
	a.free = append(a.free, i)
}

func (a *arena[T]) len() int { return len(a.slots) - len(a.free) }
func (a *arena[T]) cap() int { return len(a.slots) }

// each calls fn for every used slot in ascending index order.
func (a *arena[T]) each(fn func(i int, v *T)) {
	for i := range a.slots {
		if a.used[i] {
			fn(i, &a.slots[i])
		}
	}
}
