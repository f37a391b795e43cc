package kernel

// taskList is a FIFO of tasks linked through next/prev. A task is on at most
// one taskList at a time (a ready level or the suspended list).
type taskList struct {
	head, tail *Task
	n          int
}

func (l *taskList) pushBack(t *Task) {
	t.list = l
	t.next = nil
	t.prev = l.tail
	if l.tail != nil {
		l.tail.next = t
	} else {
		l.head = t
	}
	l.tail = t
	l.n++
}

func (l *taskList) remove(t *Task) {
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		l.tail = t.prev
	}
	t.next, t.prev, t.list = nil, nil, nil
	l.n--
}

func (l *taskList) popFront() *Task {
	t := l.head
	if t != nil {
		l.remove(t)
	}
	return t
}

// waitList holds the tasks blocked on one primitive, highest priority first
// and FIFO among equal priorities.
type waitList struct {
	head, tail *Task
	mutex      *Mutex
}

func (w *waitList) insert(t *Task) {
	t.waitOn = w
	cur := w.head
	for cur != nil && cur.prio >= t.prio {
		cur = cur.wnext
	}
	if cur == nil {
		t.wprev = w.tail
		t.wnext = nil
		if w.tail != nil {
			w.tail.wnext = t
		} else {
			w.head = t
		}
		w.tail = t
		return
	}
	t.wnext = cur
	t.wprev = cur.wprev
	if cur.wprev != nil {
		cur.wprev.wnext = t
	} else {
		w.head = t
	}
	cur.wprev = t
}

func (w *waitList) remove(t *Task) {
	if t.wprev != nil {
		t.wprev.wnext = t.wnext
	} else {
		w.head = t.wnext
	}
	if t.wnext != nil {
		t.wnext.wprev = t.wprev
	} else {
		w.tail = t.wprev
	}
	t.wnext, t.wprev, t.waitOn = nil, nil, nil
}

func (w *waitList) popFront() *Task {
	t := w.head
	if t != nil {
		w.remove(t)
	}
	return t
}

func (w *waitList) empty() bool {
	return w.head == nil
}

// reposition re-sorts t after its priority changed.
func (w *waitList) reposition(t *Task) {
	w.remove(t)
	w.insert(t)
}

// delayList is a delta list: each task's key is the number of ticks after
// the task before it. A tick only ever touches the head.
type delayList struct {
	head *Task
}

func (d *delayList) insert(t *Task, ticks Ticks) {
	var prev *Task
	cur := d.head
	for cur != nil && cur.delta <= ticks {
		ticks -= cur.delta
		prev, cur = cur, cur.dnext
	}
	t.delta = ticks
	t.delayed = true
	t.dprev = prev
	t.dnext = cur
	if cur != nil {
		cur.delta -= ticks
		cur.dprev = t
	}
	if prev != nil {
		prev.dnext = t
	} else {
		d.head = t
	}
}

func (d *delayList) remove(t *Task) {
	if !t.delayed {
		return
	}
	if t.dnext != nil {
		t.dnext.delta += t.delta
		t.dnext.dprev = t.dprev
	}
	if t.dprev != nil {
		t.dprev.dnext = t.dnext
	} else {
		d.head = t.dnext
	}
	t.dnext, t.dprev, t.delayed = nil, nil, false
}

// remaining is the number of ticks until t wakes.
func (d *delayList) remaining(t *Task) Ticks {
	var sum Ticks
	for cur := d.head; cur != nil; cur = cur.dnext {
		sum += cur.delta
		if cur == t {
			return sum
		}
	}
	return 0
}
