package yeelight

// observer is one registered callback.
type observer struct {
	fn   func()
	once bool
	done bool
}

// observerList holds the callbacks for one event. It has no lock of its
// own: Connection guards it with its state mutex so that registration and
// transitions are ordered against each other.
type observerList struct {
	entries []*observer
}

func (l *observerList) add(fn func(), once bool) {
	l.entries = append(l.entries, &observer{fn: fn, once: once})
}

// take returns every callback to run for one firing. One-shot entries are
// marked in the same pass and compacted out afterwards, so the list is
// never mutated while it is being walked. The caller runs the returned
// callbacks after releasing the lock.
func (l *observerList) take() []func() {
	if len(l.entries) == 0 {
		return nil
	}

	fns := make([]func(), 0, len(l.entries))
	for _, o := range l.entries {
		fns = append(fns, o.fn)
		if o.once {
			o.done = true
		}
	}

	kept := l.entries[:0]
	for _, o := range l.entries {
		if !o.done {
			kept = append(kept, o)
		}
	}
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = kept
	return fns
}

func (l *observerList) len() int {
	return len(l.entries)
}
