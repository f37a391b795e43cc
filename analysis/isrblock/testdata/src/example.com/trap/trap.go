package trap

type Dispatcher struct{}

func (d *Dispatcher) Register(src int, handler func(), prio uint8) error { return nil }
