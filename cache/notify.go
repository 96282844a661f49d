package cache

// RegisterNotifier fans out emulated GPU register writes to subscribed
// observers. The display engine dispatcher publishes the register id on
// every write; components that shadow register state subscribe once at
// startup.
type RegisterNotifier struct {
	observers []func(id uint32)
}

// Subscribe adds an observer. Observers are invoked synchronously on the
// thread performing the register write and must not block.
func (n *RegisterNotifier) Subscribe(fn func(id uint32)) {
	n.observers = append(n.observers, fn)
}

// NotifyRegisterChanged publishes a register write to all observers.
func (n *RegisterNotifier) NotifyRegisterChanged(id uint32) {
	for _, fn := range n.observers {
		fn(id)
	}
}
