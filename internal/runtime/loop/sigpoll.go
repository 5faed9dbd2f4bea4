package loop

// signalPoller watches external handles for readiness on behalf of one
// loop and reports completions through a callback. Implementations are
// platform-specific; at most one armed wait per handle is supported.
type signalPoller interface {
	arm(id WaitID, handle int, signals SignalSet) error
	disarm(handle int)
	shutdown()
}
