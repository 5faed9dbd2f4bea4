//go:build windows

package loop

import "errors"

// Signal waits are not wired to a readiness backend on windows yet;
// AwaitSignal reports failure and message/wakeup dispatch is unaffected.
// TODO: back this with WSAPoll the way the unix backends use poll(2).
func newSignalPoller(func(WaitID, int64, SignalSet)) (signalPoller, error) {
	return nil, errors.New("loop: signal waits unsupported on windows")
}
