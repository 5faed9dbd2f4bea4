// Package platform provides the runtime's portable synchronization
// primitives: non-reentrant mutexes, monitors with timed waits, OS-backed
// threads with an always-installed execution context, and thread-local
// keys. Ownership and recursion invariants are tracked unconditionally
// unless the omitchecks build tag is set.
package platform

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/loam-lang/loam/internal/runtime/rtlog"
)

// InvariantViolation is the panic value raised when a checked primitive
// invariant is broken: double-lock by the owner, unlock by a non-owner,
// or notify without holding the monitor. The process default is to not
// recover from it.
type InvariantViolation struct {
	Detail string
}

func (v *InvariantViolation) Error() string {
	return "platform: invariant violation: " + v.Detail
}

// fatalf reports a broken primitive invariant and aborts. A corrupted
// synchronization primitive cannot be trusted to coordinate teardown, so
// there is no recovery path here.
func fatalf(format string, args ...any) {
	detail := fmt.Sprintf(format, args...)
	rtlog.Logger().Error("invariant violation", zap.String("detail", detail))
	panic(&InvariantViolation{Detail: detail})
}

// fatalOS reports an unrecoverable OS-level primitive failure.
func fatalOS(op string, err error) {
	rtlog.Logger().Error("primitive failure", zap.String("op", op), zap.Error(err))
	panic(&InvariantViolation{Detail: op + ": " + err.Error()})
}
