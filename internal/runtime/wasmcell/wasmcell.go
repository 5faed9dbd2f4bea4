// Package wasmcell provides a concrete interpreter collaborator backed
// by wazero: an isolate's snapshot bytes are treated as a WebAssembly
// module exporting an activation entry point. The concurrency core never
// depends on this package; embedders wire it in through
// isolate.InterpreterFactory.
//
// A snapshot module must export:
//
//	loam_alloc(size i32) -> i32      scratch allocation in linear memory
//	loam_activate(ptr, len i32)      consume one encoded activation
//	loam_interpret()                 run until the guest yields
package wasmcell

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/loam-lang/loam/internal/runtime/isolate"
	"github.com/loam-lang/loam/internal/runtime/rtlog"
)

var errNoMemory = errors.New("wasmcell: snapshot module exports no memory")

// Factory builds heap/interpreter pairs from wasm snapshots. One
// Factory owns one wazero runtime shared by all cells it creates.
type Factory struct {
	ctx   context.Context
	rt    wazero.Runtime
	cells atomic.Uint64
}

var _ isolate.InterpreterFactory = (*Factory)(nil)

// NewFactory creates a factory with a fresh wazero runtime.
func NewFactory(ctx context.Context) *Factory {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Factory{ctx: ctx, rt: wazero.NewRuntime(ctx)}
}

// New compiles and instantiates snapshot as a guest cell.
func (f *Factory) New(snapshot []byte, random *isolate.Random) (isolate.Heap, isolate.Interpreter, error) {
	name := fmt.Sprintf("cell-%d", f.cells.Add(1))
	mod, err := f.rt.InstantiateWithConfig(f.ctx, snapshot,
		wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, nil, fmt.Errorf("instantiate snapshot: %w", err)
	}
	if mod.Memory() == nil {
		_ = mod.Close(f.ctx)
		return nil, nil, errNoMemory
	}
	var missing []string
	for _, export := range []string{"loam_alloc", "loam_activate", "loam_interpret"} {
		if mod.ExportedFunction(export) == nil {
			missing = append(missing, export)
		}
	}
	if len(missing) > 0 {
		_ = mod.Close(f.ctx)
		return nil, nil, fmt.Errorf("snapshot missing exports %v", missing)
	}

	heap := &guestHeap{ctx: f.ctx, mod: mod}
	interp := &guestInterp{
		ctx:       f.ctx,
		mod:       mod,
		alloc:     mod.ExportedFunction("loam_alloc"),
		activate:  mod.ExportedFunction("loam_activate"),
		interpret: mod.ExportedFunction("loam_interpret"),
	}
	return heap, interp, nil
}

// Close releases the underlying wazero runtime and every cell.
func (f *Factory) Close() error {
	return f.rt.Close(f.ctx)
}

// guestHeap owns the cell's linear memory; disposing it closes the
// module instance. The isolate disposes the heap last, after loop and
// interpreter, so guest functions stay callable during teardown.
type guestHeap struct {
	ctx context.Context
	mod api.Module
}

func (h *guestHeap) Dispose() {
	if err := h.mod.Close(h.ctx); err != nil {
		rtlog.Logger().Warn("cell close failed", zap.Error(err))
	}
}

// guestInterp drives the cell's exported entry points.
type guestInterp struct {
	ctx       context.Context
	mod       api.Module
	alloc     api.Function
	activate  api.Function
	interpret api.Function
}

// Activate copies the encoded activation into guest memory and invokes
// the guest's activation entry point. Guest faults are contained: they
// are logged, never propagated into the core.
func (g *guestInterp) Activate(a isolate.Activation) {
	encoded := encodeActivation(a)
	res, err := g.alloc.Call(g.ctx, uint64(len(encoded)))
	if err != nil || len(res) == 0 {
		rtlog.Logger().Warn("cell alloc failed", zap.Error(err))
		return
	}
	ptr := uint32(res[0])
	if !g.mod.Memory().Write(ptr, encoded) {
		rtlog.Logger().Warn("cell activation write out of range",
			zap.Uint32("ptr", ptr), zap.Int("len", len(encoded)))
		return
	}
	if _, err := g.activate.Call(g.ctx, uint64(ptr), uint64(len(encoded))); err != nil {
		rtlog.Logger().Warn("cell activation trapped", zap.Error(err))
	}
}

// Interpret runs the guest until it yields. The guest must not block;
// waiting belongs to the message loop.
func (g *guestInterp) Interpret() {
	if _, err := g.interpret.Call(g.ctx); err != nil {
		rtlog.Logger().Warn("cell interpretation trapped", zap.Error(err))
	}
}

func (g *guestInterp) PrintStack(w io.Writer) {
	fmt.Fprintf(w, "wasm cell %q\n", g.mod.Name())
}

// Dispose is a no-op; guestHeap closes the shared module instance.
func (g *guestInterp) Dispose() {}

// Activation wire format, little endian:
//
//	u8  kind
//	u64 port
//	u64 handle
//	u64 status
//	u64 signals
//	u64 count
//	u32 data length, then data bytes
//	u32 argv count, then length-prefixed strings
func encodeActivation(a isolate.Activation) []byte {
	size := 1 + 5*8 + 4 + len(a.Data) + 4
	for _, s := range a.Argv {
		size += 4 + len(s)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, byte(a.Kind))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(a.Port))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(a.Handle))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(a.Status))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(a.Signals))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(a.Count))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.Data)))
	buf = append(buf, a.Data...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.Argv)))
	for _, s := range a.Argv {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	return buf
}
