package wasmcell

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/loam-lang/loam/internal/runtime/isolate"
	"github.com/loam-lang/loam/internal/runtime/loop"
)

func TestFactory_RejectsGarbageSnapshot(t *testing.T) {
	f := NewFactory(context.Background())
	defer f.Close()

	_, _, err := f.New([]byte("definitely not wasm"), isolate.NewRandom(1))
	if err == nil {
		t.Fatalf("garbage snapshot accepted")
	}
}

func TestEncodeActivation_MessageShape(t *testing.T) {
	a := isolate.Activation{
		Kind: isolate.ActivationMessage,
		Port: loop.Port(0x1122334455667788),
		Data: []byte{1, 2, 3, 4},
	}
	buf := encodeActivation(a)

	if buf[0] != byte(isolate.ActivationMessage) {
		t.Fatalf("kind byte = %d", buf[0])
	}
	if got := binary.LittleEndian.Uint64(buf[1:]); got != 0x1122334455667788 {
		t.Fatalf("port = %#x", got)
	}
	dataLen := binary.LittleEndian.Uint32(buf[41:])
	if dataLen != 4 {
		t.Fatalf("data length = %d", dataLen)
	}
	if !bytes.Equal(buf[45:49], []byte{1, 2, 3, 4}) {
		t.Fatalf("data bytes = %v", buf[45:49])
	}
	if argc := binary.LittleEndian.Uint32(buf[49:]); argc != 0 {
		t.Fatalf("argv count = %d", argc)
	}
}

func TestEncodeActivation_ArgvShape(t *testing.T) {
	a := isolate.Activation{
		Kind: isolate.ActivationMessage,
		Argv: []string{"vm", "main"},
	}
	buf := encodeActivation(a)

	// kind + five u64 fields + empty data.
	off := 1 + 5*8
	if dataLen := binary.LittleEndian.Uint32(buf[off:]); dataLen != 0 {
		t.Fatalf("data length = %d", dataLen)
	}
	off += 4
	if argc := binary.LittleEndian.Uint32(buf[off:]); argc != 2 {
		t.Fatalf("argv count = %d", argc)
	}
	off += 4
	l0 := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if string(buf[off:off+int(l0)]) != "vm" {
		t.Fatalf("argv[0] = %q", buf[off:off+int(l0)])
	}
}

func TestEncodeActivation_SignalShape(t *testing.T) {
	a := isolate.Activation{
		Kind:    isolate.ActivationSignal,
		Handle:  5,
		Status:  0,
		Signals: loop.SignalReadable,
		Count:   2,
	}
	buf := encodeActivation(a)
	if buf[0] != byte(isolate.ActivationSignal) {
		t.Fatalf("kind byte = %d", buf[0])
	}
	if got := binary.LittleEndian.Uint64(buf[9:]); got != 5 {
		t.Fatalf("handle = %d", got)
	}
	if got := binary.LittleEndian.Uint64(buf[25:]); got != uint64(loop.SignalReadable) {
		t.Fatalf("signals = %d", got)
	}
	if got := binary.LittleEndian.Uint64(buf[33:]); got != 2 {
		t.Fatalf("count = %d", got)
	}
}
