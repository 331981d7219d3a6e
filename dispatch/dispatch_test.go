package dispatch

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// fakeHandle is a minimal dispatch.Handle for exercising the Dispatcher in
// isolation from any real chip emulation.
type fakeHandle struct {
	handlers map[byte]Handler
	advances int
	writes   []byte
	left     []float32
	right    []float32
}

func newFakeHandle(opcodes ...byte) *fakeHandle {
	h := &fakeHandle{left: []float32{0}, right: []float32{0}}
	h.handlers = make(map[byte]Handler, len(opcodes))
	for _, op := range opcodes {
		h.handlers[op] = h.write
	}
	return h
}

func (h *fakeHandle) write(ctx *Context) error {
	b, err := ctx.ReadByte()
	if err != nil {
		return err
	}
	h.writes = append(h.writes, b)
	return nil
}

func (h *fakeHandle) Handlers() map[byte]Handler { return h.handlers }
func (h *fakeHandle) AdvanceSample(n int)        { h.advances += n }
func (h *fakeHandle) LeftChannels() []float32    { return h.left }
func (h *fakeHandle) RightChannels() []float32   { return h.right }

func seekable(b []byte) io.ReadSeeker { return bytes.NewReader(b) }

// S1: a bare end-of-stream opcode produces no callbacks and ends cleanly.
func TestS1MinimalSilence(t *testing.T) {
	d := New(seekable([]byte{0x66}), 0, Loop{})
	calls := 0
	d.SetSampleCallback(func(*Context) { calls++ })

	if err := d.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !d.EndOfStream() {
		t.Fatal("expected EndOfStream after 0x66")
	}
	if calls != 0 {
		t.Fatalf("expected 0 callbacks, got %d", calls)
	}
	if d.SamplesPlayed() != 0 {
		t.Fatalf("expected 0 samples played, got %d", d.SamplesPlayed())
	}
}

// A stream that runs off the end of its data without a 0x66 opcode also
// ends cleanly (premature EOF is not surfaced as an error from Next).
func TestTruncatedStreamEndsCleanly(t *testing.T) {
	d := New(seekable([]byte{}), 0, Loop{})
	if err := d.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !d.EndOfStream() {
		t.Fatal("expected EndOfStream on empty stream")
	}
}

func TestAlreadyEndedError(t *testing.T) {
	d := New(seekable([]byte{0x66}), 0, Loop{})
	_ = d.Next()
	if err := d.Next(); !errors.Is(err, ErrAlreadyEnded) {
		t.Fatalf("expected ErrAlreadyEnded, got %v", err)
	}
}

func TestWaitOpcodes(t *testing.T) {
	// 0x61 <lo> <hi>, 0x62 (735), 0x63 (882), then end.
	d := New(seekable([]byte{0x61, 0x0A, 0x00, 0x62, 0x63, 0x66}), 0, Loop{})
	for i := 0; i < 3; i++ {
		if err := d.Next(); err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
	}
	if want := uint32(10 + 735 + 882); d.SamplesPlayed() != want {
		t.Fatalf("samples played = %d, want %d", d.SamplesPlayed(), want)
	}
}

func TestMalformedWaitOperand(t *testing.T) {
	d := New(seekable([]byte{0x61, 0x00}), 0, Loop{}) // truncated operand
	err := d.Next()
	var mw *MalformedWaitError
	if !errors.As(err, &mw) {
		t.Fatalf("expected *MalformedWaitError, got %v", err)
	}
}

func TestUnknownOpcode(t *testing.T) {
	d := New(seekable([]byte{0xFE}), 0, Loop{})
	err := d.Next()
	var ue *UnknownOpcodeError
	if !errors.As(err, &ue) || ue.Opcode != 0xFE {
		t.Fatalf("expected *UnknownOpcodeError{0xFE}, got %v", err)
	}
}

func TestInstallDuplicateHandlerRejectsBoth(t *testing.T) {
	d := New(seekable([]byte{0x66}), 0, Loop{})
	a := newFakeHandle(0x50)
	b := newFakeHandle(0x50, 0x4F)

	if err := d.Install(a); err != nil {
		t.Fatalf("install a: %v", err)
	}
	err := d.Install(b)
	var de *DuplicateHandlerError
	if !errors.As(err, &de) || de.Opcode != 0x50 {
		t.Fatalf("expected *DuplicateHandlerError{0x50}, got %v", err)
	}
	// Neither of b's opcodes should have been registered: 0x4F must still
	// be unrecognized.
	if _, exists := d.handlers[0x4F]; exists {
		t.Fatal("0x4F should not have been registered after a conflicting Install")
	}
}

// S6-equivalent at the dispatcher level: an opcode routed to a handle that
// rejects it (e.g. dual-chip disabled) propagates the handle's error as-is.
func TestHandlerErrorPropagates(t *testing.T) {
	d := New(seekable([]byte{0x30, 0x00, 0x66}), 0, Loop{})
	h := &rejectingHandle{opcode: 0x30, err: ErrDualChipDisabled}
	if err := d.Install(h); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := d.Next(); !errors.Is(err, ErrDualChipDisabled) {
		t.Fatalf("expected ErrDualChipDisabled, got %v", err)
	}
}

type rejectingHandle struct {
	opcode byte
	err    error
}

func (h *rejectingHandle) Handlers() map[byte]Handler {
	return map[byte]Handler{h.opcode: func(*Context) error { return h.err }}
}
func (h *rejectingHandle) AdvanceSample(int)        {}
func (h *rejectingHandle) LeftChannels() []float32  { return nil }
func (h *rejectingHandle) RightChannels() []float32 { return nil }

func TestLoopRestartsAtOffsetAndCountsLoop(t *testing.T) {
	// Byte 0 is a one-byte filler opcode skipped by starting the cursor at
	// offset 1, which doubles as the loop point: [1-3]=wait(1), [4]=0x66.
	data := []byte{0x00, 0x61, 0x01, 0x00, 0x66}
	seeker := seekable(data)
	if _, err := seeker.Seek(1, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	d := New(seeker, 5, Loop{Offset: 1, Samples: 1})

	if err := d.Next(); err != nil { // wait 1
		t.Fatalf("Next: %v", err)
	}
	if err := d.Next(); err != nil { // end -> loop
		t.Fatalf("Next: %v", err)
	}
	if d.EndOfStream() {
		t.Fatal("looping stream should not be EndOfStream")
	}
	if d.LoopsPlayed() != 1 {
		t.Fatalf("loops played = %d, want 1", d.LoopsPlayed())
	}
	if d.Position() != 5-1 {
		t.Fatalf("position after loop = %d, want %d", d.Position(), 5-1)
	}
	if d.SamplesPlayed() != 1 {
		t.Fatalf("samples played should not reset on loop, got %d", d.SamplesPlayed())
	}
}
