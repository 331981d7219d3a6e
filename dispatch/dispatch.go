// Package dispatch implements the VGM command-stream state machine: it reads
// one byte-coded opcode at a time from a pre-positioned data stream,
// dispatches to a registered emulator handle or a built-in wait/end opcode,
// advances virtual time in sample units, and implements loop playback.
package dispatch

import (
	"errors"
	"io"
)

// SampleCallback is invoked exactly once per sample produced, after every
// installed Handle has been advanced for that sample. It must not re-enter
// the Dispatcher (Next, Install) and must not outlive the call.
type SampleCallback func(ctx *Context)

// Loop describes the loop region of a VGM stream, in the coordinate system
// the Dispatcher uses internally: Offset is relative to byte 0 of the data
// stream (i.e. already computed as the header's loop_offset - data_offset),
// and is 0 when the stream does not loop.
type Loop struct {
	Offset  uint32
	Samples uint32
}

// Dispatcher is the byte-opcode state machine described by this package's
// doc comment. The zero value is not valid; use New.
type Dispatcher struct {
	data io.ReadSeeker

	handlers map[byte]Handler
	handles  []Handle

	position      uint32
	samplesPlayed uint32
	loopsPlayed   uint32
	endOfStream   bool

	totalSamples uint32
	loop         Loop

	onSample SampleCallback

	readBuf [1]byte
}

// New constructs a Dispatcher over data, which must be positioned at the
// first command byte (byte 0 of data is byte data_offset of the file).
// totalSamples and loop are taken verbatim from the external header reader,
// with loop.Offset already translated to be relative to data's origin.
func New(data io.ReadSeeker, totalSamples uint32, loop Loop) *Dispatcher {
	d := &Dispatcher{
		data:         data,
		handlers:     make(map[byte]Handler),
		totalSamples: totalSamples,
		loop:         loop,
	}
	d.handlers[0x61] = d.handleWait16
	d.handlers[0x62] = d.handleWait735
	d.handlers[0x63] = d.handleWait882
	d.handlers[0x66] = d.handleEnd
	return d
}

// SetSampleCallback installs the per-sample callback. Not required to be
// callable after the first Next().
func (d *Dispatcher) SetSampleCallback(cb SampleCallback) {
	d.onSample = cb
}

// Install appends handle to the emulator list and merges its opcode table
// into the dispatcher's. Returns a *DuplicateHandlerError if any of
// handle's opcodes already has a handler; none of the conflicting handle's
// opcodes are registered in that case. Not required to be callable after
// the first Next().
func (d *Dispatcher) Install(handle Handle) error {
	table := handle.Handlers()
	for op := range table {
		if _, exists := d.handlers[op]; exists {
			return &DuplicateHandlerError{Opcode: op}
		}
	}
	for op, h := range table {
		d.handlers[op] = h
	}
	d.handles = append(d.handles, handle)
	return nil
}

// Position returns samples produced since track start, including
// wrap-arounds into the loop region.
func (d *Dispatcher) Position() uint32 { return d.position }

// SamplesPlayed returns the monotonic sample count; never decreases on loop.
func (d *Dispatcher) SamplesPlayed() uint32 { return d.samplesPlayed }

// LoopsPlayed returns the number of times the stream has looped so far.
func (d *Dispatcher) LoopsPlayed() uint32 { return d.loopsPlayed }

// EndOfStream reports whether the stream has ended without looping. Sticky
// once true.
func (d *Dispatcher) EndOfStream() bool { return d.endOfStream }

// PlayingLoop reports whether position is currently within the loop region
// of a stream that has one.
func (d *Dispatcher) PlayingLoop() bool {
	return d.loop.Offset != 0 && d.loop.Samples != 0 &&
		d.position >= d.totalSamples-d.loop.Samples
}

// Handles returns the installed emulator handles, in installation order.
func (d *Dispatcher) Handles() []Handle { return d.handles }

// Next parses exactly one command: it reads one opcode byte, dispatches to
// the matching handler (a built-in wait/end opcode or one registered by
// Install), and returns. A stream-end (opcode 0x66, or true EOF) is not an
// error; Next returns nil and EndOfStream becomes observable via the
// EndOfStream/LoopsPlayed accessors.
func (d *Dispatcher) Next() error {
	if d.endOfStream {
		return ErrAlreadyEnded
	}

	op, err := d.readByte()
	if err != nil {
		if errors.Is(err, ErrPrematureEOF) {
			d.streamEnd()
			return nil
		}
		return err
	}

	handler, ok := d.handlers[op]
	if !ok {
		return &UnknownOpcodeError{Opcode: op}
	}

	ctx := &Context{d: d}
	return handler(ctx)
}

func (d *Dispatcher) handleWait16(ctx *Context) error {
	n, err := ctx.ReadUint16LE()
	if err != nil {
		return &MalformedWaitError{Err: err}
	}
	ctx.AdvanceSample(int(n))
	return nil
}

func (d *Dispatcher) handleWait735(ctx *Context) error {
	ctx.AdvanceSample(735)
	return nil
}

func (d *Dispatcher) handleWait882(ctx *Context) error {
	ctx.AdvanceSample(882)
	return nil
}

func (d *Dispatcher) handleEnd(ctx *Context) error {
	d.streamEnd()
	return nil
}

// streamEnd runs the stream-end routine: if the header advertised a loop,
// it seeks back to the loop point and counts a loop; otherwise it marks the
// stream ended. samplesPlayed is never decremented either way.
func (d *Dispatcher) streamEnd() {
	if d.loop.Offset != 0 && d.loop.Samples != 0 {
		d.position = d.totalSamples - d.loop.Samples
		if _, err := d.data.Seek(int64(d.loop.Offset), io.SeekStart); err != nil {
			d.endOfStream = true
			return
		}
		d.loopsPlayed++
		return
	}
	d.endOfStream = true
}

// advanceSample repeats n times: increments samplesPlayed and position,
// advances every installed handle by one sample in installation order, then
// fires the per-sample callback exactly once.
func (d *Dispatcher) advanceSample(n int) {
	ctx := &Context{d: d}
	for i := 0; i < n; i++ {
		d.samplesPlayed++
		d.position++
		for _, h := range d.handles {
			h.AdvanceSample(1)
		}
		if d.onSample != nil {
			d.onSample(ctx)
		}
	}
}

func (d *Dispatcher) readByte() (byte, error) {
	_, err := io.ReadFull(d.data, d.readBuf[:])
	if err != nil {
		return 0, ErrPrematureEOF
	}
	return d.readBuf[0], nil
}
