// Package sn76489driver wraps one or two psg.Chip instances as a single
// dispatch.Handle: it exposes the VGM opcodes that target PSG #1/#2, tracks
// each chip's Game-Gear stereo mask, and fans the chips' per-channel output
// out into flat left/right views the mixing layer can average.
package sn76489driver

import (
	"github.com/retrotone/vgmcore/dispatch"
	"github.com/retrotone/vgmcore/psg"
)

const channelsPerChip = 4

// Driver implements dispatch.Handle for one or two SN76489 instances.
type Driver struct {
	chips       []*psg.Chip
	dualChip    bool
	ggStereoOff bool
	ggMask      []uint8

	left, right []float32
}

// New constructs a Driver from cfg. When cfg.DualChip is set, two
// independently-clocked chip instances are constructed (both from cfg;
// VGM does not vary the second chip's setting from the first's).
func New(cfg psg.Setting) (*Driver, error) {
	n := 1
	if cfg.DualChip {
		n = 2
	}

	d := &Driver{
		dualChip:    cfg.DualChip,
		ggStereoOff: cfg.Flags&psg.FlagGGStereoOff != 0,
		chips:       make([]*psg.Chip, n),
		ggMask:      make([]uint8, n),
		left:        make([]float32, n*channelsPerChip),
		right:       make([]float32, n*channelsPerChip),
	}
	for i := 0; i < n; i++ {
		chip, err := psg.New(cfg)
		if err != nil {
			return nil, err
		}
		d.chips[i] = chip
		d.ggMask[i] = 0xFF
	}
	return d, nil
}

// Handlers returns the opcode table: 0x50/0x30 write a byte to PSG #1/#2,
// 0x4F/0x3F set PSG #1/#2's Game-Gear stereo mask.
func (d *Driver) Handlers() map[byte]dispatch.Handler {
	return map[byte]dispatch.Handler{
		0x50: d.writeChip(0),
		0x30: d.writeChip(1),
		0x4F: d.setStereo(0),
		0x3F: d.setStereo(1),
	}
}

func (d *Driver) writeChip(index int) dispatch.Handler {
	return func(ctx *dispatch.Context) error {
		if index > 0 && !d.dualChip {
			return dispatch.ErrDualChipDisabled
		}
		b, err := ctx.ReadByte()
		if err != nil {
			return err
		}
		d.chips[index].Write(b)
		return nil
	}
}

func (d *Driver) setStereo(index int) dispatch.Handler {
	return func(ctx *dispatch.Context) error {
		if index > 0 && !d.dualChip {
			return dispatch.ErrDualChipDisabled
		}
		b, err := ctx.ReadByte()
		if err != nil {
			return err
		}
		if !d.ggStereoOff {
			d.ggMask[index] = b
		}
		return nil
	}
}

// AdvanceSample steps every owned chip by n samples, refreshing
// LeftChannels/RightChannels after each one according to each chip's
// Game-Gear stereo mask: bit layout L3 L2 L1 L0 R3 R2 R1 R0, channels 0-2
// are tones, channel 3 is noise.
func (d *Driver) AdvanceSample(n int) {
	for s := 0; s < n; s++ {
		for i, chip := range d.chips {
			chip.AdvanceOneSample()
			ch := chip.Channels()
			mask := d.ggMask[i]
			base := i * channelsPerChip
			for j := 0; j < channelsPerChip; j++ {
				right := float32(0)
				if mask&(1<<uint(j)) != 0 {
					right = ch[j]
				}
				left := float32(0)
				if mask&(1<<uint(j+4)) != 0 {
					left = ch[j]
				}
				d.right[base+j] = right
				d.left[base+j] = left
			}
		}
	}
}

// LeftChannels returns the read-only view described by dispatch.Handle.
func (d *Driver) LeftChannels() []float32 { return d.left }

// RightChannels returns the read-only view described by dispatch.Handle.
func (d *Driver) RightChannels() []float32 { return d.right }
