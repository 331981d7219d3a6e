// Package psg implements the SN76489 programmable sound generator: three
// square-wave tone channels and one LFSR-driven noise channel, sampled
// through a fractional-clock rate converter down to the host sample rate.
package psg

import "math"

// Flag bits for Setting.Flags.
const (
	FlagFreq0       uint32 = 1 << iota // tone/noise period 0 means 0x400 (TI convention) instead of 1 (Sega convention)
	FlagOutputNeg                      // invert every channel's output sign
	FlagGGStereoOff                    // Game Gear stereo write is a no-op (consumed, discarded)
	FlagCKDivOff                       // input clock is not pre-divided by 8 (surfaced for header parity; the /16 internal divider below is unaffected)
	FlagXNOR                           // LFSR feedback tap is XNOR'd rather than XOR'd (surfaced for header parity; no known VGM corpus exercises it)
)

// Setting describes one chip instance's construction-time configuration, as
// supplied by an external VGM header reader. Immutable once constructed.
type Setting struct {
	Clock    uint32 // input clock in Hz, e.g. 3579545
	SRWidth  int    // LFSR width in bits, 1..16 (typically 15 or 16)
	Feedback uint16 // LFSR tap mask, typically 0x0009
	Flags    uint32 // FlagFreq0 | FlagOutputNeg | FlagGGStereoOff | FlagCKDivOff | FlagXNOR
	DualChip bool   // derived from clock bit 30 by the header reader
}

// volumeTable converts a 4-bit attenuation index to linear amplitude.
// v[0] = 1.0, v[i] = v[i-1] * 10^-0.1 for i in [1,14], v[15] = 0 (mute).
// Computation runs in float64; only the final store is truncated to
// float32, so output is bit-identical across platforms.
var volumeTable [16]float32

func init() {
	acc := 1.0
	for i := 0; i < 15; i++ {
		volumeTable[i] = float32(acc)
		acc *= math.Pow(10, -0.1)
	}
	volumeTable[15] = 0.0
}

// VolumeTable returns the 16-entry attenuation table (for testing/inspection).
func VolumeTable() [16]float32 { return volumeTable }

type tone struct {
	freq   uint16 // 10-bit period, 0..1023
	volume uint8  // attenuation index 0..15, 15 = mute
	count  int32  // accumulator
	edge   bool   // current square level
}

// Chip is one SN76489 instance. The zero value is not valid; use New.
type Chip struct {
	cfg Setting

	tone [3]tone

	noiseMode   uint8 // 0 = periodic, 1 = white
	noiseRef    bool  // true = track tone[2].freq instead of noiseFreq
	noiseFreq   uint16
	noiseVolume uint8
	noiseCount  int32
	noiseSeed   uint16

	adr uint8 // last-addressed register, 0..7

	baseCount int64 // 24 fractional bits
	baseIncr  int64 // floor(clock * 2^24 / (16 * 44100))

	channels [4]float32 // last computed sample: tone0, tone1, tone2, noise

	sign float32 // +1, or -1 when FlagOutputNeg is set
}

const sampleRateHz = 44100
const fracBits = 24
const fracOne = int64(1) << fracBits
const fracMask = fracOne - 1

// New constructs a chip from the given setting. Returns an error if
// SRWidth is out of the valid 1..16 range (InvalidSetting in spec terms).
func New(cfg Setting) (*Chip, error) {
	if cfg.SRWidth <= 0 || cfg.SRWidth > 16 {
		return nil, &InvalidSettingError{SRWidth: cfg.SRWidth}
	}

	c := &Chip{cfg: cfg}
	c.noiseSeed = uint16(1) << uint(cfg.SRWidth-1)
	c.baseIncr = int64(cfg.Clock) * fracOne / (16 * sampleRateHz)
	c.sign = 1
	if cfg.Flags&FlagOutputNeg != 0 {
		c.sign = -1
	}
	for i := range c.tone {
		c.tone[i].volume = 15
	}
	c.noiseVolume = 15
	return c, nil
}

// InvalidSettingError is returned by New when SRWidth is outside 1..16.
type InvalidSettingError struct {
	SRWidth int
}

func (e *InvalidSettingError) Error() string {
	return "psg: invalid sr_width (must be 1..16)"
}

// zeroFreq returns the period to use in place of a stored value of 0,
// resolving the FREQ0 flag: Sega-style chips treat 0 as 1 (inaudible,
// edge held high); TI-style chips (FlagFreq0 set) treat 0 as 0x400.
func (c *Chip) zeroFreq() uint16 {
	if c.cfg.Flags&FlagFreq0 != 0 {
		return 0x400
	}
	return 1
}

func (c *Chip) effectiveFreq(freq uint16) uint16 {
	if freq == 0 {
		return c.zeroFreq()
	}
	return freq
}

// Write applies one register write byte, per the SN76489 latch/data
// protocol: a byte with bit 7 set latches a register address and writes
// its low nibble; a byte with bit 7 clear continues the previous write
// with its low 6 bits feeding the high bits of a tone frequency.
func (c *Chip) Write(val uint8) {
	if val&0x80 != 0 {
		c.adr = (val >> 4) & 7
		data := val & 0x0F

		switch {
		case c.adr == 6:
			c.noiseMode = (data >> 2) & 1
			if data&0x03 == 0x03 {
				c.noiseRef = true
				c.noiseFreq = c.tone[2].freq
			} else {
				c.noiseRef = false
				freq := uint16(32) << (data & 0x03)
				if freq == 0 {
					freq = 1
				}
				c.noiseFreq = freq
			}
			c.noiseSeed = uint16(1) << uint(c.cfg.SRWidth-1)
		case c.adr == 7:
			c.noiseVolume = data
		case c.adr%2 == 1:
			c.tone[(c.adr-1)/2].volume = data
		default:
			ch := &c.tone[c.adr/2]
			ch.freq = (ch.freq & 0x3F0) | uint16(data)
		}
		return
	}

	// Data continuation byte for the last-latched adr: high 6 bits of a
	// tone frequency. Only a latched tone-frequency register (adr 0, 2, 4)
	// accepts a continuation byte; a latched volume or noise register
	// leaves it as a documented no-op on real silicon.
	if c.adr%2 != 0 || c.adr > 4 {
		return
	}
	t := &c.tone[c.adr/2]
	data := uint16(val & 0x3F)
	t.freq = (data << 4) | (t.freq & 0x0F)
}

// AdvanceOneSample steps every channel by exactly one 44,100 Hz sample and
// recomputes Channels(). No mixing happens here; see dispatch.Mix for that.
func (c *Chip) AdvanceOneSample() {
	c.baseCount += c.baseIncr
	incr := int32(c.baseCount >> fracBits)
	c.baseCount &= fracMask

	c.advanceNoise(incr)
	for i := range c.tone {
		c.advanceTone(i, incr)
	}
}

func (c *Chip) advanceTone(i int, incr int32) {
	t := &c.tone[i]
	t.count += incr
	if t.count&0x400 != 0 {
		freq := c.effectiveFreq(t.freq)
		if freq > 1 {
			t.edge = !t.edge
			t.count -= int32(freq)
		} else {
			t.edge = true
		}
	}

	out := float32(-1)
	if t.edge {
		out = 1
	}
	if t.volume == 15 {
		c.channels[i] = 0
		return
	}
	c.channels[i] = out * volumeTable[t.volume] * c.sign
}

func (c *Chip) advanceNoise(incr int32) {
	c.noiseCount += incr
	if c.noiseCount&0x100 != 0 {
		var newMSB uint16
		if c.noiseMode == 1 {
			tapped := c.noiseSeed & c.cfg.Feedback
			newMSB = parity16(tapped)
		} else {
			newMSB = c.noiseSeed & 1
		}
		c.noiseSeed = (c.noiseSeed >> 1) | (newMSB << uint(c.cfg.SRWidth-1))

		freq := c.noiseFreq
		if c.noiseRef {
			freq = c.effectiveFreq(c.tone[2].freq)
		}
		c.noiseCount -= int32(freq)
	}

	sign := float32(-1)
	if c.noiseSeed&1 != 0 {
		sign = 1
	}
	if c.noiseVolume == 15 {
		c.channels[3] = 0
		return
	}
	c.channels[3] = sign * volumeTable[c.noiseVolume] * c.sign
}

func parity16(v uint16) uint16 {
	v ^= v >> 8
	v ^= v >> 4
	v ^= v >> 2
	v ^= v >> 1
	return v & 1
}

// Channels returns the four floats (tone0, tone1, tone2, noise) computed by
// the most recent AdvanceOneSample call.
func (c *Chip) Channels() [4]float32 {
	return c.channels
}

// NoiseSeed returns the current LFSR state (for testing).
func (c *Chip) NoiseSeed() uint16 { return c.noiseSeed }

// ToneFreq returns the 10-bit tone register for channel 0..2 (for testing).
func (c *Chip) ToneFreq(ch int) uint16 { return c.tone[ch].freq }

// ToneVolume returns the 4-bit attenuation index for channel 0..2 (for testing).
func (c *Chip) ToneVolume(ch int) uint8 { return c.tone[ch].volume }

// NoiseVolume returns the 4-bit noise attenuation index (for testing).
func (c *Chip) NoiseVolume() uint8 { return c.noiseVolume }
