// Command vgmexport renders a VGM file to 44,100 Hz PCM, either writing a
// WAV file or playing it live, optionally passing every stereo sample pair
// through a user-supplied Lua post-filter.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
	"github.com/spf13/pflag"
	lua "github.com/yuin/gopher-lua"

	"github.com/retrotone/vgmcore/container"
	"github.com/retrotone/vgmcore/dispatch"
	"github.com/retrotone/vgmcore/header"
	"github.com/retrotone/vgmcore/sn76489driver"
)

const sampleRateHz = 44100

// Config is the optional TOML-loaded export profile; flags override it.
type Config struct {
	Loops      int    `toml:"loops"`
	OutputPath string `toml:"output_path"`
	FilterPath string `toml:"filter_path"`
}

var (
	flagOut    = pflag.StringP("out", "o", "", "WAV output path (omit to play live)")
	flagLoops  = pflag.IntP("loops", "l", 2, "number of times to unroll a looping stream before stopping")
	flagFilter = pflag.String("filter", "", "path to a Lua script defining filter(l, r) -> l, r")
	flagConfig = pflag.String("config", "", "path to a TOML config overriding the defaults above")
)

func main() {
	pflag.Parse()
	logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel})

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vgmexport [flags] file.vgm")
		os.Exit(2)
	}
	path := pflag.Arg(0)

	cfg := Config{Loops: *flagLoops, OutputPath: *flagOut, FilterPath: *flagFilter}
	if *flagConfig != "" {
		if _, err := toml.DecodeFile(*flagConfig, &cfg); err != nil {
			logger.Fatal("loading config", "err", err)
		}
		if *flagOut != "" {
			cfg.OutputPath = *flagOut
		}
		if *flagFilter != "" {
			cfg.FilterPath = *flagFilter
		}
		if pflag.CommandLine.Changed("loops") {
			cfg.Loops = *flagLoops
		}
	}

	left, right, err := render(path, cfg.Loops, logger)
	if err != nil {
		logger.Fatal("render failed", "path", path, "err", err)
	}

	if cfg.FilterPath != "" {
		if err := applyLuaFilter(cfg.FilterPath, left, right); err != nil {
			logger.Fatal("lua filter failed", "err", err)
		}
	}

	if cfg.OutputPath != "" {
		if err := writeWAV(cfg.OutputPath, left, right); err != nil {
			logger.Fatal("writing WAV", "err", err)
		}
		logger.Info("wrote WAV", "path", cfg.OutputPath, "samples", len(left))
		return
	}

	if err := playLive(left, right); err != nil {
		logger.Fatal("live playback failed", "err", err)
	}
}

// render decodes path into interleaved-free left/right float32 buffers. A
// looping stream is unrolled maxLoops times past its loop point; a
// non-looping stream renders to its natural end.
func render(path string, maxLoops int, logger *log.Logger) ([]float32, []float32, error) {
	src, size, err := container.Open(path)
	if err != nil {
		return nil, nil, err
	}

	h, err := header.Parse(src)
	if err != nil {
		return nil, nil, err
	}

	driver, err := sn76489driver.New(h.PSG)
	if err != nil {
		return nil, nil, err
	}

	data := h.DataReader(src, size)
	d := dispatch.New(data, h.TotalSamples, dispatch.Loop{
		Offset:  h.LoopRelative(),
		Samples: h.LoopSamples,
	})
	if err := d.Install(driver); err != nil {
		return nil, nil, err
	}

	var left, right []float32
	mix := dispatch.Mix{}
	d.SetSampleCallback(func(ctx *dispatch.Context) {
		left = append(left, mix.Left(d))
		right = append(right, mix.Right(d))
	})

	for !d.EndOfStream() {
		if d.LoopsPlayed() >= uint32(maxLoops) {
			break
		}
		if err := d.Next(); err != nil {
			return nil, nil, fmt.Errorf("vgmexport: decode %s at position %d: %w", path, d.Position(), err)
		}
	}
	logger.Debug("rendered", "samples", len(left), "loops", d.LoopsPlayed())
	return left, right, nil
}

// applyLuaFilter runs a user script's filter(l, r) function over every
// sample pair in place.
func applyLuaFilter(scriptPath string, left, right []float32) error {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoFile(scriptPath); err != nil {
		return fmt.Errorf("vgmexport: loading filter %s: %w", scriptPath, err)
	}
	fn := L.GetGlobal("filter")
	if fn.Type() != lua.LTFunction {
		return fmt.Errorf("vgmexport: %s does not define a filter(l, r) function", scriptPath)
	}

	for i := range left {
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true},
			lua.LNumber(left[i]), lua.LNumber(right[i])); err != nil {
			return fmt.Errorf("vgmexport: filter call at sample %d: %w", i, err)
		}
		right[i] = float32(L.ToNumber(-1))
		left[i] = float32(L.ToNumber(-2))
		L.Pop(2)
	}
	return nil
}

func writeWAV(path string, left, right []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n := len(left)
	dataBytes := uint32(n * 2 * 2) // stereo, 16-bit

	w := newWAVWriter(f)
	w.writeString("RIFF")
	w.writeUint32(36 + dataBytes)
	w.writeString("WAVE")
	w.writeString("fmt ")
	w.writeUint32(16)
	w.writeUint16(1) // PCM
	w.writeUint16(2) // stereo
	w.writeUint32(sampleRateHz)
	w.writeUint32(sampleRateHz * 2 * 2) // byte rate
	w.writeUint16(4)                    // block align
	w.writeUint16(16)                   // bits per sample
	w.writeString("data")
	w.writeUint32(dataBytes)

	for i := 0; i < n; i++ {
		w.writeInt16(clampToInt16(left[i]))
		w.writeInt16(clampToInt16(right[i]))
	}
	return w.err
}

func clampToInt16(v float32) int16 {
	s := v * 32767
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}

type wavWriter struct {
	f   *os.File
	err error
}

func newWAVWriter(f *os.File) *wavWriter { return &wavWriter{f: f} }

func (w *wavWriter) writeString(s string) { w.write([]byte(s)) }
func (w *wavWriter) writeUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.write(b[:])
}
func (w *wavWriter) writeUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.write(b[:])
}
func (w *wavWriter) writeInt16(v int16) { w.writeUint16(uint16(v)) }
func (w *wavWriter) write(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.f.Write(b)
}

// playLive streams left/right through an oto context, mixed to mono the way
// the teacher's single-channel oto backend expects.
func playLive(left, right []float32) error {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRateHz,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   4,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return err
	}
	<-ready

	mono := make([]float32, len(left))
	for i := range mono {
		mono[i] = (left[i] + right[i]) / 2
	}

	r := &monoReader{samples: mono}
	player := ctx.NewPlayer(r)
	player.Play()
	for player.IsPlaying() {
		time.Sleep(50 * time.Millisecond)
	}
	return player.Close()
}

type monoReader struct {
	samples []float32
	pos     int
}

func (r *monoReader) Read(p []byte) (int, error) {
	n := len(p) / 4
	if n > len(r.samples)-r.pos {
		n = len(r.samples) - r.pos
	}
	if n <= 0 {
		return 0, io.EOF
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.samples[r.pos+i]))
	}
	r.pos += n
	return n * 4, nil
}
