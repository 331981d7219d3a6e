// Command vgminfo prints a VGM file's header fields and GD3 metadata.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/pflag"
	"golang.design/x/clipboard"
	"golang.org/x/term"

	"github.com/retrotone/vgmcore/cache"
	"github.com/retrotone/vgmcore/container"
	"github.com/retrotone/vgmcore/header"
)

var (
	flagCopy    = pflag.BoolP("copy", "c", false, "copy the summary line to the system clipboard")
	flagDateFmt = pflag.String("date-format", "%Y-%m-%d", "strftime pattern used for the release date field")
	flagVerbose = pflag.BoolP("verbose", "v", false, "log each processing step")
)

func main() {
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.WarnLevel})
	if *flagVerbose {
		logger.SetLevel(log.DebugLevel)
	}

	if pflag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: vgminfo [flags] file.vgm [file2.vgm ...]")
		os.Exit(2)
	}

	metaCache, err := cache.New(64)
	if err != nil {
		logger.Fatal("building metadata cache", "err", err)
	}

	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}

	if *flagCopy {
		if err := clipboard.Init(); err != nil {
			logger.Warn("clipboard unavailable", "err", err)
			*flagCopy = false
		}
	}

	status := 0
	for _, path := range pflag.Args() {
		logger.Debug("processing", "path", path)
		if err := describe(path, metaCache, *flagDateFmt, width, *flagCopy, logger); err != nil {
			logger.Error("describe failed", "path", path, "err", err)
			status = 1
		}
	}
	os.Exit(status)
}

func describe(path string, metaCache *cache.GD3Cache, dateFmt string, width int, copyToClipboard bool, logger *log.Logger) error {
	src, _, err := container.Open(path)
	if err != nil {
		return err
	}

	h, err := header.Parse(src)
	if err != nil {
		return err
	}

	gd3, cached := metaCache.Get(path)
	if !cached && h.GD3Offset != 0 {
		gd3, err = header.ParseGD3(src, h.GD3Offset)
		if err != nil {
			logger.Warn("GD3 parse failed", "path", path, "err", err)
			gd3 = nil
		} else {
			metaCache.Put(path, gd3)
		}
	}

	summary := formatSummary(path, h, gd3, dateFmt, width)
	fmt.Println(summary)

	if copyToClipboard {
		clipboard.Write(clipboard.FmtText, []byte(summary))
	}
	return nil
}

func formatSummary(path string, h *header.Header, gd3 *header.GD3, dateFmt string, width int) string {
	track := path
	date := ""
	if gd3 != nil {
		if gd3.TrackNameEN != "" {
			track = gd3.TrackNameEN
		}
		if t, err := time.Parse("01/02/2006", gd3.ReleaseDate); err == nil {
			if formatted, err := strftime.Format(dateFmt, t); err == nil {
				date = formatted
			} else {
				date = gd3.ReleaseDate
			}
		} else {
			date = gd3.ReleaseDate
		}
	}

	line := fmt.Sprintf("%-40s  clock=%-9d samples=%-9d loop=%v  %s  %s",
		track, h.PSG.Clock, h.TotalSamples, h.LoopOffset != 0, date, dualChipHint(h))
	if width > 10 {
		line = runewidth.Truncate(line, width, "…")
	}
	return line
}

func dualChipHint(h *header.Header) string {
	if h.PSG.DualChip {
		return "(dual chip)"
	}
	return ""
}
