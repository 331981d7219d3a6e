// Package container resolves a path on disk to a readable VGM byte stream,
// transparently unwrapping the two container formats the corpus ships VGM
// files in: gzip (".vgz", and plain ".vgm" files that happen to be
// gzip-compressed) and 7-Zip archives containing a single ".vgm"/".vgz"
// member.
package container

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
)

// ErrUnknownContainer is returned when the input is neither a raw VGM
// stream, a gzip stream, nor a 7-Zip archive.
var ErrUnknownContainer = errors.New("container: unrecognized container format")

// ErrNoVGMMember is returned when a 7-Zip archive contains no member whose
// name ends in ".vgm" or ".vgz".
var ErrNoVGMMember = errors.New("container: archive has no .vgm/.vgz member")

var gzipMagic = []byte{0x1F, 0x8B}

const sevenZipMagic = "7z\xBC\xAF\x27\x1C"

// Open resolves path to its underlying VGM byte stream and its total size.
// The returned ReaderAt addresses the decompressed stream from byte 0; the
// caller (header.Parse) is responsible for everything past that point.
func Open(path string) (io.ReaderAt, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("container: open %s: %w", path, err)
	}
	defer f.Close()

	sniff := make([]byte, 6)
	n, _ := io.ReadFull(f, sniff)
	sniff = sniff[:n]

	switch {
	case bytes.HasPrefix(sniff, gzipMagic):
		return openGzip(f)
	case string(sniff) == sevenZipMagic:
		return openSevenZip(path)
	case bytes.HasPrefix(sniff, []byte("Vgm ")):
		return openRaw(f)
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownContainer, path)
	}
}

func openRaw(f *os.File) (io.ReaderAt, int64, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("container: stat: %w", err)
	}
	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, 0, fmt.Errorf("container: read: %w", err)
	}
	return bytes.NewReader(buf), info.Size(), nil
}

func openGzip(f *os.File) (io.ReaderAt, int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("container: seek: %w", err)
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, 0, fmt.Errorf("container: gzip: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, 0, fmt.Errorf("container: gzip: %w", err)
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

func openSevenZip(path string) (io.ReaderAt, int64, error) {
	zr, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, 0, fmt.Errorf("container: 7z: %w", err)
	}
	defer zr.Close()

	var member *sevenzip.File
	for _, f := range zr.File {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if ext == ".vgm" || ext == ".vgz" {
			member = f
			break
		}
	}
	if member == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrNoVGMMember, path)
	}

	rc, err := member.Open()
	if err != nil {
		return nil, 0, fmt.Errorf("container: 7z member: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, 0, fmt.Errorf("container: 7z member: %w", err)
	}

	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, 0, fmt.Errorf("container: gzip inside 7z: %w", err)
		}
		defer zr.Close()
		inner, err := io.ReadAll(zr)
		if err != nil {
			return nil, 0, fmt.Errorf("container: gzip inside 7z: %w", err)
		}
		return bytes.NewReader(inner), int64(len(inner)), nil
	}

	return bytes.NewReader(data), int64(len(data)), nil
}
