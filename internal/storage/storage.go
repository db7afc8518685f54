// Package storage writes run folders and snapshot files.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/image/draw"

	"github.com/cjeanneret/PtzGo/internal/debug"
	"github.com/cjeanneret/PtzGo/internal/errs"
)

// TimestampFormat is the capture time prefix of snapshot file names.
const TimestampFormat = "2006_01_02_15_04_05"

const maxCollisions = 1000

// Options tunes how snapshots are written.
type Options struct {
	Width, Height int    // downscale to fit WxH; 0 = keep device size
	JPEGQuality   int    // used when re-encoding, default 90
	MinFreeBytes  uint64 // CheckFreeSpace threshold, 0 = no check
}

// Store writes snapshots under a base directory, one folder per run.
type Store struct {
	base string
	opts Options
}

func New(base string, opts Options) *Store {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 90
	}
	return &Store{base: base, opts: opts}
}

// Base returns the base save directory.
func (s *Store) Base() string {
	return s.base
}

// RunDir returns the folder of a run.
func (s *Store) RunDir(folder string) string {
	return filepath.Join(s.base, folder)
}

// EnsureRunDir creates the run folder if absent.
func (s *Store) EnsureRunDir(folder string) (string, error) {
	dir := s.RunDir(folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.IO("create run folder", err)
	}
	return dir, nil
}

// CheckFreeSpace fails when the filesystem holding the base directory has
// less than MinFreeBytes available.
func (s *Store) CheckFreeSpace() error {
	if s.opts.MinFreeBytes == 0 {
		return nil
	}
	path := existingParent(s.base)
	usage, err := disk.Usage(path)
	if err != nil {
		return errs.IO("free space", err)
	}
	debug.Verbose("Storage: %d MB free on %s", usage.Free/(1024*1024), path)
	if usage.Free < s.opts.MinFreeBytes {
		return errs.IO("free space", fmt.Errorf("%s has %d MB free, need %d MB",
			path, usage.Free/(1024*1024), s.opts.MinFreeBytes/(1024*1024)))
	}
	return nil
}

func existingParent(path string) string {
	p, err := filepath.Abs(path)
	if err != nil {
		p = path
	}
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

// FileName returns "<timestamp>_<label>.jpg".
func FileName(at time.Time, label string) string {
	return at.Format(TimestampFormat) + "_" + label + ".jpg"
}

// Save writes a snapshot into dir as FileName(at, label). An existing file
// is never overwritten: "_1", "_2", ... is appended before the extension.
// It returns the written path.
func (s *Store) Save(dir, label string, at time.Time, data []byte) (string, error) {
	if s.opts.Width > 0 && s.opts.Height > 0 {
		resized, err := Resize(data, s.opts.Width, s.opts.Height, s.opts.JPEGQuality)
		if err != nil {
			return "", errs.IO("resize snapshot", err)
		}
		data = resized
	}

	stem := at.Format(TimestampFormat) + "_" + label
	for n := 0; n < maxCollisions; n++ {
		name := stem + ".jpg"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.jpg", stem, n)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", errs.IO("write snapshot", err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", errs.IO("write snapshot", err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", errs.IO("write snapshot", err)
		}
		return path, nil
	}
	return "", errs.IO("write snapshot", fmt.Errorf("too many files named %s*.jpg in %s", stem, dir))
}

// Resize downscales a JPEG to fit within maxW x maxH, keeping the aspect
// ratio. Images already small enough are returned unchanged.
func Resize(data []byte, maxW, maxH, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxW, maxH)
	if w == b.Dx() && h == b.Dy() {
		return data, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}
	nw, nh := int(float64(w)*scale+0.5), int(float64(h)*scale+0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
