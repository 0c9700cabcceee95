// Package export writes log lines as NDJSON, optionally zstd-compressed.
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/modoterra/hearth/pkg/core"
)

// Compressed reports whether path selects zstd compression.
func Compressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// Write encodes lines to w, one JSON object per line.
func Write(w io.Writer, lines []core.LogLine) (int, error) {
	bw := bufio.NewWriter(w)
	for i, l := range lines {
		b, err := core.EncodeLogLine(l)
		if err != nil {
			return i, err
		}
		bw.Write(b)
		if err := bw.WriteByte('\n'); err != nil {
			return i, err
		}
	}
	return len(lines), bw.Flush()
}

// Result describes a finished export.
type Result struct {
	Lines int
	Bytes int64 // size on disk
}

// ToFile writes lines to path, compressing when the path ends in .zst.
func ToFile(path string, lines []core.LogLine) (Result, error) {
	f, err := os.Create(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	var w io.Writer = f
	var enc *zstd.Encoder
	if Compressed(path) {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return Result{}, err
		}
		w = enc
	}

	n, err := Write(w, lines)
	if err != nil {
		return Result{Lines: n}, fmt.Errorf("write %s: %w", path, err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return Result{Lines: n}, fmt.Errorf("compress %s: %w", path, err)
		}
	}
	if err := f.Sync(); err != nil {
		return Result{Lines: n}, err
	}
	info, err := f.Stat()
	if err != nil {
		return Result{Lines: n}, err
	}
	return Result{Lines: n, Bytes: info.Size()}, nil
}

// Read decodes an export produced by Write.
func Read(r io.Reader) ([]core.LogLine, error) {
	var lines []core.LogLine
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; scanner.Scan(); n++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		l, err := core.DecodeLogLine(scanner.Bytes())
		if err != nil {
			return lines, fmt.Errorf("line %d: %w", n, err)
		}
		lines = append(lines, l)
	}
	return lines, scanner.Err()
}

// ReadFile decodes the export at path, decompressing .zst files.
func ReadFile(path string) ([]core.LogLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !Compressed(path) {
		return Read(f)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return Read(dec)
}
