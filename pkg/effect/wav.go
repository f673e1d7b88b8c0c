package effect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

var ErrNotWAV = errors.New("effect: not a PCM wav file")

// ProbeWAVFile opens path and returns the playing time of its data chunk.
func ProbeWAVFile(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("effect: %w", err)
	}
	defer f.Close()

	d, err := ProbeWAV(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ProbeWAV walks the RIFF chunks of r until it has seen both "fmt " and
// "data", and derives the duration from the byte rate. Sample data is
// skipped, never decoded.
func ProbeWAV(r io.Reader) (time.Duration, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, fmt.Errorf("%w: short header", ErrNotWAV)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return 0, ErrNotWAV
	}

	var (
		byteRate uint32
		dataLen  uint32
		haveFmt  bool
		haveData bool
	)
	for !(haveFmt && haveData) {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return 0, fmt.Errorf("%w: truncated chunk list", ErrNotWAV)
		}
		id := string(ch[0:4])
		size := binary.LittleEndian.Uint32(ch[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return 0, fmt.Errorf("%w: fmt chunk too small", ErrNotWAV)
			}
			var fmtBuf [16]byte
			if _, err := io.ReadFull(r, fmtBuf[:]); err != nil {
				return 0, fmt.Errorf("%w: truncated fmt chunk", ErrNotWAV)
			}
			byteRate = binary.LittleEndian.Uint32(fmtBuf[8:12])
			haveFmt = true
			if err := skip(r, int64(size)-16+int64(size&1)); err != nil {
				return 0, err
			}
		case "data":
			dataLen = size
			haveData = true
			if !haveFmt {
				if err := skip(r, int64(size)+int64(size&1)); err != nil {
					return 0, err
				}
			}
		default:
			if err := skip(r, int64(size)+int64(size&1)); err != nil {
				return 0, err
			}
		}
	}

	if byteRate == 0 {
		return 0, fmt.Errorf("%w: zero byte rate", ErrNotWAV)
	}
	return time.Duration(float64(dataLen) / float64(byteRate) * float64(time.Second)), nil
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if s, ok := r.(io.Seeker); ok {
		if _, err := s.Seek(n, io.SeekCurrent); err != nil {
			return fmt.Errorf("%w: %v", ErrNotWAV, err)
		}
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("%w: truncated chunk", ErrNotWAV)
	}
	return nil
}
