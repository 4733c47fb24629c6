package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	wav "github.com/youpy/go-wav"
)

// ErrUnsupportedFormat is returned when a WAV file uses a layout the decoder
// cannot turn into mono samples.
var ErrUnsupportedFormat = errors.New("audio: unsupported wav format")

// writeBitsPerSample is the bit depth used for every file the system writes.
const writeBitsPerSample = 16

// DecodeWAV reads an entire RIFF/WAVE stream and returns its samples mixed
// down to mono together with the source format. Truncated or corrupt input
// is reported as [ErrUnsupportedFormat].
func DecodeWAV(r io.Reader) (Clip, Format, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Clip{}, Format{}, fmt.Errorf("audio: read wav: %w", err)
	}
	if err := checkRIFF(data); err != nil {
		return Clip{}, Format{}, err
	}
	return decodeRIFF(data)
}

// checkRIFF walks the chunk list the way the RIFF reader does, up to the
// size in the RIFF header, and requires every chunk to fit in data. The
// reader panics on short reads instead of returning an error.
func checkRIFF(data []byte) error {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedFormat)
	}
	end := int64(binary.LittleEndian.Uint32(data[4:8]))
	var haveFmt, haveData bool
	for off := int64(12); off < end; {
		if off+8 > int64(len(data)) {
			return fmt.Errorf("%w: truncated chunk header at %d", ErrUnsupportedFormat, off)
		}
		id := string(data[off : off+4])
		size := int64(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > int64(len(data)) {
			return fmt.Errorf("%w: truncated %q chunk", ErrUnsupportedFormat, id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			haveFmt = true
		case "data":
			haveData = true
		}
		off = body + size + size%2
	}
	if !haveFmt || !haveData {
		return fmt.Errorf("%w: missing fmt or data chunk", ErrUnsupportedFormat)
	}
	return nil
}

func decodeRIFF(data []byte) (clip Clip, format Format, err error) {
	defer func() {
		if r := recover(); r != nil {
			clip, format, err = Clip{}, Format{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, r)
		}
	}()

	reader := wav.NewReader(bytes.NewReader(data))
	f, err := reader.Format()
	if err != nil {
		return Clip{}, Format{}, fmt.Errorf("audio: parse wav header: %w", err)
	}
	if f.NumChannels == 0 || f.NumChannels > 2 {
		return Clip{}, Format{}, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, f.NumChannels)
	}
	if f.SampleRate == 0 {
		return Clip{}, Format{}, fmt.Errorf("%w: zero sample rate", ErrUnsupportedFormat)
	}
	if f.BitsPerSample == 0 || int(f.BlockAlign) < int(f.NumChannels)*int(f.BitsPerSample)/8 {
		return Clip{}, Format{}, fmt.Errorf("%w: block align %d for %d-bit samples", ErrUnsupportedFormat, f.BlockAlign, f.BitsPerSample)
	}
	format = Format{SampleRate: int(f.SampleRate), Channels: int(f.NumChannels)}

	var samples []float64
	for {
		chunk, err := reader.ReadSamples()
		for _, s := range chunk {
			var sum float64
			for ch := uint(0); ch < uint(f.NumChannels); ch++ {
				sum += reader.FloatValue(s, ch)
			}
			samples = append(samples, sum/float64(f.NumChannels))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Clip{}, Format{}, fmt.Errorf("audio: read wav samples: %w", err)
		}
		if len(chunk) == 0 {
			break
		}
	}

	for _, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return Clip{}, Format{}, fmt.Errorf("%w: non-finite sample", ErrUnsupportedFormat)
		}
	}

	return Clip{Samples: samples, SampleRate: format.SampleRate}, format, nil
}

// EncodeWAV writes clip as 16-bit PCM mono. Samples are peak-normalized when
// the peak exceeds 1 so the integer conversion never wraps.
func EncodeWAV(w io.Writer, clip Clip) error {
	if clip.SampleRate <= 0 {
		return fmt.Errorf("audio: encode wav: invalid sample rate %d", clip.SampleRate)
	}
	norm := Normalize(clip.Samples)

	out := make([]wav.Sample, len(norm))
	for i, s := range norm {
		out[i].Values[0] = floatToInt16(s)
	}

	writer := wav.NewWriter(w, uint32(len(out)), 1, uint32(clip.SampleRate), writeBitsPerSample)
	if err := writer.WriteSamples(out); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	return nil
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (Clip, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, Format{}, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// WriteFile encodes clip to path, creating parent directories as needed.
func WriteFile(path string, clip Clip) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("audio: create dir for %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := EncodeWAV(&buf, clip); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("audio: write %s: %w", path, err)
	}
	return nil
}

func floatToInt16(s float64) int {
	v := math.Round(s * 32767.0)
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int(v)
}
