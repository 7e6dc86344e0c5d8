package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/wav"
)

var (
	// ErrNotWAV marks files that are not a readable WAV container.
	ErrNotWAV = errors.New("not a valid wav file")
	// ErrUnsupportedDepth marks WAV files that are not 16-bit PCM.
	ErrUnsupportedDepth = errors.New("unsupported wav bit depth")
)

// WAVHeader is the 44-byte PCM WAV header.
type WAVHeader struct {
	ChunkID   [4]byte
	ChunkSize uint32
	Format    [4]byte

	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16

	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// NewWAVHeader builds a mono 16-bit PCM header for pcmLen data bytes.
func NewWAVHeader(sampleRate uint32, pcmLen uint32) WAVHeader {
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: pcmLen,
	}
	header.ChunkSize = 36 + header.Subchunk2Size
	return header
}

func (h *WAVHeader) Write(writer io.Writer) error {
	return binary.Write(writer, binary.LittleEndian, h)
}

// PCM is decoded mono audio with its sample rate.
type PCM struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the play time of the buffer.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(p.Samples)) / float64(p.SampleRate) * float64(time.Second))
}

// Slice returns the samples between from and to. Bounds are clamped to the
// buffer, the returned PCM shares the underlying array.
func (p PCM) Slice(from, to time.Duration) PCM {
	if p.SampleRate <= 0 {
		return PCM{SampleRate: p.SampleRate}
	}
	lo := int(from.Seconds() * float64(p.SampleRate))
	hi := int(to.Seconds() * float64(p.SampleRate))
	if lo < 0 {
		lo = 0
	}
	if hi > len(p.Samples) {
		hi = len(p.Samples)
	}
	if lo >= hi {
		return PCM{SampleRate: p.SampleRate}
	}
	return PCM{Samples: p.Samples[lo:hi], SampleRate: p.SampleRate}
}

// DecodeWAV reads a WAV file and returns its PCM content downmixed to mono.
// Files that are not valid WAV containers or not 16-bit PCM are rejected.
func DecodeWAV(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return PCM{}, fmt.Errorf("%s: %w", path, ErrNotWAV)
	}
	if dec.BitDepth != 16 {
		return PCM{}, fmt.Errorf("%s: %w: got %d, want 16", path, ErrUnsupportedDepth, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var acc int
		for c := 0; c < channels; c++ {
			acc += buf.Data[i*channels+c]
		}
		samples[i] = int16(acc / channels)
	}
	return PCM{Samples: samples, SampleRate: int(dec.SampleRate)}, nil
}

// WriteWAV streams mono 16-bit PCM as a WAV container to w.
func WriteWAV(w io.Writer, p PCM) error {
	data := Int16sToBytesLE(p.Samples)
	header := NewWAVHeader(uint32(p.SampleRate), uint32(len(data)))
	if err := header.Write(w); err != nil {
		return fmt.Errorf("writing wav header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing wav data: %w", err)
	}
	return nil
}

// EncodeWAV writes mono 16-bit PCM to path.
func EncodeWAV(path string, p PCM) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return WriteWAV(f, p)
}

// IsTargetWAV reports whether path already holds 16 kHz mono 16-bit PCM.
func IsTargetWAV(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return false
	}
	return dec.BitDepth == 16 && dec.NumChans == 1 && dec.SampleRate == 16000
}
