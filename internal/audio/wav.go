// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     audio
// Description: WAV decoding/encoding, resampling and sample buffers
// Author:      Mike Stoffels with Claude
// Created:     2026-07-06
// License:     MIT
// ============================================================================

// Package audio converts between WAV files and the mono float32 sample
// stream the transcription pipeline works on. It reads 16-bit PCM and
// 32-bit IEEE float WAV data, downmixes multi-channel audio, resamples to
// the model input rate and writes mono PCM16 output.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/msto63/mSW/internal/model"
)

// Sentinel errors for audio decoding. Callers match with errors.Is.
var (
	// ErrMalformedWAV signals a structurally broken WAV stream.
	ErrMalformedWAV = errors.New("malformed wav data")

	// ErrUnsupportedFormat signals a WAV encoding outside 16-bit PCM and
	// 32-bit IEEE float.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// WAV format tags from the fmt chunk.
const (
	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

// ReadWAV parses a WAV stream and returns mono samples in [-1, 1] plus
// the source sample rate. Multi-channel audio is downmixed by averaging
// the channels of each frame. Chunks other than fmt and data are skipped.
func ReadWAV(r io.Reader) ([]float32, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: missing RIFF header", ErrMalformedWAV)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrMalformedWAV)
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bits       int
		haveFmt    bool
	)

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if haveFmt {
				return nil, 0, fmt.Errorf("%w: no data chunk", ErrMalformedWAV)
			}
			return nil, 0, fmt.Errorf("%w: no fmt chunk", ErrMalformedWAV)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: fmt chunk too short", ErrMalformedWAV)
			}
			raw := make([]byte, size)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, 0, fmt.Errorf("%w: truncated fmt chunk", ErrMalformedWAV)
			}
			format = binary.LittleEndian.Uint16(raw[0:2])
			channels = int(binary.LittleEndian.Uint16(raw[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(raw[4:8]))
			bits = int(binary.LittleEndian.Uint16(raw[14:16]))
			if format == formatExtensible && len(raw) >= 26 {
				// The effective format tag lives in the first two bytes
				// of the extensible sub-format GUID.
				format = binary.LittleEndian.Uint16(raw[24:26])
			}
			if channels < 1 || sampleRate < 1 {
				return nil, 0, fmt.Errorf("%w: %d channels at %d Hz", ErrMalformedWAV, channels, sampleRate)
			}
			haveFmt = true
			if size%2 == 1 {
				io.CopyN(io.Discard, r, 1)
			}
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("%w: data before fmt chunk", ErrMalformedWAV)
			}
			raw, err := readDataChunk(r, size)
			if err != nil {
				return nil, 0, err
			}
			samples, err := decodeSamples(raw, format, channels, bits)
			if err != nil {
				return nil, 0, err
			}
			return samples, sampleRate, nil
		default:
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, 0, fmt.Errorf("%w: truncated %q chunk", ErrMalformedWAV, id)
			}
		}
	}
}

// readDataChunk reads a data chunk body. Streaming encoders write a
// placeholder size and recordings cut off mid-write are common, so a
// short read yields the samples that are present instead of an error.
func readDataChunk(r io.Reader, size uint32) ([]byte, error) {
	if size == 0xFFFFFFFF {
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated data chunk", ErrMalformedWAV)
		}
		return raw, nil
	}
	raw := make([]byte, size)
	n, err := io.ReadFull(r, raw)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: reading data chunk: %v", ErrMalformedWAV, err)
	}
	return raw[:n], nil
}

// decodeSamples converts raw frame data to mono float32.
func decodeSamples(raw []byte, format uint16, channels, bits int) ([]float32, error) {
	var bytesPerSample int
	switch {
	case format == formatPCM && bits == 16:
		bytesPerSample = 2
	case format == formatIEEEFloat && bits == 32:
		bytesPerSample = 4
	default:
		return nil, fmt.Errorf("%w: format %d with %d bits per sample", ErrUnsupportedFormat, format, bits)
	}

	frameBytes := bytesPerSample * channels
	frames := len(raw) / frameBytes
	mono := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			off := f*frameBytes + c*bytesPerSample
			if bytesPerSample == 2 {
				sum += float32(int16(binary.LittleEndian.Uint16(raw[off:]))) / 32768
			} else {
				sum += math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
			}
		}
		mono[f] = sum / float32(channels)
	}
	return mono, nil
}

// DecodePCM16 converts headerless little-endian 16-bit PCM mono data to
// float32 samples. This is the frame format of the live transcription
// path; a trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return samples
}

// ReadWAVFile reads a WAV file from disk.
func ReadWAVFile(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	samples, rate, err := ReadWAV(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return samples, rate, nil
}

// LoadWAV reads a WAV file and returns mono samples at the model input
// rate, downmixing and resampling as needed.
func LoadWAV(path string) ([]float32, error) {
	samples, rate, err := ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	if rate != model.SampleRate {
		samples = Resample(samples, rate, model.SampleRate)
	}
	return samples, nil
}

// WriteWAV writes mono samples as a 16-bit PCM WAV stream. Samples are
// clamped to [-1, 1] before conversion.
func WriteWAV(w io.Writer, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, sampleRate)
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s*32767)))
	}

	dataSize := uint32(len(pcm))
	var hdr bytes.Buffer
	hdr.WriteString("RIFF")
	binary.Write(&hdr, binary.LittleEndian, uint32(36+dataSize))
	hdr.WriteString("WAVE")
	hdr.WriteString("fmt ")
	binary.Write(&hdr, binary.LittleEndian, uint32(16))
	binary.Write(&hdr, binary.LittleEndian, uint16(formatPCM))
	binary.Write(&hdr, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&hdr, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&hdr, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&hdr, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&hdr, binary.LittleEndian, uint16(16))           // bits per sample
	hdr.WriteString("data")
	binary.Write(&hdr, binary.LittleEndian, dataSize)

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// WriteWAVFile writes mono samples as a 16-bit PCM WAV file.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Resample converts samples from one rate to another by linear
// interpolation. Returns the input unchanged when the rates already
// match.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	if outLen < 1 {
		outLen = 1
	}
	step := float64(fromRate) / float64(toRate)
	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// PadOrTrim returns samples adjusted to exactly length entries, zero
// padded at the end or cut off. The input slice is never modified.
func PadOrTrim(samples []float32, length int) []float32 {
	if length < 0 {
		length = 0
	}
	out := make([]float32, length)
	copy(out, samples)
	return out
}

// Duration returns the play time in seconds of sampleCount samples at
// the given rate.
func Duration(sampleCount, sampleRate int) float32 {
	if sampleRate <= 0 {
		return 0
	}
	return float32(sampleCount) / float32(sampleRate)
}
