/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	// ErrEmptyAudio is returned when there are no samples to encode or decode
	ErrEmptyAudio = errors.New("audio contains no samples")
	// ErrNotWAV is returned when a blob lacks a RIFF/WAVE header
	ErrNotWAV = errors.New("not a RIFF/WAVE container")
)

const pcm16Scale = 32767

// Clip is decoded audio reduced to a single channel of normalized floats
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int // channel count of the source before downmixing
	BitDepth   int
}

// Duration returns the clip length in seconds
func (c Clip) Duration() float64 {
	return SamplesDuration(len(c.Samples), c.SampleRate)
}

// IsWAV reports whether data starts with a RIFF header declaring WAVE
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

// Validate checks the magic bytes and that the fmt chunk is readable
func Validate(data []byte) error {
	if !IsWAV(data) {
		return ErrNotWAV
	}
	if !wav.NewDecoder(bytes.NewReader(data)).IsValidFile() {
		return fmt.Errorf("%w: unreadable fmt chunk", ErrNotWAV)
	}
	return nil
}

// EncodeWAV renders mono float samples as 16-bit PCM. Samples outside
// [-1, 1] are clipped.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		data[i] = int(s * pcm16Scale)
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	out := &seekBuffer{}
	enc := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to write PCM data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV header: %w", err)
	}
	return out.Bytes(), nil
}

// DecodeWAV parses a WAV blob, keeps the first channel and normalizes integer
// PCM to [-1, 1].
func DecodeWAV(data []byte) (Clip, error) {
	if !IsWAV(data) {
		return Clip{}, ErrNotWAV
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("failed to decode PCM: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return Clip{}, ErrEmptyAudio
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		samples[i] = normalize(buf.Data[i*channels], bitDepth)
	}

	return Clip{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
	}, nil
}

// DecodeFile reads and decodes a WAV file from disk
func DecodeFile(path string) (Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, err
	}
	return DecodeWAV(data)
}

// Duration returns the playing time of a WAV blob in seconds. ok is false
// when the blob cannot be parsed.
func Duration(data []byte) (seconds float64, ok bool) {
	if !IsWAV(data) {
		return 0, false
	}
	if d, err := wav.NewDecoder(bytes.NewReader(data)).Duration(); err == nil && d > 0 {
		return d.Seconds(), true
	}
	clip, err := DecodeWAV(data)
	if err != nil || clip.SampleRate <= 0 {
		return 0, false
	}
	return clip.Duration(), true
}

// SamplesDuration converts a sample count at the given rate to seconds
func SamplesDuration(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}

func normalize(v, bitDepth int) float32 {
	switch bitDepth {
	case 8:
		// 8-bit PCM is unsigned
		return float32(v-128) / 128
	case 0, 16:
		return float32(v) / 32768
	default:
		return float32(float64(v) / float64(int64(1)<<(bitDepth-1)))
	}
}
