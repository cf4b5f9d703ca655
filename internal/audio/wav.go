// Package audio assembles per-chunk WAV audio into a single stream and
// converts the result into the delivery format.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"

	"github.com/book-expert/narration-service/internal/core"
)

// Audio format names.
const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// Canonical RIFF/WAVE header layout.
const (
	wavHeaderSize = 44
	riffChunkSize = 36
	fmtChunkSize  = 16
	pcmFormatCode = 1
	bitsPerByte   = 8
)

// Common errors for the audio package.
var (
	ErrNoChunks       = errors.New("no audio chunks to assemble")
	ErrEmptyChunk     = errors.New("audio chunk is empty")
	ErrInvalidFormat  = errors.New("invalid WAV data")
	ErrFormatMismatch = errors.New("audio chunks have mismatched formats")
)

// pcmAudio is one decoded chunk: its sample format plus raw PCM bytes.
type pcmAudio struct {
	sampleRate uint32
	channels   uint16
	bitDepth   uint16
	data       []byte
}

func (p *pcmAudio) byteRate() int {
	return int(p.sampleRate) * int(p.channels) * int(p.bitDepth) / bitsPerByte
}

func (p *pcmAudio) blockAlign() int {
	return int(p.channels) * int(p.bitDepth) / bitsPerByte
}

func (p *pcmAudio) sameFormat(other *pcmAudio) bool {
	return p.sampleRate == other.sampleRate &&
		p.channels == other.channels &&
		p.bitDepth == other.bitDepth
}

// Assemble concatenates per-chunk WAV data, in slice order, into a single
// WAV stream with one canonical header. Every chunk must carry uncompressed
// PCM in the same sample format. The reported duration is computed from the
// PCM byte count, not estimated.
func Assemble(chunks [][]byte) (*core.AssembledAudio, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	segments := make([]*pcmAudio, 0, len(chunks))
	totalPCM := 0

	for i, chunkData := range chunks {
		if len(chunkData) == 0 {
			return nil, fmt.Errorf("%w: chunk %d", ErrEmptyChunk, i)
		}

		segment, err := decodeChunk(chunkData)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}

		if len(segments) > 0 && !segment.sameFormat(segments[0]) {
			return nil, fmt.Errorf(
				"%w: chunk %d is %dHz/%dch/%d-bit, expected %dHz/%dch/%d-bit",
				ErrFormatMismatch,
				i,
				segment.sampleRate, segment.channels, segment.bitDepth,
				segments[0].sampleRate, segments[0].channels, segments[0].bitDepth,
			)
		}

		segments = append(segments, segment)
		totalPCM += len(segment.data)
	}

	pcm := make([]byte, 0, totalPCM)
	for _, segment := range segments {
		pcm = append(pcm, segment.data...)
	}

	first := segments[0]

	return &core.AssembledAudio{
		WAV:             encodeWAV(first, pcm),
		DurationSeconds: float64(len(pcm)) / float64(first.byteRate()),
		SampleRate:      int(first.sampleRate),
		Channels:        int(first.channels),
		BitDepth:        int(first.bitDepth),
	}, nil
}

// decodeChunk reads one WAV chunk's format header and PCM payload.
func decodeChunk(wavData []byte) (*pcmAudio, error) {
	decoder := wav.NewDecoder(bytes.NewReader(wavData))
	decoder.ReadInfo()

	err := decoder.Err()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	if decoder.WavAudioFormat != pcmFormatCode {
		return nil, fmt.Errorf(
			"%w: compression code %d is not PCM",
			ErrInvalidFormat,
			decoder.WavAudioFormat,
		)
	}

	if decoder.SampleRate == 0 || decoder.NumChans == 0 || decoder.BitDepth == 0 {
		return nil, fmt.Errorf(
			"%w: %dHz/%dch/%d-bit",
			ErrInvalidFormat,
			decoder.SampleRate,
			decoder.NumChans,
			decoder.BitDepth,
		)
	}

	err = decoder.FwdToPCM()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	pcmLen := decoder.PCMLen()
	if pcmLen <= 0 {
		return nil, ErrEmptyChunk
	}

	data := make([]byte, int(pcmLen))

	_, err = io.ReadFull(decoder.PCMChunk, data)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}

	return &pcmAudio{
		sampleRate: decoder.SampleRate,
		channels:   decoder.NumChans,
		bitDepth:   decoder.BitDepth,
		data:       data,
	}, nil
}

// encodeWAV writes a canonical 44-byte RIFF/WAVE header followed by the PCM
// payload.
func encodeWAV(format *pcmAudio, pcm []byte) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(riffChunkSize+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(out[20:22], pcmFormatCode)
	binary.LittleEndian.PutUint16(out[22:24], format.channels)
	binary.LittleEndian.PutUint32(out[24:28], format.sampleRate)
	binary.LittleEndian.PutUint32(out[28:32], uint32(format.byteRate()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(format.blockAlign()))
	binary.LittleEndian.PutUint16(out[34:36], format.bitDepth)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)

	return out
}
