package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/book-expert/logger"
)

// Default transcoder settings.
const (
	defaultFFmpegBinary = "ffmpeg"
	defaultBitrateKbps  = 128
)

// ErrTranscodeFailed indicates the external encoder rejected the audio or
// produced no output.
var ErrTranscodeFailed = errors.New("audio transcode failed")

// FFmpegTranscoder converts assembled WAV audio to MP3 by piping it through
// an ffmpeg process. No temporary files are written; audio flows through
// stdin and stdout.
type FFmpegTranscoder struct {
	binaryPath  string
	bitrateKbps int
	log         *logger.Logger
}

// NewFFmpegTranscoder creates a transcoder using the given ffmpeg binary
// and MP3 bitrate. Empty or non-positive settings fall back to "ffmpeg" on
// PATH and 128 kbps.
func NewFFmpegTranscoder(
	binaryPath string,
	bitrateKbps int,
	log *logger.Logger,
) *FFmpegTranscoder {
	if binaryPath == "" {
		binaryPath = defaultFFmpegBinary
	}

	if bitrateKbps <= 0 {
		bitrateKbps = defaultBitrateKbps
	}

	return &FFmpegTranscoder{
		binaryPath:  binaryPath,
		bitrateKbps: bitrateKbps,
		log:         log,
	}
}

// Transcode converts WAV bytes to MP3 bytes.
func (t *FFmpegTranscoder) Transcode(
	ctx context.Context,
	wavData []byte,
) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, t.binaryPath,
		"-hide_banner",
		"-loglevel", "error",
		"-f", "wav",
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", t.bitrateKbps),
		"-f", "mp3",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(wavData)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%w: %s: %w", ErrTranscodeFailed, detail, err)
		}

		return nil, fmt.Errorf("%w: %w", ErrTranscodeFailed, err)
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: encoder produced no output", ErrTranscodeFailed)
	}

	t.log.Info(
		"Transcoded %d WAV byte(s) to %d MP3 byte(s) at %d kbps",
		len(wavData),
		stdout.Len(),
		t.bitrateKbps,
	)

	return stdout.Bytes(), nil
}

// Format names the transcoder's output format.
func (t *FFmpegTranscoder) Format() string {
	return FormatMP3
}
