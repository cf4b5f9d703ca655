// main package for the narration-client, a flag-driven CLI for the
// narration-service HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/tts/ttsutils"
)

// Flag descriptions.
const (
	flagAddrDesc   = "Base URL of the narration service"
	flagTextDesc   = "Text to narrate"
	flagOutputDesc = "Output file for batch mode, output directory for stream mode"
	flagTitleDesc  = "Document title, spoken as an intro when the service is configured for it"
	flagVoiceDesc  = "Voice to narrate with (service default when empty)"
	flagStreamDesc = "Stream per-chunk WAV files instead of one compressed file"
	flagHealthDesc = "Check narration service health and exit"
)

// Flag names.
const (
	flagAddr   = "addr"
	flagText   = "text"
	flagOutput = "output"
	flagTitle  = "title"
	flagVoice  = "voice"
	flagStream = "stream"
	flagHealth = "health"
)

// Timeouts. The batch timeout matches the service's largest allowed job
// timeout.
const (
	healthTimeout = 10 * time.Second
	batchTimeout  = 15 * time.Minute
)

const (
	defaultAddr      = "http://localhost:8085"
	chunkFilePattern = "chunk_%04d.wav"
)

var (
	errTextRequired   = errors.New("--text must be provided")
	errOutputNotAudio = errors.New("--output must name an audio file")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	addr   string
	text   string
	output string
	title  string
	voice  string
	stream bool
	health bool
}

// narrationRequest mirrors the JSON body of POST /v1/narrations.
type narrationRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	Title string `json:"title,omitempty"`
}

// narrationResponse mirrors the batch endpoint's reply.
type narrationResponse struct {
	Audio           []byte  `json:"audio_base64"`
	Format          string  `json:"format"`
	DurationSeconds float64 `json:"duration_seconds"`
	Chunks          int     `json:"chunks"`
}

// streamEvent is the union of every event frame the streaming endpoint
// emits, distinguished by Type.
type streamEvent struct {
	Type              string  `json:"type"`
	TotalChunks       int     `json:"total_chunks"`
	EstimatedDuration float64 `json:"estimated_duration"`
	Index             int     `json:"index"`
	Audio             []byte  `json:"audio"`
	Progress          int     `json:"progress"`
	Error             string  `json:"error"`
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	if flags.health {
		return checkHealth(flags.addr)
	}

	if flags.text == "" {
		flag.Usage()

		return errTextRequired
	}

	if flags.stream {
		return streamNarration(flags)
	}

	return batchNarration(flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags
	flag.StringVar(&flags.addr, flagAddr, defaultAddr, flagAddrDesc)
	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flag.StringVar(&flags.title, flagTitle, "", flagTitleDesc)
	flag.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flag.BoolVar(&flags.stream, flagStream, false, flagStreamDesc)
	flag.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flag.Parse()

	return flags
}

// checkHealth probes GET /healthz and prints the verdict.
func checkHealth(addr string) error {
	client := &http.Client{Timeout: healthTimeout}

	resp, err := client.Get(addr + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to reach narration service: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Narration service is not healthy: %s\n", strings.TrimSpace(string(body)))

		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	fmt.Println("Narration service is healthy")

	return nil
}

// batchNarration runs one POST /v1/narrations round trip and writes the
// returned audio to a file.
func batchNarration(flags appFlags) error {
	if flags.output != "" && !ttsutils.IsValidAudioFile(flags.output) {
		return fmt.Errorf("%w, got %q", errOutputNotAudio, flags.output)
	}

	payload, err := json.Marshal(narrationRequest{
		Text:  flags.text,
		Voice: flags.voice,
		Title: flags.title,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	client := &http.Client{Timeout: batchTimeout}

	resp, err := client.Post(flags.addr+"/v1/narrations", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to reach narration service: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeErrorResponse(resp)
	}

	var result narrationResponse

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return fmt.Errorf("failed to decode narration response: %w", err)
	}

	outputPath := flags.output
	if outputPath == "" {
		outputPath = "narration." + result.Format
	}

	err = os.WriteFile(outputPath, result.Audio, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	fmt.Printf("Generated: %s (%s, %s, %d chunk(s))\n",
		outputPath,
		ttsutils.FormatFileSize(int64(len(result.Audio))),
		ttsutils.FormatDuration(result.DurationSeconds),
		result.Chunks,
	)

	return nil
}

// decodeErrorResponse turns a non-200 reply into an error carrying the
// service's message.
func decodeErrorResponse(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}

	err := json.NewDecoder(resp.Body).Decode(&body)
	if err != nil || body.Error == "" {
		return fmt.Errorf("narration service returned status %d", resp.StatusCode)
	}

	return fmt.Errorf("narration service returned status %d: %s", resp.StatusCode, body.Error)
}

// streamNarration drives the WebSocket endpoint, writing one WAV file per
// chunk event into the output directory.
func streamNarration(flags appFlags) error {
	outputDir := flags.output
	if outputDir == "" {
		outputDir = "."
	}

	err := ttsutils.EnsureDir(outputDir)
	if err != nil {
		return err
	}

	wsURL := "ws" + strings.TrimPrefix(flags.addr, "http") + "/v1/narrations/stream"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	defer func() { _ = conn.Close() }()

	err = conn.WriteJSON(narrationRequest{
		Text:  flags.text,
		Voice: flags.voice,
		Title: flags.title,
	})
	if err != nil {
		return fmt.Errorf("failed to send narration request: %w", err)
	}

	return drainStream(conn, outputDir)
}

// drainStream consumes events until the server closes the stream or an
// error event arrives.
func drainStream(conn *websocket.Conn, outputDir string) error {
	for {
		var event streamEvent

		err := conn.ReadJSON(&event)
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}

			return fmt.Errorf("stream ended unexpectedly: %w", err)
		}

		done, err := handleStreamEvent(event, outputDir)
		if err != nil {
			return err
		}

		if done {
			return nil
		}
	}
}

// handleStreamEvent reports or persists one event. It returns done=true on
// a terminal event.
func handleStreamEvent(event streamEvent, outputDir string) (bool, error) {
	switch event.Type {
	case core.StreamEventStart:
		fmt.Printf("Narrating %d chunk(s), estimated %s\n",
			event.TotalChunks, ttsutils.FormatDuration(event.EstimatedDuration))

		return false, nil
	case core.StreamEventChunk:
		path := filepath.Join(outputDir, fmt.Sprintf(chunkFilePattern, event.Index))

		err := os.WriteFile(path, event.Audio, 0o600)
		if err != nil {
			return false, fmt.Errorf("failed to write %s: %w", path, err)
		}

		fmt.Printf("  [%3d%%] %s (%s)\n", event.Progress, path,
			ttsutils.FormatFileSize(int64(len(event.Audio))))

		return false, nil
	case core.StreamEventComplete:
		fmt.Printf("Completed %d chunk(s) in %s\n", event.TotalChunks, outputDir)

		return true, nil
	case core.StreamEventError:
		return true, fmt.Errorf("narration failed: %s", event.Error)
	default:
		return false, nil
	}
}
