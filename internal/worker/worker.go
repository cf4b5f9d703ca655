// Package worker provides the NATS request/reply surface for narration jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/objectstore"
)

const defaultJobTimeout = 240 * time.Second

var (
	// ErrNilConnection indicates the worker was constructed without a NATS
	// connection.
	ErrNilConnection = errors.New("nats connection cannot be nil")
	// ErrNilStore indicates the worker was constructed without an object
	// store.
	ErrNilStore = errors.New("object store cannot be nil")
	// ErrNilNarrator indicates the worker was constructed without a
	// narrator.
	ErrNilNarrator = errors.New("narrator cannot be nil")
	// ErrNoText indicates the event carried neither a text key nor inline
	// text.
	ErrNoText = errors.New("event carries neither text_key nor text")
)

// NatsWorker listens for narration jobs on a NATS subject and replies to each
// with the job outcome. The finished artifact is uploaded to the object store
// before the reply is sent; on this surface the artifact is the product, so an
// upload failure fails the job.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	narrator       core.Narrator
	jobTimeout     time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. A non-positive
// jobTimeout falls back to the default.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	narrator core.Narrator,
	jobTimeout time.Duration,
	log *logger.Logger,
) (*NatsWorker, error) {
	if natsConnection == nil {
		return nil, ErrNilConnection
	}

	if store == nil {
		return nil, ErrNilStore
	}

	if narrator == nil {
		return nil, ErrNilNarrator
	}

	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		narrator:       narrator,
		jobTimeout:     jobTimeout,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages. It blocks until
// the context is canceled, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	var event core.NarrationRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal narration request: %v", err)

		return
	}

	audioKey, result, jobErr := w.processJob(ctx, &event)
	if jobErr != nil {
		w.log.Error("Narration job failed for workflow %s: %v", event.Header.WorkflowID, jobErr)
		w.reportJobFailure(&event, jobErr)
		w.reply(msg, &core.NarrationCompletedEvent{
			Header:          event.Header,
			Success:         false,
			Error:           jobErr.Error(),
			AudioKey:        "",
			DurationSeconds: 0,
			Format:          "",
			Chunks:          0,
		})

		return
	}

	w.log.Info("Narration job for workflow %s finished: %d chunk(s), stored as %s",
		event.Header.WorkflowID, result.Chunks, audioKey)
	w.reply(msg, &core.NarrationCompletedEvent{
		Header:          event.Header,
		Success:         true,
		Error:           "",
		AudioKey:        audioKey,
		DurationSeconds: result.DurationSeconds,
		Format:          result.Format,
		Chunks:          result.Chunks,
	})
}

// processJob resolves the document text, narrates it, and stores the finished
// artifact under a fresh key.
func (w *NatsWorker) processJob(
	ctx context.Context,
	event *core.NarrationRequestedEvent,
) (string, *core.NarrationResult, error) {
	text, err := w.resolveText(ctx, event)
	if err != nil {
		return "", nil, err
	}

	result, err := w.narrator.Generate(ctx, core.NarrationRequest{
		Text:              text,
		Voice:             event.Voice,
		AudioReferenceURL: event.AudioReferenceURL,
		Title:             event.Title,
		SpokenIntro:       event.SpokenIntro,
		Exaggeration:      event.Exaggeration,
		IncludeIntro:      event.IncludeIntro,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to narrate text: %w", err)
	}

	audioKey := objectstore.ArtifactKey(event.Title, result.Format)

	err = w.store.Upload(ctx, audioKey, result.Audio)
	if err != nil {
		return "", nil, fmt.Errorf("failed to upload narration artifact '%s': %w", audioKey, err)
	}

	return audioKey, result, nil
}

// resolveText prefers the object store document over inline text when both
// are present.
func (w *NatsWorker) resolveText(
	ctx context.Context,
	event *core.NarrationRequestedEvent,
) (string, error) {
	if event.TextKey != "" {
		data, err := w.store.Download(ctx, event.TextKey)
		if err != nil {
			return "", fmt.Errorf("failed to download text for key '%s': %w", event.TextKey, err)
		}

		return string(data), nil
	}

	if event.Text != "" {
		return event.Text, nil
	}

	return "", ErrNoText
}

func (w *NatsWorker) reply(msg *nats.Msg, replyEvent *core.NarrationCompletedEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		w.log.Error("Failed to marshal reply for workflow %s: %v", replyEvent.Header.WorkflowID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", replyEvent.Header.WorkflowID, err)
	}
}

// reportJobFailure forwards the failure to Sentry tagged with the workflow.
// CaptureException is a no-op when Sentry was not initialized.
func (w *NatsWorker) reportJobFailure(event *core.NarrationRequestedEvent, jobErr error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("workflow_id", event.Header.WorkflowID)
		scope.SetTag("surface", "nats-worker")
		sentry.CaptureException(jobErr)
	})
}
