// Package worker_test tests the NATS worker for the narration service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/worker"
)

const (
	testSubject    = "narration.test"
	testJobTimeout = 10 * time.Second
	requestTimeout = 5 * time.Second
)

var (
	errMockDownload = errors.New("mock download error")
	errMockUpload   = errors.New("mock upload error")
	errMockNarrate  = errors.New("mock narration error")
	errStreamUnused = errors.New("stream is not used by the worker")
)

// mockObjectStore is a mock implementation of the core.ObjectStore interface.
type mockObjectStore struct {
	downloadShouldFail bool
	uploadShouldFail   bool
	document           []byte
	downloadedKey      string
	uploadedKey        string
	uploadedData       []byte
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	m.downloadedKey = key

	return m.document, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	if m.uploadShouldFail {
		return errMockUpload
	}

	m.uploadedKey = key
	m.uploadedData = data

	return nil
}

// mockNarrator is a mock implementation of the core.Narrator interface.
type mockNarrator struct {
	generateShouldFail bool
	result             *core.NarrationResult
	received           []core.NarrationRequest
}

func (m *mockNarrator) Generate(
	_ context.Context,
	req core.NarrationRequest,
) (*core.NarrationResult, error) {
	m.received = append(m.received, req)

	if m.generateShouldFail {
		return nil, errMockNarrate
	}

	return m.result, nil
}

func (m *mockNarrator) Stream(
	_ context.Context,
	_ core.NarrationRequest,
) (<-chan core.StreamEvent, error) {
	return nil, errStreamUnused
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(natsConnection.Close)

	return natsConnection
}

type workerHarness struct {
	store          *mockObjectStore
	narrator       *mockNarrator
	natsConnection *nats.Conn
	cancel         context.CancelFunc
	errChan        chan error
}

func setupTest(t *testing.T) *workerHarness {
	t.Helper()

	mockStore := &mockObjectStore{
		downloadShouldFail: false,
		uploadShouldFail:   false,
		document:           []byte("A downloaded document."),
		downloadedKey:      "",
		uploadedKey:        "",
		uploadedData:       nil,
	}
	narrator := &mockNarrator{
		generateShouldFail: false,
		result: &core.NarrationResult{
			Audio:           []byte("mp3 audio bytes"),
			Format:          "mp3",
			DurationSeconds: 12.5,
			Chunks:          3,
		},
		received: nil,
	}

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testLogger.Close() })

	workerInstance, err := worker.NewNatsWorker(
		natsConnection, testSubject, mockStore, narrator, testJobTimeout, testLogger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	return &workerHarness{
		store:          mockStore,
		narrator:       narrator,
		natsConnection: natsConnection,
		cancel:         cancel,
		errChan:        errChan,
	}
}

func testEvent() *core.NarrationRequestedEvent {
	return &core.NarrationRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		TextKey:           "",
		Text:              "An inline document to narrate.",
		Voice:             "narrator-2",
		AudioReferenceURL: "",
		Title:             "Chapter One",
		SpokenIntro:       "",
		Exaggeration:      0.7,
		IncludeIntro:      true,
	}
}

func requestNarration(
	t *testing.T,
	natsConnection *nats.Conn,
	event *core.NarrationRequestedEvent,
) core.NarrationCompletedEvent {
	t.Helper()

	eventData, err := json.Marshal(event)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(testSubject, eventData, requestTimeout)
	require.NoError(t, err, "Request should receive a reply")

	var replyEvent core.NarrationCompletedEvent

	err = json.Unmarshal(replyMsg.Data, &replyEvent)
	require.NoError(t, err)

	return replyEvent
}

func TestWorkerNarratesInlineText(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)

	event := testEvent()
	reply := requestNarration(t, harness.natsConnection, event)

	require.True(t, reply.Success, "job should succeed: %s", reply.Error)
	assert.Equal(t, event.Header.WorkflowID, reply.Header.WorkflowID)
	assert.Equal(t, "mp3", reply.Format)
	assert.InDelta(t, 12.5, reply.DurationSeconds, 0.001)
	assert.Equal(t, 3, reply.Chunks)

	// The artifact must be stored before the reply names it.
	assert.Equal(t, harness.store.uploadedKey, reply.AudioKey)
	assert.True(t, strings.HasSuffix(reply.AudioKey, ".mp3"), "key %q should carry the format", reply.AudioKey)
	assert.Contains(t, reply.AudioKey, "Chapter_One")
	assert.Equal(t, []byte("mp3 audio bytes"), harness.store.uploadedData)

	require.Len(t, harness.narrator.received, 1)
	assert.Equal(t, "An inline document to narrate.", harness.narrator.received[0].Text)
	assert.Equal(t, "narrator-2", harness.narrator.received[0].Voice)
	assert.Equal(t, "Chapter One", harness.narrator.received[0].Title)
	assert.InDelta(t, 0.7, harness.narrator.received[0].Exaggeration, 0.001)
	assert.True(t, harness.narrator.received[0].IncludeIntro)

	harness.cancel()

	shutdownErr := <-harness.errChan
	assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
}

func TestWorkerPrefersStoredDocument(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)

	event := testEvent()
	event.TextKey = "documents/chapter-one.txt"

	reply := requestNarration(t, harness.natsConnection, event)

	require.True(t, reply.Success, "job should succeed: %s", reply.Error)
	assert.Equal(t, "documents/chapter-one.txt", harness.store.downloadedKey)

	require.Len(t, harness.narrator.received, 1)
	assert.Equal(t, "A downloaded document.", harness.narrator.received[0].Text)
}

func TestWorkerReportsDownloadFailure(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)
	harness.store.downloadShouldFail = true

	event := testEvent()
	event.TextKey = "documents/missing.txt"

	reply := requestNarration(t, harness.natsConnection, event)

	require.False(t, reply.Success)
	assert.Contains(t, reply.Error, "documents/missing.txt")
	assert.Empty(t, reply.AudioKey)
	assert.Empty(t, harness.narrator.received, "narrator should not run without a document")
}

func TestWorkerReportsNarrationFailure(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)
	harness.narrator.generateShouldFail = true

	reply := requestNarration(t, harness.natsConnection, testEvent())

	require.False(t, reply.Success)
	assert.Contains(t, reply.Error, "mock narration error")
	assert.Empty(t, harness.store.uploadedKey, "no artifact should be stored for a failed job")
}

func TestWorkerFailsJobWhenUploadFails(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)
	harness.store.uploadShouldFail = true

	reply := requestNarration(t, harness.natsConnection, testEvent())

	require.False(t, reply.Success)
	assert.Contains(t, reply.Error, "upload")
	assert.Empty(t, reply.AudioKey)
}

func TestWorkerRejectsEventWithoutText(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)

	event := testEvent()
	event.Text = ""
	event.TextKey = ""

	reply := requestNarration(t, harness.natsConnection, event)

	require.False(t, reply.Success)
	assert.Contains(t, reply.Error, "neither")
	assert.Empty(t, harness.narrator.received)
}

func TestNewNatsWorkerValidatesDependencies(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testLogger.Close() })

	store := &mockObjectStore{
		downloadShouldFail: false,
		uploadShouldFail:   false,
		document:           nil,
		downloadedKey:      "",
		uploadedKey:        "",
		uploadedData:       nil,
	}
	narrator := &mockNarrator{
		generateShouldFail: false,
		result:             nil,
		received:           nil,
	}

	_, err = worker.NewNatsWorker(nil, testSubject, store, narrator, testJobTimeout, testLogger)
	require.ErrorIs(t, err, worker.ErrNilConnection)

	_, err = worker.NewNatsWorker(natsConnection, testSubject, nil, narrator, testJobTimeout, testLogger)
	require.ErrorIs(t, err, worker.ErrNilStore)

	_, err = worker.NewNatsWorker(natsConnection, testSubject, store, nil, testJobTimeout, testLogger)
	require.ErrorIs(t, err, worker.ErrNilNarrator)
}
