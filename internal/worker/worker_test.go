// Package worker_test tests the NATS worker for the conversation service.
package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/conversation-service/internal/cache"
	"github.com/book-expert/conversation-service/internal/conversation"
	"github.com/book-expert/conversation-service/internal/core"
	"github.com/book-expert/conversation-service/internal/worker"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "test.conversation.requests"

var errMockUpstream = errors.New("mock upstream error")

// mockConversations is a mock implementation of the Conversations interface.
type mockConversations struct {
	mu          sync.Mutex
	textReq     core.TextRequest
	audioReq    core.AudioRequest
	lookupIDs   []string
	textErr     error
	audioErr    error
	textCalls   int
	audioCalls  int
	lookupCalls int
}

func (m *mockConversations) GenerateText(_ context.Context, req core.TextRequest) (*core.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.textCalls++
	m.textReq = req

	if m.textErr != nil {
		return nil, false, m.textErr
	}

	return &core.Conversation{
		ID:               req.WordID + "-hash",
		WordID:           req.WordID,
		Word:             req.Word,
		GeneratorVersion: req.GeneratorVersion,
		Prompt:           "prompt",
		Turns: []core.Turn{
			{Speaker: core.SpeakerA, Chinese: "你好", Pinyin: "nǐ hǎo", English: "Hello", AudioURL: ""},
			{Speaker: core.SpeakerB, Chinese: "你好吗", Pinyin: "nǐ hǎo ma", English: "How are you?", AudioURL: ""},
			{Speaker: core.SpeakerA, Chinese: "我很好", Pinyin: "wǒ hěn hǎo", English: "I'm fine", AudioURL: ""},
		},
		GeneratedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}, true, nil
}

func (m *mockConversations) GenerateTurnAudio(_ context.Context, req core.AudioRequest) (*core.TurnAudio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audioCalls++
	m.audioReq = req

	if m.audioErr != nil {
		return nil, m.audioErr
	}

	return &core.TurnAudio{
		ConversationID: req.WordID + "-hash",
		TurnIndex:      req.TurnIndex,
		AudioURL:       "https://cdn.test/audio.mp3",
		Voice:          req.Voice,
		Cached:         false,
		GeneratedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (m *mockConversations) Lookup(_ context.Context, wordIDs []string) map[string]*core.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookupCalls++
	m.lookupIDs = wordIDs

	return map[string]*core.Conversation{
		wordIDs[0]: {ID: wordIDs[0] + "-hash", WordID: wordIDs[0]},
	}
}

type mockCacheAdmin struct {
	pattern string
}

func (m *mockCacheAdmin) Clear(_ context.Context, pattern string) int {
	m.pattern = pattern

	return 7
}

type fixedMetrics cache.MetricsSnapshot

func (f fixedMetrics) Metrics() cache.MetricsSnapshot {
	return cache.MetricsSnapshot(f)
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func startWorker(t *testing.T, conversations worker.Conversations, cacheAdmin worker.CacheAdmin, metrics map[string]worker.MetricsSource) *nats.Conn {
	t.Helper()

	natsConnection := createTestNatsClient(t)

	workerInstance := worker.NewNatsWorker(natsConnection, worker.Options{
		Subject:       testSubject,
		QueueGroup:    "test-workers",
		AllowedVoices: []string{"voiceA", "voiceB"},
		Timeout:       5 * time.Second,
	}, conversations, cacheAdmin, metrics, newTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	require.Eventually(t, func() bool {
		_, err := natsConnection.Request(testSubject, []byte(`{"type":"metrics"}`), 100*time.Millisecond)

		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	return natsConnection
}

func newHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "user-1",
		TenantID:   "tenant-1",
	}
}

func sendRequest(t *testing.T, natsConnection *nats.Conn, req *worker.Request) *worker.Reply {
	t.Helper()

	data, err := sonic.Marshal(req)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(testSubject, data, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply worker.Reply

	require.NoError(t, sonic.Unmarshal(replyMsg.Data, &reply))

	return &reply
}

func intPtr(value int) *int {
	return &value
}

func TestWorker_Text(t *testing.T) {
	t.Parallel()

	mock := &mockConversations{}
	natsConnection := startWorker(t, mock, &mockCacheAdmin{}, nil)
	header := newHeader()

	reply := sendRequest(t, natsConnection, &worker.Request{
		Header: header, Type: worker.TypeText, WordID: "w1", Word: "你好", GeneratorVersion: "v1",
	})

	require.Nil(t, reply.Error)
	require.NotNil(t, reply.Conversation)
	assert.Len(t, reply.Conversation.Turns, 3)
	assert.True(t, reply.Cached)
	assert.Equal(t, core.TextRequest{WordID: "w1", Word: "你好", GeneratorVersion: "v1"}, mock.textReq)

	assert.Equal(t, header.WorkflowID, reply.Header.WorkflowID)
	assert.Equal(t, header.UserID, reply.Header.UserID)
	assert.Equal(t, header.TenantID, reply.Header.TenantID)
	assert.NotEqual(t, header.EventID, reply.Header.EventID)
	assert.NotEmpty(t, reply.Header.EventID)
}

func TestWorker_Audio(t *testing.T) {
	t.Parallel()

	mock := &mockConversations{}
	natsConnection := startWorker(t, mock, &mockCacheAdmin{}, nil)

	reply := sendRequest(t, natsConnection, &worker.Request{
		Header: newHeader(), Type: worker.TypeAudio, WordID: "w1", TurnIndex: intPtr(0), Text: "你好", Voice: "voiceA",
	})

	require.Nil(t, reply.Error)
	require.NotNil(t, reply.Audio)
	assert.Equal(t, "https://cdn.test/audio.mp3", reply.Audio.AudioURL)
	assert.Equal(t, core.AudioRequest{WordID: "w1", TurnIndex: 0, Text: "你好", Voice: "voiceA"}, mock.audioReq)
}

func TestWorker_Validation(t *testing.T) {
	t.Parallel()

	mock := &mockConversations{}
	natsConnection := startWorker(t, mock, &mockCacheAdmin{}, nil)

	tests := []struct {
		name string
		req  worker.Request
	}{
		{name: "unknown type", req: worker.Request{Type: "video"}},
		{name: "text without word id", req: worker.Request{Type: worker.TypeText, Word: "你好"}},
		{name: "text without word", req: worker.Request{Type: worker.TypeText, WordID: "w1"}},
		{name: "audio without turn index", req: worker.Request{Type: worker.TypeAudio, WordID: "w1", Text: "你好"}},
		{name: "audio without text", req: worker.Request{Type: worker.TypeAudio, WordID: "w1", TurnIndex: intPtr(1)}},
		{name: "audio with unknown voice", req: worker.Request{
			Type: worker.TypeAudio, WordID: "w1", TurnIndex: intPtr(1), Text: "你好", Voice: "robot",
		}},
		{name: "lookup without ids", req: worker.Request{Type: worker.TypeLookup}},
		{name: "lookup with too many ids", req: worker.Request{Type: worker.TypeLookup, WordIDs: make([]string, 101)}},
		{name: "clear without pattern", req: worker.Request{Type: worker.TypeClearCache}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			reply := sendRequest(t, natsConnection, &testCase.req)

			require.NotNil(t, reply.Error)
			assert.Equal(t, worker.CodeValidation, reply.Error.Code)
		})
	}

	assert.Equal(t, 0, mock.textCalls)
	assert.Equal(t, 0, mock.audioCalls)
	assert.Equal(t, 0, mock.lookupCalls)
}

func TestWorker_MalformedRequest(t *testing.T) {
	t.Parallel()

	natsConnection := startWorker(t, &mockConversations{}, &mockCacheAdmin{}, nil)

	replyMsg, err := natsConnection.Request(testSubject, []byte("{not json"), 5*time.Second)
	require.NoError(t, err)

	var reply worker.Reply

	require.NoError(t, sonic.Unmarshal(replyMsg.Data, &reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, worker.CodeValidation, reply.Error.Code)
	assert.NotEmpty(t, reply.Header.WorkflowID)
}

func TestWorker_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		textErr     error
		audioErr    error
		req         worker.Request
		wantCode    string
		wantMessage string
	}{
		{
			name:        "text upstream failure",
			textErr:     fmt.Errorf("%w: %w", conversation.ErrUpstream, errMockUpstream),
			req:         worker.Request{Type: worker.TypeText, WordID: "w1", Word: "你好"},
			wantCode:    worker.CodeUpstream,
			wantMessage: "could not generate conversation, try again",
		},
		{
			name:        "text storage failure",
			textErr:     fmt.Errorf("%w: %w", conversation.ErrStorage, errMockUpstream),
			req:         worker.Request{Type: worker.TypeText, WordID: "w1", Word: "你好"},
			wantCode:    worker.CodeUpstream,
			wantMessage: "could not generate conversation, try again",
		},
		{
			name:     "audio before text",
			audioErr: fmt.Errorf("%w: path", conversation.ErrConversationNotFound),
			req:      worker.Request{Type: worker.TypeAudio, WordID: "w1", TurnIndex: intPtr(0), Text: "你好"},
			wantCode: worker.CodePrecondition,
		},
		{
			name:     "audio out of range",
			audioErr: fmt.Errorf("%w: 10", conversation.ErrTurnIndexOutOfRange),
			req:      worker.Request{Type: worker.TypeAudio, WordID: "w1", TurnIndex: intPtr(10), Text: "你好"},
			wantCode: worker.CodePrecondition,
		},
		{
			name:        "audio upstream failure",
			audioErr:    fmt.Errorf("%w: %w", conversation.ErrUpstream, errMockUpstream),
			req:         worker.Request{Type: worker.TypeAudio, WordID: "w1", TurnIndex: intPtr(0), Text: "你好"},
			wantCode:    worker.CodeUpstream,
			wantMessage: "could not generate audio, try again",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			mock := &mockConversations{textErr: testCase.textErr, audioErr: testCase.audioErr}
			workerInstance := worker.NewNatsWorker(nil, worker.Options{
				Subject: testSubject, QueueGroup: "", AllowedVoices: nil, Timeout: 0,
			}, mock, &mockCacheAdmin{}, nil, newTestLogger(t))

			reply := workerInstance.Handle(context.Background(), &testCase.req)

			require.NotNil(t, reply.Error)
			assert.Equal(t, testCase.wantCode, reply.Error.Code)

			if testCase.wantMessage != "" {
				assert.Equal(t, testCase.wantMessage, reply.Error.Message)
			}
		})
	}
}

func TestWorker_LookupClearMetrics(t *testing.T) {
	t.Parallel()

	mock := &mockConversations{}
	cacheAdmin := &mockCacheAdmin{}
	natsConnection := startWorker(t, mock, cacheAdmin, map[string]worker.MetricsSource{
		cache.ConversationCacheName: fixedMetrics{Hits: 3, Misses: 1, Total: 4, HitRate: 75},
		cache.SpeechCacheName:       fixedMetrics{Hits: 0, Misses: 0, Total: 0, HitRate: 0},
	})

	lookup := sendRequest(t, natsConnection, &worker.Request{
		Header: newHeader(), Type: worker.TypeLookup, WordIDs: []string{"w1", "w2"},
	})
	require.Nil(t, lookup.Error)
	assert.Equal(t, []string{"w1", "w2"}, mock.lookupIDs)
	require.Contains(t, lookup.Conversations, "w1")

	cleared := sendRequest(t, natsConnection, &worker.Request{
		Header: newHeader(), Type: worker.TypeClearCache, Pattern: "tts:*",
	})
	require.Nil(t, cleared.Error)
	require.NotNil(t, cleared.Deleted)
	assert.Equal(t, 7, *cleared.Deleted)
	assert.Equal(t, "tts:*", cacheAdmin.pattern)

	metrics := sendRequest(t, natsConnection, &worker.Request{Header: newHeader(), Type: worker.TypeMetrics})
	require.Nil(t, metrics.Error)
	assert.Equal(t, cache.MetricsSnapshot{Hits: 3, Misses: 1, Total: 4, HitRate: 75}, metrics.Metrics[cache.ConversationCacheName])
	assert.Contains(t, metrics.Metrics, cache.SpeechCacheName)
}
