package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"scribe.town/snd"
	"scribe.town/stt"
)

type fakePipeline struct {
	mu      sync.Mutex
	cb      stt.Callback
	chunks  [][]float32
	stopped bool
}

func (f *fakePipeline) Start(cb stt.Callback, interval time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

// Submit echoes every chunk back as a partial result.
func (f *fakePipeline) Submit(samples []float32) uint64 {
	f.mu.Lock()
	f.chunks = append(f.chunks, samples)
	id := uint64(len(f.chunks))
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(id, fmt.Sprintf("chunk %d", id), true)
	}
	return id
}

// Stop emits one final flush result, like the windowed pipeline does.
func (f *fakePipeline) Stop() {
	f.mu.Lock()
	cb := f.cb
	n := len(f.chunks)
	already := f.stopped
	f.stopped = true
	f.mu.Unlock()
	if !already && cb != nil && n > 0 {
		cb(uint64(n), "flush", false)
	}
}

func (f *fakePipeline) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func (f *fakePipeline) chunkLen(i int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks[i])
}

type serverMessage struct {
	Message    string `json:"message"`
	ID         string `json:"id"`
	ChunkID    uint64 `json:"chunk_id"`
	Transcript string `json:"transcript"`
	IsPartial  bool   `json:"is_partial"`
	Reason     string `json:"reason"`
}

func dialTest(t *testing.T, factory PipelineFactory) *websocket.Conn {
	t.Helper()
	handler := NewHandler(nil, factory, log.New(io.Discard))
	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg serverMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read server message: %v", err)
	}
	return msg
}

func TestSocketSessionLifecycle(t *testing.T) {
	fake := &fakePipeline{}
	var gotWindow time.Duration
	var gotRate int
	factory := func(immediate bool, window time.Duration, rate int) (Pipeline, error) {
		gotWindow = window
		gotRate = rate
		return fake, nil
	}

	conn := dialTest(t, factory)

	err := conn.WriteJSON(StartRecognitionMessage{
		Message: "StartRecognition",
		AudioFormat: AudioFormat{
			Type:       "raw",
			Encoding:   "pcm_s16le",
			SampleRate: 16000,
		},
		WindowSeconds: 4,
	})
	if err != nil {
		t.Fatalf("Failed to send handshake: %v", err)
	}

	started := readServerMessage(t, conn)
	if started.Message != "RecognitionStarted" {
		t.Fatalf("Expected RecognitionStarted, got %q", started.Message)
	}
	if started.ID == "" {
		t.Error("Expected a recognition id")
	}
	if gotRate != 16000 {
		t.Errorf("Expected factory rate 16000, got %d", gotRate)
	}
	if gotWindow != 4*time.Second {
		t.Errorf("Expected factory window 4s, got %v", gotWindow)
	}

	audio := snd.Float32ToBytes([]float32{0, 0.5, -0.5})
	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
			t.Fatalf("Failed to send audio: %v", err)
		}
	}

	first := readServerMessage(t, conn)
	if first.Message != "AddTranscript" || first.ChunkID != 1 || !first.IsPartial {
		t.Errorf("Unexpected first result: %+v", first)
	}
	second := readServerMessage(t, conn)
	if second.ChunkID != 2 {
		t.Errorf("Expected chunk 2, got %d", second.ChunkID)
	}

	err = conn.WriteJSON(EndOfStreamMessage{Message: "EndOfStream", LastSeqNo: 2})
	if err != nil {
		t.Fatalf("Failed to send EndOfStream: %v", err)
	}

	flush := readServerMessage(t, conn)
	if flush.Message != "AddTranscript" || flush.IsPartial || flush.Transcript != "flush" {
		t.Errorf("Expected the final flush result, got %+v", flush)
	}
	end := readServerMessage(t, conn)
	if end.Message != "EndOfTranscript" {
		t.Errorf("Expected EndOfTranscript, got %q", end.Message)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected a normal close, got %v", err)
	}

	if fake.chunkCount() != 2 {
		t.Fatalf("Expected 2 submitted chunks, got %d", fake.chunkCount())
	}
	if fake.chunkLen(0) != 3 {
		t.Errorf("Expected 3 samples per chunk, got %d", fake.chunkLen(0))
	}
}

func TestKeepAliveReportsPingFailure(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(nil, nil, log.New(&buf))

	upgraded := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade: %v", err)
			return
		}
		upgraded <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { client.Close() })

	var conn *websocket.Conn
	select {
	case conn = <-upgraded:
	case <-time.After(2 * time.Second):
		t.Fatal("Server never upgraded the connection")
	}
	conn.Close()

	// The first ping on a closed connection fails, so keepAlive returns
	// after reporting it through the handler's logger.
	h.keepAlive(context.Background(), conn, time.Millisecond)

	if !strings.Contains(buf.String(), "Failed to send ping") {
		t.Errorf("Ping failure missing from the handler log, got %q", buf.String())
	}
}

func TestSocketRejectsBadHandshake(t *testing.T) {
	factory := func(immediate bool, window time.Duration, rate int) (Pipeline, error) {
		t.Error("Factory should not run for a bad handshake")
		return &fakePipeline{}, nil
	}

	conn := dialTest(t, factory)
	if err := conn.WriteJSON(map[string]string{"message": "Transcribe"}); err != nil {
		t.Fatalf("Failed to send handshake: %v", err)
	}

	msg := readServerMessage(t, conn)
	if msg.Message != "Error" {
		t.Fatalf("Expected Error, got %q", msg.Message)
	}
	if !strings.Contains(msg.Reason, "StartRecognition") {
		t.Errorf("Expected reason to mention StartRecognition, got %q", msg.Reason)
	}
}

func TestSocketRejectsBinaryHandshake(t *testing.T) {
	factory := func(immediate bool, window time.Duration, rate int) (Pipeline, error) {
		t.Error("Factory should not run for a bad handshake")
		return &fakePipeline{}, nil
	}

	conn := dialTest(t, factory)
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2}); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}

	msg := readServerMessage(t, conn)
	if msg.Message != "Error" {
		t.Errorf("Expected Error, got %q", msg.Message)
	}
}

func TestSocketReportsFactoryFailure(t *testing.T) {
	factory := func(immediate bool, window time.Duration, rate int) (Pipeline, error) {
		return nil, fmt.Errorf("no model")
	}

	conn := dialTest(t, factory)
	err := conn.WriteJSON(StartRecognitionMessage{
		Message:     "StartRecognition",
		AudioFormat: AudioFormat{Encoding: "pcm_s16le"},
	})
	if err != nil {
		t.Fatalf("Failed to send handshake: %v", err)
	}

	msg := readServerMessage(t, conn)
	if msg.Message != "Error" {
		t.Fatalf("Expected Error, got %q", msg.Message)
	}
	if msg.Reason != "could not start recognition" {
		t.Errorf("Unexpected reason %q", msg.Reason)
	}
}

func TestSocketIgnoresUnknownTextFrames(t *testing.T) {
	fake := &fakePipeline{}
	factory := func(immediate bool, window time.Duration, rate int) (Pipeline, error) {
		return fake, nil
	}

	conn := dialTest(t, factory)
	err := conn.WriteJSON(StartRecognitionMessage{
		Message:     "StartRecognition",
		AudioFormat: AudioFormat{Encoding: "pcm_s16le"},
	})
	if err != nil {
		t.Fatalf("Failed to send handshake: %v", err)
	}
	if msg := readServerMessage(t, conn); msg.Message != "RecognitionStarted" {
		t.Fatalf("Expected RecognitionStarted, got %q", msg.Message)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"Bogus"}`)); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
	if msg := readServerMessage(t, conn); msg.Message != "Error" {
		t.Errorf("Expected Error for unknown message, got %q", msg.Message)
	}

	if err := conn.WriteJSON(EndOfStreamMessage{Message: "EndOfStream"}); err != nil {
		t.Fatalf("Failed to send EndOfStream: %v", err)
	}
	if msg := readServerMessage(t, conn); msg.Message != "EndOfTranscript" {
		t.Errorf("Expected EndOfTranscript, got %q", msg.Message)
	}
}
