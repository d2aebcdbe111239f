package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"scribe.town/etc"
	"scribe.town/snd"
	"scribe.town/whisper"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Wire protocol for /ws. The client opens with StartRecognition,
// streams binary s16le frames, and finishes with EndOfStream; the
// server answers RecognitionStarted, one AddTranscript per result,
// and EndOfTranscript after the final flush.

type AudioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type StartRecognitionMessage struct {
	Message       string      `json:"message"`
	AudioFormat   AudioFormat `json:"audio_format"`
	Immediate     bool        `json:"immediate,omitempty"`
	WindowSeconds float64     `json:"window_seconds,omitempty"`
}

type RecognitionStartedMessage struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

type AddTranscriptMessage struct {
	Message    string `json:"message"`
	ChunkID    uint64 `json:"chunk_id"`
	Transcript string `json:"transcript"`
	IsPartial  bool   `json:"is_partial"`
}

type EndOfStreamMessage struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}

type EndOfTranscriptMessage struct {
	Message string `json:"message"`
}

type ErrorMessage struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// All data frames go out through one goroutine; callbacks and the
	// read loop only push onto this channel.
	writes := make(chan interface{}, 64)
	go h.writeLoop(conn, writes)
	go h.keepAlive(r.Context(), conn, pingInterval)

	start, err := readStartRecognition(conn)
	if err != nil {
		writes <- ErrorMessage{Message: "Error", Reason: err.Error()}
		close(writes)
		return
	}

	rate := start.AudioFormat.SampleRate
	if rate == 0 {
		rate = whisper.SampleRate
	}
	window := time.Duration(start.WindowSeconds * float64(time.Second))

	pipeline, err := h.pipelines(start.Immediate, window, rate)
	if err != nil {
		h.logger.Error("Failed to build pipeline", "error", err)
		writes <- ErrorMessage{Message: "Error", Reason: "could not start recognition"}
		close(writes)
		return
	}

	pipeline.Start(func(chunkID uint64, text string, isPartial bool) {
		writes <- AddTranscriptMessage{
			Message:    "AddTranscript",
			ChunkID:    chunkID,
			Transcript: text,
			IsPartial:  isPartial,
		}
	}, 0)

	id := etc.NewFreshID()
	writes <- RecognitionStartedMessage{Message: "RecognitionStarted", ID: id}
	h.logger.Info("Recognition started",
		"id", id,
		"rate", rate,
		"immediate", start.Immediate,
	)

	seq := 0
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("WebSocket closed unexpectedly", "error", err)
			}
			// Stop first so every pending callback lands before the
			// channel closes.
			pipeline.Stop()
			close(writes)
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			pipeline.Submit(snd.BytesToFloat32(data))
			seq++
		case websocket.TextMessage:
			var msg EndOfStreamMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.Message != "EndOfStream" {
				writes <- ErrorMessage{
					Message: "Error",
					Reason:  "expected binary audio or EndOfStream",
				}
				continue
			}
			if msg.LastSeqNo != seq {
				h.logger.Warn("Sequence number mismatch",
					"client", msg.LastSeqNo,
					"server", seq,
				)
			}
			pipeline.Stop()
			writes <- EndOfTranscriptMessage{Message: "EndOfTranscript"}
			close(writes)
			h.logger.Info("Recognition finished", "id", id, "chunks", seq)
			return
		}
	}
}

func readStartRecognition(conn *websocket.Conn) (StartRecognitionMessage, error) {
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return StartRecognitionMessage{}, fmt.Errorf("read handshake: %w", err)
	}
	if mt != websocket.TextMessage {
		return StartRecognitionMessage{}, fmt.Errorf("handshake must be a text frame")
	}

	var msg StartRecognitionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return StartRecognitionMessage{}, fmt.Errorf("bad StartRecognition: %w", err)
	}
	if msg.Message != "StartRecognition" {
		return StartRecognitionMessage{}, fmt.Errorf("expected StartRecognition, got %q", msg.Message)
	}
	if msg.AudioFormat.Encoding != "" && msg.AudioFormat.Encoding != "pcm_s16le" {
		return StartRecognitionMessage{}, fmt.Errorf("unsupported encoding %q", msg.AudioFormat.Encoding)
	}
	return msg, nil
}

func (h *Handler) writeLoop(conn *websocket.Conn, writes <-chan interface{}) {
	defer conn.Close()

	failed := false
	for msg := range writes {
		if failed {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			failed = true
			h.logger.Error("WebSocket write failed", "error", err)
		}
	}

	if !failed {
		conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}
}

func (h *Handler) keepAlive(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				h.logger.Error("Failed to send ping", "error", err)
				return
			}
		}
	}
}
