package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"arena-engine/internal/arena"
	"arena-engine/internal/domain"
	"arena-engine/internal/secure"
	"arena-engine/internal/submit"
	"github.com/gorilla/websocket"
)

// ArenaRegistry tracks live machines per lesson+player.
type ArenaRegistry interface {
	GetOrCreate(key string, create func() *arena.Machine) *arena.Machine
	Get(key string) (*arena.Machine, bool)
	Delete(key string)
}

// ExamRepository loads exam content (from cache/backing store).
type ExamRepository interface {
	GetExam(ctx context.Context, lessonID string) (domain.ExamSession, error)
}

type WSHandler struct {
	registry ArenaRegistry
	exams    ExamRepository
	codec    *secure.Codec
	results  submit.ResultClient
	cfg      arena.Config
	upgrader websocket.Upgrader
}

func NewWSHandler(registry ArenaRegistry, exams ExamRepository, codec *secure.Codec, results submit.ResultClient, cfg arena.Config) *WSHandler {
	return &WSHandler{
		registry: registry,
		exams:    exams,
		codec:    codec,
		results:  results,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type disqualifyPayload struct {
	Reason string `json:"reason"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into one
// player's arena machine: snapshots stream out, game events come in.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	lessonID := r.URL.Query().Get("lessonId")
	userID := r.URL.Query().Get("userId")
	if lessonID == "" || userID == "" {
		http.Error(w, "missing lessonId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	exam, err := h.exams.GetExam(r.Context(), lessonID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	key := lessonID + ":" + userID
	machine := h.registry.GetOrCreate(key, func() *arena.Machine {
		return arena.NewMachine(exam, h.codec, h.results, h.cfg)
	})

	updates, cancel := machine.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: snap}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(r.Context(), machine, key, inbound); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
		if inbound.Type == "quit" {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, machine *arena.Machine, key string, inbound inboundMessage) error {
	switch inbound.Type {
	case "start":
		return machine.StartGame()
	case "answer":
		var answer domain.Answer
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &answer); err != nil {
				return err
			}
		}
		return machine.HandleAnswer(&answer)
	case "continue":
		return machine.Continue()
	case "retry":
		// A retry needs a fresh session fetch; the machine never refetches
		// on its own.
		snap := machine.Snapshot()
		fresh, err := h.exams.GetExam(ctx, snap.LessonID)
		if err != nil {
			return err
		}
		return machine.Retry(fresh)
	case "disqualify":
		var payload disqualifyPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				return err
			}
		}
		machine.Disqualify(payload.Reason)
		return nil
	case "quit":
		machine.Quit()
		h.registry.Delete(key)
		return nil
	default:
		return errUnsupported
	}
}

var errUnsupported = errors.New("unsupported message type")
