package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/domain"
)

type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewWSHandler(service *app.AttemptService, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
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

type answerPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
	Text       string `json:"text"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type startedPayload struct {
	Quiz     domain.Quiz  `json:"quiz"`
	Snapshot app.Snapshot `json:"snapshot"`
}

type answerRecordedPayload struct {
	QuestionID string          `json:"questionId"`
	Answered   map[string]bool `json:"answered"`
}

type submittedPayload struct {
	Attempt   domain.Attempt `json:"attempt"`
	Confirmed bool           `json:"confirmed"`
	// Results covers skipped questions too; only sent when the quiz shows results.
	Results []app.QuestionResult `json:"results,omitempty"`
	// Warning is set when the result exists only locally.
	Warning string `json:"warning,omitempty"`
}

// ServeWS upgrades HTTP requests to websockets and drives one attempt over the
// connection. Passing attemptId reattaches to a live attempt instead of starting one.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	attemptID := r.URL.Query().Get("attemptId")
	if quizID == "" || userID == "" || displayName == "" {
		http.Error(w, "missing quizId, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var session *app.AttemptSession
	if attemptID != "" {
		session, err = h.service.Session(r.Context(), attemptID, userID)
	} else {
		session, err = h.service.Start(r.Context(), quizID, domain.Student{ID: userID, DisplayName: displayName})
	}
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	quiz := session.Bank().Quiz()

	updates, cancel, err := h.service.Subscribe(r.Context(), session.ID(), userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Single writer: gorilla connections do not support concurrent writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	out := outbox{send: send, writerDone: writerDone}
	out.push(outboundMessage[any]{Type: "started", Payload: startedPayload{
		Quiz:     app.PresentQuiz(quiz),
		Snapshot: session.Snapshot(),
	}})

	go func() {
		defer close(updatesDone)
		for {
			select {
			case ev, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- eventMessage(session, ev):
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for open := true; open; {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				open = out.warn("invalid answer payload")
				continue
			}
			recorded, err := h.service.RecordAnswer(r.Context(), session.ID(), userID, payload.QuestionID,
				domain.AnswerPayload{OptionID: payload.OptionID, Text: payload.Text})
			switch {
			case err != nil:
				// Validation problems are non-fatal; the attempt continues.
				open = out.warn(err.Error())
			case !recorded:
				open = out.warn("attempt already submitted; answer not recorded")
			default:
				open = out.push(outboundMessage[any]{Type: "answerRecorded", Payload: answerRecordedPayload{
					QuestionID: payload.QuestionID,
					Answered:   session.Snapshot().Answered,
				}})
			}
		case "submit":
			// The outcome reaches the client through the subscription.
			if _, err := h.service.Submit(r.Context(), session.ID(), userID); err != nil && !errors.Is(err, domain.ErrSubmissionUnconfirmed) {
				open = out.push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			}
		default:
			open = out.push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// outbox queues messages for the connection's writer goroutine.
type outbox struct {
	send       chan<- outboundMessage[any]
	writerDone <-chan struct{}
}

// push reports false once the writer has exited on a write error.
func (o outbox) push(msg outboundMessage[any]) bool {
	select {
	case o.send <- msg:
		return true
	case <-o.writerDone:
		return false
	}
}

func (o outbox) warn(message string) bool {
	return o.push(outboundMessage[any]{Type: "warning", Payload: errorPayload{Message: message}})
}

func eventMessage(session *app.AttemptSession, ev app.Event) outboundMessage[any] {
	if ev.Type != app.EventSubmitted || ev.Snapshot.Attempt == nil {
		return outboundMessage[any]{Type: string(ev.Type), Payload: ev.Snapshot}
	}
	quiz := session.Bank().Quiz()
	attempt := *ev.Snapshot.Attempt
	payload := submittedPayload{
		Attempt:   app.PresentAttempt(quiz, attempt),
		Confirmed: attempt.Confirmed,
	}
	if quiz.ShowResults {
		payload.Results = session.Scorecard().Results
	}
	if !attempt.Confirmed {
		payload.Warning = "result saved locally only; the store did not confirm it"
		if ev.Snapshot.PersistError != "" {
			payload.Warning += ": " + ev.Snapshot.PersistError
		}
	}
	return outboundMessage[any]{Type: string(ev.Type), Payload: payload}
}
