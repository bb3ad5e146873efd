package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/middleware"
	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/internal/service"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
	"github.com/capitalize-ai/campus-assistant/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxQueryBytes  = 64 << 10
	answerDeadline = 2 * time.Minute
)

// StreamHandler serves the assistant WebSocket. Each inbound query is
// answered with a routing frame, STREAMING chunks and a done frame. A new
// query cancels the answer still in flight on the same connection.
type StreamHandler struct {
	sessions  *service.SessionService
	responder service.Responder
	upgrader  websocket.Upgrader
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(sessions *service.SessionService, responder service.Responder, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		sessions:  sessions,
		responder: responder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.OrNop(log),
	}
}

type streamConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *streamConn) writeFrame(f model.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

// Stream handles GET /ws
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetUserID(r.Context())

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	metrics.IncrementStreamConnections()
	defer metrics.DecrementStreamConnections()

	log := h.logger.With(zap.String("user_id", owner))
	log.Info("assistant stream connected")

	conn := &streamConn{ws: ws}
	ws.SetReadLimit(maxQueryBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go h.heartbeat(ctx, conn)

	var (
		answerCancel context.CancelFunc = func() {}
		answerDone                      = make(chan struct{})
	)
	close(answerDone)
	defer func() {
		answerCancel()
		<-answerDone
	}()

	for {
		var q model.Query
		if err := ws.ReadJSON(&q); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("assistant stream read failed", zap.Error(err))
			} else {
				log.Info("assistant stream closed")
			}
			return
		}
		if err := middleware.ValidateQuestion(q.Question); err != nil {
			log.Warn("dropping invalid query", zap.Error(err))
			continue
		}

		answerCancel()
		<-answerDone

		var actx context.Context
		actx, answerCancel = context.WithTimeout(ctx, answerDeadline)
		done := make(chan struct{})
		answerDone = done
		go func(actx context.Context, q model.Query) {
			defer close(done)
			h.answer(actx, log, conn, owner, q)
		}(actx, q)
	}
}

func (h *StreamHandler) answer(ctx context.Context, log *logger.Logger, conn *streamConn, owner string, q model.Query) {
	req := service.AnswerRequest{Question: q.Question}

	if q.SessionID != nil {
		req.SessionID = *q.SessionID
		history, err := h.sessions.Messages(ctx, owner, req.SessionID)
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			log.Warn("query for unknown session", zap.String("session_id", req.SessionID))
		case err != nil:
			log.Error("failed to load history", zap.String("session_id", req.SessionID), zap.Error(err))
		default:
			req.History = trimPendingQuestion(history, q.Question)
		}
	}

	err := h.responder.Respond(ctx, req, conn.writeFrame)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Debug("answer superseded", zap.String("session_id", req.SessionID))
	default:
		log.Warn("answer failed", zap.String("session_id", req.SessionID), zap.Error(err))
	}
}

// trimPendingQuestion drops the question itself when the client already
// stored it as the last history entry.
func trimPendingQuestion(history []model.HistoryEntry, question string) []model.HistoryEntry {
	if n := len(history); n > 0 && history[n-1].Role == model.RoleUser && history[n-1].Content == question {
		return history[:n-1]
	}
	return history
}

func (h *StreamHandler) heartbeat(ctx context.Context, conn *streamConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
