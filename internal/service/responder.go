package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/llm"
	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
	"github.com/capitalize-ai/campus-assistant/pkg/metrics"
)

// Emitter writes one frame to the client. It returns an error once the
// connection is gone.
type Emitter func(model.Frame) error

// AnswerRequest is one question with the history of its session.
type AnswerRequest struct {
	SessionID string
	Question  string
	History   []model.HistoryEntry
}

// Responder produces the frame sequence for one question: a routing frame,
// zero or more STREAMING chunks and a final done frame.
type Responder interface {
	Name() string
	Respond(ctx context.Context, req AnswerRequest, emit Emitter) error
}

// CannedAnswer is a scripted reply selected by keyword.
type CannedAnswer struct {
	Keywords []string
	Tool     string
	Answer   model.Answer
}

// DefaultCannedAnswers covers the questions used in demos and tests.
var DefaultCannedAnswers = []CannedAnswer{
	{
		Keywords: []string{"library", "lib hours"},
		Tool:     "mail_search",
		Answer: model.Answer{
			Answer:     "The library is open 8am-10pm on weekdays and 10am-6pm on weekends.",
			Source:     model.SourceMail,
			Subject:    "Lib Hours",
			ReceivedOn: "2024-01-01",
			ReceivedBy: "library@campus.edu",
		},
	},
	{
		Keywords: []string{"exam", "finals"},
		Tool:     "mail_search",
		Answer: model.Answer{
			Answer:        "Final exams run from May 6 to May 17. The full timetable is attached.",
			Source:        model.SourceMail,
			Subject:       "Spring Exam Timetable",
			ReceivedOn:    "2024-03-15",
			ReceivedBy:    "registrar@campus.edu",
			HasAttachment: true,
			Attachments: []model.Attachment{
				{FileName: "exam-timetable.pdf", Link: "https://files.campus.edu/exams/spring-2024.pdf"},
			},
		},
	},
	{
		Keywords: []string{"fee", "tuition"},
		Tool:     "knowledge_base",
		Answer: model.Answer{
			Answer: "Tuition for the spring term is due by January 31. Late payments carry a fee.",
		},
	},
}

const fallbackAnswer = "I don't have that information yet. Try asking about library hours, exams or fees."

// CannedResponder streams scripted answers word by word.
type CannedResponder struct {
	answers    []CannedAnswer
	chunkDelay time.Duration
	chunkWords int
}

// NewCannedResponder creates a responder over answers. Chunks of three words
// are sent chunkDelay apart.
func NewCannedResponder(answers []CannedAnswer, chunkDelay time.Duration) *CannedResponder {
	return &CannedResponder{answers: answers, chunkDelay: chunkDelay, chunkWords: 3}
}

// Name returns the responder name.
func (r *CannedResponder) Name() string {
	return "canned"
}

// Respond streams the matching answer.
func (r *CannedResponder) Respond(ctx context.Context, req AnswerRequest, emit Emitter) error {
	match := r.match(req.Question)

	if err := emit(model.Frame{Status: model.StatusRouting, CurrentTool: match.Tool}); err != nil {
		return err
	}

	for _, chunk := range splitChunks(match.Answer.Answer, r.chunkWords) {
		if r.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.chunkDelay):
			}
		}
		if err := emit(model.Frame{Status: model.StatusStreaming, Chunk: chunk}); err != nil {
			return err
		}
	}

	answer := match.Answer
	return emit(model.Frame{Status: model.StatusDone, Answer: &answer})
}

func (r *CannedResponder) match(question string) CannedAnswer {
	q := strings.ToLower(question)
	for _, a := range r.answers {
		for _, kw := range a.Keywords {
			if strings.Contains(q, kw) {
				return a
			}
		}
	}
	return CannedAnswer{Tool: "general", Answer: model.Answer{Answer: fallbackAnswer}}
}

// splitChunks groups words into chunks of n words, keeping the trailing
// space on every chunk but the last so the chunks concatenate to s.
func splitChunks(s string, n int) []string {
	words := strings.SplitAfter(s, " ")
	var chunks []string
	for i := 0; i < len(words); i += n {
		end := i + n
		if end > len(words) {
			end = len(words)
		}
		if chunk := strings.Join(words[i:end], ""); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// LLMResponder answers with a language model, forwarding each streamed token
// as a STREAMING chunk.
type LLMResponder struct {
	client llm.Client
	model  string
	logger *logger.Logger
}

// NewLLMResponder creates a responder backed by client.
func NewLLMResponder(client llm.Client, modelName string, log *logger.Logger) *LLMResponder {
	return &LLMResponder{client: client, model: modelName, logger: logger.OrNop(log)}
}

// Name returns the provider name.
func (r *LLMResponder) Name() string {
	return r.client.Name()
}

// Respond streams the completion for the question.
func (r *LLMResponder) Respond(ctx context.Context, req AnswerRequest, emit Emitter) error {
	if err := emit(model.Frame{Status: model.StatusRouting, CurrentTool: "llm"}); err != nil {
		return err
	}

	start := time.Now()
	resp, err := r.client.CompleteStream(ctx, llm.ConversationRequest(r.model, req.History, req.Question),
		func(token string, _ int) error {
			return emit(model.Frame{Status: model.StatusStreaming, Chunk: token})
		})
	if err != nil {
		metrics.RecordLLMStream(r.client.Name(), "error", time.Since(start).Seconds())
		r.logger.Error("llm stream failed",
			zap.String("session_id", req.SessionID),
			zap.String("provider", r.client.Name()),
			zap.Error(err),
		)
		return fmt.Errorf("llm stream: %w", err)
	}
	metrics.RecordLLMStream(resp.Model, "success", time.Since(start).Seconds())

	r.logger.Debug("llm answer complete",
		zap.String("session_id", req.SessionID),
		zap.String("model", resp.Model),
		zap.Int("tokens_out", resp.TokensOut),
		zap.String("stop_reason", resp.StopReason),
	)

	return emit(model.Frame{Status: model.StatusDone, Answer: &model.Answer{Answer: resp.Content}})
}
