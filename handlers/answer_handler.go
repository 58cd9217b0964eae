package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/answer-engine/internal/observability"
	"github.com/upb/answer-engine/services/rag"
	"github.com/upb/answer-engine/utils"
	"go.uber.org/zap"
)

// maxRequestBodyBytes caps answer and context request bodies
const maxRequestBodyBytes = 1 << 20

// AnswerRequest is the body of POST /api/v1/agents/{agentID}/answer and /context
type AnswerRequest struct {
	Query   string      `json:"query" validate:"required,max=4000"`
	Options rag.Options `json:"options"`
}

// AnswerResponse is a generated answer with its citations
type AnswerResponse struct {
	RequestID string `json:"request_id,omitempty"`
	AgentID   string `json:"agent_id"`
	*rag.ProcessResult
}

// ContextResponse is the retrieved context for a query, without generation
type ContextResponse struct {
	RequestID string `json:"request_id,omitempty"`
	AgentID   string `json:"agent_id"`
	*rag.RetrievalResult
}

// AnswerService defines the answer pipeline operations used by the handler
type AnswerService interface {
	Process(ctx context.Context, query, agentID string, opts rag.Options) (*rag.ProcessResult, error)
	RetrieveContext(ctx context.Context, query, agentID string, opts rag.Options) (*rag.RetrievalResult, error)
}

// AnswerHandler handles answer-related HTTP requests
type AnswerHandler struct {
	service AnswerService
	logger  *zap.Logger
}

// NewAnswerHandler creates a new AnswerHandler
func NewAnswerHandler(service AnswerService, logger *zap.Logger) *AnswerHandler {
	return &AnswerHandler{
		service: service,
		logger:  logger,
	}
}

// HandleAnswer handles POST /api/v1/agents/{agentID}/answer
func (h *AnswerHandler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := observability.RequestID(ctx)

	agentID, req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	h.logger.Debug("processing answer",
		zap.String("request_id", requestID),
		zap.String("agent_id", agentID))

	result, err := h.service.Process(ctx, req.Query, agentID, req.Options)
	if err != nil {
		h.logger.Warn("failed to process answer",
			zap.String("request_id", requestID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	response := AnswerResponse{
		RequestID:     requestID,
		AgentID:       agentID,
		ProcessResult: result,
	}
	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write answer response", zap.Error(err))
	}
}

// HandleContext handles POST /api/v1/agents/{agentID}/context
func (h *AnswerHandler) HandleContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := observability.RequestID(ctx)

	agentID, req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	result, err := h.service.RetrieveContext(ctx, req.Query, agentID, req.Options)
	if err != nil {
		h.logger.Warn("failed to retrieve context",
			zap.String("request_id", requestID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	response := ContextResponse{
		RequestID:       requestID,
		AgentID:         agentID,
		RetrievalResult: result,
	}
	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write context response", zap.Error(err))
	}
}

// parseRequest reads the agent id and the JSON body. It writes the error
// response itself and returns false when the request is unusable.
func (h *AnswerHandler) parseRequest(w http.ResponseWriter, r *http.Request) (string, AnswerRequest, bool) {
	var req AnswerRequest

	agentID := chi.URLParam(r, "agentID")
	if err := utils.ValidateRequired(agentID, "agent id"); err != nil {
		HandleValidationError(w, err, h.logger)
		return "", req, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", observability.RequestID(r.Context())),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return "", req, false
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return "", req, false
	}

	return agentID, req, true
}
