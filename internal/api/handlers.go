package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"gwi.com/mindcare-assistant/internal/core"
)

const maxBodyBytes = 64 << 10

type APIHandler struct {
	chatService *core.ChatService
	validate    *validator.Validate
	logger      *zap.Logger
}

func NewAPIHandler(cs *core.ChatService, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{chatService: cs, validate: validator.New(), logger: logger}
}

// Message content rules live in the chat service so that every caller gets
// the same wording; the tags here only bound the envelope.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id" validate:"max=128"`
}

type ClearHistoryRequest struct {
	SessionID string `json:"session_id" validate:"max=128"`
}

type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type FeedbackRequest struct {
	Rating    int    `json:"rating" validate:"required,min=1,max=5"`
	Comment   string `json:"comment" validate:"max=1000"`
	SessionID string `json:"session_id" validate:"max=128"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.chatService.Chat(r.Context(), req.Message, req.SessionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *APIHandler) ClearHistoryHandler(w http.ResponseWriter, r *http.Request) {
	var req ClearHistoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusOK, h.chatService.ClearHistory(req.SessionID))
}

func (h *APIHandler) ResourcesHandler(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.chatService.Resources())
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.chatService.Health())
}

func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.chatService.Search(r.Context(), req.Query, req.K)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *APIHandler) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.chatService.Feedback(core.Feedback{
		Rating:    req.Rating,
		Comment:   req.Comment,
		SessionID: req.SessionID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// decode reads a JSON body into dst and runs its validation tags. An empty
// body decodes as the zero value. On failure the 400 response is written and
// false is returned.
func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondMessage(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondMessage(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch {
	case fe.Field() == "SessionID":
		return fmt.Sprintf("session_id too long (max %s characters)", fe.Param())
	case fe.Field() == "Rating":
		return "Rating must be between 1 and 5"
	case fe.Tag() == "max":
		return fmt.Sprintf("%s too long (max %s characters)", capitalize(field), fe.Param())
	default:
		return fmt.Sprintf("Invalid %s", field)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// respondError maps a service failure to its status code. Only the typed
// reason reaches the client.
func (h *APIHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch core.KindOf(err) {
	case core.KindValidation:
		status = http.StatusBadRequest
	case core.KindUnavailable:
		status = http.StatusServiceUnavailable
	}

	reason := "An unexpected error occurred"
	var typed *core.Error
	if errors.As(err, &typed) && typed.Reason != "" {
		reason = typed.Reason
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	respondMessage(w, status, reason)
}

type errorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

func respondMessage(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg, Status: "error"})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
