package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/credcheck"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/pipeline"
)

var validate = validator.New()

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	Query   string       `json:"query" validate:"required,max=2000"`
	History []model.Turn `json:"history" validate:"max=50,dive"`
}

// SourcesRequest is the body of POST /api/chat-sources
type SourcesRequest struct {
	Query string `json:"query" validate:"required,max=2000"`
	TopK  int    `json:"topK" validate:"gte=0,lte=20"`
}

// GoldSearchRequest is the body of POST /api/gold-search
type GoldSearchRequest struct {
	Query string `json:"query" validate:"required,max=2000"`
	Limit int    `json:"limit" validate:"gte=0,lte=20"`
}

type sourcesResponse struct {
	Sources []model.Source `json:"sources"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if stream, _ := strconv.ParseBool(r.URL.Query().Get("stream")); stream {
		s.streamChat(w, r, req)
		return
	}

	resp, err := s.answerer.Answer(r.Context(), model.Query{Text: req.Query, History: req.History})
	if errors.Is(err, pipeline.ErrEmptyQuery) {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	var req SourcesRequest
	if !s.decode(w, r, &req) {
		return
	}

	sources, err := s.answerer.Sources(r.Context(), req.Query, req.TopK)
	if errors.Is(err, pipeline.ErrEmptyQuery) {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sourcesResponse{Sources: sources})
}

func (s *Server) handleGoldSearch(w http.ResponseWriter, r *http.Request) {
	var req GoldSearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondJSON(w, http.StatusOK, s.answerer.GoldSearch(r.Context(), req.Query, req.Limit))
}

// handleCredCheck answers {ok, result} or {ok:false, error}. Bad input is a
// 400 with the envelope; anything else is a generic 500.
func (s *Server) handleCredCheck(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, credcheck.Envelope{Error: "Invalid request: body too large or unreadable"})
		return
	}

	env, err := s.verifier.Run(r.Context(), payload, r.URL.Query().Get("mode"))
	switch {
	case errors.Is(err, credcheck.ErrInvalidInput):
		s.respondJSON(w, http.StatusBadRequest, env)
	case err != nil:
		s.logger.Error("credibility check failed",
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
		s.respondJSON(w, http.StatusInternalServerError, credcheck.Envelope{Error: "Internal Server Error"})
	default:
		s.respondJSON(w, http.StatusOK, env)
	}
}

// decode reads and validates a JSON body, answering 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		s.respondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID(r)),
		zap.Error(err),
	)
	s.respondError(w, http.StatusInternalServerError, "Internal Server Error")
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message, Code: status})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(msgs, "; ")
}
