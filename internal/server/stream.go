package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/pipeline"
)

// Markers framing a streamed chat answer. The body is the sources line,
// a blank line, the answer text, then the claims line once extraction is done.
const (
	sourcesPrefix = "SOURCES_JSON:"
	claimsPrefix  = "CLAIMS_JSON:"
)

type claimsTrailer struct {
	Mode         pipeline.Mode      `json:"mode"`
	Claims       []model.Claim      `json:"claims"`
	ClaimsStatus model.ClaimsStatus `json:"claims_status"`
	ClaimsError  string             `json:"claims_error,omitempty"`
}

// chatStream writes pipeline output to a flushing response. Nothing is
// written until the first event, so early failures can still answer JSON.
type chatStream struct {
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (c *chatStream) Sources(sources []model.Source) error {
	payload, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	return c.write(sourcesPrefix + string(payload) + "\n\n")
}

func (c *chatStream) Text(chunk string) error {
	return c.write(chunk)
}

func (c *chatStream) write(s string) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	if !c.started {
		h := c.w.Header()
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		c.w.WriteHeader(http.StatusOK)
		c.started = true
	}
	if _, err := io.WriteString(c.w, s); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// streamChat answers POST /api/chat?stream=1
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.internalError(w, r, errors.New("response writer cannot flush"))
		return
	}

	out := &chatStream{ctx: r.Context(), w: w, flusher: flusher}
	resp, err := s.answerer.AnswerStream(r.Context(), model.Query{Text: req.Query, History: req.History}, out)
	switch {
	case r.Context().Err() != nil:
		s.logger.Debug("chat stream abandoned by client", zap.String("request_id", requestID(r)))
		return
	case err != nil && !out.started:
		if errors.Is(err, pipeline.ErrEmptyQuery) {
			s.respondError(w, http.StatusBadRequest, "query is required")
			return
		}
		s.internalError(w, r, err)
		return
	case err != nil:
		s.logger.Error("chat stream failed mid-answer",
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
		return
	}

	trailer, err := json.Marshal(claimsTrailer{
		Mode:         resp.Mode,
		Claims:       resp.Claims,
		ClaimsStatus: resp.ClaimsStatus,
		ClaimsError:  resp.ClaimsError,
	})
	if err != nil {
		s.logger.Error("failed to encode claims", zap.Error(err))
		return
	}
	if err := out.write(fmt.Sprintf("\n\n%s%s\n", claimsPrefix, trailer)); err != nil {
		s.logger.Debug("claims not delivered", zap.String("request_id", requestID(r)), zap.Error(err))
	}
}
