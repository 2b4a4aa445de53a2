package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/usecase/orchestrate"
	"conductor-ai/internal/usecase/runtree"
)

// runRequest is the POST /api/v1/runs body. Either messages carries
// the full conversation, or content carries one user turn appended to
// the named session's stored transcript. stream defaults to true;
// stream:false blocks until the run finishes and returns one JSON
// document with the answer and the execution tree.
type runRequest struct {
	SessionID string           `json:"session_id,omitempty"`
	Messages  []domain.Message `json:"messages,omitempty"`
	Content   string           `json:"content,omitempty"`
	Stream    *bool            `json:"stream,omitempty"`
}

// runResponse is the stream:false result.
type runResponse struct {
	Answer string                `json:"answer"`
	Error  string                `json:"error,omitempty"`
	Tree   *domain.ExecutionStep `json:"tree,omitempty"`
}

// wireEvent is one NDJSON line of the run stream. The shape is wire
// stable: field names and type values never change.
type wireEvent struct {
	Type    string      `json:"type"`
	Payload wirePayload `json:"payload"`
}

type wirePayload struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// handleRun drives one orchestration and streams its events, one JSON
// object per line, flushed per event.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest,
			domain.NewDomainError("gateway.run", domain.ErrInvalidInput, err.Error()))
		return
	}

	msgs, err := s.resolveHistory(r.Context(), &req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if len(msgs) == 0 {
		writeError(w, http.StatusBadRequest,
			domain.NewDomainError("gateway.run", domain.ErrInvalidInput, "empty history"))
		return
	}

	if req.Stream != nil && !*req.Stream {
		s.runBlocking(w, r, req, msgs)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError,
			domain.NewDomainError("gateway.run", domain.ErrUnavailable, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.runsStarted.Add(1)

	// A started run completes even when the client goes away; writes to
	// a dead connection fail silently while the channel drains.
	runCtx := domain.ContextWithSessionID(context.WithoutCancel(r.Context()), req.SessionID)

	enc := json.NewEncoder(w)
	var transcript []domain.Message
	failed := false
	clientGone := false

	for ev := range s.runner.Run(runCtx, msgs) {
		if ev.Type == domain.RunAgentError {
			failed = true
		}
		if ev.Type == domain.RunAgentEnded && ev.Name == orchestrate.RootAgentName {
			// The root ended event carries the full final transcript.
			var final []domain.Message
			if err := json.Unmarshal([]byte(ev.Content), &final); err == nil {
				transcript = final
			}
		}
		if clientGone {
			continue
		}
		if err := enc.Encode(toWire(ev)); err != nil {
			clientGone = true
			continue
		}
		flusher.Flush()
	}

	if failed {
		s.runsFailed.Add(1)
	} else {
		s.runsCompleted.Add(1)
	}

	s.persist(req, msgs, transcript)
}

// runBlocking drives the run to completion and answers with the
// folded execution tree instead of the raw event stream.
func (s *Server) runBlocking(w http.ResponseWriter, r *http.Request, req runRequest, msgs []domain.Message) {
	s.runsStarted.Add(1)
	runCtx := domain.ContextWithSessionID(context.WithoutCancel(r.Context()), req.SessionID)

	builder := runtree.NewBuilder(func(agentID string) string {
		if s.registry == nil {
			return ""
		}
		if d := s.registry.ByID(agentID); d != nil {
			return d.DisplayName
		}
		return ""
	})

	var transcript []domain.Message
	for ev := range s.runner.Run(runCtx, msgs) {
		builder.Feed(ev)
		if ev.Type == domain.RunAgentEnded && ev.Name == orchestrate.RootAgentName {
			var final []domain.Message
			if err := json.Unmarshal([]byte(ev.Content), &final); err == nil {
				transcript = final
			}
		}
	}

	if builder.Err() != "" {
		s.runsFailed.Add(1)
	} else {
		s.runsCompleted.Add(1)
	}
	s.persist(req, msgs, transcript)

	writeJSON(w, http.StatusOK, runResponse{
		Answer: builder.Answer(),
		Error:  builder.Err(),
		Tree:   builder.Tree(),
	})
}

// resolveHistory builds the run input, loading the session transcript
// when a session id is supplied.
func (s *Server) resolveHistory(ctx context.Context, req *runRequest) ([]domain.Message, error) {
	if req.SessionID == "" || s.history == nil {
		if req.Content != "" && len(req.Messages) == 0 {
			return []domain.Message{{Role: domain.RoleUser, Content: req.Content, Timestamp: time.Now()}}, nil
		}
		return req.Messages, nil
	}

	stored, err := s.history.Messages(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	switch {
	case req.Content != "":
		return append(stored, domain.Message{
			Role: domain.RoleUser, Content: req.Content, Timestamp: time.Now(),
		}), nil
	case len(req.Messages) > 0:
		return append(stored, req.Messages...), nil
	}
	return stored, nil
}

// persist appends the turns this run added to the session store.
func (s *Server) persist(req runRequest, input, transcript []domain.Message) {
	if s.history == nil || req.SessionID == "" || len(transcript) == 0 {
		return
	}
	var fresh []domain.Message
	if req.Content != "" {
		fresh = append(fresh, input[len(input)-1])
	} else if len(req.Messages) > 0 {
		fresh = append(fresh, req.Messages...)
	}
	if len(transcript) > len(input) {
		fresh = append(fresh, transcript[len(input):]...)
	}
	if len(fresh) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Append(ctx, req.SessionID, fresh...); err != nil {
		s.logger.Warn("session persist failed", "session_id", req.SessionID, "error", err)
	}
}

// toWire converts a run event to its stable wire form.
func toWire(ev domain.RunEvent) wireEvent {
	return wireEvent{
		Type: string(ev.Type),
		Payload: wirePayload{
			ID:      ev.ID,
			Name:    ev.Name,
			Content: ev.Content,
		},
	}
}

// statusFor maps domain error codes to HTTP statuses.
func statusFor(err error) int {
	switch domain.ErrorCode(err) {
	case "not_found":
		return http.StatusNotFound
	case "invalid_input":
		return http.StatusBadRequest
	case "rate_limited":
		return http.StatusTooManyRequests
	case "unavailable", "timeout":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
