package gateway

import (
	"net/http"
	"time"

	"conductor-ai/internal/domain"
)

type healthResponse struct {
	Status string `json:"status"`
}

type statusResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Agents        int    `json:"agents"`
	RunsStarted   uint64 `json:"runs_started"`
	RunsCompleted uint64 `json:"runs_completed"`
	RunsFailed    uint64 `json:"runs_failed"`
	BusPublished  uint64 `json:"bus_published"`
	BusDropped    uint64 `json:"bus_dropped"`
}

type agentResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	RoutingTool string `json:"routing_tool"`
	Description string `json:"description"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt) / time.Second),
		RunsStarted:   s.runsStarted.Load(),
		RunsCompleted: s.runsCompleted.Load(),
		RunsFailed:    s.runsFailed.Load(),
	}
	if s.registry != nil {
		resp.Agents = s.registry.Len()
	}
	if s.bus != nil {
		resp.BusPublished, resp.BusDropped = s.bus.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	out := []agentResponse{}
	if s.registry != nil {
		for _, d := range s.registry.All() {
			out = append(out, agentResponse{
				ID:          d.ID,
				DisplayName: d.DisplayName,
				RoutingTool: d.RoutingToolName,
				Description: d.RoutingToolDesc,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound,
			domain.NewDomainError("gateway.sessions", domain.ErrNotFound, "sessions disabled"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		infos, err := s.history.Sessions(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, infos)
	case http.MethodPost:
		id, err := s.history.CreateSession(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound,
			domain.NewDomainError("gateway.sessions", domain.ErrNotFound, "sessions disabled"))
		return
	}
	id := r.PathValue("id")
	msgs, err := s.history.Messages(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "messages": msgs})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound,
			domain.NewDomainError("gateway.sessions", domain.ErrNotFound, "sessions disabled"))
		return
	}
	if err := s.history.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
