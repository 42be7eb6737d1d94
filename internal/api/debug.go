package api

import (
	"net/http"
	"strings"
)

func (h *Handlers) HandleCreateDebugSession(w http.ResponseWriter, r *http.Request) {
	var req DebugSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		writeError(w, "project_id is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	s := h.debug.CreateSession(req.ProjectID, req.Breakpoints)
	w.Header().Set("Location", "/debug/sessions/"+s.ID)
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handlers) HandleGetDebugSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.debug.Get(r.PathValue("id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) HandleUpdateBreakpoints(w http.ResponseWriter, r *http.Request) {
	var req DebugSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.debug.UpdateBreakpoints(r.PathValue("id"), req.ProjectID, req.Breakpoints)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleDebugRun, HandleDebugStep and HandleDebugVariables take the
// project in the body. Its project_id must match the session's.
func (h *Handlers) HandleDebugRun(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := req.Project(h.runtimes)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	s, err := h.debug.Run(r.PathValue("id"), p)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) HandleDebugStep(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := req.Project(h.runtimes)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	s, err := h.debug.Step(r.PathValue("id"), p)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) HandleDebugVariables(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := req.Project(h.runtimes)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	id := r.PathValue("id")
	vars, err := h.debug.InspectVariables(id, p)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VariablesResponse{SessionID: id, Variables: vars})
}

// HandleDeleteDebugSession takes the owning project as ?project_id=.
func (h *Handlers) HandleDeleteDebugSession(w http.ResponseWriter, r *http.Request) {
	if err := h.debug.Delete(r.PathValue("id"), r.URL.Query().Get("project_id")); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
