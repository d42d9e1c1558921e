// Package api exposes the agent platform over HTTP.
//
// Agent routes:
//   - GET    /agents                       - list agent names
//   - POST   /agents/{name}                - create an agent (optional source in the body)
//   - GET    /agents/{name}                - beliefs, plans, intentions and services
//   - DELETE /agents/{name}                - kill an agent
//   - GET    /agents/{name}/status         - reasoning cycle and intentions
//   - GET    /agents/{name}/mind/bb        - belief base
//   - GET    /agents/{name}/plans?label=   - plans as text
//   - POST   /agents/{name}/plans          - upload plans
//   - GET    /agents/{name}/code           - command completion suggestions
//   - POST   /agents/{name}/command        - run a command (form field "c"), alias /cmd
//   - GET    /agents/{name}/log            - read the agent log
//   - DELETE /agents/{name}/log            - clear the agent log
//   - POST   /agents/{name}/inbox          - deliver a JSON message, alias /mb
//
// Directory routes:
//   - GET  /services         - every agent and its services
//   - GET  /services/{name}  - services of one agent
//   - POST /services/{name}  - register {"service": ..., "type": ...}
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jcmrest/jcmrest/bridge"
	"github.com/jcmrest/jcmrest/core"
	"github.com/jcmrest/jcmrest/mind"
	"github.com/jcmrest/jcmrest/platform"
	"github.com/jcmrest/jcmrest/pool"
)

// maxBodyBytes bounds uploaded plans, agent sources and messages.
const maxBodyBytes = 1 << 20

// OutcomeHeader carries the outcome of a command next to its bindings.
const OutcomeHeader = "X-Intention-Outcome"

// Handler serves the REST routes of one platform.
type Handler struct {
	platform *platform.Platform
	logger   core.Logger
}

// NewHandler creates a handler for p.
func NewHandler(p *platform.Platform, logger core.Logger) *Handler {
	return &Handler{
		platform: p,
		logger:   core.WithComponent(logger, "framework/api"),
	}
}

// ServiceRequest is the body of POST /services/{name}.
type ServiceRequest struct {
	Service string `json:"service"`
	Type    string `json:"type,omitempty"`
}

// AgentServices is one entry of GET /services.
type AgentServices struct {
	Agent    string   `json:"agent"`
	Services []string `json:"services"`
}

// MessageResponse acknowledges a delivered message.
type MessageResponse struct {
	ID string `json:"id"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  core.HealthStatus      `json:"status"`
	Name    string                 `json:"name"`
	Agents  int                    `json:"agents"`
	Running bool                   `json:"running"`
	Pool    pool.Stats             `json:"pool"`
	Bridge  bridge.Stats           `json:"bridge"`
	Stores  []platform.StoreHealth `json:"stores,omitempty"`
}

// RegisterRoutes adds every route to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /agents", h.HandleListAgents)
	mux.HandleFunc("POST /agents/{name}", h.HandleCreateAgent)
	mux.HandleFunc("GET /agents/{name}", h.HandleAgentDetails)
	mux.HandleFunc("DELETE /agents/{name}", h.HandleKillAgent)
	mux.HandleFunc("GET /agents/{name}/status", h.HandleStatus)
	mux.HandleFunc("GET /agents/{name}/mind/bb", h.HandleBeliefs)
	mux.HandleFunc("GET /agents/{name}/plans", h.HandleGetPlans)
	mux.HandleFunc("POST /agents/{name}/plans", h.HandleLoadPlans)
	mux.HandleFunc("GET /agents/{name}/code", h.HandleSuggestions)
	mux.HandleFunc("POST /agents/{name}/command", h.HandleCommand)
	mux.HandleFunc("POST /agents/{name}/cmd", h.HandleCommand)
	mux.HandleFunc("GET /agents/{name}/log", h.HandleReadLog)
	mux.HandleFunc("DELETE /agents/{name}/log", h.HandleClearLog)
	mux.HandleFunc("POST /agents/{name}/inbox", h.HandleMessage)
	mux.HandleFunc("POST /agents/{name}/mb", h.HandleMessage)

	mux.HandleFunc("GET /services", h.HandleListServices)
	mux.HandleFunc("GET /services/{name}", h.HandleAgentServices)
	mux.HandleFunc("POST /services/{name}", h.HandleRegisterService)

	mux.HandleFunc("GET /health", h.HandleHealth)
}

// HandleListAgents handles GET /agents.
func (h *Handler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.platform.Agents())
}

// HandleCreateAgent handles POST /agents/{name}. A non-empty body is the
// agent source; otherwise the default program is loaded.
func (h *Handler) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	source, err := readText(r, "source")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.platform.CreateAgent(r.Context(), name, source); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeText(w, http.StatusCreated, fmt.Sprintf("Agent '%s' has been created!", name))
}

// HandleAgentDetails handles GET /agents/{name}.
func (h *Handler) HandleAgentDetails(w http.ResponseWriter, r *http.Request) {
	d, err := h.platform.Details(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, d)
}

// HandleKillAgent handles DELETE /agents/{name}.
func (h *Handler) HandleKillAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.platform.KillAgent(r.Context(), name); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeText(w, http.StatusOK, fmt.Sprintf("Agent '%s' has been killed", name))
}

// HandleStatus handles GET /agents/{name}/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.platform.Status(r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, st)
}

// HandleBeliefs handles GET /agents/{name}/mind/bb.
func (h *Handler) HandleBeliefs(w http.ResponseWriter, r *http.Request) {
	bb, err := h.platform.Beliefs(r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, bb)
}

// HandleGetPlans handles GET /agents/{name}/plans. The label query
// parameter selects one plan; it defaults to all of them.
func (h *Handler) HandleGetPlans(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		label = "all"
	}
	text, err := h.platform.Plans(r.PathValue("name"), label)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeText(w, http.StatusOK, text)
}

// HandleLoadPlans handles POST /agents/{name}/plans. Plans come from the
// "plans" form field, an uploaded "file", or the raw body.
func (h *Handler) HandleLoadPlans(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	text, err := readText(r, "plans")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		h.writeError(w, r, core.NewFrameworkError("LoadPlans", "request", core.ErrInvalidRequest))
		return
	}
	if _, err := h.platform.LoadPlans(r.Context(), name, text); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeText(w, http.StatusOK, fmt.Sprintf("ok, code uploaded for agent '%s'!", name))
}

// HandleSuggestions handles GET /agents/{name}/code.
func (h *Handler) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	s, err := h.platform.Suggestions(r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, s)
}

// HandleCommand handles POST /agents/{name}/command. The response is the
// variable bindings of the command; a failed command still answers 200 with
// its outcome in OutcomeHeader.
func (h *Handler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	cmd := r.FormValue("c")
	res, err := h.platform.RunCommand(r.Context(), r.PathValue("name"), cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set(OutcomeHeader, res.Outcome.String())
	h.writeJSON(w, r, http.StatusOK, res.Bindings())
}

// HandleReadLog handles GET /agents/{name}/log.
func (h *Handler) HandleReadLog(w http.ResponseWriter, r *http.Request) {
	text, err := h.platform.ReadLog(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeText(w, http.StatusOK, text)
}

// HandleClearLog handles DELETE /agents/{name}/log.
func (h *Handler) HandleClearLog(w http.ResponseWriter, r *http.Request) {
	if err := h.platform.ClearLog(r.Context(), r.PathValue("name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMessage handles POST /agents/{name}/inbox. The path names the receiver.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var msg mind.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		h.writeError(w, r, &core.FrameworkError{Op: "SendMessage", Kind: "request", Message: "invalid message body", Err: core.ErrInvalidRequest})
		return
	}
	msg.Receiver = r.PathValue("name")
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := h.platform.SendMessage(r.Context(), msg); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusAccepted, MessageResponse{ID: msg.ID})
}

// HandleListServices handles GET /services.
func (h *Handler) HandleListServices(w http.ResponseWriter, r *http.Request) {
	all, err := h.platform.AllServices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make(map[string]AgentServices, len(all))
	for agent, services := range all {
		out[agent] = AgentServices{Agent: agent, Services: services}
	}
	h.writeJSON(w, r, http.StatusOK, out)
}

// HandleAgentServices handles GET /services/{name}.
func (h *Handler) HandleAgentServices(w http.ResponseWriter, r *http.Request) {
	svcs, err := h.platform.Services(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	names := make([]string, len(svcs))
	for i, s := range svcs {
		names[i] = s.Name
	}
	h.writeJSON(w, r, http.StatusOK, names)
}

// HandleRegisterService handles POST /services/{name}.
func (h *Handler) HandleRegisterService(w http.ResponseWriter, r *http.Request) {
	var req ServiceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, &core.FrameworkError{Op: "RegisterService", Kind: "request", Message: "invalid request body", Err: core.ErrInvalidRequest})
		return
	}
	if strings.TrimSpace(req.Service) == "" {
		h.writeError(w, r, &core.FrameworkError{Op: "RegisterService", Kind: "request", Message: "a service name is required", Err: core.ErrInvalidRequest})
		return
	}
	if err := h.platform.RegisterService(r.Context(), r.PathValue("name"), req.Service, req.Type); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := core.HealthHealthy, http.StatusOK
	running := h.platform.Pool().Running()
	stores, err := h.platform.HealthCheck(r.Context())
	if !running || err != nil {
		status, code = core.HealthUnhealthy, http.StatusServiceUnavailable
	}
	h.writeJSON(w, r, code, HealthResponse{
		Status:  status,
		Name:    h.platform.Config().Name,
		Agents:  len(h.platform.Agents()),
		Running: running,
		Pool:    h.platform.Pool().Stats(),
		Bridge:  h.platform.Bridge().Stats(),
		Stores:  stores,
	})
}

// readText returns the named form field, an uploaded "file", or the raw
// body, depending on the request content type.
func readText(r *http.Request, field string) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return "", &core.FrameworkError{Op: "readText", Kind: "request", Message: "invalid multipart body", Err: core.ErrInvalidRequest}
		}
		text := r.FormValue(field)
		if f, _, err := r.FormFile("file"); err == nil {
			defer f.Close()
			b, err := io.ReadAll(io.LimitReader(f, maxBodyBytes))
			if err != nil {
				return "", err
			}
			text += "\n" + string(b)
		}
		return text, nil
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return "", &core.FrameworkError{Op: "readText", Kind: "request", Message: "invalid form body", Err: core.ErrInvalidRequest}
		}
		return r.PostFormValue(field), nil
	default:
		b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.ErrorWithContext(r.Context(), "Failed to encode response", map[string]interface{}{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
	}
}

func (h *Handler) writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorWithContext(r.Context(), "Request failed", map[string]interface{}{
			"path":   r.URL.Path,
			"status": status,
			"error":  err.Error(),
		})
	}
	h.writeJSON(w, r, status, ErrorResponse{Error: err.Error(), Code: code})
}
