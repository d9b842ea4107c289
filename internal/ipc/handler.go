package ipc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sidelinehq/crewd/internal/models"
)

// Publisher is the one bus method mutating requests need.
type Publisher interface {
	Publish(eventType, project string, payload interface{}) (models.Event, error)
}

// Query is every read the handler serves directly from the projection,
// without going through the bus.
type Query interface {
	GetJob(id string) (*models.Job, bool)
	ListJobs(project string) []*models.Job
	GetAgent(id string) (*models.Agent, bool)
	ListAgents() []*models.Agent
	GetWorkspace(id string) (*models.Workspace, bool)
	ListWorkspaces() []*models.Workspace
	GetDecision(id string) (*models.Decision, bool)
	ListDecisions(unresolvedOnly bool) []*models.Decision
	GetWorker(name string) (*models.Worker, bool)
	ListWorkers() []*models.Worker
	GetCron(name string) (*models.Cron, bool)
	ListCrons() []*models.Cron
	GetQueueDef(name string) (*models.QueueDef, bool)
	ListQueueDefs() []*models.QueueDef
	GetQueueItem(id string) (*models.QueueItem, bool)
	ListQueueItems(queue string) []*models.QueueItem
}

// EventSource reads raw log entries for the "events" tail request.
// *eventlog.Log, whose Since re-reads the daemon's own WAL via Replay, is
// the only implementation; the handler never interprets the records
// itself, it just passes the sequence number through.
type EventSource interface {
	Since(seq int64) ([]models.Event, error)
}

// Handler dispatches a decoded Request to the right action/query and
// returns the Response to frame back. It holds no socket state — Server
// owns accept/frame plumbing and calls Handle per request.
type Handler struct {
	Publisher     Publisher
	Query         Query
	Events        EventSource
	ServerVersion string
	StartedAt     time.Time
	PID           int

	// Shutdown, if set, is invoked for a "shutdown" request as Handle
	// returns, before the Server frames the response back to the caller.
	// Left nil in tests that don't exercise daemon lifecycle.
	Shutdown func()
}

// Handle dispatches req and always returns a Response — Handle itself
// never errors; every failure is folded into Response.Error.
func (h *Handler) Handle(req Request) Response {
	if req.RequestID != "" {
		slog.Debug("ipc: request", "request_id", req.RequestID, "type", req.Type)
	}
	switch req.Type {
	case "ping":
		return okResponse(map[string]string{"pong": "ok"})
	case "hello":
		return h.handleHello(req)
	case "status":
		return h.handleStatus()
	case "query":
		return h.handleQuery(req)
	case "events":
		return h.handleEvents(req)
	case "shutdown":
		resp := okResponse(map[string]bool{"shutting_down": true})
		if h.Shutdown != nil {
			defer h.Shutdown()
		}
		return resp
	default:
		if factory, ok := actionPayloadFactories[req.Type]; ok {
			return h.handleAction(req, factory)
		}
		return errResponse("user", "unknown request type: "+req.Type)
	}
}

type helloRequest struct {
	ClientVersion string `json:"client_version"`
}
type helloResponse struct {
	ServerVersion string `json:"server_version"`
	Compatible    bool   `json:"compatible"`
}

func (h *Handler) handleHello(req Request) Response {
	var hr helloRequest
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &hr); err != nil {
			return errResponse("user", "bad hello payload: "+err.Error())
		}
	}
	return okResponse(helloResponse{
		ServerVersion: h.ServerVersion,
		Compatible:    hr.ClientVersion == "" || hr.ClientVersion == h.ServerVersion,
	})
}

type statusResponse struct {
	Version             string    `json:"version"`
	PID                 int       `json:"pid"`
	StartedAt           time.Time `json:"started_at"`
	UptimeSeconds        float64   `json:"uptime_seconds"`
	Jobs                int       `json:"jobs"`
	Agents              int       `json:"agents"`
	Workers             int       `json:"workers"`
	Crons               int       `json:"crons"`
	UnresolvedDecisions int       `json:"unresolved_decisions"`
}

func (h *Handler) handleStatus() Response {
	return okResponse(statusResponse{
		Version:             h.ServerVersion,
		PID:                 h.PID,
		StartedAt:           h.StartedAt,
		UptimeSeconds:        time.Since(h.StartedAt).Seconds(),
		Jobs:                len(h.Query.ListJobs("")),
		Agents:              len(h.Query.ListAgents()),
		Workers:             len(h.Query.ListWorkers()),
		Crons:               len(h.Query.ListCrons()),
		UnresolvedDecisions: len(h.Query.ListDecisions(true)),
	})
}

// QueryRequest selects a resource and, optionally, a single id. For the
// job and agent resources an unambiguous prefix is enough (resolveJobID
// and resolveAgentID expand it); other resources need the exact id.
type QueryRequest struct {
	Resource       string `json:"resource"`
	ID             string `json:"id,omitempty"`
	Project        string `json:"project,omitempty"`
	Queue          string `json:"queue,omitempty"`
	UnresolvedOnly bool   `json:"unresolved_only,omitempty"`
}

func (h *Handler) handleQuery(req Request) Response {
	var qr QueryRequest
	if err := json.Unmarshal(req.Payload, &qr); err != nil {
		return errResponse("user", "bad query payload: "+err.Error())
	}

	switch qr.Resource {
	case "job":
		if qr.ID == "" {
			return okResponse(h.Query.ListJobs(qr.Project))
		}
		id, err := h.resolveJobID(qr.ID)
		if err != nil {
			return errOf(err)
		}
		job, _ := h.Query.GetJob(id)
		return okResponse(job)
	case "agent":
		if qr.ID == "" {
			return okResponse(h.Query.ListAgents())
		}
		id, err := h.resolveAgentID(qr.ID)
		if err != nil {
			return errOf(err)
		}
		agent, _ := h.Query.GetAgent(id)
		return okResponse(agent)
	case "workspace":
		if qr.ID == "" {
			return okResponse(h.Query.ListWorkspaces())
		}
		ws, ok := h.Query.GetWorkspace(qr.ID)
		if !ok {
			return errOf(&models.NotFoundError{Entity: "workspace", ID: qr.ID})
		}
		return okResponse(ws)
	case "decision":
		if qr.ID == "" {
			return okResponse(h.Query.ListDecisions(qr.UnresolvedOnly))
		}
		d, ok := h.Query.GetDecision(qr.ID)
		if !ok {
			return errOf(&models.NotFoundError{Entity: "decision", ID: qr.ID})
		}
		return okResponse(d)
	case "worker":
		if qr.ID == "" {
			return okResponse(h.Query.ListWorkers())
		}
		w, ok := h.Query.GetWorker(qr.ID)
		if !ok {
			return errOf(&models.NotFoundError{Entity: "worker", ID: qr.ID})
		}
		return okResponse(w)
	case "cron":
		if qr.ID == "" {
			return okResponse(h.Query.ListCrons())
		}
		c, ok := h.Query.GetCron(qr.ID)
		if !ok {
			return errOf(&models.NotFoundError{Entity: "cron", ID: qr.ID})
		}
		return okResponse(c)
	case "queue_def":
		if qr.ID == "" {
			return okResponse(h.Query.ListQueueDefs())
		}
		q, ok := h.Query.GetQueueDef(qr.ID)
		if !ok {
			return errOf(&models.NotFoundError{Entity: "queue_def", ID: qr.ID})
		}
		return okResponse(q)
	case "queue_item":
		if qr.ID == "" {
			return okResponse(h.Query.ListQueueItems(qr.Queue))
		}
		it, ok := h.Query.GetQueueItem(qr.ID)
		if !ok {
			return errOf(&models.NotFoundError{Entity: "queue_item", ID: qr.ID})
		}
		return okResponse(it)
	default:
		return errResponse("user", "unknown resource: "+qr.Resource)
	}
}

type eventsRequest struct {
	SinceSeq int64 `json:"since_seq,omitempty"`
}
type eventsResponse struct {
	Events []models.Event `json:"events"`
}

func (h *Handler) handleEvents(req Request) Response {
	if h.Events == nil {
		return errResponse("user", "event tailing is not available")
	}
	var er eventsRequest
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &er); err != nil {
			return errResponse("user", "bad events payload: "+err.Error())
		}
	}
	evs, err := h.Events.Since(er.SinceSeq)
	if err != nil {
		return errResponse("bug", "read event log: "+err.Error())
	}
	return okResponse(eventsResponse{Events: evs})
}

// actionPayloadFactories gives every mutating request's exact tag a
// fresh, empty payload value to unmarshal into. Kept in one table so the
// set of request types the daemon accepts is exactly event_kinds.go's
// action tag set — adding a new action event here is a one-line change.
var actionPayloadFactories = map[string]func() interface{}{
	models.EventCommandRun:        func() interface{} { return &models.CommandRunPayload{} },
	models.EventJobCancel:         func() interface{} { return &models.JobCancelPayload{} },
	models.EventJobSuspend:        func() interface{} { return &models.JobSuspendPayload{} },
	models.EventJobResume:         func() interface{} { return &models.JobResumePayload{} },
	models.EventAgentInput:        func() interface{} { return &models.AgentInputPayload{} },
	models.EventAgentSpawnRequest: func() interface{} { return &models.AgentSpawnRequestPayload{} },
	models.EventAgentKillRequest:  func() interface{} { return &models.AgentKillRequestPayload{} },
	models.EventDecisionResolved:  func() interface{} { return &models.DecisionResolvedPayload{} },
	models.EventWorkspaceRequest:  func() interface{} { return &models.WorkspaceRequestPayload{} },
	models.EventWorkspaceDropReq:  func() interface{} { return &models.WorkspaceDropRequestPayload{} },
	models.EventWorkerStart:       func() interface{} { return &models.WorkerStartPayload{} },
	models.EventWorkerStop:        func() interface{} { return &models.WorkerStopPayload{} },
	models.EventQueueDefine:       func() interface{} { return &models.QueueDefinePayload{} },
	models.EventQueuePush:         func() interface{} { return &models.QueuePushPayload{} },
	models.EventQueueDrop:         func() interface{} { return &models.QueueDropPayload{} },
	models.EventQueueDrain:        func() interface{} { return &models.QueueDrainPayload{} },
	models.EventQueueRetry:        func() interface{} { return &models.QueueRetryPayload{} },
	models.EventCronCreate:        func() interface{} { return &models.CronCreatePayload{} },
	models.EventCronStart:         func() interface{} { return &models.CronStartPayload{} },
	models.EventCronStop:          func() interface{} { return &models.CronStopPayload{} },
	models.EventCronOnce:          func() interface{} { return &models.CronOncePayload{} },
}

func (h *Handler) handleAction(req Request, factory func() interface{}) Response {
	payload := factory()
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, payload); err != nil {
			return errResponse("user", "bad payload for "+req.Type+": "+err.Error())
		}
	}

	if err := h.admit(req.Type, payload); err != nil {
		return errOf(err)
	}

	ev, err := h.Publisher.Publish(req.Type, req.Project, payload)
	if err != nil {
		return errResponse("durability", "append failed: "+err.Error())
	}

	if req.Type == models.EventCommandRun {
		return okResponse(h.enrichCommandRun(req.Project, ev))
	}
	return okResponse(ev)
}

// admit runs request-boundary validation that must reject a bad request
// before it is ever appended to the log — a user error never causes a
// state change. Invariants the runtime itself already enforces
// structurally (a full worker simply won't take more work; a second
// decision for an already-answered one is a harmless no-op mutation) are
// deliberately not duplicated here.
func (h *Handler) admit(eventType string, payload interface{}) error {
	switch p := payload.(type) {
	case *models.CommandRunPayload:
		if p.Command == "" {
			return &models.ValidationError{Field: "command", Reason: "must not be empty"}
		}
	case *models.JobCancelPayload:
		return h.requireJob(p.JobID)
	case *models.JobSuspendPayload:
		return h.requireJob(p.JobID)
	case *models.JobResumePayload:
		job, err := h.lookupJob(p.JobID)
		if err != nil {
			return err
		}
		if !job.Suspended {
			return &models.StepAlreadyActiveError{JobID: job.ID, ActiveStep: string(job.CurrentStatus()), RequestedOn: "job:resume"}
		}
	case *models.AgentInputPayload:
		return h.requireAgent(p.AgentID)
	case *models.AgentKillRequestPayload:
		return h.requireAgent(p.AgentID)
	case *models.DecisionResolvedPayload:
		if _, ok := h.Query.GetDecision(p.DecisionID); !ok {
			return &models.NotFoundError{Entity: "decision", ID: p.DecisionID}
		}
	case *models.QueuePushPayload:
		if p.Queue == "" {
			return &models.ValidationError{Field: "queue", Reason: "must not be empty"}
		}
	case *models.QueueDropPayload:
		return h.requireQueueItem(p.ItemID)
	case *models.QueueRetryPayload:
		return h.requireQueueItem(p.ItemID)
	case *models.WorkerStopPayload:
		if _, ok := h.Query.GetWorker(p.Name); !ok {
			return &models.NotFoundError{Entity: "worker", ID: p.Name}
		}
	case *models.CronStartPayload:
		if _, ok := h.Query.GetCron(p.Name); !ok {
			return &models.NotFoundError{Entity: "cron", ID: p.Name}
		}
	case *models.CronStopPayload:
		if _, ok := h.Query.GetCron(p.Name); !ok {
			return &models.NotFoundError{Entity: "cron", ID: p.Name}
		}
	case *models.CronOncePayload:
		if _, ok := h.Query.GetCron(p.Name); !ok {
			return &models.NotFoundError{Entity: "cron", ID: p.Name}
		}
	}
	return nil
}

func (h *Handler) requireJob(id string) error {
	_, err := h.lookupJob(id)
	return err
}

func (h *Handler) lookupJob(id string) (*models.Job, error) {
	job, ok := h.Query.GetJob(id)
	if !ok {
		return nil, &models.NotFoundError{Entity: "job", ID: id}
	}
	return job, nil
}

func (h *Handler) requireAgent(id string) error {
	if _, ok := h.Query.GetAgent(id); !ok {
		return &models.NotFoundError{Entity: "agent", ID: id}
	}
	return nil
}

func (h *Handler) requireQueueItem(id string) error {
	if _, ok := h.Query.GetQueueItem(id); !ok {
		return &models.NotFoundError{Entity: "queue_item", ID: id}
	}
	return nil
}

// enrichCommandRun resolves the job a command:run request just created.
// Safe to read right after Publish returns: the bus holds its single
// mutex for the request's entire drain (every follow-on event the
// runtime produces, including job:created), so no concurrent Publish
// could have created another job for this project in between.
func (h *Handler) enrichCommandRun(project string, ev models.Event) models.Event {
	jobs := h.Query.ListJobs(project)
	if len(jobs) == 0 {
		return ev
	}
	latest := jobs[0]
	for _, j := range jobs {
		if j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	b, err := json.Marshal(latest)
	if err != nil {
		return ev
	}
	return models.Event{Seq: ev.Seq, Type: ev.Type, Timestamp: ev.Timestamp, Project: ev.Project, Payload: b}
}

func errOf(err error) Response {
	var re models.RecoverableError
	if errors.As(err, &re) {
		return errResponse(re.ErrorCode(), re.Error())
	}
	return errResponse("bug", err.Error())
}

// resolveJobID expands an unambiguous id prefix to a full job id, the
// same shorthand the CLI's id-prefix dispatch relies on.
func (h *Handler) resolveJobID(prefix string) (string, error) {
	if _, ok := h.Query.GetJob(prefix); ok {
		return prefix, nil
	}
	var match string
	for _, j := range h.Query.ListJobs("") {
		if strings.HasPrefix(j.ID, prefix) {
			if match != "" {
				return "", &models.ValidationError{Field: "id", Reason: "ambiguous prefix: " + prefix}
			}
			match = j.ID
		}
	}
	if match == "" {
		return "", &models.NotFoundError{Entity: "job", ID: prefix}
	}
	return match, nil
}

func (h *Handler) resolveAgentID(prefix string) (string, error) {
	if _, ok := h.Query.GetAgent(prefix); ok {
		return prefix, nil
	}
	var match string
	for _, a := range h.Query.ListAgents() {
		if strings.HasPrefix(a.ID, prefix) {
			if match != "" {
				return "", &models.ValidationError{Field: "id", Reason: "ambiguous prefix: " + prefix}
			}
			match = a.ID
		}
	}
	if match == "" {
		return "", &models.NotFoundError{Entity: "agent", ID: prefix}
	}
	return match, nil
}
