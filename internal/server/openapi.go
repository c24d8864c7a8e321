package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	healthcheck "github.com/storypath/engine/internal/handler/health"
	"github.com/storypath/engine/internal/progress"
	"github.com/storypath/engine/internal/storypath"
	"github.com/storypath/engine/internal/unlock"
)

type enterInput struct {
	ID       int64 `path:"id"`
	Location *bool `json:"location,omitempty"`
	Camera   *bool `json:"camera,omitempty"`
}

type tokenQuery struct {
	Token string `query:"token"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "StoryPath Engine API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Location unlock and progress tracking for StoryPath participants.")

	// POST /api/session
	login, _ := r.NewOperationContext(http.MethodPost, "/api/session")
	login.SetSummary("Log in")
	login.SetDescription("Opens a participant session and returns its bearer token.")
	login.AddReqStructure(LoginRequest{})
	login.AddRespStructure(LoginResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	login.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(login)

	// DELETE /api/session
	logout, _ := r.NewOperationContext(http.MethodDelete, "/api/session")
	logout.SetSummary("Log out")
	logout.SetDescription("Ends the session and discards its progress. Requires Bearer token.")
	logout.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	logout.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(logout)

	// GET /api/projects
	projects, _ := r.NewOperationContext(http.MethodGet, "/api/projects")
	projects.SetSummary("List published projects")
	projects.AddRespStructure([]storypath.Project{}, openapi.WithHTTPStatus(http.StatusOK))
	projects.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(projects)

	// POST /api/projects/{id}/enter
	enter, _ := r.NewOperationContext(http.MethodPost, "/api/projects/{id}/enter")
	enter.SetSummary("Enter project")
	enter.SetDescription("Loads the project, restores progress from the tracking log and starts tracking. Requires Bearer token.")
	enter.AddReqStructure(enterInput{})
	enter.AddRespStructure(unlock.Status{}, openapi.WithHTTPStatus(http.StatusOK))
	enter.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	enter.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(enter)

	// POST /api/leave
	leave, _ := r.NewOperationContext(http.MethodPost, "/api/leave")
	leave.SetSummary("Leave project")
	leave.SetDescription("Stops tracking and clears the session's progress. Requires Bearer token.")
	leave.AddRespStructure(unlock.Status{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(leave)

	// GET /api/progress
	prog, _ := r.NewOperationContext(http.MethodGet, "/api/progress")
	prog.SetSummary("Get progress")
	prog.SetDescription("Returns the controller status and the project home view. Overview is null when no project is active.")
	prog.AddRespStructure(ProgressResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	prog.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(prog)

	// POST /api/refresh
	refresh, _ := r.NewOperationContext(http.MethodPost, "/api/refresh")
	refresh.SetSummary("Refresh progress")
	refresh.SetDescription("Re-pulls project data and the tracking log. Prior progress is kept if the store is unreachable.")
	refresh.AddRespStructure(progress.Snapshot{}, openapi.WithHTTPStatus(http.StatusOK))
	refresh.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	refresh.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(refresh)

	// POST /api/position
	pos, _ := r.NewOperationContext(http.MethodPost, "/api/position")
	pos.SetSummary("Report position")
	pos.SetDescription("Evaluates a position update against the unvisited locations. Requires Bearer token.")
	pos.AddReqStructure(PositionRequest{})
	pos.AddRespStructure(OutcomeResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	pos.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	pos.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	pos.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(pos)

	// POST /api/scan
	scan, _ := r.NewOperationContext(http.MethodPost, "/api/scan")
	scan.SetSummary("Submit scanned code")
	scan.SetDescription("Decodes a QR payload and unlocks its location. Capture stays disarmed until acknowledged.")
	scan.AddReqStructure(ScanRequest{})
	scan.AddRespStructure(OutcomeResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	scan.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	scan.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	scan.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnprocessableEntity))
	scan.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(scan)

	// POST /api/scan/ack
	ack, _ := r.NewOperationContext(http.MethodPost, "/api/scan/ack")
	ack.SetSummary("Acknowledge scan result")
	ack.SetDescription("Dismisses the last scan result and re-arms capture.")
	ack.AddRespStructure(unlock.Status{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(ack)

	// GET /api/events
	events, _ := r.NewOperationContext(http.MethodGet, "/api/events")
	events.SetSummary("SSE event stream")
	events.SetDescription("Server-Sent Events stream of progress, outcome and status events. Pass token as query parameter.")
	events.AddReqStructure(tokenQuery{})
	events.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(events)

	// GET /api/stream
	stream, _ := r.NewOperationContext(http.MethodGet, "/api/stream")
	stream.SetSummary("WebSocket session stream")
	stream.SetDescription("Upgrades to a WebSocket accepting position, scan, ack and refresh messages. Pass token as query parameter.")
	stream.AddReqStructure(tokenQuery{})
	stream.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	_ = r.AddOperation(stream)

	// GET /healthz
	healthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	healthz.SetSummary("Health check")
	healthz.SetDescription("Reports whether the record store is reachable.")
	healthz.AddRespStructure(healthcheck.Report{}, openapi.WithHTTPStatus(http.StatusOK))
	healthz.AddRespStructure(healthcheck.Report{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(healthz)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
