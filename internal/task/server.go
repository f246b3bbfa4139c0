package task

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/doubtfire-lms/doubtfire-go/pkg/cerr"
)

// Server exposes the task lifecycle over JSON. The acting user arrives in
// X-Username and X-Role headers, resolved by the auth layer in front of
// this service.
type Server struct {
	repo      Repository
	lifecycle *Lifecycle
}

func NewServer(repo Repository, lifecycle *Lifecycle) *Server {
	return &Server{
		repo:      repo,
		lifecycle: lifecycle,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/tasks", s.list)
	r.Get("/tasks/{taskID}", s.get)
	r.Put("/tasks/{taskID}/status", s.transition)
	r.Put("/tasks/{taskID}/similarity", s.updateSimilarity)
	r.Post("/tasks/{taskID}/comments", s.addComment)
	r.Delete("/tasks/{taskID}/comments/{commentID}", s.deleteComment)
}

// ActorFromRequest builds the acting user from the auth headers.
func ActorFromRequest(r *http.Request) (Actor, bool) {
	role := ParseRole(r.Header.Get("X-Role"))
	if role == RoleNone {
		return Actor{}, false
	}
	return Actor{
		Username: r.Header.Get("X-Username"),
		Role:     role,
	}, true
}

type submissionResponse struct {
	ID             string     `json:"id"`
	SubmissionTime time.Time  `json:"submission_time"`
	AssessmentTime *time.Time `json:"assessment_time,omitempty"`
	Assessor       string     `json:"assessor,omitempty"`
	Outcome        string     `json:"outcome,omitempty"`
}

type commentResponse struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type taskResponse struct {
	ID                string               `json:"id"`
	ProjectID         string               `json:"project_id"`
	DefinitionID      string               `json:"definition_id"`
	Status            Status               `json:"status"`
	StatusName        string               `json:"status_name"`
	AwaitingSignoff   bool                 `json:"awaiting_signoff"`
	CompletionDate    *time.Time           `json:"completion_date,omitempty"`
	MaxPctSimilar     float64              `json:"max_pct_similar"`
	PortfolioEvidence string               `json:"portfolio_evidence,omitempty"`
	ProcessingPDF     bool                 `json:"processing_pdf"`
	Submissions       []submissionResponse `json:"submissions"`
	Comments          []commentResponse    `json:"comments"`
}

func toTaskResponse(t *Task) *taskResponse {
	resp := &taskResponse{
		ID:                t.ID,
		ProjectID:         t.ProjectID,
		DefinitionID:      t.DefinitionID,
		Status:            t.Status,
		StatusName:        t.Status.Meta().Name,
		AwaitingSignoff:   t.AwaitingSignoff,
		CompletionDate:    t.CompletionDate,
		MaxPctSimilar:     t.MaxPctSimilar,
		PortfolioEvidence: t.PortfolioEvidence,
		ProcessingPDF:     t.ProcessingPDF(),
		Submissions:       make([]submissionResponse, 0, len(t.Submissions)),
		Comments:          make([]commentResponse, 0, len(t.Comments)),
	}
	for _, sub := range t.Submissions {
		resp.Submissions = append(resp.Submissions, submissionResponse(sub))
	}
	for _, c := range t.Comments {
		resp.Comments = append(resp.Comments, commentResponse(c))
	}
	return resp
}

func (s *Server) list(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	status := Status(q.Get("status"))
	if status != "" && !status.Valid() {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "unknown status filter", nil)
		return
	}

	tasks, err := s.repo.List(ctx, q.Get("project_id"), q.Get("definition_id"), status)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}

	resp := make([]*taskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, toTaskResponse(t))
	}
	cerr.SetJSONResponse(ctx, resp)
}

func (s *Server) get(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.repo.Get(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, toTaskResponse(t))
}

type transitionRequest struct {
	Trigger string `json:"trigger"`
	Bulk    bool   `json:"bulk"`
}

func (s *Server) transition(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := ActorFromRequest(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "missing or unknown role", nil)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}

	t, err := s.lifecycle.TriggerTransition(ctx, chi.URLParam(r, "taskID"), req.Trigger, actor, TransitionOptions{Bulk: req.Bulk})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, toTaskResponse(t))
}

type similarityRequest struct {
	Pct float64 `json:"pct"`
}

func (s *Server) updateSimilarity(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := ActorFromRequest(r)
	if !ok || !actor.Role.CanAssess() {
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "only staff may update similarity", nil)
		return
	}

	var req similarityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}

	taskID := chi.URLParam(r, "taskID")
	if err := s.lifecycle.UpdateMaxPctSimilar(ctx, taskID, req.Pct); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, toTaskResponse(t))
}

type addCommentRequest struct {
	Text string `json:"text"`
}

func (s *Server) addComment(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := ActorFromRequest(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "missing or unknown role", nil)
		return
	}

	var req addCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}

	c, err := s.lifecycle.AddComment(ctx, chi.URLParam(r, "taskID"), actor, req.Text)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, commentResponse(*c))
}

func (s *Server) deleteComment(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := ActorFromRequest(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "missing or unknown role", nil)
		return
	}

	if err := s.lifecycle.DeleteComment(ctx, chi.URLParam(r, "taskID"), chi.URLParam(r, "commentID"), actor); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"status": "ok"})
}
