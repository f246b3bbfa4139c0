package project

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/doubtfire-lms/doubtfire-go/pkg/cerr"
)

type Server struct {
	repo    Repository
	service *Service
}

func NewServer(repo Repository, service *Service) *Server {
	return &Server{
		repo:    repo,
		service: service,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/projects", s.list)
	r.Get("/projects/{projectID}", s.get)
	r.Post("/projects/{projectID}/stats", s.recomputeStats)
}

type projectResponse struct {
	ID              string     `json:"id"`
	UnitCode        string     `json:"unit_code"`
	UnitID          string     `json:"unit_id"`
	StudentUsername string     `json:"student_username"`
	StudentName     string     `json:"student_name"`
	TutorName       string     `json:"tutor_name"`
	Started         bool       `json:"started"`
	Progress        Progress   `json:"progress"`
	TaskStats       string     `json:"task_stats"`
	MaxPctSimilar   float64    `json:"max_pct_similar"`
	SimulatedDate   *time.Time `json:"simulated_date,omitempty"`
}

func toProjectResponse(p *Project) *projectResponse {
	return &projectResponse{
		ID:              p.ID,
		UnitCode:        p.UnitCode,
		UnitID:          p.UnitID,
		StudentUsername: p.StudentUsername,
		StudentName:     p.StudentName,
		TutorName:       p.TutorName,
		Started:         p.Started,
		Progress:        p.Progress,
		TaskStats:       p.TaskStats,
		MaxPctSimilar:   p.MaxPctSimilar,
		SimulatedDate:   p.SimulatedDate,
	}
}

func (s *Server) list(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projects, err := s.repo.List(ctx, r.URL.Query().Get("unit_id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	resp := make([]*projectResponse, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, toProjectResponse(p))
	}
	cerr.SetJSONResponse(ctx, resp)
}

func (s *Server) get(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := s.repo.Get(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, toProjectResponse(p))
}

func (s *Server) recomputeStats(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	if err := s.service.RecomputeStats(ctx, projectID); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	p, err := s.repo.Get(ctx, projectID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, toProjectResponse(p))
}
