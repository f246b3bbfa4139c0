package portfolio

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/doubtfire-lms/doubtfire-go/internal/convert"
	"github.com/doubtfire-lms/doubtfire-go/internal/project"
	"github.com/doubtfire-lms/doubtfire-go/internal/task"
	"github.com/doubtfire-lms/doubtfire-go/internal/upload"
	"github.com/doubtfire-lms/doubtfire-go/pkg/cerr"
)

const maxUploadBytes = 32 << 20

// Server exposes submission upload and portfolio compilation. Download
// routes serve raw PDFs and register outside the JSON middleware.
type Server struct {
	tasks     task.Repository
	defs      task.DefinitionRepository
	projects  project.Repository
	lifecycle *task.Lifecycle
	validator *upload.Validator
	compiler  *Compiler
	work      *upload.Workdir
}

func NewServer(
	tasks task.Repository,
	defs task.DefinitionRepository,
	projects project.Repository,
	lifecycle *task.Lifecycle,
	validator *upload.Validator,
	compiler *Compiler,
	work *upload.Workdir,
) *Server {
	return &Server{
		tasks:     tasks,
		defs:      defs,
		projects:  projects,
		lifecycle: lifecycle,
		validator: validator,
		compiler:  compiler,
		work:      work,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/tasks/{taskID}/submission", s.uploadSubmission)
	r.Delete("/tasks/{taskID}/submission", s.deleteStaged)
	r.Post("/tasks/{taskID}/submission/compile", s.compileSubmission)
	r.Post("/projects/{projectID}/portfolio/compile", s.compilePortfolio)
}

// RegisterFileRoutes registers the raw PDF downloads.
func (s *Server) RegisterFileRoutes(r chi.Router) {
	r.Get("/tasks/{taskID}/evidence.pdf", s.serveEvidence)
	r.Get("/projects/{projectID}/portfolio.pdf", s.servePortfolio)
}

type uploadResponse struct {
	TaskID string   `json:"task_id"`
	Staged []string `json:"staged"`
}

// uploadSubmission validates the multipart upload against the task
// definition's requirements and stages each part into the task's queue.
// One invalid part rejects the whole upload with nothing staged.
func (s *Server) uploadSubmission(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := task.ActorFromRequest(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "missing or unknown role", nil)
		return
	}

	taskID := chi.URLParam(r, "taskID")
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	def, err := s.defs.Get(ctx, t.DefinitionID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if len(def.UploadRequirements) == 0 {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "task does not accept file submissions", nil)
		return
	}
	if !t.OkToSubmit() {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "task is not open for submission", nil)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid multipart upload", err)
		return
	}

	// Validate into a scratch dir first so a bad part never half-fills
	// the task's queue.
	scratch, err := os.MkdirTemp("", "doubtfire-upload-")
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.Internal, "server error", err)
		return
	}
	defer os.RemoveAll(scratch)

	staged := make([]string, 0, len(def.UploadRequirements))
	for i, requirement := range def.UploadRequirements {
		kind, ok := upload.ParseKind(requirement.Kind)
		if !ok {
			cerr.SetNewJSONError(ctx, cerr.Internal, fmt.Sprintf("task definition requirement %q has unknown kind", requirement.Key), nil)
			return
		}

		field := fmt.Sprintf("file%d", i)
		file, header, err := r.FormFile(field)
		if err != nil {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, fmt.Sprintf("missing upload %q (%s)", field, requirement.Name), err)
			return
		}

		name := upload.StagedName(i, kind, filepath.Ext(header.Filename))
		dst := filepath.Join(scratch, name)
		if err := saveUpload(file, dst); err != nil {
			cerr.SetNewJSONError(ctx, cerr.Internal, "server error", err)
			return
		}

		if !s.validator.Accept(ctx, dst, header.Filename, kind) {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument,
				fmt.Sprintf("%s is not an acceptable %s file", header.Filename, kind), nil)
			return
		}
		staged = append(staged, name)
	}

	if err := upload.MoveDir(scratch, s.work.NewDir(taskID)); err != nil {
		cerr.SetNewJSONError(ctx, cerr.Internal, "server error", err)
		return
	}

	// A student pushing files up is submitting; mark the task ready.
	if _, err := s.lifecycle.TriggerTransition(ctx, taskID, string(task.TriggerReadyToMark), actor, task.TransitionOptions{}); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}

	cerr.SetJSONResponse(ctx, &uploadResponse{TaskID: taskID, Staged: staged})
}

func saveUpload(file io.ReadCloser, dst string) error {
	defer file.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return out.Close()
}

// deleteStaged clears a task's upload queue so the student can start over.
func (s *Server) deleteStaged(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := task.ActorFromRequest(r); !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "missing or unknown role", nil)
		return
	}

	taskID := chi.URLParam(r, "taskID")
	if err := os.RemoveAll(s.work.NewDir(taskID)); err != nil {
		cerr.SetNewJSONError(ctx, cerr.Internal, "server error", err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"status": "ok"})
}

func (s *Server) compileSubmission(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := s.compiler.CompileSubmission(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, result)
}

func (s *Server) compilePortfolio(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	path, err := s.compiler.CompilePortfolio(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"path": path})
}

func (s *Server) serveEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	t, err := s.tasks.Get(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	s.servePDF(w, r, t.PortfolioEvidence, "Your submission is still being converted. Check back shortly.")
}

func (s *Server) servePortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := s.projects.Get(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	path := s.work.PortfolioPath(p.UnitCode, p.UnitID, p.StudentUsername)
	s.servePDF(w, r, path, "Your portfolio has not been compiled yet.")
}

// servePDF sends the file at path, or a generated placeholder page when
// the file does not exist yet.
func (s *Server) servePDF(w http.ResponseWriter, r *http.Request, path, placeholder string) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Content-Type", "application/pdf")
			http.ServeFile(w, r, path)
			return
		}
	}

	tmp, err := os.CreateTemp("", "doubtfire-placeholder-*.pdf")
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := convert.PlaceholderPDF(placeholder, tmp.Name()); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, tmp.Name())
}
