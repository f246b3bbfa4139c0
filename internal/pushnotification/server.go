package pushnotification

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/doubtfire-lms/doubtfire-go/internal/config"
	"github.com/doubtfire-lms/doubtfire-go/internal/pushsubscription"
	"github.com/doubtfire-lms/doubtfire-go/pkg/cerr"
)

type Server struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	sender   *Sender
}

func NewServer(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, sender *Sender) *Server {
	return &Server{
		vapidEnv: vapidEnv,
		repo:     repo,
		sender:   sender,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/push/vapid_public_key", s.getVapidPublicKey)
	r.Post("/push/subscriptions", s.register)
	r.Delete("/push/subscriptions", s.unregister)
	r.Post("/push/test", s.sendTest)
}

type vapidPublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

func (s *Server) getVapidPublicKey(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.vapidEnv.VAPIDPublicKey == "" {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "VAPID keys not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, &vapidPublicKeyResponse{PublicKey: s.vapidEnv.VAPIDPublicKey})
}

type registerRequest struct {
	Username  string `json:"username"`
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

func (s *Server) register(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Username == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "username is required", nil)
		return
	}
	if req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	}
	if req.P256dhKey == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "p256dh_key is required", nil)
		return
	}
	if req.AuthKey == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "auth_key is required", nil)
		return
	}

	// Idempotent: re-registering an endpoint refreshes its keys.
	existing, err := s.repo.FindByEndpoint(ctx, req.Endpoint)
	if err == nil && existing != nil {
		existing.Username = req.Username
		existing.P256dhKey = req.P256dhKey
		existing.AuthKey = req.AuthKey
		if err := s.repo.Delete(ctx, existing.ID); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		if err := s.repo.Create(ctx, existing); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		cerr.SetJSONResponse(ctx, existing)
		return
	}

	sub := &pushsubscription.Subscription{
		ID:        ulid.Make().String(),
		Username:  req.Username,
		Endpoint:  req.Endpoint,
		P256dhKey: req.P256dhKey,
		AuthKey:   req.AuthKey,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, sub)
}

type unregisterRequest struct {
	Endpoint string `json:"endpoint"`
}

func (s *Server) unregister(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req unregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	}

	if err := s.repo.DeleteByEndpoint(ctx, req.Endpoint); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"status": "ok"})
}

func (s *Server) sendTest(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.sender.SendToAll(ctx, &NotificationPayload{
		Title: "Doubtfire Test",
		Body:  "Push notifications are working!",
	})
	cerr.SetJSONResponse(ctx, map[string]string{"status": "ok"})
}
