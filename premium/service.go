package premium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/miragespace/premium/auth"
	"github.com/miragespace/premium/entitlement"
	"github.com/miragespace/premium/lifecycle"
	"github.com/miragespace/premium/reminder"
	resp "github.com/miragespace/premium/response"
	"github.com/miragespace/premium/subscription"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ReminderDispatcher runs one reminder batch
type ReminderDispatcher interface {
	Dispatch(ctx context.Context, now time.Time) (reminder.Result, error)
}

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth           *auth.Auth
	PremiumManager *Manager
	Dispatcher     ReminderDispatcher
	Logger         *zap.Logger
}

// Service is the premium API router
type Service struct {
	ServiceOptions
}

// UpsertBody is the admin request to create or change a subscription
type UpsertBody struct {
	Tier      string                    `json:"tier" validate:"required,oneof=STANDARD PREMIUM CONCIERGE"`
	Status    string                    `json:"status" validate:"omitempty,oneof=NONE TRIALING ACTIVE EXPIRED CANCELED"`
	Source    string                    `json:"source" validate:"omitempty,max=64"`
	Billing   subscription.BillingPatch `json:"billing"`
	Lifecycle lifecycle.Patch           `json:"lifecycle"`
}

// NewService will create an instance of the premium API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.PremiumManager == nil {
		return nil, fmt.Errorf("nil PremiumManager is invalid")
	}
	if option.Dispatcher == nil {
		return nil, fmt.Errorf("nil Dispatcher is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) writeProfile(w http.ResponseWriter, r *http.Request, userID string) {
	profile, err := s.PremiumManager.GetProfile(r.Context(), userID)
	if err != nil {
		s.Logger.Error("Unable to build premium profile",
			zap.String("UserID", userID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get premium profile"))
		return
	}
	resp.WriteResponse(w, r, profile)
}

func (s *Service) getOwnProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	s.writeProfile(w, r, claims.ID)
}

func (s *Service) getProfile(w http.ResponseWriter, r *http.Request) {
	s.writeProfile(w, r, chi.URLParam(r, "userId"))
}

func (s *Service) upsertSubscription(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	logger := s.Logger.With(zap.String("UserID", userID))

	var body UpsertBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&body); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	profile, err := s.PremiumManager.Upsert(r.Context(), UpsertRequest{
		UserID:    userID,
		Tier:      entitlement.Tier(body.Tier),
		Status:    subscription.Status(body.Status),
		Source:    body.Source,
		Billing:   body.Billing,
		Lifecycle: body.Lifecycle,
	})
	if errors.Is(err, ErrInvalidRequest) {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}
	if err != nil {
		logger.Error("Unable to upsert premium subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot update subscription"))
		return
	}
	resp.WriteResponse(w, r, profile)
}

func (s *Service) dispatchReminders(w http.ResponseWriter, r *http.Request) {
	var now time.Time
	if v := r.URL.Query().Get("now"); len(v) > 0 {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid now param"))
			return
		}
		now = parsed
	}
	result, err := s.Dispatcher.Dispatch(r.Context(), now)
	if err != nil {
		s.Logger.Error("Unable to dispatch reminders",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot dispatch reminders"))
		return
	}
	resp.WriteResponse(w, r, result)
}

// Router will return the routes under premium API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Use(s.Auth.ClaimCheck())

	r.Get("/profile", s.getOwnProfile)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.AdminCheck())
		r.Get("/profiles/{userId}", s.getProfile)
		r.Put("/subscriptions/{userId}", s.upsertSubscription)
		r.Post("/reminders/dispatch", s.dispatchReminders)
	})

	return r
}
