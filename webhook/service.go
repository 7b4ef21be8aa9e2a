package webhook

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	resp "github.com/miragespace/premium/response"

	"github.com/go-chi/chi"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const bodyLimit = 1024 * 1024

// ServiceOptions contains the configuration for the webhook router
type ServiceOptions struct {
	Reconciler *Reconciler
	// Secret is the endpoint signing secret. Without it every delivery is refused.
	Secret string
	Logger *zap.Logger
}

// Service receives provider webhooks
type Service struct {
	ServiceOptions
}

type receivedResult struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// NewService will create an instance of the webhook router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Reconciler == nil {
		return nil, fmt.Errorf("nil Reconciler is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) handleStripe(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(s.Secret) == "" {
		resp.WriteError(w, r, resp.ErrServiceUnavailable().AddMessages("Webhook secret not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read request body"))
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Missing Stripe signature"))
		return
	}

	event, err := stripewebhook.ConstructEventWithOptions(payload, sig, s.Secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.Logger.Warn("Rejected webhook with invalid signature",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid Stripe signature"))
		return
	}

	ev := Event{
		ID:   event.ID,
		Type: string(event.Type),
		Raw:  payload,
	}
	if event.Created > 0 {
		ev.Created = time.Unix(event.Created, 0).UTC()
	}
	if event.Data != nil {
		ev.Data = event.Data.Raw
	}

	outcome, err := s.Reconciler.Handle(r.Context(), ev)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot process event"))
		return
	}
	resp.WriteResponse(w, r, receivedResult{
		Received: true,
		Outcome:  string(outcome),
	})
}

// Router will return the routes under the webhook API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/stripe", s.handleStripe)
	return r
}
