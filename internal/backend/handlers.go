package backend

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tomeravgil/guardcar/internal/api"
	"github.com/tomeravgil/guardcar/internal/eventfabric"
)

// Publisher is the subset of eventfabric.ConnectionManager the REST
// handlers need; narrowed to an interface so handlers can be tested
// without a live NATS connection.
type Publisher interface {
	PublishCloudProviderConfig(eventfabric.CloudProviderConfigMessage) error
	PublishSuspicionConfig(eventfabric.SuspicionConfigMessage) error
}

// Handlers implements the thin backend REST surface (spec.md §6): it only
// validates and republishes control messages onto the event fabric, never
// mutating provider or threshold state directly.
type Handlers struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewHandlers creates the REST handler set.
func NewHandlers(publisher Publisher, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{publisher: publisher, logger: logger.With("component", "backend-api")}
}

// RegisterProvider implements POST /api/register_provider.
func (h *Handlers) RegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req api.ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BadRequest(w, "invalid request body")
		return
	}

	if errs := api.NewProviderValidator().Validate(req); errs.HasErrors() {
		api.ValidationErrorResponse(w, errs)
		return
	}

	msg := eventfabric.CloudProviderConfigMessage{
		ProviderName:         req.ProviderName,
		ConnectionIP:         req.ConnectionIP,
		ServerCertification: req.ServerCertification,
		Delete:               false,
	}
	if err := h.publisher.PublishCloudProviderConfig(msg); err != nil {
		h.logger.Error("failed to publish provider registration", "error", err)
		api.InternalError(w, "failed to publish provider registration")
		return
	}

	api.OK(w, map[string]string{"provider_name": req.ProviderName})
}

// deleteProviderRequest is the body of DELETE /api/delete_provider.
type deleteProviderRequest struct {
	ProviderName string `json:"provider_name"`
}

// DeleteProvider implements DELETE /api/delete_provider.
func (h *Handlers) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	var req deleteProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BadRequest(w, "invalid request body")
		return
	}
	if err := api.ValidateProviderName(req.ProviderName); err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	msg := eventfabric.CloudProviderConfigMessage{
		ProviderName: req.ProviderName,
		Delete:       true,
	}
	if err := h.publisher.PublishCloudProviderConfig(msg); err != nil {
		h.logger.Error("failed to publish provider deletion", "error", err)
		api.InternalError(w, "failed to publish provider deletion")
		return
	}

	api.OK(w, map[string]string{"provider_name": req.ProviderName})
}

// SuspicionConfig implements POST /api/suspicion_config.
func (h *Handlers) SuspicionConfig(w http.ResponseWriter, r *http.Request) {
	var req api.SuspicionConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BadRequest(w, "invalid request body")
		return
	}

	if errs := api.ValidateSuspicionConfig(req); errs.HasErrors() {
		api.ValidationErrorResponse(w, errs)
		return
	}

	msg := eventfabric.SuspicionConfigMessage{
		Threshold:    &req.Threshold,
		ClassWeights: req.ClassWeights,
	}
	if err := h.publisher.PublishSuspicionConfig(msg); err != nil {
		h.logger.Error("failed to publish suspicion config", "error", err)
		api.InternalError(w, "failed to publish suspicion config")
		return
	}

	api.OK(w, map[string]int{"threshold": req.Threshold})
}

// Healthz implements GET /healthz.
func Healthz(w http.ResponseWriter, r *http.Request) {
	api.OK(w, map[string]bool{"ok": true})
}
