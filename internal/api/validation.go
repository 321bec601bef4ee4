package api

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var providerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ProviderRequest is the decoded body of /api/register_provider.
type ProviderRequest struct {
	ProviderName         string `json:"provider_name"`
	ConnectionIP         string `json:"connection_ip"`
	ServerCertification  string `json:"server_certification"` // base64 DER
}

// ProviderValidator validates a remote detection provider registration.
type ProviderValidator struct {
	errors ValidationErrors
}

// NewProviderValidator creates a new provider validator.
func NewProviderValidator() *ProviderValidator {
	return &ProviderValidator{errors: make(ValidationErrors, 0)}
}

// Validate checks a provider registration request.
func (v *ProviderValidator) Validate(req ProviderRequest) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	v.validateName(req.ProviderName)
	v.validateConnectionIP(req.ConnectionIP)
	v.validateCert(req.ServerCertification)

	return v.errors
}

func (v *ProviderValidator) validateName(name string) {
	if name == "" {
		v.errors = append(v.errors, ValidationError{Field: "provider_name", Message: "provider name is required"})
		return
	}
	if !providerNamePattern.MatchString(name) {
		v.errors = append(v.errors, ValidationError{
			Field:   "provider_name",
			Message: "provider name must contain only letters, numbers, underscores, and hyphens",
		})
	}
	if len(name) > 100 {
		v.errors = append(v.errors, ValidationError{Field: "provider_name", Message: "provider name must be at most 100 characters"})
	}
}

func (v *ProviderValidator) validateConnectionIP(connIP string) {
	if connIP == "" {
		v.errors = append(v.errors, ValidationError{Field: "connection_ip", Message: "connection_ip is required"})
		return
	}
	host, _, err := net.SplitHostPort(connIP)
	if err != nil {
		v.errors = append(v.errors, ValidationError{Field: "connection_ip", Message: "connection_ip must be host:port"})
		return
	}
	if host == "" {
		v.errors = append(v.errors, ValidationError{Field: "connection_ip", Message: "connection_ip must include a host"})
	}
}

func (v *ProviderValidator) validateCert(certB64 string) {
	if certB64 == "" {
		v.errors = append(v.errors, ValidationError{Field: "server_certification", Message: "server_certification is required"})
	}
}

// SuspicionConfigRequest is the decoded body of /api/suspicion_config.
type SuspicionConfigRequest struct {
	Threshold    int                `json:"threshold"`
	ClassWeights map[string]float64 `json:"class_weights,omitempty"`
}

// ValidateSuspicionConfig checks a threshold/weights update. Threshold is
// clamped rather than rejected by config.RuntimeConfig.SetThreshold, so this
// only flags weights that can't possibly be meaningful.
func ValidateSuspicionConfig(req SuspicionConfigRequest) ValidationErrors {
	var errs ValidationErrors
	for class, weight := range req.ClassWeights {
		if weight < 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("class_weights.%s", class),
				Message: "class weight must not be negative",
			})
		}
	}
	return errs
}

// ValidateProviderName validates a provider name path/query parameter.
func ValidateProviderName(name string) error {
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if !providerNamePattern.MatchString(name) {
		return fmt.Errorf("provider name must contain only letters, numbers, underscores, and hyphens")
	}
	if len(name) > 100 {
		return fmt.Errorf("provider name must be at most 100 characters")
	}
	return nil
}
