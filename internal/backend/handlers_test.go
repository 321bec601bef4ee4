package backend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tomeravgil/guardcar/internal/eventfabric"
)

type fakePublisher struct {
	cloudProviderMsgs []eventfabric.CloudProviderConfigMessage
	suspicionMsgs     []eventfabric.SuspicionConfigMessage
	err               error
}

func (f *fakePublisher) PublishCloudProviderConfig(msg eventfabric.CloudProviderConfigMessage) error {
	if f.err != nil {
		return f.err
	}
	f.cloudProviderMsgs = append(f.cloudProviderMsgs, msg)
	return nil
}

func (f *fakePublisher) PublishSuspicionConfig(msg eventfabric.SuspicionConfigMessage) error {
	if f.err != nil {
		return f.err
	}
	f.suspicionMsgs = append(f.suspicionMsgs, msg)
	return nil
}

func TestRegisterProviderPublishesAndReturnsOK(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandlers(pub, nil)

	body, _ := json.Marshal(map[string]string{
		"provider_name":        "acme-cloud",
		"connection_ip":        "10.0.0.5:9443",
		"server_certification": "ZmFrZS1kZXI=",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/register_provider", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.RegisterProvider(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	if len(pub.cloudProviderMsgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(pub.cloudProviderMsgs))
	}
	if pub.cloudProviderMsgs[0].Delete {
		t.Error("register should publish delete=false")
	}
}

func TestRegisterProviderRejectsInvalidBody(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandlers(pub, nil)

	body, _ := json.Marshal(map[string]string{"provider_name": ""})
	req := httptest.NewRequest(http.MethodPost, "/api/register_provider", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.RegisterProvider(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
	if len(pub.cloudProviderMsgs) != 0 {
		t.Error("invalid request should not publish")
	}
}

func TestDeleteProviderPublishesDeleteTrue(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandlers(pub, nil)

	body, _ := json.Marshal(map[string]string{"provider_name": "acme-cloud"})
	req := httptest.NewRequest(http.MethodDelete, "/api/delete_provider", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.DeleteProvider(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	if len(pub.cloudProviderMsgs) != 1 || !pub.cloudProviderMsgs[0].Delete {
		t.Fatal("expected a single delete=true message")
	}
}

func TestSuspicionConfigRejectsNegativeWeight(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandlers(pub, nil)

	body, _ := json.Marshal(map[string]any{
		"threshold":     70,
		"class_weights": map[string]float64{"person": -1},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/suspicion_config", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SuspicionConfig(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400 for negative weight", rec.Code)
	}
}

func TestSuspicionConfigPublishesValidRequest(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandlers(pub, nil)

	body, _ := json.Marshal(map[string]any{"threshold": 70})
	req := httptest.NewRequest(http.MethodPost, "/api/suspicion_config", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SuspicionConfig(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	if len(pub.suspicionMsgs) != 1 || pub.suspicionMsgs[0].Threshold == nil || *pub.suspicionMsgs[0].Threshold != 70 {
		t.Fatal("expected threshold 70 to be published")
	}
}

func TestHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
}
