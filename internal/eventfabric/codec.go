package eventfabric

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tomeravgil/guardcar/sdk"
)

// Subject names replace the spec's generic queue names 1:1 (NATS subjects
// are the broker's queue concept).
const (
	SubjectSuspicionFrame  = "suspicion.frame"
	SubjectRecordingStatus = "recording.status"
	SubjectResponse        = "response"
	SubjectFrameMirror     = "frame.mirror"
	SubjectCloudProvider   = "config.cloud_provider"
	SubjectSuspicionConfig = "config.suspicion"
)

const lossyTTL = 100 * time.Millisecond

// SuspicionFrameMessage is published edge -> backend on SubjectSuspicionFrame.
type SuspicionFrameMessage struct {
	CameraID       string  `json:"camera_id"`
	SuspicionScore float64 `json:"suspicion_score"`
}

// RecordingStatusMessage is published edge -> backend on SubjectRecordingStatus.
type RecordingStatusMessage struct {
	CameraID  string `json:"camera_id"`
	Recording bool   `json:"recording"`
}

// RelatedTo identifies what a ResponseMessage is acknowledging.
type RelatedTo string

const (
	RelatedCloud      RelatedTo = "cloud"
	RelatedSuspicion  RelatedTo = "suspicion"
	RelatedGeneral    RelatedTo = "general"
)

// ResponseMessage is published edge -> backend on SubjectResponse,
// acknowledging a control message.
type ResponseMessage struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	RelatedTo RelatedTo `json:"related_to"`
}

// FrameMirrorMessage is published edge -> backend on SubjectFrameMirror,
// with a 100ms TTL: stale frames are irrelevant.
type FrameMirrorMessage struct {
	CameraID  string `json:"camera_id"`
	JPEGBytes string `json:"jpeg_bytes"` // base64
}

// CloudProviderConfigMessage is published backend -> edge on
// SubjectCloudProvider to register or deregister a remote detection
// provider.
type CloudProviderConfigMessage struct {
	ProviderName        string `json:"provider_name"`
	ConnectionIP         string `json:"connection_ip"`
	ServerCertification string `json:"server_certification"` // base64 DER
	Delete               bool   `json:"delete"`
}

// SuspicionConfigMessage is published backend -> edge on
// SubjectSuspicionConfig to update the suspicion threshold and/or
// per-class weights.
type SuspicionConfigMessage struct {
	// Threshold is a pointer so a present-and-zero "threshold":0 (always-on
	// recording, spec.md §6) is distinguishable from an omitted field that
	// leaves the threshold untouched while only class_weights changes.
	Threshold    *int               `json:"threshold,omitempty"`
	ClassWeights map[string]float64 `json:"class_weights,omitempty"`
}

// --- edge-side producers ---

// PublishSuspicionFrame implements framepump.Sink.
func (cm *ConnectionManager) PublishSuspicionFrame(frame sdk.SuspicionFrame, ttl time.Duration) {
	cm.publishJSON(SubjectSuspicionFrame, SuspicionFrameMessage{
		CameraID:       frame.CameraID,
		SuspicionScore: frame.Score,
	})
}

// PublishFrameMirror implements framepump.Sink.
func (cm *ConnectionManager) PublishFrameMirror(cameraID string, jpeg []byte, ttl time.Duration) {
	cm.publishJSON(SubjectFrameMirror, FrameMirrorMessage{
		CameraID:  cameraID,
		JPEGBytes: base64Encode(jpeg),
	})
}

// PublishRecordingStatus implements recording.StatusSink.
func (cm *ConnectionManager) PublishRecordingStatus(cameraID string, recording bool) {
	cm.publishJSON(SubjectRecordingStatus, RecordingStatusMessage{
		CameraID:  cameraID,
		Recording: recording,
	})
}

// PublishResponse acknowledges a control message.
func (cm *ConnectionManager) PublishResponse(success bool, message string, relatedTo RelatedTo) {
	cm.publishJSON(SubjectResponse, ResponseMessage{
		Success:   success,
		Message:   message,
		RelatedTo: relatedTo,
	})
}

// publishJSON does a non-blocking publish: the broker connection never
// blocks the caller, matching the "publish non-blocking" backpressure rule.
func (cm *ConnectionManager) publishJSON(subject string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		cm.logger.Error("failed to marshal message", "subject", subject, "error", err)
		return
	}
	if err := cm.conn.Publish(subject, payload); err != nil {
		cm.logger.Debug("publish failed", "subject", subject, "error", err)
	}
}

// --- backend-side producers (config subjects) ---

// PublishCloudProviderConfig publishes a provider registration/deletion
// control message backend -> edge.
func (cm *ConnectionManager) PublishCloudProviderConfig(msg CloudProviderConfigMessage) error {
	return cm.publishDurable(SubjectCloudProvider, msg)
}

// PublishSuspicionConfig publishes a threshold/weights update backend ->
// edge.
func (cm *ConnectionManager) PublishSuspicionConfig(msg SuspicionConfigMessage) error {
	return cm.publishDurable(SubjectSuspicionConfig, msg)
}

func (cm *ConnectionManager) publishDurable(subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("eventfabric: marshal %s: %w", subject, err)
	}
	_, err = cm.js.Publish(subject, payload)
	return err
}

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
