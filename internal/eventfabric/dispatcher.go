package eventfabric

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// EdgeHandlers are invoked by the edge process's single dispatcher
// goroutine, serializing control-message side effects with respect to each
// other (but not with respect to in-flight per-frame RPCs, per spec.md §5).
type EdgeHandlers struct {
	OnCloudProviderConfig func(CloudProviderConfigMessage)
	OnSuspicionConfig     func(SuspicionConfigMessage)
}

// BackendHandlers are invoked by the backend process's single dispatcher
// goroutine for each edge-originated subject.
type BackendHandlers struct {
	OnSuspicionFrame  func(SuspicionFrameMessage)
	OnRecordingStatus func(RecordingStatusMessage)
	OnResponse        func(ResponseMessage)
	OnFrameMirror     func(jpeg []byte)
}

// dispatchQueueSize bounds the per-process dispatch channel; control-plane
// items back-pressure-block rather than drop, per spec.md §5.
const dispatchQueueSize = 256

// SetupEdge declares the streams the edge process produces to and
// subscribes its durable consumers for the two config subjects, draining
// them through a single dispatcher goroutine until ctx is cancelled.
func (cm *ConnectionManager) SetupEdge(ctx context.Context, handlers EdgeHandlers) error {
	if err := cm.ensureStream("GUARDCAR_FRAMES", []string{SubjectSuspicionFrame, SubjectFrameMirror, SubjectRecordingStatus, SubjectResponse}, lossyTTL); err != nil {
		return err
	}
	if err := cm.ensureStream("GUARDCAR_CONFIG", []string{SubjectCloudProvider, SubjectSuspicionConfig}, 0); err != nil {
		return err
	}

	type envelope struct {
		subject string
		data    []byte
	}
	queue := make(chan envelope, dispatchQueueSize)

	if err := cm.durableSubscribe(ctx, "GUARDCAR_CONFIG", SubjectCloudProvider, "edge-cloud-provider", func(msg *nats.Msg) {
		queue <- envelope{SubjectCloudProvider, msg.Data}
	}); err != nil {
		return err
	}
	if err := cm.durableSubscribe(ctx, "GUARDCAR_CONFIG", SubjectSuspicionConfig, "edge-suspicion-config", func(msg *nats.Msg) {
		queue <- envelope{SubjectSuspicionConfig, msg.Data}
	}); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-queue:
				cm.dispatchEdge(env.subject, env.data, handlers)
			}
		}
	}()
	return nil
}

func (cm *ConnectionManager) dispatchEdge(subject string, data []byte, h EdgeHandlers) {
	switch subject {
	case SubjectCloudProvider:
		var msg CloudProviderConfigMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cm.logger.Error("malformed cloud provider config", "error", err)
			return
		}
		if h.OnCloudProviderConfig != nil {
			h.OnCloudProviderConfig(msg)
		}
	case SubjectSuspicionConfig:
		var msg SuspicionConfigMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cm.logger.Error("malformed suspicion config", "error", err)
			return
		}
		if h.OnSuspicionConfig != nil {
			h.OnSuspicionConfig(msg)
		}
	}
}

// SetupBackend declares the streams the backend consumes from and
// subscribes its durable consumers for the four edge-originated subjects.
func (cm *ConnectionManager) SetupBackend(ctx context.Context, handlers BackendHandlers) error {
	if err := cm.ensureStream("GUARDCAR_FRAMES", []string{SubjectSuspicionFrame, SubjectFrameMirror, SubjectRecordingStatus, SubjectResponse}, lossyTTL); err != nil {
		return err
	}

	subjects := []struct {
		subject string
		durable string
	}{
		{SubjectSuspicionFrame, "backend-suspicion-frame"},
		{SubjectRecordingStatus, "backend-recording-status"},
		{SubjectResponse, "backend-response"},
		{SubjectFrameMirror, "backend-frame-mirror"},
	}

	type envelope struct {
		subject string
		data    []byte
	}
	queue := make(chan envelope, dispatchQueueSize)

	for _, s := range subjects {
		subject := s.subject
		if err := cm.durableSubscribe(ctx, "GUARDCAR_FRAMES", subject, s.durable, func(msg *nats.Msg) {
			queue <- envelope{subject, msg.Data}
		}); err != nil {
			return err
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-queue:
				cm.dispatchBackend(env.subject, env.data, handlers)
			}
		}
	}()
	return nil
}

func (cm *ConnectionManager) dispatchBackend(subject string, data []byte, h BackendHandlers) {
	switch subject {
	case SubjectSuspicionFrame:
		var msg SuspicionFrameMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cm.logger.Error("malformed suspicion frame", "error", err)
			return
		}
		if h.OnSuspicionFrame != nil {
			h.OnSuspicionFrame(msg)
		}
	case SubjectRecordingStatus:
		var msg RecordingStatusMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cm.logger.Error("malformed recording status", "error", err)
			return
		}
		if h.OnRecordingStatus != nil {
			h.OnRecordingStatus(msg)
		}
	case SubjectResponse:
		var msg ResponseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cm.logger.Error("malformed response", "error", err)
			return
		}
		if h.OnResponse != nil {
			h.OnResponse(msg)
		}
	case SubjectFrameMirror:
		var msg FrameMirrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cm.logger.Error("malformed frame mirror", "error", err)
			return
		}
		if h.OnFrameMirror != nil {
			jpeg, err := base64.StdEncoding.DecodeString(msg.JPEGBytes)
			if err != nil {
				cm.logger.Error("malformed frame mirror jpeg", "error", err)
				return
			}
			h.OnFrameMirror(jpeg)
		}
	}
}
