package eventfabric

import (
	"log/slog"
	"testing"
)

func testConnManager() *ConnectionManager {
	return &ConnectionManager{logger: slog.Default()}
}

// Malformed control messages are logged and dropped: the handler is never
// invoked (spec.md §7 "malformed control message").
func TestDispatchEdgeMalformedCloudProviderConfig(t *testing.T) {
	cm := testConnManager()
	called := false
	cm.dispatchEdge(SubjectCloudProvider, []byte("not json"), EdgeHandlers{
		OnCloudProviderConfig: func(CloudProviderConfigMessage) { called = true },
	})
	if called {
		t.Fatal("handler should not be invoked for malformed JSON")
	}
}

func TestDispatchEdgeMalformedSuspicionConfig(t *testing.T) {
	cm := testConnManager()
	called := false
	cm.dispatchEdge(SubjectSuspicionConfig, []byte("{not json"), EdgeHandlers{
		OnSuspicionConfig: func(SuspicionConfigMessage) { called = true },
	})
	if called {
		t.Fatal("handler should not be invoked for malformed JSON")
	}
}

func TestDispatchEdgeValidCloudProviderConfig(t *testing.T) {
	cm := testConnManager()
	var got CloudProviderConfigMessage
	cm.dispatchEdge(SubjectCloudProvider, []byte(`{"provider_name":"cloud1","connection_ip":"10.0.0.1:443","delete":false}`), EdgeHandlers{
		OnCloudProviderConfig: func(msg CloudProviderConfigMessage) { got = msg },
	})
	if got.ProviderName != "cloud1" || got.ConnectionIP != "10.0.0.1:443" || got.Delete {
		t.Fatalf("decoded message mismatch: %+v", got)
	}
}

func TestDispatchEdgeValidSuspicionConfig(t *testing.T) {
	cm := testConnManager()
	var got SuspicionConfigMessage
	cm.dispatchEdge(SubjectSuspicionConfig, []byte(`{"threshold":50,"class_weights":{"0":2.0}}`), EdgeHandlers{
		OnSuspicionConfig: func(msg SuspicionConfigMessage) { got = msg },
	})
	if got.Threshold == nil || *got.Threshold != 50 || got.ClassWeights["0"] != 2.0 {
		t.Fatalf("decoded message mismatch: %+v", got)
	}
}

// A present "threshold":0 must decode as a set pointer, not be confused
// with an omitted field (spec.md §6: 0 is a valid always-on threshold).
func TestDispatchEdgeSuspicionConfigZeroThresholdIsSet(t *testing.T) {
	cm := testConnManager()
	var got SuspicionConfigMessage
	cm.dispatchEdge(SubjectSuspicionConfig, []byte(`{"threshold":0}`), EdgeHandlers{
		OnSuspicionConfig: func(msg SuspicionConfigMessage) { got = msg },
	})
	if got.Threshold == nil || *got.Threshold != 0 {
		t.Fatalf("expected threshold:0 to decode as a set pointer, got %+v", got)
	}
}

func TestDispatchBackendFrameMirrorDecodesBase64(t *testing.T) {
	cm := testConnManager()
	var got []byte
	// base64 of "jpegbytes"
	cm.dispatchBackend(SubjectFrameMirror, []byte(`{"camera_id":"cam0","jpeg_bytes":"anBlZ2J5dGVz"}`), BackendHandlers{
		OnFrameMirror: func(jpeg []byte) { got = jpeg },
	})
	if string(got) != "jpegbytes" {
		t.Fatalf("decoded jpeg = %q, want %q", got, "jpegbytes")
	}
}

func TestDispatchBackendMalformedFrameMirrorBase64(t *testing.T) {
	cm := testConnManager()
	called := false
	cm.dispatchBackend(SubjectFrameMirror, []byte(`{"camera_id":"cam0","jpeg_bytes":"not-base64!!"}`), BackendHandlers{
		OnFrameMirror: func(jpeg []byte) { called = true },
	})
	if called {
		t.Fatal("handler should not be invoked for malformed base64")
	}
}

func TestDispatchBackendResponseSuccess(t *testing.T) {
	cm := testConnManager()
	var got ResponseMessage
	cm.dispatchBackend(SubjectResponse, []byte(`{"success":true,"message":"ok","related_to":"cloud"}`), BackendHandlers{
		OnResponse: func(msg ResponseMessage) { got = msg },
	})
	if !got.Success || got.RelatedTo != RelatedCloud {
		t.Fatalf("decoded response mismatch: %+v", got)
	}
}
