// Package remotewire defines the wire messages and grpc.ServiceDesc for the
// Remote detector's bidirectional detection stream. Rather than depend on a
// protoc-generated package, it registers a JSON codec with grpc-go's codec
// registry (the same extension point grpc-gateway and other JSON-over-gRPC
// services use) so the stream rides on a real grpc.ClientConn/grpc.Server
// without requiring a protobuf toolchain in this build.
package remotewire

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// DetectionRequest is one frame sent to the remote detection stream.
type DetectionRequest struct {
	FrameID  string `json:"frame_id"`
	CameraID string `json:"camera_id"`
	JPEG     []byte `json:"jpeg"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Detection is a single object detection returned by the remote service.
type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// DetectionResponse answers a DetectionRequest by frame ID.
type DetectionResponse struct {
	FrameID    string      `json:"frame_id"`
	Detections []Detection `json:"detections"`
	Error      string      `json:"error,omitempty"`
}

const codecName = "guardcar-json"

// jsonCodec implements encoding.Codec over the standard library's JSON
// package, registered under codecName.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CallContentSubtype selects the JSON codec for a grpc.ClientConn.NewStream
// call via grpc.CallContentSubtype.
func CallContentSubtype() grpc.CallOption {
	return grpc.CallContentSubtype(codecName)
}

// StreamMethod is the full gRPC method name for the detection stream.
const StreamMethod = "/guardcar.detector.DetectionStream/Stream"

// ServiceDesc describes the DetectionStream service for registration on a
// grpc.Server (used by tests standing in for a cloud provider).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "guardcar.detector.DetectionStream",
	HandlerType: (*StreamHandler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "guardcar/detector/remotewire/detect.proto",
}

// StreamHandler is implemented by a detection-stream server (a stand-in
// cloud provider in tests).
type StreamHandler interface {
	Stream(grpc.BidiStreamingServer[DetectionRequest, DetectionResponse]) error
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(StreamHandler).Stream(&bidiStream{stream})
}

type bidiStream struct{ grpc.ServerStream }

func (b *bidiStream) Send(resp *DetectionResponse) error { return b.ServerStream.SendMsg(resp) }
func (b *bidiStream) Recv() (*DetectionRequest, error) {
	req := new(DetectionRequest)
	if err := b.ServerStream.RecvMsg(req); err != nil {
		return nil, err
	}
	return req, nil
}
