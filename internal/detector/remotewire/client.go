package remotewire

import (
	"context"

	"google.golang.org/grpc"
)

// StreamClient is the client side of the detection stream.
type StreamClient interface {
	Send(*DetectionRequest) error
	Recv() (*DetectionResponse, error)
	grpc.ClientStream
}

type streamClient struct{ grpc.ClientStream }

func (c *streamClient) Send(req *DetectionRequest) error { return c.ClientStream.SendMsg(req) }
func (c *streamClient) Recv() (*DetectionResponse, error) {
	resp := new(DetectionResponse)
	if err := c.ClientStream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// NewStreamClient opens the bidirectional detection stream on conn.
func NewStreamClient(ctx context.Context, conn grpc.ClientConnInterface) (StreamClient, error) {
	cs, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], StreamMethod, CallContentSubtype())
	if err != nil {
		return nil, err
	}
	return &streamClient{cs}, nil
}
