package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/code-payments/iap-bridge/event"
	"github.com/code-payments/iap-bridge/protoutil"
)

// Client calls a remote bridge.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call executes a command and returns its result. Errors carrying a wire code
// unwrap to *iap.Error.
func (c *Client) Call(ctx context.Context, method string, arguments map[string]any) (*structpb.Value, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	req, err := structpb.NewStruct(arguments)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, resp); err != nil {
		return nil, FromStatus(err)
	}
	return protoutil.StructField(resp, "result"), nil
}

// CallJSON executes a command and returns its result as JSON.
func (c *Client) CallJSON(ctx context.Context, method string, arguments map[string]any) ([]byte, error) {
	result, err := c.Call(ctx, method, arguments)
	if err != nil {
		return nil, err
	}
	return protoutil.ValueJSON(result)
}

// StreamEvents subscribes to push events, optionally limited to the given
// types. The subscription is active once StreamEvents returns.
func (c *Client) StreamEvents(ctx context.Context, types ...event.Type) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(MethodStreamEvents))
	if err != nil {
		return nil, err
	}

	names := make([]any, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	req, err := structpb.NewStruct(map[string]any{"types": names})
	if err != nil {
		return nil, err
	}

	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	if _, err := stream.Header(); err != nil {
		return nil, FromStatus(err)
	}

	return &EventStream{stream: stream}, nil
}

type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks until the next push event arrives.
func (s *EventStream) Recv() (*event.Event, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, FromStatus(err)
	}

	payload, err := protoutil.ValueJSON(protoutil.StructField(msg, "payload"))
	if err != nil {
		return nil, err
	}

	return &event.Event{
		Type:    event.Type(protoutil.StructField(msg, "type").GetStringValue()),
		Epoch:   protoutil.StructField(msg, "epoch").GetStringValue(),
		Payload: payload,
	}, nil
}
