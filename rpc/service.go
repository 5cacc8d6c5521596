package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "iapbridge.v1.Bridge"

// Command methods. Requests and responses are google.protobuf.Struct.
const (
	MethodInitConnection        = "initConnection"
	MethodEndConnection         = "endConnection"
	MethodIsReady               = "isReady"
	MethodCanMakePayments       = "canMakePayments"
	MethodGetStore              = "getStore"
	MethodGetProducts           = "getProducts"
	MethodGetSubscriptions      = "getSubscriptions"
	MethodGetAvailableItems     = "getAvailableItems"
	MethodGetPurchaseHistory    = "getPurchaseHistory"
	MethodBuyProduct            = "buyProduct"
	MethodAcknowledgePurchase   = "acknowledgePurchase"
	MethodConsumeProduct        = "consumeProduct"
	MethodFinishTransaction     = "finishTransaction"
	MethodRestorePurchases      = "restorePurchases"
	MethodClearTransactionCache = "clearTransactionCache"

	MethodAddPushToken    = "addPushToken"
	MethodDeletePushToken = "deletePushToken"

	MethodStreamEvents = "streamEvents"
)

var commandMethods = []string{
	MethodInitConnection,
	MethodEndConnection,
	MethodIsReady,
	MethodCanMakePayments,
	MethodGetStore,
	MethodGetProducts,
	MethodGetSubscriptions,
	MethodGetAvailableItems,
	MethodGetPurchaseHistory,
	MethodBuyProduct,
	MethodAcknowledgePurchase,
	MethodConsumeProduct,
	MethodFinishTransaction,
	MethodRestorePurchases,
	MethodClearTransactionCache,
	MethodAddPushToken,
	MethodDeletePushToken,
}

// BridgeServer is the server API for the iapbridge.v1.Bridge service.
type BridgeServer interface {
	// Call executes the named command.
	Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)

	// StreamEvents sends push events to the caller until its context ends.
	StreamEvents(req *structpb.Struct, stream grpc.ServerStream) error
}

// ServiceDesc is the grpc.ServiceDesc for the iapbridge.v1.Bridge service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods:     methodDescs(),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodStreamEvents,
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "iapbridge/v1/bridge.proto",
}

func RegisterBridgeServer(s grpc.ServiceRegistrar, srv BridgeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the gRPC method path of a command.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func methodDescs() []grpc.MethodDesc {
	descs := make([]grpc.MethodDesc, 0, len(commandMethods))
	for _, method := range commandMethods {
		descs = append(descs, grpc.MethodDesc{
			MethodName: method,
			Handler:    unaryHandler(method),
		})
	}
	return descs
}

func unaryHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}

		call := func(ctx context.Context, req any) (any, error) {
			return srv.(BridgeServer).Call(ctx, method, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return call(ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}
		return interceptor(ctx, in, info, call)
	}
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BridgeServer).StreamEvents(in, stream)
}
