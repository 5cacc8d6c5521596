package rpc

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/code-payments/iap-bridge/bridge"
	"github.com/code-payments/iap-bridge/event"
	"github.com/code-payments/iap-bridge/iap"
	"github.com/code-payments/iap-bridge/metrics"
	"github.com/code-payments/iap-bridge/model"
	"github.com/code-payments/iap-bridge/protoutil"
	"github.com/code-payments/iap-bridge/push"
)

const (
	defaultStreamBufferSize = 64
	defaultStreamTimeout    = time.Second
)

type commandFunc func(ctx context.Context, a args) (any, error)

type Server struct {
	log     *zap.Logger
	bridge  *bridge.Bridge
	metrics *metrics.Metrics
	tokens  push.TokenStore

	streamBufferSize int
	streamTimeout    time.Duration

	commands map[string]commandFunc
}

type ServerOption func(*Server)

// WithStreamBuffer bounds each event subscriber's buffer. A subscriber that
// cannot accept an event within timeout is disconnected.
func WithStreamBuffer(size int, timeout time.Duration) ServerOption {
	return func(s *Server) {
		if size > 0 {
			s.streamBufferSize = size
		}
		if timeout > 0 {
			s.streamTimeout = timeout
		}
	}
}

func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithPushTokens enables device token registration for purchase forwarding.
func WithPushTokens(tokens push.TokenStore) ServerOption {
	return func(s *Server) {
		s.tokens = tokens
	}
}

func NewServer(log *zap.Logger, b *bridge.Bridge, opts ...ServerOption) *Server {
	s := &Server{
		log:              log,
		bridge:           b,
		streamBufferSize: defaultStreamBufferSize,
		streamTimeout:    defaultStreamTimeout,
	}
	for _, o := range opts {
		o(s)
	}

	s.commands = map[string]commandFunc{
		MethodInitConnection:        s.initConnection,
		MethodEndConnection:         s.endConnection,
		MethodIsReady:               s.isReady,
		MethodCanMakePayments:       s.canMakePayments,
		MethodGetStore:              s.getStore,
		MethodGetProducts:           s.getProducts,
		MethodGetSubscriptions:      s.getSubscriptions,
		MethodGetAvailableItems:     s.getAvailableItems,
		MethodGetPurchaseHistory:    s.getPurchaseHistory,
		MethodBuyProduct:            s.buyProduct,
		MethodAcknowledgePurchase:   s.acknowledgePurchase,
		MethodConsumeProduct:        s.consumeProduct,
		MethodFinishTransaction:     s.finishTransaction,
		MethodRestorePurchases:      s.restorePurchases,
		MethodClearTransactionCache: s.clearTransactionCache,
		MethodAddPushToken:          s.addPushToken,
		MethodDeletePushToken:       s.deletePushToken,
	}
	return s
}

func (s *Server) Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	command, ok := s.commands[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}

	log := s.log.With(zap.String("method", method))

	result, err := command(ctx, newArgs(req))
	if err != nil {
		log.Debug("Command failed", zap.Error(err))
		return nil, toStatus(err)
	}

	value, err := protoutil.ToValue(result)
	if err != nil {
		log.Warn("Failed to encode result", zap.Error(err))
		return nil, status.Error(codes.Internal, string(iap.CodeParseError)+": failed to encode result")
	}

	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"result": value,
		},
	}, nil
}

func (s *Server) StreamEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()

	var types []event.Type
	names, err := newArgs(req).strings("types")
	if err != nil {
		return toStatus(err)
	}
	for _, name := range names {
		types = append(types, event.Type(name))
	}

	streamID := model.GenerateStreamID()
	log := s.log.With(zap.String("stream_id", streamID))

	ss := event.NewChannelStream[*event.Event, *event.Event](
		streamID,
		s.streamBufferSize,
		func(e *event.Event) (*event.Event, bool) {
			if len(types) > 0 && !slices.Contains(types, e.Type) {
				return nil, false
			}
			return e.Clone(), true
		},
	)
	defer ss.Close()

	remove := s.bridge.Events().AddHandler(event.HandlerFunc[event.Type, *event.Event](func(_ event.Type, e *event.Event) {
		if err := ss.Notify(e, s.streamTimeout); err != nil {
			log.Info("Failed to notify event stream", zap.Error(err), zap.String("type", string(e.Type)))
			s.metrics.EventDropped(metrics.DropSlowConsumer)
		}
	}))
	defer remove()

	// Tell the client the subscription is in place.
	if err := stream.SendHeader(metadata.Pairs("stream-id", streamID)); err != nil {
		return err
	}

	log.Debug("Event stream opened")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Event stream closed by client")
			return nil
		case e, ok := <-ss.Channel():
			if !ok {
				log.Info("Event stream closed, consumer too slow")
				return status.Error(codes.ResourceExhausted, "event stream closed, consumer too slow")
			}

			msg, err := eventMessage(e)
			if err != nil {
				log.Warn("Failed to encode event", zap.Error(err))
				s.metrics.EventDropped(metrics.DropParse)
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				log.Debug("Failed to send event", zap.Error(err))
				return err
			}
		}
	}
}

func eventMessage(e *event.Event) (*structpb.Struct, error) {
	payload, err := protoutil.JSONValue(e.Payload)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"type":    structpb.NewStringValue(string(e.Type)),
			"epoch":   structpb.NewStringValue(e.Epoch),
			"payload": payload,
		},
	}, nil
}

func (s *Server) initConnection(ctx context.Context, _ args) (any, error) {
	return s.bridge.InitConnection(ctx)
}

func (s *Server) endConnection(ctx context.Context, _ args) (any, error) {
	return s.bridge.EndConnection(ctx)
}

func (s *Server) isReady(_ context.Context, _ args) (any, error) {
	return s.bridge.IsReady(), nil
}

func (s *Server) canMakePayments(ctx context.Context, _ args) (any, error) {
	return s.bridge.CanMakePayments(ctx)
}

func (s *Server) getStore(_ context.Context, _ args) (any, error) {
	return string(s.bridge.GetStore()), nil
}

func (s *Server) getProducts(ctx context.Context, a args) (any, error) {
	ids, err := a.strings("productIds", "skus")
	if err != nil {
		return nil, err
	}
	products, err := s.bridge.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	return marshalProducts(products)
}

func (s *Server) getSubscriptions(ctx context.Context, a args) (any, error) {
	ids, err := a.strings("productIds", "skus")
	if err != nil {
		return nil, err
	}
	products, err := s.bridge.GetSubscriptions(ctx, ids)
	if err != nil {
		return nil, err
	}
	return marshalProducts(products)
}

func (s *Server) getAvailableItems(ctx context.Context, a args) (any, error) {
	productType, err := a.productType("type")
	if err != nil {
		return nil, err
	}
	records, err := s.bridge.GetAvailableItems(ctx, productType)
	if err != nil {
		return nil, err
	}
	return marshalPurchases(records)
}

func (s *Server) getPurchaseHistory(ctx context.Context, a args) (any, error) {
	productType, err := a.productType("type")
	if err != nil {
		return nil, err
	}
	records, err := s.bridge.GetPurchaseHistory(ctx, productType)
	if err != nil {
		return nil, err
	}
	return marshalPurchases(records)
}

type buyAck struct {
	State    string          `json:"state"`
	Purchase json.RawMessage `json:"purchase,omitempty"`
}

func (s *Server) buyProduct(ctx context.Context, a args) (any, error) {
	req, err := buyRequest(a)
	if err != nil {
		return nil, err
	}

	attempt, err := s.bridge.BuyProduct(ctx, req)
	if err != nil {
		return nil, err
	}

	ack := &buyAck{State: attempt.State.String()}
	if attempt.Purchase != nil {
		ack.Purchase, err = iap.MarshalPurchase(attempt.Purchase)
		if err != nil {
			return nil, err
		}
	}
	return ack, nil
}

func buyRequest(a args) (*bridge.BuyRequest, error) {
	req := &bridge.BuyRequest{}

	var err error
	if req.ProductID, err = a.str("productId", "sku"); err != nil {
		return nil, err
	}
	if req.Type, err = a.productType("type"); err != nil {
		return nil, err
	}
	if req.PurchaseToken, err = a.str("purchaseToken"); err != nil {
		return nil, err
	}
	if req.ObfuscatedAccountID, err = a.str("obfuscatedAccountId", "obfuscatedAccountIdAndroid"); err != nil {
		return nil, err
	}
	if req.ObfuscatedProfileID, err = a.str("obfuscatedProfileId", "obfuscatedProfileIdAndroid"); err != nil {
		return nil, err
	}

	mode, err := a.integer("replacementMode", "prorationMode")
	if err != nil {
		return nil, err
	}
	if mode != nil {
		req.ReplacementMode = iap.ReplacementMode(*mode)
	}

	if req.OfferTokenIndex, err = a.integer("offerTokenIndex"); err != nil {
		return nil, err
	}
	return req, nil
}

func tokenRequest(a args) (*iap.TokenRequest, error) {
	req := &iap.TokenRequest{}

	var err error
	if req.PurchaseToken, err = a.str("purchaseToken"); err != nil {
		return nil, err
	}
	if req.ProductID, err = a.str("productId", "sku"); err != nil {
		return nil, err
	}
	if req.ProductType, err = a.productType("type"); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Server) acknowledgePurchase(ctx context.Context, a args) (any, error) {
	req, err := tokenRequest(a)
	if err != nil {
		return nil, err
	}
	return s.bridge.AcknowledgePurchase(ctx, req)
}

func (s *Server) consumeProduct(ctx context.Context, a args) (any, error) {
	req, err := tokenRequest(a)
	if err != nil {
		return nil, err
	}
	return s.bridge.ConsumeProduct(ctx, req)
}

func (s *Server) finishTransaction(ctx context.Context, a args) (any, error) {
	id, err := a.str("transactionId", "transactionIdentifier")
	if err != nil {
		return nil, err
	}
	if err := s.bridge.FinishTransaction(ctx, id); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) restorePurchases(ctx context.Context, _ args) (any, error) {
	if err := s.bridge.RestorePurchases(ctx); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) clearTransactionCache(_ context.Context, _ args) (any, error) {
	if err := s.bridge.ClearTransactionCache(); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) addPushToken(ctx context.Context, a args) (any, error) {
	if s.tokens == nil {
		return nil, status.Error(codes.Unimplemented, "push forwarding is not enabled")
	}

	accountID, err := a.str("accountId", "obfuscatedAccountIdAndroid")
	if err != nil {
		return nil, err
	}
	installID, err := a.str("installId")
	if err != nil {
		return nil, err
	}
	token, err := a.str("token")
	if err != nil {
		return nil, err
	}
	if accountID == "" || installID == "" || token == "" {
		return nil, iap.NewValidationError(iap.CodeDeveloperError, "accountId, installId and token are required")
	}

	if err := s.tokens.AddToken(ctx, accountID, installID, token); err != nil {
		s.log.Warn("Failed to add push token", zap.String("account_id", accountID), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to add push token")
	}
	return true, nil
}

func (s *Server) deletePushToken(ctx context.Context, a args) (any, error) {
	if s.tokens == nil {
		return nil, status.Error(codes.Unimplemented, "push forwarding is not enabled")
	}

	token, err := a.str("token")
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, iap.NewValidationError(iap.CodeDeveloperError, "token is required")
	}

	if err := s.tokens.DeleteToken(ctx, token); err != nil {
		s.log.Warn("Failed to delete push token", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to delete push token")
	}
	return true, nil
}

func marshalProducts(products []*iap.ProductDescriptor) ([]json.RawMessage, error) {
	result := make([]json.RawMessage, 0, len(products))
	for _, p := range products {
		data, err := iap.MarshalProduct(p)
		if err != nil {
			return nil, err
		}
		result = append(result, data)
	}
	return result, nil
}

func marshalPurchases(records []*iap.PurchaseRecord) ([]json.RawMessage, error) {
	result := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		data, err := iap.MarshalPurchase(r)
		if err != nil {
			return nil, err
		}
		result = append(result, data)
	}
	return result, nil
}
