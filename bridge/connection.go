package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/code-payments/iap-bridge/catalog"
	"github.com/code-payments/iap-bridge/dedup"
	"github.com/code-payments/iap-bridge/event"
	"github.com/code-payments/iap-bridge/iap"
	"github.com/code-payments/iap-bridge/model"
)

const (
	MessageReady          = "Billing client ready"
	MessageAlreadyStarted = "Already started. Call endConnection method if you want to start over."
	MessageEnded          = "Billing client has ended."
	MessageAlreadyEnded   = "Already ended."

	messageEmptyDelivery = "purchases returns null."
)

// InitConnection connects to the native store and starts the purchase-update
// listener. Calling it while a connection exists is a successful no-op that
// returns MessageAlreadyStarted.
func (b *Bridge) InitConnection(ctx context.Context) (string, error) {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	b.mu.Lock()
	if b.state != StateDisconnected {
		b.mu.Unlock()
		return MessageAlreadyStarted, nil
	}
	b.state = StateConnecting
	b.mu.Unlock()

	err := b.store.Connect(ctx)
	b.metrics.NativeCall("connect", err)
	if err != nil {
		b.log.Warn("Failed to connect to store", zap.Error(err))
		b.setDisconnected()
		return "", nativeError(err, iap.CodeServiceError)
	}

	epoch, err := model.GenerateEpochID()
	if err != nil {
		b.setDisconnected()
		return "", err
	}

	// The listener outlives the request that started it.
	listenCtx, cancel := context.WithCancel(context.Background())
	updates, err := b.store.Subscribe(listenCtx)
	if err != nil {
		cancel()
		b.log.Warn("Failed to subscribe to purchase updates", zap.Error(err))
		if err := b.store.Disconnect(ctx); err != nil {
			b.log.Warn("Failed to disconnect from store", zap.Error(err))
		}
		b.setDisconnected()
		return "", nativeError(err, iap.CodeServiceError)
	}

	s := &session{
		epoch:   epoch,
		ctx:     listenCtx,
		cancel:  cancel,
		catalog: catalog.NewCache(b.catalogTTL),
		tracker: dedup.NewTracker(),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.state = StateConnected
	b.session = s
	b.mu.Unlock()

	go b.listen(s, updates)

	b.log.Info("Connected to store", zap.String("platform", string(b.store.Platform())), zap.String("epoch", epoch.String()))

	if payload, err := iap.MarshalConnectionPayload(true); err == nil {
		b.emit(s, event.TypeConnectionUpdated, payload)
	}
	return MessageReady, nil
}

// EndConnection stops the listener, discards the product catalog and the
// emitted transaction ids, and disconnects from the store. Calling it while
// disconnected returns MessageAlreadyEnded.
//
// Operations in flight against the ended connection complete, but any event
// they produce is dropped.
func (b *Bridge) EndConnection(ctx context.Context) (string, error) {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	b.mu.RLock()
	s := b.session
	b.mu.RUnlock()

	if s == nil || !b.detach(s) {
		return MessageAlreadyEnded, nil
	}

	s.cancel()
	<-s.done

	b.release(ctx, s)
	return MessageEnded, nil
}

// release discards the state of a detached session and disconnects from the
// store.
func (b *Bridge) release(ctx context.Context, s *session) {
	s.tracker.Reset()
	s.catalog.Close()

	err := b.store.Disconnect(ctx)
	b.metrics.NativeCall("disconnect", err)
	if err != nil {
		b.log.Warn("Failed to disconnect from store", zap.Error(err))
	}

	b.log.Info("Disconnected from store", zap.String("epoch", s.epoch.String()))

	if payload, err := iap.MarshalConnectionPayload(false); err == nil {
		b.publish(s.epoch, event.TypeConnectionUpdated, payload)
	}
}

// handleStreamClosed ends session s after its update stream closed without
// the bridge cancelling it, as when the native client loses its service
// connection.
func (b *Bridge) handleStreamClosed(s *session) {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.detach(s) {
		return
	}

	s.cancel()
	<-s.done

	b.release(context.Background(), s)
}

// IsReady reports whether the bridge is connected and the store is usable.
func (b *Bridge) IsReady() bool {
	return b.State() == StateConnected && b.store.IsReady()
}

// CanMakePayments reports whether the user may make payments. Stores without
// such a restriction report whether the bridge is ready.
func (b *Bridge) CanMakePayments(ctx context.Context) (bool, error) {
	checker, ok := b.store.(iap.PaymentsChecker)
	if !ok {
		return b.IsReady(), nil
	}

	allowed, err := checker.CanMakePayments(ctx)
	b.metrics.NativeCall("canMakePayments", err)
	if err != nil {
		b.log.Warn("Failed to check payment capability", zap.Error(err))
		return false, nativeError(err, iap.CodeServiceError)
	}
	return allowed, nil
}

// GetStore returns the platform of the native store.
func (b *Bridge) GetStore() iap.Platform {
	return b.store.Platform()
}

func (b *Bridge) setDisconnected() {
	b.mu.Lock()
	b.state = StateDisconnected
	b.mu.Unlock()
}

func (b *Bridge) listen(s *session, updates <-chan *iap.Update) {
	defer close(s.done)

	log := b.log.With(zap.String("epoch", s.epoch.String()))
	for {
		select {
		case <-s.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				if s.ctx.Err() != nil {
					return
				}
				log.Warn("Purchase update stream closed, ending connection")
				go b.handleStreamClosed(s)
				return
			}
			b.handleUpdate(s, update)
		}
	}
}

func (b *Bridge) handleUpdate(s *session, update *iap.Update) {
	if update == nil {
		return
	}

	if !update.Result.OK() {
		b.log.Debug(
			"Purchase update failed",
			zap.Int("response_code", int(update.Result.ResponseCode)),
			zap.String("debug_message", update.Result.DebugMessage),
		)
		b.emitError(s, iap.ErrorFromResult(update.Result), "")
		return
	}

	if len(update.Purchases) == 0 {
		result := update.Result
		b.emitError(s, &iap.Error{
			Kind:    iap.KindNative,
			Code:    iap.CodeUnknown,
			Message: messageEmptyDelivery,
			Result:  &result,
		}, "")
		return
	}

	for _, purchase := range update.Purchases {
		b.processPurchase(s.ctx, s, purchase)
	}
}

// nativeError returns err as an *iap.Error, wrapping errors that did not come
// from a billing response with the given code.
func nativeError(err error, code iap.Code) *iap.Error {
	if e, ok := iap.AsError(err); ok {
		return e
	}
	return iap.NewNativeError(code, err.Error())
}
