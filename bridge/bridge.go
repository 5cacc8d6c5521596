package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/iap-bridge/catalog"
	"github.com/code-payments/iap-bridge/dedup"
	"github.com/code-payments/iap-bridge/event"
	"github.com/code-payments/iap-bridge/iap"
	"github.com/code-payments/iap-bridge/metrics"
	"github.com/code-payments/iap-bridge/model"
)

// EventBus carries push events from the bridge to the application.
type EventBus = event.Bus[event.Type, *event.Event]

// ConnectionState is the lifecycle state of the native connection.
type ConnectionState uint8

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Option func(*Bridge)

// WithVerifier drops purchases whose token the verifier rejects.
func WithVerifier(v iap.Verifier) Option {
	return func(b *Bridge) {
		b.verifier = v
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithCatalogTTL expires cached products ttl after they were fetched.
func WithCatalogTTL(ttl time.Duration) Option {
	return func(b *Bridge) {
		b.catalogTTL = ttl
	}
}

// WithClock overrides the time source used to classify expired purchases.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		b.now = now
	}
}

// Bridge owns the connection to a native store and exposes the unified
// command surface. Push events are published on the bus.
//
// All connection-scoped state (product catalog, emitted transaction ids,
// listener) lives in a session created by InitConnection and destroyed by
// EndConnection.
type Bridge struct {
	log      *zap.Logger
	store    iap.Store
	verifier iap.Verifier
	events   *EventBus
	metrics  *metrics.Metrics

	catalogTTL time.Duration
	now        func() time.Time

	// Serializes InitConnection, EndConnection and teardown after a native
	// disconnect.
	lifecycleMu sync.Mutex

	// Held for reading while a session event is published and for writing
	// while a session is detached, so no event of an epoch follows its
	// connection-updated {connected:false}.
	publishMu sync.RWMutex

	mu      sync.RWMutex
	state   ConnectionState
	session *session
}

// session is the state of one connection epoch.
type session struct {
	epoch   model.EpochID
	ctx     context.Context
	cancel  context.CancelFunc
	catalog *catalog.Cache
	tracker *dedup.Tracker
	done    chan struct{}
}

func New(log *zap.Logger, store iap.Store, events *EventBus, opts ...Option) *Bridge {
	b := &Bridge{
		log:    log,
		store:  store,
		events: events,
		now:    time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Events returns the bus push events are published on.
func (b *Bridge) Events() *EventBus {
	return b.events
}

func (b *Bridge) State() ConnectionState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.state
}

// current returns the active session, or E_NOT_PREPARED.
func (b *Bridge) current() (*session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.state != StateConnected || b.session == nil {
		return nil, iap.NewValidationError(iap.CodeNotPrepared, "IAP not prepared. Please call initConnection first.")
	}
	return b.session, nil
}

func (b *Bridge) isCurrent(s *session) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.session == s
}

// detach removes s as the active session. It reports false if s was not the
// active session.
func (b *Bridge) detach(s *session) bool {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != s {
		return false
	}
	b.session = nil
	b.state = StateDisconnected
	return true
}

// emit publishes an event for session s. Events belonging to an epoch that
// has since been torn down are dropped.
func (b *Bridge) emit(s *session, eventType event.Type, payload []byte) {
	b.publishMu.RLock()
	defer b.publishMu.RUnlock()

	if !b.isCurrent(s) {
		b.log.Debug("Dropping event for ended connection", zap.String("type", string(eventType)), zap.String("epoch", s.epoch.String()))
		b.metrics.EventDropped(metrics.DropStaleEpoch)
		return
	}
	b.publish(s.epoch, eventType, payload)
}

func (b *Bridge) publish(epoch model.EpochID, eventType event.Type, payload []byte) {
	e := &event.Event{
		Type:      eventType,
		Epoch:     epoch.String(),
		Payload:   payload,
		Timestamp: b.now(),
	}

	if err := b.events.OnEvent(eventType, e); errors.Is(err, event.ErrNoHandlers) {
		b.log.Debug("No application channel registered, dropping event", zap.String("type", string(eventType)))
		b.metrics.EventDropped(metrics.DropNoHandler)
		return
	}
	b.metrics.EventEmitted(string(eventType))
}

// emitError pushes a purchase-error event for err.
func (b *Bridge) emitError(s *session, err error, productID string) {
	payload, marshalErr := iap.MarshalErrorPayload(iap.NewErrorPayload(err, productID))
	if marshalErr != nil {
		b.log.Warn("Failed to serialize purchase error", zap.Error(marshalErr))
		b.metrics.EventDropped(metrics.DropParse)
		return
	}
	b.emit(s, event.TypePurchaseError, payload)
}

// processPurchase normalizes, verifies and deduplicates a purchase and emits
// it as purchase-updated. The emitted record is returned, or nil if the
// purchase was dropped.
func (b *Bridge) processPurchase(ctx context.Context, s *session, v *iap.Verified) *iap.PurchaseRecord {
	log := b.log.With(zap.String("epoch", s.epoch.String()))

	if v == nil || v.Purchase == nil {
		log.Warn("Dropping empty purchase")
		b.metrics.EventDropped(metrics.DropParse)
		return nil
	}
	if v.Err != nil {
		log.Warn("Dropping unverified transaction", zap.Error(v.Err))
		b.metrics.EventDropped(metrics.DropUnverified)
		return nil
	}

	record, err := iap.NormalizePurchase(v.Purchase, b.store.Platform(), b.now())
	if err != nil {
		log.Warn("Failed to normalize purchase", zap.Error(err))
		b.metrics.EventDropped(metrics.DropParse)
		return nil
	}

	log = log.With(
		zap.String("transaction_id", record.ID),
		zap.String("product_id", record.ProductID),
	)

	if b.verifier != nil {
		valid, err := b.verifier.VerifyPurchase(ctx, record)
		if err != nil {
			log.Warn("Failed to verify purchase", zap.Error(err))
			b.metrics.EventDropped(metrics.DropUnverified)
			return nil
		}
		if !valid {
			log.Warn("Dropping purchase with invalid token")
			b.metrics.EventDropped(metrics.DropUnverified)
			return nil
		}
	}

	key := record.DedupKey()
	if !s.tracker.ShouldEmit(key) {
		log.Debug("Dropping duplicate purchase")
		b.metrics.EventDropped(metrics.DropDuplicate)
		return nil
	}

	payload, err := iap.MarshalPurchase(record)
	if err != nil {
		// Let a redelivery of the same transaction try again.
		s.tracker.Forget(key)
		log.Warn("Failed to serialize purchase", zap.Error(err))
		b.metrics.EventDropped(metrics.DropParse)
		return nil
	}

	b.emit(s, event.TypePurchaseUpdated, payload)
	return record
}
