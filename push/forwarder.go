package push

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/iap-bridge/event"
	"github.com/code-payments/iap-bridge/iap"
)

const defaultSendTimeout = 10 * time.Second

// Forwarder relays purchase-updated events to the devices of the account the
// purchase was made for. Purchases without an obfuscated account id are
// skipped. Sends run off the event bus so the bus is never blocked.
type Forwarder struct {
	log         *zap.Logger
	pusher      Pusher
	sendTimeout time.Duration

	wg sync.WaitGroup
}

func NewForwarder(log *zap.Logger, pusher Pusher) *Forwarder {
	return &Forwarder{
		log:         log,
		pusher:      pusher,
		sendTimeout: defaultSendTimeout,
	}
}

func (f *Forwarder) OnEvent(t event.Type, e *event.Event) {
	if t != event.TypePurchaseUpdated {
		return
	}

	record, err := iap.UnmarshalPurchase(e.Payload)
	if err != nil {
		f.log.Warn("Failed to parse purchase event", zap.Error(err))
		return
	}
	if record.ObfuscatedAccountID == "" {
		f.log.Debug("Skipping push, purchase has no account", zap.String("transaction_id", record.ID))
		return
	}

	data := map[string]string{
		"type":    string(t),
		"payload": string(e.Payload),
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), f.sendTimeout)
		defer cancel()

		if err := f.pusher.SendData(ctx, record.ObfuscatedAccountID, data); err != nil {
			f.log.Warn("Failed to forward purchase",
				zap.String("transaction_id", record.ID),
				zap.String("account_id", record.ObfuscatedAccountID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every in-flight send has completed.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}
