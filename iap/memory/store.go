package memory

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/code-payments/iap-bridge/iap"
)

const subscriptionBufferSize = 64

// LaunchOutcome selects how the simulated purchase UI resolves.
type LaunchOutcome uint8

const (
	OutcomeSuccess LaunchOutcome = iota
	OutcomeUserCancelled
	OutcomePending
	OutcomeUnknown
	OutcomeLaunchFailure
)

// Store is an in-process simulation of a native billing client. On Android it
// behaves like Play Billing, delivering purchase results on the update stream;
// on iOS it behaves like StoreKit 2, returning results from LaunchPurchase.
type Store struct {
	platform iap.Platform

	mu sync.Mutex

	ready            bool
	connectErr       error
	paymentsDisabled bool

	products map[string]iap.NativeProduct

	owned      map[string]*ownedPurchase // by purchase token
	ownedOrder []string
	history    []*ownedPurchase
	unfinished map[string]struct{} // by transaction id

	subs        map[uint64]*subscription
	nextSubID   uint64
	totalSubs   int
	nextOrderID uint64

	signer        ed25519.PrivateKey
	launchOutcome LaunchOutcome
	launchResult  iap.BillingResult
	launches      []*iap.LaunchParams
	syncs         int
}

type ownedPurchase struct {
	productType  iap.ProductType
	purchase     iap.NativePurchase
	token        string
	transaction  string
	acknowledged bool
}

type subscription struct {
	mu     sync.Mutex
	ctx    context.Context
	closed bool
	ch     chan *iap.Update
}

// NewStore returns a simulated store for platform, which must be
// iap.PlatformAndroid or iap.PlatformIOS.
func NewStore(platform iap.Platform) *Store {
	return &Store{
		platform:    platform,
		products:    make(map[string]iap.NativeProduct),
		owned:       make(map[string]*ownedPurchase),
		unfinished:  make(map[string]struct{}),
		subs:        make(map[uint64]*subscription),
		nextOrderID: 1,
	}
}

func (s *Store) Platform() iap.Platform {
	return s.platform
}

// AddProduct seeds the simulated catalog.
func (s *Store) AddProduct(products ...iap.NativeProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range products {
		s.products[p.ID()] = p
	}
}

// SetSigner makes the store sign purchase tokens with key, in the format
// Verifier accepts.
func (s *Store) SetSigner(key ed25519.PrivateKey) {
	s.mu.Lock()
	s.signer = key
	s.mu.Unlock()
}

// SetPaymentsAllowed controls CanMakePayments, as a parental-control or
// device-management restriction would.
func (s *Store) SetPaymentsAllowed(allowed bool) {
	s.mu.Lock()
	s.paymentsDisabled = !allowed
	s.mu.Unlock()
}

func (s *Store) CanMakePayments(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.paymentsDisabled, nil
}

func (s *Store) SetConnectError(err error) {
	s.mu.Lock()
	s.connectErr = err
	s.mu.Unlock()
}

// SetLaunchOutcome controls subsequent LaunchPurchase calls. result is only
// used by OutcomeLaunchFailure.
func (s *Store) SetLaunchOutcome(outcome LaunchOutcome, result iap.BillingResult) {
	s.mu.Lock()
	s.launchOutcome = outcome
	s.launchResult = result
	s.mu.Unlock()
}

// Launches returns the parameters of every LaunchPurchase call so far.
func (s *Store) Launches() []*iap.LaunchParams {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.launches)
}

func (s *Store) ActiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.subs)
}

// TotalSubscriptions counts every Subscribe call that succeeded.
func (s *Store) TotalSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.totalSubs
}

func (s *Store) SyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.syncs
}

// IsFinished reports whether the transaction has no pending finish.
func (s *Store) IsFinished(transactionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, pending := s.unfinished[transactionID]
	return !pending
}

func (s *Store) IsAcknowledged(purchaseToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.owned[purchaseToken]
	return ok && p.acknowledged
}

func (s *Store) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connectErr != nil {
		return s.connectErr
	}
	s.ready = true
	return nil
}

func (s *Store) Disconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready = false
	return nil
}

func (s *Store) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ready
}

func (s *Store) Subscribe(ctx context.Context) (<-chan *iap.Update, error) {
	sub := &subscription{
		ctx: ctx,
		ch:  make(chan *iap.Update, subscriptionBufferSize),
	}

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.totalSubs++
	s.subs[id] = sub
	s.mu.Unlock()

	go func() {
		<-ctx.Done()

		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()

		sub.close()
	}()

	return sub.ch, nil
}

func (sub *subscription) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// DropConnection simulates the native client losing its service connection:
// the store stops being ready and every update stream closes.
func (s *Store) DropConnection() {
	s.mu.Lock()
	s.ready = false
	subs := make([]*subscription, 0, len(s.subs))
	for id, sub := range s.subs {
		subs = append(subs, sub)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// Deliver pushes an update to every open subscription, as the native update
// stream would.
func (s *Store) Deliver(update *iap.Update) {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		if !sub.closed {
			select {
			case sub.ch <- update:
			case <-sub.ctx.Done():
			}
		}
		sub.mu.Unlock()
	}
}

func (s *Store) QueryProducts(_ context.Context, productType iap.ProductType, productIDs []string) ([]iap.NativeProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil, iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseServiceDisconnected})
	}

	var result []iap.NativeProduct
	for _, id := range productIDs {
		p, ok := s.products[id]
		if !ok {
			continue
		}
		if s.platform == iap.PlatformAndroid && productTypeOf(p) != productType {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *Store) QueryPurchases(_ context.Context, productType iap.ProductType) ([]*iap.Verified, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil, iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseServiceDisconnected})
	}

	var result []*iap.Verified
	for _, token := range s.ownedOrder {
		p := s.owned[token]
		if p.productType != productType {
			continue
		}
		result = append(result, &iap.Verified{Purchase: s.snapshot(p)})
	}
	return result, nil
}

func (s *Store) QueryPurchaseHistory(_ context.Context, productType iap.ProductType) ([]*iap.Verified, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil, iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseServiceDisconnected})
	}

	var result []*iap.Verified
	for _, p := range s.history {
		if p.productType != productType {
			continue
		}
		result = append(result, &iap.Verified{Purchase: s.snapshot(p)})
	}
	return result, nil
}

func (s *Store) LaunchPurchase(_ context.Context, params *iap.LaunchParams) (*iap.LaunchResult, error) {
	s.mu.Lock()

	s.launches = append(s.launches, params)

	if !s.ready {
		s.mu.Unlock()
		return nil, iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseServiceDisconnected})
	}
	if params.Product == nil {
		s.mu.Unlock()
		return nil, iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseDeveloperError, DebugMessage: "missing product details"})
	}
	native, ok := s.products[params.Product.ProductID]
	if !ok {
		s.mu.Unlock()
		return nil, iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseItemUnavailable})
	}
	productType := productTypeOf(native)
	if s.platform == iap.PlatformAndroid && productType == iap.ProductTypeSubscription && params.OfferToken == "" {
		s.mu.Unlock()
		return nil, iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseDeveloperError, DebugMessage: "missing offer token"})
	}
	if params.ReplacementMode.RequiresPriorToken() {
		if _, owned := s.owned[params.OldPurchaseToken]; !owned {
			s.mu.Unlock()
			return nil, iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseDeveloperError, DebugMessage: "unknown old purchase token"})
		}
	}

	var (
		result *iap.LaunchResult
		update *iap.Update
	)
	switch s.launchOutcome {
	case OutcomeLaunchFailure:
		res := s.launchResult
		s.mu.Unlock()
		return nil, iap.ErrorFromResult(res)
	case OutcomeUserCancelled:
		if s.platform == iap.PlatformAndroid {
			result = &iap.LaunchResult{Status: iap.LaunchStatusLaunched}
			update = &iap.Update{Result: iap.BillingResult{ResponseCode: iap.ResponseUserCanceled}}
		} else {
			result = &iap.LaunchResult{Status: iap.LaunchStatusUserCancelled}
		}
	case OutcomeUnknown:
		result = &iap.LaunchResult{Status: iap.LaunchStatusUnknown}
	case OutcomePending:
		if s.platform == iap.PlatformAndroid {
			p := s.newPurchase(params, productType, true)
			result = &iap.LaunchResult{Status: iap.LaunchStatusLaunched}
			update = &iap.Update{Purchases: []*iap.Verified{{Purchase: s.snapshot(p)}}}
		} else {
			result = &iap.LaunchResult{Status: iap.LaunchStatusPending}
		}
	default:
		if params.ReplacementMode.RequiresPriorToken() {
			s.removeOwned(params.OldPurchaseToken)
		}
		p := s.newPurchase(params, productType, false)
		if s.platform == iap.PlatformAndroid {
			result = &iap.LaunchResult{Status: iap.LaunchStatusLaunched}
			update = &iap.Update{Purchases: []*iap.Verified{{Purchase: s.snapshot(p)}}}
		} else {
			result = &iap.LaunchResult{Status: iap.LaunchStatusPurchased, Purchase: &iap.Verified{Purchase: s.snapshot(p)}}
		}
	}
	s.mu.Unlock()

	if update != nil {
		s.Deliver(update)
	}
	return result, nil
}

// Grant records a purchase made outside the app, such as a renewal or a
// purchase on another device, and returns it. It is not delivered until the
// caller passes it to Deliver.
func (s *Store) Grant(productID string) (iap.NativePurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	native, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("unknown product %q", productID)
	}

	p := s.newPurchase(&iap.LaunchParams{Product: &iap.ProductDescriptor{ProductID: productID}}, productTypeOf(native), false)
	return s.snapshot(p), nil
}

func (s *Store) Acknowledge(_ context.Context, req *iap.TokenRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseServiceDisconnected})
	}

	p, ok := s.owned[req.PurchaseToken]
	if !ok {
		return iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseItemNotOwned})
	}
	if p.acknowledged {
		return iap.ErrAlreadyAcknowledged
	}
	p.acknowledged = true
	return nil
}

func (s *Store) Consume(_ context.Context, req *iap.TokenRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return "", iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseServiceDisconnected})
	}

	if _, ok := s.owned[req.PurchaseToken]; !ok {
		return "", iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseItemNotOwned})
	}
	s.removeOwned(req.PurchaseToken)
	return req.PurchaseToken, nil
}

func (s *Store) Finish(_ context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.unfinished[transactionID]; !ok {
		return iap.ErrTransactionNotFound
	}
	delete(s.unfinished, transactionID)
	return nil
}

func (s *Store) Sync(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseServiceDisconnected})
	}
	s.syncs++
	return nil
}

func (s *Store) newPurchase(params *iap.LaunchParams, productType iap.ProductType, pending bool) *ownedPurchase {
	seq := s.nextOrderID
	s.nextOrderID++

	productID := params.Product.ProductID
	token := s.newToken(productID, seq)
	now := time.Now()

	p := &ownedPurchase{
		productType: productType,
		token:       token,
	}

	switch s.platform {
	case iap.PlatformIOS:
		id := 2000000000000000 + seq
		p.transaction = fmt.Sprintf("%d", id)
		p.purchase = &iap.StoreKitTransaction{
			ID:                 id,
			OriginalID:         id,
			ProductID:          productID,
			PurchaseDate:       now,
			JSONRepresentation: []byte(fmt.Sprintf(`{"transactionId":"%d","productId":%q}`, id, productID)),
			JWSRepresentation:  token,
		}
		s.unfinished[p.transaction] = struct{}{}
	default:
		state := iap.PlayPurchaseStatePurchased
		var orderID string
		if pending {
			state = iap.PlayPurchaseStatePending
		} else {
			orderID = fmt.Sprintf("GPA.0000-0000-0000-%05d", seq)
		}
		p.transaction = orderID

		purchase := &iap.PlayPurchase{
			OrderID:        orderID,
			Products:       []string{productID},
			PurchaseTime:   now.UnixMilli(),
			PurchaseToken:  token,
			OriginalJSON:   fmt.Sprintf(`{"orderId":%q,"productId":%q,"purchaseToken":%q}`, orderID, productID, token),
			Signature:      base58.Encode([]byte(token)),
			PurchaseState:  state,
			IsAutoRenewing: productType == iap.ProductTypeSubscription,
			PackageName:    "com.example.memory",
		}
		if params.ObfuscatedAccountID != "" || params.ObfuscatedProfileID != "" {
			purchase.AccountIdentifiers = &iap.PlayAccountIdentifiers{
				ObfuscatedAccountID: params.ObfuscatedAccountID,
				ObfuscatedProfileID: params.ObfuscatedProfileID,
			}
		}
		p.purchase = purchase
	}

	s.owned[token] = p
	s.ownedOrder = append(s.ownedOrder, token)
	s.history = append(s.history, p)
	return p
}

func (s *Store) newToken(productID string, seq uint64) string {
	message := fmt.Sprintf("%s:%d:%s", productID, seq, uuid.NewString())
	if s.signer != nil {
		return GenerateValidReceipt(s.signer, message)
	}
	return base58.Encode([]byte(message))
}

func (s *Store) removeOwned(token string) {
	delete(s.owned, token)
	s.ownedOrder = slices.DeleteFunc(s.ownedOrder, func(t string) bool { return t == token })
}

// snapshot returns a copy of the native payload reflecting the current
// acknowledgement state.
func (s *Store) snapshot(p *ownedPurchase) iap.NativePurchase {
	switch native := p.purchase.(type) {
	case *iap.PlayPurchase:
		cloned := *native
		cloned.Products = slices.Clone(native.Products)
		cloned.IsAcknowledged = p.acknowledged
		if native.AccountIdentifiers != nil {
			ids := *native.AccountIdentifiers
			cloned.AccountIdentifiers = &ids
		}
		return &cloned
	case *iap.StoreKitTransaction:
		cloned := *native
		cloned.JSONRepresentation = slices.Clone(native.JSONRepresentation)
		return &cloned
	default:
		return native
	}
}

func productTypeOf(p iap.NativeProduct) iap.ProductType {
	switch native := p.(type) {
	case *iap.PlayProductDetails:
		return iap.ParseProductType(native.ProductType)
	case *iap.StoreKitProduct:
		if native.Type == "autoRenewable" {
			return iap.ProductTypeSubscription
		}
	}
	return iap.ProductTypeInApp
}

// reset restores the store to its initial state, keeping the platform.
func (s *Store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready = false
	s.connectErr = nil
	s.paymentsDisabled = false
	s.products = make(map[string]iap.NativeProduct)
	s.owned = make(map[string]*ownedPurchase)
	s.ownedOrder = nil
	s.history = nil
	s.unfinished = make(map[string]struct{})
	s.signer = nil
	s.launchOutcome = OutcomeSuccess
	s.launchResult = iap.BillingResult{}
	s.launches = nil
	s.syncs = 0
}
