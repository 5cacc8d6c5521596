package android

import (
	"context"
	"errors"
	"net/http"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/code-payments/iap-bridge/iap"
)

const defaultRegion = "US"

// NewService creates a Google Play Developer API client from the contents of a
// service account JSON file. Additional options are appended after the
// credentials.
func NewService(ctx context.Context, serviceAccountJSON []byte, opts ...option.ClientOption) (*androidpublisher.Service, error) {
	opts = append([]option.ClientOption{option.WithCredentialsJSON(serviceAccountJSON)}, opts...)
	svc, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create android publisher client")
	}
	return svc, nil
}

// Store serves the catalog and the acknowledge/consume operations from the
// Google Play Developer API. It has no purchase UI and no real-time update
// stream, so launching purchases and listing a user's purchases are not
// supported.
type Store struct {
	log         *zap.Logger
	svc         *androidpublisher.Service
	packageName string
	region      string

	mu    sync.Mutex
	ready bool
}

// NewStore returns a Play Developer API store for packageName. Subscription
// prices are taken from the base plan's configuration for region, which
// defaults to US.
func NewStore(log *zap.Logger, svc *androidpublisher.Service, packageName, region string) *Store {
	if region == "" {
		region = defaultRegion
	}
	return &Store{
		log:         log,
		svc:         svc,
		packageName: packageName,
		region:      region,
	}
}

func (s *Store) Platform() iap.Platform {
	return iap.PlatformAndroid
}

func (s *Store) Connect(_ context.Context) error {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Disconnect(_ context.Context) error {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	return nil
}

func (s *Store) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ready
}

// Subscribe returns a stream that never delivers and closes with ctx.
func (s *Store) Subscribe(ctx context.Context) (<-chan *iap.Update, error) {
	ch := make(chan *iap.Update)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *Store) QueryProducts(ctx context.Context, productType iap.ProductType, productIDs []string) ([]iap.NativeProduct, error) {
	var result []iap.NativeProduct
	for _, productID := range productIDs {
		log := s.log.With(zap.String("product_id", productID))

		var (
			product iap.NativeProduct
			err     error
		)
		if productType == iap.ProductTypeSubscription {
			product, err = s.getSubscription(ctx, productID)
		} else {
			product, err = s.getInAppProduct(ctx, productID)
		}
		if isNotFound(err) {
			log.Debug("Product not found in Play Console")
			continue
		} else if err != nil {
			log.Warn("Failed to get product", zap.Error(err))
			return nil, toNativeError(err)
		}

		result = append(result, product)
	}
	return result, nil
}

func (s *Store) getInAppProduct(ctx context.Context, sku string) (*iap.PlayProductDetails, error) {
	p, err := s.svc.Inappproducts.Get(s.packageName, sku).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	details := &iap.PlayProductDetails{
		ProductID:   p.Sku,
		ProductType: string(iap.ProductTypeInApp),
	}
	if listing, ok := p.Listings[p.DefaultLanguage]; ok {
		details.Title = listing.Title
		details.Name = listing.Title
		details.Description = listing.Description
	}

	if p.DefaultPrice != nil {
		micros, err := decimal.NewFromString(p.DefaultPrice.PriceMicros)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "invalid price micros for %s", sku)
		}
		details.OneTimePurchaseOfferDetails = &iap.PlayOneTimeOffer{
			PriceAmountMicros: micros.IntPart(),
			PriceCurrencyCode: p.DefaultPrice.Currency,
			FormattedPrice:    formatPrice(p.DefaultPrice.Currency, iap.MicrosToPrice(micros.IntPart())),
		}
	}

	return details, nil
}

func (s *Store) getSubscription(ctx context.Context, productID string) (*iap.PlayProductDetails, error) {
	sub, err := s.svc.Monetization.Subscriptions.Get(s.packageName, productID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	details := &iap.PlayProductDetails{
		ProductID:   sub.ProductId,
		ProductType: string(iap.ProductTypeSubscription),
	}
	if len(sub.Listings) > 0 {
		details.Title = sub.Listings[0].Title
		details.Name = sub.Listings[0].Title
		details.Description = sub.Listings[0].Description
	}

	for _, plan := range sub.BasePlans {
		if plan.State != "" && plan.State != "ACTIVE" {
			continue
		}

		offer := &iap.PlaySubscriptionOffer{
			BasePlanID: plan.BasePlanId,
			// Server-side there is no client offer token; the base plan id
			// identifies the offer.
			OfferToken: plan.BasePlanId,
		}

		period := ""
		if plan.AutoRenewingBasePlanType != nil {
			period = plan.AutoRenewingBasePlanType.BillingPeriodDuration
		}
		for _, config := range plan.RegionalConfigs {
			if config.RegionCode != s.region || config.Price == nil {
				continue
			}

			micros := config.Price.Units*1_000_000 + config.Price.Nanos/1_000
			offer.PricingPhases = append(offer.PricingPhases, &iap.PlayPricingPhase{
				FormattedPrice:    formatPrice(config.Price.CurrencyCode, iap.MicrosToPrice(micros)),
				PriceCurrencyCode: config.Price.CurrencyCode,
				BillingPeriod:     period,
				PriceAmountMicros: micros,
				RecurrenceMode:    1,
			})
		}

		details.SubscriptionOfferDetails = append(details.SubscriptionOfferDetails, offer)
	}

	return details, nil
}

func (s *Store) QueryPurchases(_ context.Context, _ iap.ProductType) ([]*iap.Verified, error) {
	return nil, iap.ErrUnsupported
}

func (s *Store) QueryPurchaseHistory(_ context.Context, _ iap.ProductType) ([]*iap.Verified, error) {
	return nil, iap.ErrUnsupported
}

func (s *Store) LaunchPurchase(_ context.Context, _ *iap.LaunchParams) (*iap.LaunchResult, error) {
	return nil, iap.ErrUnsupported
}

func (s *Store) Acknowledge(ctx context.Context, req *iap.TokenRequest) error {
	if req.ProductID == "" {
		return iap.NewValidationError(iap.CodeDeveloperError, "productId is required to acknowledge a purchase")
	}

	log := s.log.With(zap.String("product_id", req.ProductID))

	if req.ProductType == iap.ProductTypeSubscription {
		purchase, err := s.svc.Purchases.Subscriptionsv2.Get(s.packageName, req.PurchaseToken).Context(ctx).Do()
		if err != nil {
			log.Warn("Failed to get subscription purchase", zap.Error(err))
			return toNativeError(err)
		}
		if purchase.AcknowledgementState == "ACKNOWLEDGEMENT_STATE_ACKNOWLEDGED" {
			return iap.ErrAlreadyAcknowledged
		}

		err = s.svc.Purchases.Subscriptions.Acknowledge(s.packageName, req.ProductID, req.PurchaseToken, &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}).Context(ctx).Do()
		if err != nil {
			log.Warn("Failed to acknowledge subscription", zap.Error(err))
			return toNativeError(err)
		}
		return nil
	}

	purchase, err := s.svc.Purchases.Products.Get(s.packageName, req.ProductID, req.PurchaseToken).Context(ctx).Do()
	if err != nil {
		log.Warn("Failed to get product purchase", zap.Error(err))
		return toNativeError(err)
	}
	if purchase.AcknowledgementState == 1 {
		return iap.ErrAlreadyAcknowledged
	}

	err = s.svc.Purchases.Products.Acknowledge(s.packageName, req.ProductID, req.PurchaseToken, &androidpublisher.ProductPurchasesAcknowledgeRequest{}).Context(ctx).Do()
	if err != nil {
		log.Warn("Failed to acknowledge product", zap.Error(err))
		return toNativeError(err)
	}
	return nil
}

func (s *Store) Consume(ctx context.Context, req *iap.TokenRequest) (string, error) {
	if req.ProductID == "" {
		return "", iap.NewValidationError(iap.CodeDeveloperError, "productId is required to consume a purchase")
	}

	err := s.svc.Purchases.Products.Consume(s.packageName, req.ProductID, req.PurchaseToken).Context(ctx).Do()
	if err != nil {
		s.log.Warn("Failed to consume product", zap.Error(err), zap.String("product_id", req.ProductID))
		return "", toNativeError(err)
	}
	return req.PurchaseToken, nil
}

// Finish is a no-op: Play has no pending-transaction queue.
func (s *Store) Finish(_ context.Context, _ string) error {
	return nil
}

// Sync is a no-op: the Developer API is always current.
func (s *Store) Sync(_ context.Context) error {
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// toNativeError maps a Developer API failure to the billing response a client
// would have seen for the same condition.
func toNativeError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseServiceUnavailable, DebugMessage: err.Error()})
	}

	code := iap.ResponseError
	switch {
	case apiErr.Code == http.StatusNotFound:
		code = iap.ResponseItemNotOwned
	case apiErr.Code == http.StatusBadRequest:
		code = iap.ResponseDeveloperError
	case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
		code = iap.ResponseBillingUnavailable
	case apiErr.Code >= http.StatusInternalServerError:
		code = iap.ResponseServiceUnavailable
	}
	return iap.ErrorFromResult(iap.BillingResult{ResponseCode: code, DebugMessage: apiErr.Message})
}

func formatPrice(code string, price decimal.Decimal) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return price.StringFixed(2) + " " + code
	}

	amount, _ := price.Float64()
	return message.NewPrinter(language.AmericanEnglish).Sprint(currency.Symbol(unit.Amount(amount)))
}
