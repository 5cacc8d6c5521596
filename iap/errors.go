package iap

import (
	"errors"
	"fmt"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyAcknowledged = errors.New("purchase already acknowledged")
	ErrUnsupported         = errors.New("operation not supported by store")
	ErrVerificationFailed  = errors.New("payload verification failed")
)

// Code is the wire error code surfaced to the application.
type Code string

const (
	CodeProductNotFound   Code = "E_PRODUCT_NOT_FOUND"
	CodeNotPrepared       Code = "E_NOT_PREPARED"
	CodeDeveloperError    Code = "E_DEVELOPER_ERROR"
	CodeUserCancelled     Code = "E_USER_CANCELLED"
	CodeDeferredPayment   Code = "E_DEFERRED_PAYMENT"
	CodePending           Code = "E_PENDING"
	CodeItemUnavailable   Code = "E_ITEM_UNAVAILABLE"
	CodeAlreadyOwned      Code = "E_ALREADY_OWNED"
	CodeNotOwned          Code = "E_NOT_OWNED"
	CodeServiceError      Code = "E_SERVICE_ERROR"
	CodeNetworkError      Code = "E_NETWORK_ERROR"
	CodeParseError        Code = "E_BILLING_RESPONSE_JSON_PARSE_ERROR"
	CodePurchaseFailed    Code = "E_PURCHASE_FAILED"
	CodeRestoreFailed     Code = "E_RESTORE_FAILED"
	CodeProductLoadFailed Code = "E_PRODUCT_LOAD_FAILED"
	CodeUnknown           Code = "E_UNKNOWN"
)

// ErrorKind classifies an Error for transport mapping and retry decisions.
// Nothing in this module retries.
type ErrorKind uint8

const (
	KindNative ErrorKind = iota
	KindValidation
	KindVerification
	KindParse
)

// ResponseCode is a Google Play BillingResponseCode. StoreKit failures are
// reported with ResponseError.
type ResponseCode int

const (
	ResponseServiceTimeout      ResponseCode = -3
	ResponseFeatureNotSupported ResponseCode = -2
	ResponseServiceDisconnected ResponseCode = -1
	ResponseOK                  ResponseCode = 0
	ResponseUserCanceled        ResponseCode = 1
	ResponseServiceUnavailable  ResponseCode = 2
	ResponseBillingUnavailable  ResponseCode = 3
	ResponseItemUnavailable     ResponseCode = 4
	ResponseDeveloperError      ResponseCode = 5
	ResponseError               ResponseCode = 6
	ResponseItemAlreadyOwned    ResponseCode = 7
	ResponseItemNotOwned        ResponseCode = 8
	ResponseNetworkError        ResponseCode = 12
)

// BillingResult is a native store's response to a call or delivery.
type BillingResult struct {
	ResponseCode ResponseCode
	DebugMessage string
}

func (r BillingResult) OK() bool {
	return r.ResponseCode == ResponseOK
}

// Error is a failure the bridge reports to the application, either as a
// synchronous command error or as a purchase-error push event.
type Error struct {
	Kind      ErrorKind
	Code      Code
	Message   string
	ProductID string

	// Set when the error originated from a native billing response.
	Result *BillingResult
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewValidationError(code Code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func NewNativeError(code Code, message string) *Error {
	return &Error{Kind: KindNative, Code: code, Message: message}
}

// ErrorFromResult maps a native billing response to the application error
// code and message.
func ErrorFromResult(result BillingResult) *Error {
	code, message := describeResponse(result.ResponseCode)
	r := result
	return &Error{
		Kind:    KindNative,
		Code:    code,
		Message: message,
		Result:  &r,
	}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether err carries the given wire code.
func HasCode(err error, code Code) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

func describeResponse(code ResponseCode) (Code, string) {
	switch code {
	case ResponseOK:
		return "OK", "OK"
	case ResponseServiceTimeout:
		return CodeServiceError, "The service timed out before responding."
	case ResponseFeatureNotSupported:
		return CodeServiceError, "This feature is not supported on your device."
	case ResponseServiceDisconnected:
		return CodeServiceError, "The service is disconnected. Check your internet connection."
	case ResponseUserCanceled:
		return CodeUserCancelled, "Payment is cancelled."
	case ResponseServiceUnavailable:
		return CodeServiceError, "The service is unreachable. This may be your internet connection, or the store may be down."
	case ResponseBillingUnavailable:
		return CodeServiceError, "Billing is unavailable. This may be a problem with your device, or the store may be down."
	case ResponseItemUnavailable:
		return CodeItemUnavailable, "That item is unavailable."
	case ResponseDeveloperError:
		return CodeDeveloperError, "The store rejected the request parameters."
	case ResponseItemAlreadyOwned:
		return CodeAlreadyOwned, "You already own this item."
	case ResponseItemNotOwned:
		return CodeNotOwned, "You don't own this item."
	case ResponseNetworkError:
		return CodeNetworkError, "A network error occurred during the operation."
	default:
		return CodeUnknown, "An unknown or unexpected error has occurred. Please try again later."
	}
}
