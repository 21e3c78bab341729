package payhero

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/remoteprojobs/wallet/internal/payments"
)

// CallbackResponse is the "response" object PayHero posts to the callback URL.
type CallbackResponse struct {
	ExternalReference  string          `json:"ExternalReference"`
	ResultCode         json.RawMessage `json:"ResultCode"`
	ResultDesc         string          `json:"ResultDesc"`
	CheckoutRequestID  string          `json:"CheckoutRequestID"`
	MerchantRequestID  string          `json:"MerchantRequestID"`
	MpesaReceiptNumber string          `json:"MpesaReceiptNumber"`
	Amount             json.RawMessage `json:"Amount"`
	Phone              string          `json:"Phone"`
	Status             string          `json:"Status"`
}

type callbackEnvelope struct {
	Status   bool             `json:"status"`
	Response CallbackResponse `json:"response"`
}

// ErrMissingReference means the callback cannot be correlated to a payment.
var ErrMissingReference = errors.New("payhero: callback has no ExternalReference")

// Decoder decodes PayHero callbacks. It implements payments.CallbackDecoder.
type Decoder struct{}

// DecodeCallback reduces a callback to an outcome. ResultCode 0 is success;
// any other code is a failure. PayHero sends ResultCode as a number, but a
// quoted number is accepted too.
func (Decoder) DecodeCallback(body []byte) (payments.Outcome, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return payments.Outcome{}, fmt.Errorf("payhero: decode callback: %w", err)
	}
	r := env.Response
	ref := strings.TrimSpace(r.ExternalReference)
	if ref == "" {
		return payments.Outcome{}, ErrMissingReference
	}

	code, err := resultCode(r.ResultCode)
	if err != nil {
		return payments.Outcome{}, err
	}

	return payments.Outcome{
		Reference:         ref,
		Success:           code == 0,
		ProviderReference: strings.TrimSpace(r.CheckoutRequestID),
		ReceiptNumber:     r.MpesaReceiptNumber,
		Description:       r.ResultDesc,
	}, nil
}

func resultCode(raw json.RawMessage) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, errors.New("payhero: callback has no ResultCode")
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("payhero: invalid ResultCode %q", s)
	}
	return v, nil
}

var _ payments.CallbackDecoder = Decoder{}
