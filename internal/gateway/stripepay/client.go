// Package stripepay is a thin client for the Stripe-compatible payment
// platform: payment intent creation and retrieval plus webhook signature
// verification.
package stripepay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sweetstamps/membership/pkg/recharge"
)

const (
	defaultBaseURL     = "https://api.stripe.com"
	paymentIntentsPath = "/v1/payment_intents"
	signatureHeaderKey = "Stripe-Signature"

	// Webhook timestamps older than this are rejected to blunt replay.
	defaultSignatureTolerance = 5 * time.Minute
)

// ErrInvalidSignature reports a webhook payload whose signature did not
// verify or whose timestamp fell outside the tolerance window.
var ErrInvalidSignature = errors.New("stripepay: invalid webhook signature")

// ErrUnsupportedEvent reports a webhook event type the service ignores.
var ErrUnsupportedEvent = errors.New("stripepay: unsupported event type")

// Config carries the API credentials.
type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
}

// Event is the decoded, verified webhook notification.
type Event struct {
	Type       string
	PaymentRef string
	Status     recharge.PaymentStatus
}

// Client talks to the payment platform. Safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	nowFn      func() time.Time
	tolerance  time.Duration
}

// NewClient validates the config and builds a client.
func NewClient(config Config) (*Client, error) {
	if config.SecretKey == "" {
		return nil, errors.New("stripepay: secret key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		nowFn:      time.Now,
		tolerance:  defaultSignatureTolerance,
	}, nil
}

type intentData struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePaymentIntent opens a new payment in cents.
func (client *Client) CreatePaymentIntent(ctx context.Context, amountCents int64, description string) (recharge.PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", "usd")
	form.Set("description", description)
	form.Set("automatic_payment_methods[enabled]", "true")

	data, err := client.do(ctx, http.MethodPost, paymentIntentsPath, strings.NewReader(form.Encode()))
	if err != nil {
		return recharge.PaymentIntent{}, fmt.Errorf("stripepay: create intent: %w", err)
	}
	return toPaymentIntent(data), nil
}

// RetrievePaymentIntent reads the current upstream state of a payment.
func (client *Client) RetrievePaymentIntent(ctx context.Context, paymentRef string) (recharge.PaymentIntent, error) {
	if paymentRef == "" {
		return recharge.PaymentIntent{}, errors.New("stripepay: empty payment ref")
	}
	data, err := client.do(ctx, http.MethodGet, paymentIntentsPath+"/"+url.PathEscape(paymentRef), nil)
	if err != nil {
		return recharge.PaymentIntent{}, fmt.Errorf("stripepay: retrieve intent: %w", err)
	}
	return toPaymentIntent(data), nil
}

func (client *Client) do(ctx context.Context, method string, path string, body io.Reader) (intentData, error) {
	request, err := http.NewRequestWithContext(ctx, method, client.config.BaseURL+path, body)
	if err != nil {
		return intentData{}, err
	}
	request.Header.Set("Authorization", "Bearer "+client.config.SecretKey)
	if body != nil {
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return intentData{}, err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return intentData{}, err
	}
	if response.StatusCode != http.StatusOK {
		var failure apiError
		if err := json.Unmarshal(payload, &failure); err == nil && failure.Error.Message != "" {
			return intentData{}, fmt.Errorf("platform error %s: %s", failure.Error.Code, failure.Error.Message)
		}
		return intentData{}, fmt.Errorf("unexpected status %d", response.StatusCode)
	}

	var data intentData
	if err := json.Unmarshal(payload, &data); err != nil {
		return intentData{}, err
	}
	return data, nil
}

type webhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Object intentData `json:"object"`
	} `json:"data"`
}

// VerifyWebhook checks the signature header against the raw payload and
// decodes the event. The header carries a unix timestamp and one or more
// hex HMAC-SHA256 signatures over "<timestamp>.<payload>".
func (client *Client) VerifyWebhook(payload []byte, signatureHeader string) (Event, error) {
	if client.config.WebhookSecret == "" {
		return Event{}, errors.New("stripepay: webhook secret not configured")
	}
	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return Event{}, err
	}

	age := client.nowFn().Sub(time.Unix(timestamp, 0))
	if age > client.tolerance || age < -client.tolerance {
		return Event{}, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(client.config.WebhookSecret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	verified := false
	for _, signature := range signatures {
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			verified = true
			break
		}
	}
	if !verified {
		return Event{}, ErrInvalidSignature
	}

	var body webhookEnvelope
	if err := json.Unmarshal(payload, &body); err != nil {
		return Event{}, fmt.Errorf("stripepay: decode event: %w", err)
	}

	status, err := eventStatus(body.Type)
	if err != nil {
		return Event{}, err
	}
	if body.Data.Object.ID == "" {
		return Event{}, errors.New("stripepay: event without payment ref")
	}
	return Event{Type: body.Type, PaymentRef: body.Data.Object.ID, Status: status}, nil
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]".
func parseSignatureHeader(header string) (int64, []string, error) {
	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			timestamp = parsed
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	return timestamp, signatures, nil
}

func eventStatus(eventType string) (recharge.PaymentStatus, error) {
	switch eventType {
	case "payment_intent.succeeded":
		return recharge.PaymentSucceeded, nil
	case "payment_intent.payment_failed":
		return recharge.PaymentFailed, nil
	case "payment_intent.canceled":
		return recharge.PaymentCanceled, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
}

func toPaymentIntent(data intentData) recharge.PaymentIntent {
	return recharge.PaymentIntent{
		ID:           data.ID,
		ClientSecret: data.ClientSecret,
		Status:       recharge.PaymentStatus(data.Status),
	}
}

// SignatureHeader names the request header carrying the webhook signature.
func SignatureHeader() string {
	return signatureHeaderKey
}
