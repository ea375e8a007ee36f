package stripepay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sweetstamps/membership/pkg/recharge"
)

const testWebhookSecret = "whsec_test"

func TestCreatePaymentIntentSendsFormAndBearerAuth(test *testing.T) {
	test.Parallel()
	var gotAuth, gotContentType string
	var gotForm map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost || request.URL.Path != paymentIntentsPath {
			test.Errorf("unexpected request %s %s", request.Method, request.URL.Path)
		}
		gotAuth = request.Header.Get("Authorization")
		gotContentType = request.Header.Get("Content-Type")
		if err := request.ParseForm(); err != nil {
			test.Errorf("parse form: %v", err)
		}
		gotForm = request.PostForm
		fmt.Fprint(writer, `{"id":"pi_123","client_secret":"pi_123_secret","status":"requires_payment_method"}`)
	}))
	defer server.Close()
	client := mustNewPayClient(test, server.URL)

	intent, err := client.CreatePaymentIntent(context.Background(), 23500, "Account a recharges $235.00")
	if err != nil {
		test.Fatalf("create intent: %v", err)
	}
	if intent.ID != "pi_123" || intent.ClientSecret != "pi_123_secret" {
		test.Fatalf("unexpected intent %+v", intent)
	}
	if gotAuth != "Bearer sk_test" {
		test.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		test.Fatalf("unexpected content type %q", gotContentType)
	}
	if gotForm["amount"][0] != "23500" || gotForm["currency"][0] != "usd" {
		test.Fatalf("unexpected form %v", gotForm)
	}
	if gotForm["automatic_payment_methods[enabled]"][0] != "true" {
		test.Fatalf("automatic payment methods not enabled: %v", gotForm)
	}
}

func TestRetrievePaymentIntentMapsStatus(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != paymentIntentsPath+"/pi_42" {
			test.Errorf("unexpected path %s", request.URL.Path)
		}
		fmt.Fprint(writer, `{"id":"pi_42","status":"succeeded"}`)
	}))
	defer server.Close()
	client := mustNewPayClient(test, server.URL)

	intent, err := client.RetrievePaymentIntent(context.Background(), "pi_42")
	if err != nil {
		test.Fatalf("retrieve: %v", err)
	}
	if intent.Status != recharge.PaymentSucceeded {
		test.Fatalf("unexpected status %s", intent.Status)
	}
}

func TestAPIErrorSurfacesCodeAndMessage(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(writer, `{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`)
	}))
	defer server.Close()
	client := mustNewPayClient(test, server.URL)

	_, err := client.CreatePaymentIntent(context.Background(), 10000, "declined")
	if err == nil || !strings.Contains(err.Error(), "card_declined") {
		test.Fatalf("expected the platform error surfaced, got %v", err)
	}
}

func TestVerifyWebhookAcceptsValidSignature(test *testing.T) {
	test.Parallel()
	client := mustNewPayClient(test, "http://unused")
	payload := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_hook","status":"succeeded"}}}`)
	now := time.Unix(1700000000, 0)
	client.nowFn = func() time.Time { return now }

	event, err := client.VerifyWebhook(payload, signHeader(test, payload, now.Unix()))
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if event.PaymentRef != "pi_hook" || event.Status != recharge.PaymentSucceeded {
		test.Fatalf("unexpected event %+v", event)
	}
}

func TestVerifyWebhookRejectsWrongSignature(test *testing.T) {
	test.Parallel()
	client := mustNewPayClient(test, "http://unused")
	payload := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_bad"}}}`)
	now := time.Unix(1700000000, 0)
	client.nowFn = func() time.Time { return now }

	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), strings.Repeat("ab", 32))
	_, err := client.VerifyWebhook(payload, header)
	if !errors.Is(err, ErrInvalidSignature) {
		test.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyWebhookRejectsStaleTimestamp(test *testing.T) {
	test.Parallel()
	client := mustNewPayClient(test, "http://unused")
	payload := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_old"}}}`)
	now := time.Unix(1700000000, 0)
	client.nowFn = func() time.Time { return now }
	stale := now.Add(-6 * time.Minute).Unix()

	_, err := client.VerifyWebhook(payload, signHeader(test, payload, stale))
	if !errors.Is(err, ErrInvalidSignature) {
		test.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyWebhookRejectsMalformedHeader(test *testing.T) {
	test.Parallel()
	client := mustNewPayClient(test, "http://unused")

	for _, header := range []string{"", "t=abc,v1=00", "v1=00", "t=1700000000"} {
		_, err := client.VerifyWebhook([]byte("{}"), header)
		if !errors.Is(err, ErrInvalidSignature) {
			test.Fatalf("header %q: expected ErrInvalidSignature, got %v", header, err)
		}
	}
}

func TestVerifyWebhookUnsupportedEventType(test *testing.T) {
	test.Parallel()
	client := mustNewPayClient(test, "http://unused")
	payload := []byte(`{"type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)
	now := time.Unix(1700000000, 0)
	client.nowFn = func() time.Time { return now }

	_, err := client.VerifyWebhook(payload, signHeader(test, payload, now.Unix()))
	if !errors.Is(err, ErrUnsupportedEvent) {
		test.Fatalf("expected ErrUnsupportedEvent, got %v", err)
	}
}

func TestVerifyWebhookMapsFailureEvents(test *testing.T) {
	test.Parallel()
	client := mustNewPayClient(test, "http://unused")
	now := time.Unix(1700000000, 0)
	client.nowFn = func() time.Time { return now }

	cases := map[string]recharge.PaymentStatus{
		"payment_intent.payment_failed": recharge.PaymentFailed,
		"payment_intent.canceled":       recharge.PaymentCanceled,
	}
	for eventType, want := range cases {
		payload := []byte(fmt.Sprintf(`{"type":"%s","data":{"object":{"id":"pi_x"}}}`, eventType))
		event, err := client.VerifyWebhook(payload, signHeader(test, payload, now.Unix()))
		if err != nil {
			test.Fatalf("%s: %v", eventType, err)
		}
		if event.Status != want {
			test.Fatalf("%s: expected %s, got %s", eventType, want, event.Status)
		}
	}
}

func mustNewPayClient(test *testing.T, baseURL string) *Client {
	test.Helper()
	client, err := NewClient(Config{BaseURL: baseURL, SecretKey: "sk_test", WebhookSecret: testWebhookSecret})
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	return client
}

func signHeader(test *testing.T, payload []byte, timestamp int64) string {
	test.Helper()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}
