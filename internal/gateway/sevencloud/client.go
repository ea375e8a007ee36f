// Package sevencloud talks to the SevenCloud point-of-sale platform: order
// and promo code listings plus promo code minting. The client keeps one
// session token and re-logs in when it expires.
package sevencloud

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/sweetstamps/membership/pkg/ordersync"
)

const (
	loginPath      = "/SZWL-SERVER/tAdmin/loginSys"
	orderPagePath  = "/ORDER-SERVER/tOrder/pageOrder"
	couponListPath = "/SZWL-SERVER/tPromoCode/list"
	couponAddPath  = "/SZWL-SERVER/tPromoCode/add"

	// Sessions are refreshed this long before the token's exp claim so
	// an in-flight request never races the cutoff.
	sessionRefreshMargin = 2 * time.Minute

	orderDateLayout = "2006-01-02 15:04:05"

	mintCodeDigits   = 6
	mintMinMonths    = 1
	mintMaxMonths    = 3
	defaultHTTPDelay = 30 * time.Second
)

// ErrMintRejected reports that the platform refused a promo code mint.
var ErrMintRejected = errors.New("sevencloud: mint rejected")

// ErrSessionRejected reports a failed login.
var ErrSessionRejected = errors.New("sevencloud: login rejected")

// Config carries the platform credentials and endpoint.
type Config struct {
	BaseURL  string
	Username string
	Password string
}

type session struct {
	token     string
	adminID   int64
	adminName string
	expiresAt time.Time
}

// Client is a SevenCloud API client. It satisfies the order sync gateway
// and the discount minter contracts. Safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger

	mutex   sync.Mutex
	session session
}

// NewClient validates the config and builds a client.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if config.BaseURL == "" || config.Username == "" || config.Password == "" {
		return nil, errors.New("sevencloud: base url, username and password are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: defaultHTTPDelay},
		logger:     logger,
	}, nil
}

// ListOrders fetches one page of settled orders inside the window.
func (client *Client) ListOrders(ctx context.Context, window ordersync.Window, page int, pageSize int) (ordersync.OrderPage, error) {
	current, err := client.currentSession(ctx)
	if err != nil {
		return ordersync.OrderPage{}, err
	}

	query := url.Values{}
	query.Set("adminId", strconv.FormatInt(current.adminID, 10))
	query.Set("userName", current.adminName)
	query.Set("dateType", "0")
	query.Set("startDate", time.Unix(window.StartUnixUTC, 0).UTC().Format(orderDateLayout))
	query.Set("endDate", time.Unix(window.EndUnixUTC, 0).UTC().Format(orderDateLayout))
	query.Set("current", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(pageSize))
	query.Set("status", "1")
	query.Set("chartType", "day")

	var pageData orderPageData
	if err := client.call(ctx, http.MethodGet, orderPagePath+"?"+query.Encode(), nil, current.token, &pageData); err != nil {
		return ordersync.OrderPage{}, fmt.Errorf("sevencloud: list orders: %w", err)
	}

	result := ordersync.OrderPage{TotalPages: pageData.Pages}
	for _, record := range pageData.Records {
		result.Records = append(result.Records, ordersync.OrderRecord{
			ExternalID:       record.ID,
			CreatedUnixMilli: record.CreateDate,
			MemberCode:       stringValue(record.MemberCode),
			PriceCents:       dollarsToCents(record.Price),
			ProductName:      record.ProductName,
			ProductNo:        stringValue(record.ProductNo),
			Status:           record.Status,
			PayType:          intValue(record.PayType),
		})
	}
	return result, nil
}

// ListDiscountCodes fetches one page of promo codes.
func (client *Client) ListDiscountCodes(ctx context.Context, page int, pageSize int) (ordersync.CouponPage, error) {
	current, err := client.currentSession(ctx)
	if err != nil {
		return ordersync.CouponPage{}, err
	}

	body := couponListRequest{AdminID: current.adminID, Current: page, Size: pageSize}
	var pageData couponPageData
	if err := client.call(ctx, http.MethodPost, couponListPath, body, current.token, &pageData); err != nil {
		return ordersync.CouponPage{}, fmt.Errorf("sevencloud: list discount codes: %w", err)
	}

	result := ordersync.CouponPage{TotalPages: pageData.Pages}
	for _, record := range pageData.Records {
		result.Records = append(result.Records, ordersync.CouponRecord{
			ExternalID:    record.ID,
			Code:          fmt.Sprintf("%06d", record.Code),
			Used:          record.IsUse == "1",
			UsedUnixMilli: int64Value(record.UseDate),
			DiscountCents: int64(math.Round(record.Discount * 100)),
		})
	}
	return result, nil
}

// MintDiscountCode registers a 6-digit promo code on the platform. The
// platform prices codes in dollars.
func (client *Client) MintDiscountCode(ctx context.Context, code string, discountCents int64, expireMonths int) error {
	if len(code) != mintCodeDigits || !allDigits(code) {
		return fmt.Errorf("%w: code must be %d digits", ErrMintRejected, mintCodeDigits)
	}
	if discountCents <= 0 {
		return fmt.Errorf("%w: discount must be positive", ErrMintRejected)
	}
	if expireMonths < mintMinMonths || expireMonths > mintMaxMonths {
		return fmt.Errorf("%w: expiry must be %d to %d months", ErrMintRejected, mintMinMonths, mintMaxMonths)
	}

	current, err := client.currentSession(ctx)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("addMode", "2")
	query.Set("codeNum", code)
	query.Set("number", "1")
	query.Set("month", strconv.Itoa(expireMonths))
	query.Set("type", "1")
	query.Set("discount", centsToDollars(discountCents))
	query.Set("frpCode", "WEIXIN_NATIVE")
	query.Set("adminId", strconv.FormatInt(current.adminID, 10))

	if err := client.call(ctx, http.MethodGet, couponAddPath+"?"+query.Encode(), nil, current.token, nil); err != nil {
		return fmt.Errorf("sevencloud: mint code: %w", err)
	}
	client.logger.Info("promo code minted",
		zap.String("code", code),
		zap.Int64("discount_cents", discountCents),
		zap.Int("expire_months", expireMonths))
	return nil
}

// currentSession returns a live session, logging in when none exists or
// the token's exp claim is within the refresh margin.
func (client *Client) currentSession(ctx context.Context) (session, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if client.session.token != "" && time.Now().Before(client.session.expiresAt.Add(-sessionRefreshMargin)) {
		return client.session, nil
	}

	passwordHash := md5.Sum([]byte(client.config.Password))
	body := loginRequest{Username: client.config.Username, Password: hex.EncodeToString(passwordHash[:])}

	var data loginData
	if err := client.call(ctx, http.MethodPost, loginPath, body, "", &data); err != nil {
		return session{}, fmt.Errorf("%w: %v", ErrSessionRejected, err)
	}
	if data.CurrentToken == "" {
		return session{}, fmt.Errorf("%w: empty token", ErrSessionRejected)
	}

	client.session = session{
		token:     data.CurrentToken,
		adminID:   data.ID,
		adminName: data.Name,
		expiresAt: tokenExpiry(data.CurrentToken),
	}
	client.logger.Info("sevencloud session established", zap.Int64("admin_id", data.ID))
	return client.session, nil
}

// call performs one request and decodes the envelope into out.
func (client *Client) call(ctx context.Context, method string, path string, body any, token string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, client.config.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", token)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", response.StatusCode)
	}

	var wrapper envelope
	if err := json.NewDecoder(response.Body).Decode(&wrapper); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if !wrapper.Success {
		return fmt.Errorf("platform error %s: %s", wrapper.Code, wrapper.Message)
	}
	if out == nil {
		return nil
	}
	if len(wrapper.Data) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(wrapper.Data, out)
}

// tokenExpiry reads the exp claim of the session token without verifying
// its signature; the platform signs with a key we never hold. Tokens
// without an exp claim get a short fixed lifetime.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if expiry, err := claims.GetExpirationTime(); err == nil && expiry != nil {
			return expiry.Time
		}
	}
	return time.Now().Add(10 * time.Minute)
}

func centsToDollars(cents int64) string {
	if cents%100 == 0 {
		return strconv.FormatInt(cents/100, 10)
	}
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func dollarsToCents(price *float64) int64 {
	if price == nil {
		return 0
	}
	return int64(math.Round(*price * 100))
}

func allDigits(value string) bool {
	for _, character := range value {
		if character < '0' || character > '9' {
			return false
		}
	}
	return true
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func intValue(value *int) int {
	if value == nil {
		return 0
	}
	return *value
}

func int64Value(value *int64) int64 {
	if value == nil {
		return 0
	}
	return *value
}
