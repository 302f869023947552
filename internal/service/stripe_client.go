package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/subscriptionitem"
	"github.com/stripe/stripe-go/v76/usagerecord"
	"github.com/stripe/stripe-go/v76/webhook"
)

var (
	// ErrBillingNotConfigured 未配置支付平台密钥。
	ErrBillingNotConfigured = errors.New("billing provider not configured")
	// ErrNoSubscriptionItem 订阅下没有可计量的条目。
	ErrNoSubscriptionItem = errors.New("subscription has no items")
	// ErrWebhookSignature webhook 签名缺失、过期或不匹配。
	ErrWebhookSignature = errors.New("invalid webhook signature")
	// ErrWebhookPayload 签名有效但事件体无法解析。
	ErrWebhookPayload = errors.New("malformed webhook payload")
)

const webhookTolerance = 5 * time.Minute

// UsageRecord 描述一次计量上报。
// IdempotencyKey 相同的重复上报只会计费一次，前提是 Quantity 与 Timestamp 也保持不变。
type UsageRecord struct {
	SubscriptionRef string
	Quantity        int
	Timestamp       time.Time
	IdempotencyKey  string
}

// BillingProvider 上报一次计量用量，返回用量记录 ID。
type BillingProvider interface {
	RecordUsage(ctx context.Context, usage UsageRecord) (string, error)
}

// NoopBilling 在未配置支付平台时使用，总是返回 ErrBillingNotConfigured。
type NoopBilling struct{}

func (NoopBilling) RecordUsage(context.Context, UsageRecord) (string, error) {
	return "", ErrBillingNotConfigured
}

// StripeClient 通过 stripe-go 调用计量计费与客户查询，并校验 webhook 签名。
type StripeClient struct {
	secretKey     string
	webhookSecret string
	baseURL       string

	items     subscriptionitem.Client
	usage     usagerecord.Client
	customers customer.Client
}

// NewStripeClient 构造 StripeClient，baseURL 为空时使用官方地址。
func NewStripeClient(secretKey, webhookSecret, baseURL string) *StripeClient {
	c := &StripeClient{
		secretKey:     strings.TrimSpace(secretKey),
		webhookSecret: strings.TrimSpace(webhookSecret),
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
	c.SetHTTPClient(nil)
	return c
}

// SetHTTPClient 替换底层 HTTP 客户端并重建 backend，主要面向测试场景。
func (c *StripeClient) SetHTTPClient(client *http.Client) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        client,
		MaxNetworkRetries: stripe.Int64(2),
	}
	if c.baseURL != "" {
		cfg.URL = stripe.String(c.baseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)

	c.items = subscriptionitem.Client{B: backend, Key: c.secretKey}
	c.usage = usagerecord.Client{B: backend, Key: c.secretKey}
	c.customers = customer.Client{B: backend, Key: c.secretKey}
}

// RecordUsage 找到订阅的第一个条目并以 increment 方式累加用量。
func (c *StripeClient) RecordUsage(ctx context.Context, usage UsageRecord) (string, error) {
	if c.secretKey == "" {
		return "", ErrBillingNotConfigured
	}
	ref := strings.TrimSpace(usage.SubscriptionRef)
	if ref == "" {
		return "", fmt.Errorf("record usage: empty subscription")
	}

	list := &stripe.SubscriptionItemListParams{Subscription: stripe.String(ref)}
	list.Context = ctx
	list.Limit = stripe.Int64(1)
	list.Single = true

	iter := c.items.List(list)
	var itemID string
	if iter.Next() {
		itemID = iter.SubscriptionItem().ID
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("list subscription items: %w", err)
	}
	if itemID == "" {
		return "", ErrNoSubscriptionItem
	}

	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(itemID),
		Quantity:         stripe.Int64(int64(usage.Quantity)),
		Action:           stripe.String(stripe.UsageRecordActionIncrement),
	}
	params.Context = ctx
	if usage.Timestamp.IsZero() {
		params.TimestampNow = stripe.Bool(true)
	} else {
		params.Timestamp = stripe.Int64(usage.Timestamp.Unix())
	}
	if usage.IdempotencyKey != "" {
		params.SetIdempotencyKey(usage.IdempotencyKey)
	}

	record, err := c.usage.New(params)
	if err != nil {
		return "", fmt.Errorf("create usage record: %w", err)
	}
	return record.ID, nil
}

// CustomerUserID 读取客户 metadata 中的 user_id。
func (c *StripeClient) CustomerUserID(ctx context.Context, customerID string) (string, error) {
	if c.secretKey == "" {
		return "", ErrBillingNotConfigured
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := c.customers.Get(customerID, params)
	if err != nil {
		return "", fmt.Errorf("get customer: %w", err)
	}
	return strings.TrimSpace(cust.Metadata["user_id"]), nil
}

// ConstructEvent 校验 Stripe-Signature 头并解析事件，签名时间超出 5 分钟视为过期。
// 事件的 API 版本由 Dashboard 决定，这里不要求与 SDK 一致。
func (c *StripeClient) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	if c.webhookSecret == "" {
		return stripe.Event{}, ErrWebhookSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, c.webhookSecret, webhookTolerance); err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrWebhookPayload, err)
	}
	return event, nil
}
