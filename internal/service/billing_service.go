package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/wakestake/internal/db"
	"github.com/wakestake/internal/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNoSubscription 用户尚未绑定订阅，无法计费。
	ErrNoSubscription = errors.New("no billing subscription linked")
	// ErrNotViolation 只有违约评估可以计费。
	ErrNotViolation = errors.New("evaluation is not a violation")
)

// RetrySummary 汇总一次补扣结果。
type RetrySummary struct {
	Attempted int `json:"attempted"`
	Charged   int `json:"charged"`
	Failed    int `json:"failed"`
}

type customerLookup interface {
	CustomerUserID(ctx context.Context, customerID string) (string, error)
}

type webhookVerifier interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

// BillingService 负责违约计费与订阅绑定。
// charges.evaluation_id 唯一，保证同一次违约最多记一笔。
type BillingService struct {
	db        *gorm.DB
	provider  BillingProvider
	customers customerLookup
	webhooks  webhookVerifier
	log       *logger.Logger
}

// NewBillingService 构造 BillingService。client 为 nil 时 webhook 与客户查询不可用。
func NewBillingService(gdb *gorm.DB, provider BillingProvider, client *StripeClient, log *logger.Logger) *BillingService {
	if provider == nil {
		provider = NoopBilling{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	svc := &BillingService{db: gdb, provider: provider, log: log}
	if client != nil {
		svc.customers = client
		svc.webhooks = client
	}
	return svc
}

// StakeAmount 返回用户的押金，未设置时为 1 美元。
func (s *BillingService) StakeAmount(ctx context.Context, userID string) (int, error) {
	var stake db.Stake
	found, err := first(s.db.WithContext(ctx).Where("user_id = ?", userID), &stake)
	if err != nil {
		return 0, fmt.Errorf("load stake: %w", err)
	}
	if !found || stake.StakeUSD <= 0 {
		return fallbackChargeAmount, nil
	}
	return stake.StakeUSD, nil
}

// ChargeViolation 对一次违约上报用量，成功后写入 charges。
// 已存在的 charge 直接返回；上报失败不写入任何记录，可稍后重试。
// 评估行锁定了押金时以其为准，保证重试的请求参数与首次一致。
func (s *BillingService) ChargeViolation(ctx context.Context, evaluation db.Evaluation, amount int) (*db.Charge, error) {
	if evaluation.Status != db.EvaluationViolation {
		return nil, ErrNotViolation
	}
	if evaluation.StakeUSD > 0 {
		amount = evaluation.StakeUSD
	}
	gdb := s.db.WithContext(ctx)

	var existing db.Charge
	if found, err := first(gdb.Where("evaluation_id = ?", evaluation.ID), &existing); err != nil {
		return nil, fmt.Errorf("load charge: %w", err)
	} else if found {
		return &existing, nil
	}

	var billing db.Billing
	found, err := first(gdb.Where("user_id = ?", evaluation.UserID), &billing)
	if err != nil {
		return nil, fmt.Errorf("load billing: %w", err)
	}
	if !found || strings.TrimSpace(billing.StripeSubscriptionID) == "" {
		return nil, ErrNoSubscription
	}

	usageID, err := s.provider.RecordUsage(ctx, UsageRecord{
		SubscriptionRef: billing.StripeSubscriptionID,
		Quantity:        amount,
		Timestamp:       evaluation.EvaluatedAtUTC,
		IdempotencyKey:  "violation-" + strconv.FormatUint(uint64(evaluation.ID), 10),
	})
	if err != nil {
		return nil, err
	}

	charge := db.Charge{
		UserID:              evaluation.UserID,
		EvaluationID:        evaluation.ID,
		StripeUsageRecordID: usageID,
		AmountUSD:           amount,
	}
	if err := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "evaluation_id"}},
		DoNothing: true,
	}).Create(&charge).Error; err != nil {
		return nil, fmt.Errorf("store charge: %w", err)
	}
	if err := gdb.Where("evaluation_id = ?", evaluation.ID).First(&charge).Error; err != nil {
		return nil, fmt.Errorf("reload charge: %w", err)
	}
	return &charge, nil
}

// RetryUnbilled 对已绑定订阅但缺少 charge 的违约重新计费。
func (s *BillingService) RetryUnbilled(ctx context.Context) (RetrySummary, error) {
	var summary RetrySummary

	var pending []db.Evaluation
	if err := s.db.WithContext(ctx).Model(&db.Evaluation{}).
		Select("evaluations.*").
		Joins("LEFT JOIN charges ON charges.evaluation_id = evaluations.id").
		Joins("JOIN billings ON billings.user_id = evaluations.user_id").
		Where("evaluations.status = ? AND charges.id IS NULL AND billings.stripe_subscription_id <> ''", db.EvaluationViolation).
		Order("evaluations.id ASC").
		Find(&pending).Error; err != nil {
		return summary, fmt.Errorf("list unbilled violations: %w", err)
	}

	for _, evaluation := range pending {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Attempted++

		amount := evaluation.StakeUSD
		if amount <= 0 {
			stake, err := s.StakeAmount(ctx, evaluation.UserID)
			if err != nil {
				summary.Failed++
				s.log.Warn("retry charge failed", "user_id", evaluation.UserID, "evaluation_id", evaluation.ID, "error", err)
				continue
			}
			amount = stake
		}
		if _, err := s.ChargeViolation(ctx, evaluation, amount); err != nil {
			summary.Failed++
			s.log.Warn("retry charge failed", "user_id", evaluation.UserID, "evaluation_id", evaluation.ID, "error", err)
			continue
		}
		summary.Charged++
	}
	return summary, nil
}

// TotalUSD 汇总用户已计费金额。
func (s *BillingService) TotalUSD(ctx context.Context, userID string) (int, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&db.Charge{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount_usd), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum charges: %w", err)
	}
	return int(total), nil
}

// LinkSubscription 保存客户与订阅 ID。
func (s *BillingService) LinkSubscription(ctx context.Context, userID, customerID, subscriptionID string) error {
	row := db.Billing{
		UserID:               userID,
		StripeCustomerID:     strings.TrimSpace(customerID),
		StripeSubscriptionID: strings.TrimSpace(subscriptionID),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stripe_customer_id", "stripe_subscription_id", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("upsert billing: %w", err)
	}
	return nil
}

// HandleWebhook 校验签名后处理 checkout.session.completed，其余事件忽略。
// handled 表示是否绑定了订阅。
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (bool, error) {
	if s.webhooks == nil {
		return false, ErrWebhookSignature
	}
	event, err := s.webhooks.ConstructEvent(payload, signature)
	if err != nil {
		return false, err
	}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted || event.Data == nil {
		return false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return false, fmt.Errorf("%w: checkout session: %v", ErrWebhookPayload, err)
	}
	var customerID, subscriptionID string
	if session.Customer != nil {
		customerID = session.Customer.ID
	}
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}

	userID := strings.TrimSpace(session.ClientReferenceID)
	if userID == "" {
		userID = strings.TrimSpace(session.Metadata["user_id"])
	}
	if userID == "" && customerID != "" && s.customers != nil {
		resolved, err := s.customers.CustomerUserID(ctx, customerID)
		if err != nil {
			return false, err
		}
		userID = resolved
	}
	if userID == "" {
		s.log.Warn("checkout session without user reference", "customer", customerID)
		return false, nil
	}

	if err := s.LinkSubscription(ctx, userID, customerID, subscriptionID); err != nil {
		return false, err
	}
	s.log.Info("billing linked", "user_id", userID, "customer", customerID)
	return true, nil
}
