package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	stripego "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// Provider определяет операции биллинга у платежного провайдера.
type Provider interface {
	// GetSubscription возвращает подписку вместе с позициями.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// UpdateItemQuantity выставляет количество позиции с немедленным счетом на разницу.
	UpdateItemQuantity(ctx context.Context, itemID string, quantity int64) error

	// CreateItem добавляет позицию к месячной подписке и возвращает ее id.
	CreateItem(ctx context.Context, subscriptionID, priceID string, quantity int64) (string, error)

	// DeleteItem удаляет позицию целиком с немедленным счетом (кредитом).
	DeleteItem(ctx context.Context, itemID string) error

	// CreateUsageSubscription создает sidecar-подписку с одной метрируемой позицией.
	CreateUsageSubscription(ctx context.Context, customerID, priceID string, quantity int64, parentID string) (*UsageSubscriptionResult, error)

	// CancelSubscription немедленно отменяет подписку.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// SwapPrice меняет цену позиции (апгрейд). Оплата списывается сразу,
	// если списать нельзя - ошибка.
	SwapPrice(ctx context.Context, subscriptionID, itemID, priceID string) error

	// ScheduleDowngrade создает расписание: текущие позиции до конца периода,
	// затем next. Возвращает дату переключения.
	ScheduleDowngrade(ctx context.Context, subscriptionID string, next []PhaseItem) (time.Time, error)

	// CreateCustomer создает клиента для компании.
	CreateCustomer(ctx context.Context, companyID, name, email string) (string, error)

	// CreateCheckoutSession возвращает URL hosted checkout.
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error)

	// CreatePortalSession возвращает URL billing portal.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

const prorationAlwaysInvoice = "always_invoice"

// Options - настройки клиента
type Options struct {
	// BaseURL переопределяет адрес API (для тестов)
	BaseURL string
	// HTTPClient для запросов к API
	HTTPClient *http.Client
	// MaxRetryElapsed - суммарное время ретраев временных ошибок. 0 отключает ретраи.
	MaxRetryElapsed time.Duration
}

// stripeProvider реализует Provider поверх stripe-go.
type stripeProvider struct {
	client     *client.API
	log        *logger.Logger
	maxElapsed time.Duration
}

// NewStripeProvider создает клиента Stripe.
func NewStripeProvider(apiKey string, opts Options, log *logger.Logger) Provider {
	cfg := &stripego.BackendConfig{
		// повторы делаем сами через backoff
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     leveledLogger{log: log},
	}
	if opts.BaseURL != "" {
		cfg.URL = stripego.String(opts.BaseURL)
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, cfg)

	sc := &client.API{}
	sc.Init(apiKey, &stripego.Backends{API: backend, Connect: backend, Uploads: backend})

	return &stripeProvider{
		client:     sc,
		log:        log,
		maxElapsed: opts.MaxRetryElapsed,
	}
}

func (p *stripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx

	var sub *stripego.Subscription
	err := p.retry(ctx, "GetSubscription", func() error {
		var err error
		sub, err = p.client.Subscriptions.Get(subscriptionID, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: failed to get subscription %s: %w", subscriptionID, err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *stripeProvider) UpdateItemQuantity(ctx context.Context, itemID string, quantity int64) error {
	params := &stripego.SubscriptionItemParams{
		Quantity:          stripego.Int64(quantity),
		ProrationBehavior: stripego.String(prorationAlwaysInvoice),
	}
	params.Context = ctx

	err := p.retry(ctx, "UpdateItemQuantity", func() error {
		_, err := p.client.SubscriptionItems.Update(itemID, params)
		return err
	})
	if err != nil {
		return fmt.Errorf("stripe: failed to update item %s: %w", itemID, err)
	}
	p.log.Infow("Stripe item quantity updated", "itemID", itemID, "quantity", quantity)
	return nil
}

func (p *stripeProvider) CreateItem(ctx context.Context, subscriptionID, priceID string, quantity int64) (string, error) {
	params := &stripego.SubscriptionItemParams{
		Subscription:      stripego.String(subscriptionID),
		Price:             stripego.String(priceID),
		Quantity:          stripego.Int64(quantity),
		ProrationBehavior: stripego.String(prorationAlwaysInvoice),
	}
	params.Context = ctx
	// один ключ на все попытки, чтобы ретрай не создал вторую позицию
	params.SetIdempotencyKey(uuid.NewString())

	var item *stripego.SubscriptionItem
	err := p.retry(ctx, "CreateItem", func() error {
		var err error
		item, err = p.client.SubscriptionItems.New(params)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create item on %s: %w", subscriptionID, err)
	}
	p.log.Infow("Stripe item created", "subscriptionID", subscriptionID, "itemID", item.ID, "priceID", priceID, "quantity", quantity)
	return item.ID, nil
}

func (p *stripeProvider) DeleteItem(ctx context.Context, itemID string) error {
	params := &stripego.SubscriptionItemParams{
		ProrationBehavior: stripego.String(prorationAlwaysInvoice),
	}
	params.Context = ctx

	err := p.retry(ctx, "DeleteItem", func() error {
		_, err := p.client.SubscriptionItems.Del(itemID, params)
		return err
	})
	if err != nil {
		if IsResourceMissing(err) {
			p.log.Warnw("Stripe item already deleted", "itemID", itemID)
			return nil
		}
		return fmt.Errorf("stripe: failed to delete item %s: %w", itemID, err)
	}
	p.log.Infow("Stripe item deleted", "itemID", itemID)
	return nil
}

func (p *stripeProvider) CreateUsageSubscription(ctx context.Context, customerID, priceID string, quantity int64, parentID string) (*UsageSubscriptionResult, error) {
	params := &stripego.SubscriptionParams{
		Customer: stripego.String(customerID),
		Items: []*stripego.SubscriptionItemsParams{
			{
				Price:    stripego.String(priceID),
				Quantity: stripego.Int64(quantity),
			},
		},
		ProrationBehavior: stripego.String(prorationAlwaysInvoice),
	}
	params.AddMetadata(MetadataType, string(domain.SubscriptionTypeUsageSidecar))
	params.AddMetadata(MetadataParentID, parentID)
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())

	var sub *stripego.Subscription
	err := p.retry(ctx, "CreateUsageSubscription", func() error {
		var err error
		sub, err = p.client.Subscriptions.New(params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: failed to create usage subscription for %s: %w", customerID, err)
	}

	out := fromStripeSubscription(sub)
	item, ok := out.FindItemByPrice(priceID)
	if !ok {
		return nil, fmt.Errorf("stripe: usage subscription %s has no item for price %s", sub.ID, priceID)
	}
	p.log.Infow("Stripe usage sidecar subscription created", "subscriptionID", sub.ID, "parentID", parentID, "itemID", item.ID)
	return &UsageSubscriptionResult{Subscription: out, ItemID: item.ID}, nil
}

// CancelSubscription отменяет подписку в Stripe немедленно.
func (p *stripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripego.SubscriptionCancelParams{}
	params.Context = ctx

	err := p.retry(ctx, "CancelSubscription", func() error {
		_, err := p.client.Subscriptions.Cancel(subscriptionID, params)
		return err
	})
	if err != nil {
		// Подписка уже удалена
		if IsResourceMissing(err) {
			p.log.Warnw("Attempted to cancel already canceled/missing Stripe subscription", "subscriptionID", subscriptionID)
			return nil
		}
		return fmt.Errorf("stripe: failed to cancel subscription: %w", err)
	}

	p.log.Infow("Stripe subscription canceled", "subscriptionID", subscriptionID)
	return nil
}

func (p *stripeProvider) SwapPrice(ctx context.Context, subscriptionID, itemID, priceID string) error {
	params := &stripego.SubscriptionParams{
		Items: []*stripego.SubscriptionItemsParams{
			{
				ID:    stripego.String(itemID),
				Price: stripego.String(priceID),
			},
		},
		ProrationBehavior: stripego.String(prorationAlwaysInvoice),
		PaymentBehavior:   stripego.String("error_if_incomplete"),
	}
	params.Context = ctx

	err := p.retry(ctx, "SwapPrice", func() error {
		_, err := p.client.Subscriptions.Update(subscriptionID, params)
		return err
	})
	if err != nil {
		return fmt.Errorf("stripe: failed to swap price on %s: %w", subscriptionID, err)
	}
	p.log.Infow("Stripe subscription price swapped", "subscriptionID", subscriptionID, "itemID", itemID, "priceID", priceID)
	return nil
}

func (p *stripeProvider) ScheduleDowngrade(ctx context.Context, subscriptionID string, next []PhaseItem) (time.Time, error) {
	createParams := &stripego.SubscriptionScheduleParams{
		FromSubscription: stripego.String(subscriptionID),
	}
	createParams.Context = ctx

	var schedule *stripego.SubscriptionSchedule
	err := p.retry(ctx, "CreateSubscriptionSchedule", func() error {
		var err error
		schedule, err = p.client.SubscriptionSchedules.New(createParams)
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("stripe: failed to create schedule from %s: %w", subscriptionID, err)
	}
	if len(schedule.Phases) == 0 {
		return time.Time{}, fmt.Errorf("stripe: schedule %s has no phases", schedule.ID)
	}
	current := schedule.Phases[0]

	currentItems := make([]*stripego.SubscriptionSchedulePhaseItemParams, 0, len(current.Items))
	for _, it := range current.Items {
		if it.Price == nil {
			continue
		}
		currentItems = append(currentItems, &stripego.SubscriptionSchedulePhaseItemParams{
			Price:    stripego.String(it.Price.ID),
			Quantity: stripego.Int64(it.Quantity),
		})
	}
	nextItems := make([]*stripego.SubscriptionSchedulePhaseItemParams, 0, len(next))
	for _, it := range next {
		nextItems = append(nextItems, &stripego.SubscriptionSchedulePhaseItemParams{
			Price:    stripego.String(it.PriceID),
			Quantity: stripego.Int64(it.Quantity),
		})
	}

	updateParams := &stripego.SubscriptionScheduleParams{
		EndBehavior: stripego.String("release"),
		Phases: []*stripego.SubscriptionSchedulePhaseParams{
			{
				Items:     currentItems,
				StartDate: stripego.Int64(current.StartDate),
				EndDate:   stripego.Int64(current.EndDate),
			},
			{
				Items:      nextItems,
				Iterations: stripego.Int64(1),
			},
		},
	}
	updateParams.Context = ctx

	err = p.retry(ctx, "UpdateSubscriptionSchedule", func() error {
		_, err := p.client.SubscriptionSchedules.Update(schedule.ID, updateParams)
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("stripe: failed to update schedule %s: %w", schedule.ID, err)
	}

	effective := time.Unix(current.EndDate, 0).UTC()
	p.log.Infow("Stripe downgrade scheduled", "subscriptionID", subscriptionID, "scheduleID", schedule.ID, "effective", effective)
	return effective, nil
}

// CreateCustomer создает нового клиента в Stripe.
func (p *stripeProvider) CreateCustomer(ctx context.Context, companyID, name, email string) (string, error) {
	params := &stripego.CustomerParams{
		Name: stripego.String(name),
	}
	if email != "" {
		params.Email = stripego.String(email)
	}
	params.AddMetadata(MetadataCompanyID, companyID)
	params.Context = ctx
	params.SetIdempotencyKey("customer-" + companyID)

	var cus *stripego.Customer
	err := p.retry(ctx, "CreateCustomer", func() error {
		var err error
		cus, err = p.client.Customers.New(params)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create customer: %w", err)
	}

	p.log.Infow("Stripe customer created", "stripeCustomerID", cus.ID, "companyID", companyID)
	return cus.ID, nil
}

func (p *stripeProvider) CreateCheckoutSession(ctx context.Context, cp CheckoutParams) (string, error) {
	metadata := map[string]string{
		MetadataCompanyID: cp.CompanyID,
		MetadataPlanID:    cp.PlanKey,
		MetadataInterval:  string(cp.Interval),
	}
	params := &stripego.CheckoutSessionParams{
		Customer: stripego.String(cp.CustomerID),
		Mode:     stripego.String(string(stripego.CheckoutSessionModeSubscription)),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				Price:    stripego.String(cp.PriceID),
				Quantity: stripego.Int64(1),
			},
		},
		SuccessURL: stripego.String(cp.SuccessURL),
		CancelURL:  stripego.String(cp.CancelURL),
		SubscriptionData: &stripego.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	var sess *stripego.CheckoutSession
	err := p.retry(ctx, "CreateCheckoutSession", func() error {
		var err error
		sess, err = p.client.CheckoutSessions.New(params)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}
	p.log.Infow("Stripe checkout session created", "sessionID", sess.ID, "companyID", cp.CompanyID, "plan", cp.PlanKey, "interval", cp.Interval)
	return sess.URL, nil
}

func (p *stripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripego.BillingPortalSessionParams{
		Customer:  stripego.String(customerID),
		ReturnURL: stripego.String(returnURL),
	}
	params.Context = ctx

	var sess *stripego.BillingPortalSession
	err := p.retry(ctx, "CreatePortalSession", func() error {
		var err error
		sess, err = p.client.BillingPortalSessions.New(params)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create portal session: %w", err)
	}
	return sess.URL, nil
}

// retry повторяет временные ошибки Stripe с экспоненциальной задержкой.
func (p *stripeProvider) retry(ctx context.Context, operation string, fn func() error) error {
	if p.maxElapsed <= 0 {
		err := fn()
		if err != nil {
			logStripeError(p.log, operation, err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = p.maxElapsed
	bo.Reset()

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		logStripeError(p.log, operation, err)
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		p.log.Warnw("Retryable Stripe error, retrying", "operation", operation, "error", err)
		return err
	}, backoff.WithContext(bo, ctx))
}

// errorTypeAPIConnection в stripe-go нет, объявляем сами
const errorTypeAPIConnection stripego.ErrorType = "api_connection_error"

// IsRetryable - 429, сетевые ошибки и 5xx (кроме 501)
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		// ошибка транспорта, до API не дошли
		return true
	}
	if stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	if stripeErr.Type == errorTypeAPIConnection {
		return true
	}
	return stripeErr.HTTPStatusCode >= 500 && stripeErr.HTTPStatusCode != http.StatusNotImplemented
}

// IsCardError - отказ карты или невозможность списать оплату
func IsCardError(err error) bool {
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Type == stripego.ErrorTypeCard || stripeErr.HTTPStatusCode == http.StatusPaymentRequired
}

// IsResourceMissing - объект у провайдера уже не существует
func IsResourceMissing(err error) bool {
	var stripeErr *stripego.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripego.ErrorCodeResourceMissing
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}

func fromStripeSubscription(s *stripego.Subscription) *Subscription {
	out := &Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		PeriodStart:       unixTime(s.CurrentPeriodStart),
		PeriodEnd:         unixTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, it := range s.Items.Data {
			item := Item{ID: it.ID, Quantity: it.Quantity}
			if it.Price != nil {
				item.PriceID = it.Price.ID
				if it.Price.Recurring != nil {
					item.Interval = domain.BillingInterval(it.Price.Recurring.Interval)
				}
			}
			if out.Interval == "" {
				out.Interval = item.Interval
			}
			out.Items = append(out.Items, item)
		}
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// leveledLogger пробрасывает логи stripe-go в наш логгер
type leveledLogger struct {
	log *logger.Logger
}

func (l leveledLogger) Debugf(format string, v ...interface{}) { l.log.Debug(format, v...) }
func (l leveledLogger) Infof(format string, v ...interface{})  { l.log.Debug(format, v...) }
func (l leveledLogger) Warnf(format string, v ...interface{})  { l.log.Warn(format, v...) }
func (l leveledLogger) Errorf(format string, v ...interface{}) { l.log.Error(format, v...) }
