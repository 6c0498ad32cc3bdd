package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/southernsense/storefront/internal/domain"
	pfirestore "github.com/southernsense/storefront/internal/platform/firestore"
	"github.com/southernsense/storefront/internal/repositories"
)

const (
	orderCollection        = "orders"
	defaultPendingScanSize = 100
)

// OrderRepository persists orders in Firestore. Status transitions run inside transactions so a
// concurrent approve and cancel cannot both leave Pending.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:     pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil),
		provider: provider,
	}, nil
}

// Insert creates the order document.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return fmt.Errorf("%w: id is required", repositories.ErrInvalidOrder)
	}
	if len(order.Items) == 0 {
		return fmt.Errorf("%w: items are required", repositories.ErrInvalidOrder)
	}
	return r.base.Create(ctx, id, encodeOrderDocument(order))
}

// FindByID loads an order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// AttachPaymentOrder stores the provider order id while the order is still Pending.
func (r *OrderRepository) AttachPaymentOrder(ctx context.Context, orderID string, provider string, paymentOrderID string, now time.Time) error {
	_, err := r.transition(ctx, "orders.attach_payment", orderID, func(doc *orderDocument) error {
		doc.Provider = strings.TrimSpace(provider)
		doc.PaymentOrderID = strings.TrimSpace(paymentOrderID)
		doc.UpdatedAt = now.UTC()
		return nil
	})
	return err
}

// MarkPaid records the capture and moves the order to Paid.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string, capture domain.PaymentCapture, now time.Time) (domain.Order, error) {
	return r.transition(ctx, "orders.mark_paid", orderID, func(doc *orderDocument) error {
		paidAt := now.UTC()
		reference := strings.TrimSpace(capture.TransactionID)
		doc.Status = string(domain.OrderStatusPaid)
		doc.CheckoutState = string(domain.CheckoutStateOrderFinalized)
		doc.PaymentReference = &reference
		doc.Capture = &captureDocument{
			TransactionID: reference,
			Status:        capture.Status,
			Amount:        moneyToFloat(capture.Amount),
			Currency:      capture.Currency,
			PayerEmail:    capture.PayerEmail,
			CapturedAt:    capture.CapturedAt.UTC(),
		}
		doc.PaidAt = &paidAt
		doc.UpdatedAt = paidAt
		return nil
	})
}

// MarkFailed moves the order to Failed with reason.
func (r *OrderRepository) MarkFailed(ctx context.Context, orderID string, reason string, now time.Time) (domain.Order, error) {
	return r.transition(ctx, "orders.mark_failed", orderID, func(doc *orderDocument) error {
		failedAt := now.UTC()
		doc.Status = string(domain.OrderStatusFailed)
		doc.CheckoutState = string(domain.CheckoutStateIdle)
		doc.FailureReason = strings.TrimSpace(reason)
		doc.FailedAt = &failedAt
		doc.UpdatedAt = failedAt
		return nil
	})
}

// ListPendingBefore returns the oldest Pending orders created before cutoff.
func (r *OrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = defaultPendingScanSize
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.OrderStatusPending)).
			Where("createdAt", "<", cutoff.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrderDocument(doc.ID, doc.Data))
	}
	return orders, nil
}

func (r *OrderRepository) transition(ctx context.Context, op string, orderID string, mutate func(*orderDocument) error) (domain.Order, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: id is required", repositories.ErrInvalidOrder)
	}

	var updated orderDocument
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := r.base.Decode(snapshot)
		if err != nil {
			return err
		}
		doc := current.Data
		if doc.Status != string(domain.OrderStatusPending) {
			return repositories.ErrOrderNotPending
		}
		if err := mutate(&doc); err != nil {
			return err
		}
		updated = doc
		return tx.Set(ref, doc)
	}, pfirestore.WithTxName(op))
	if err != nil {
		if errors.Is(err, repositories.ErrOrderNotPending) {
			return domain.Order{}, repositories.ErrOrderNotPending
		}
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return decodeOrderDocument(id, updated), nil
}

type orderDocument struct {
	UserID           string           `firestore:"userId,omitempty"`
	CartKey          string           `firestore:"cartKey"`
	Customer         customerDocument `firestore:"customer"`
	Items            []lineDocument   `firestore:"items"`
	Totals           totalsDocument   `firestore:"totals"`
	Currency         string           `firestore:"currency"`
	Status           string           `firestore:"status"`
	CheckoutState    string           `firestore:"checkoutState"`
	Provider         string           `firestore:"provider,omitempty"`
	PaymentOrderID   string           `firestore:"paymentOrderId,omitempty"`
	PaymentReference *string          `firestore:"paymentReference"`
	Capture          *captureDocument `firestore:"capture,omitempty"`
	FailureReason    string           `firestore:"failureReason,omitempty"`
	CreatedAt        time.Time        `firestore:"createdAt"`
	UpdatedAt        time.Time        `firestore:"updatedAt"`
	PaidAt           *time.Time       `firestore:"paidAt,omitempty"`
	FailedAt         *time.Time       `firestore:"failedAt,omitempty"`
}

type customerDocument struct {
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Name      string `firestore:"name"`
	Email     string `firestore:"email"`
	Address   string `firestore:"address"`
	City      string `firestore:"city"`
	State     string `firestore:"state"`
	Zip       string `firestore:"zip"`
}

type captureDocument struct {
	TransactionID string    `firestore:"transactionId"`
	Status        string    `firestore:"status"`
	Amount        float64   `firestore:"amount"`
	Currency      string    `firestore:"currency"`
	PayerEmail    string    `firestore:"payerEmail,omitempty"`
	CapturedAt    time.Time `firestore:"capturedAt"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		UserID:  strings.TrimSpace(order.UserID),
		CartKey: order.CartKey,
		Customer: customerDocument{
			FirstName: order.Customer.FirstName,
			LastName:  order.Customer.LastName,
			Name:      order.Customer.FullName(),
			Email:     order.Customer.Email,
			Address:   order.Customer.Address,
			City:      order.Customer.City,
			State:     order.Customer.State,
			Zip:       order.Customer.Zip,
		},
		Items:          encodeLines(order.Items),
		Totals:         encodeTotals(order.Totals),
		Currency:       strings.ToUpper(strings.TrimSpace(order.Currency)),
		Status:         string(order.Status),
		CheckoutState:  string(order.CheckoutState),
		Provider:       order.Provider,
		PaymentOrderID: order.PaymentOrderID,
		FailureReason:  order.FailureReason,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
	if order.PaymentReference != nil {
		ref := *order.PaymentReference
		doc.PaymentReference = &ref
	}
	if order.Capture != nil {
		doc.Capture = &captureDocument{
			TransactionID: order.Capture.TransactionID,
			Status:        order.Capture.Status,
			Amount:        moneyToFloat(order.Capture.Amount),
			Currency:      order.Capture.Currency,
			PayerEmail:    order.Capture.PayerEmail,
			CapturedAt:    order.Capture.CapturedAt.UTC(),
		}
	}
	doc.PaidAt = normalizeTimePointer(order.PaidAt)
	doc.FailedAt = normalizeTimePointer(order.FailedAt)
	return doc
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:      id,
		UserID:  doc.UserID,
		CartKey: doc.CartKey,
		Customer: domain.Customer{
			FirstName: doc.Customer.FirstName,
			LastName:  doc.Customer.LastName,
			Email:     doc.Customer.Email,
			Address:   doc.Customer.Address,
			City:      doc.Customer.City,
			State:     doc.Customer.State,
			Zip:       doc.Customer.Zip,
		},
		Items:          decodeLines(doc.Items),
		Totals:         decodeTotals(doc.Totals),
		Currency:       doc.Currency,
		Status:         domain.OrderStatus(doc.Status),
		CheckoutState:  domain.CheckoutState(doc.CheckoutState),
		Provider:       doc.Provider,
		PaymentOrderID: doc.PaymentOrderID,
		FailureReason:  doc.FailureReason,
		CreatedAt:      doc.CreatedAt.UTC(),
		UpdatedAt:      doc.UpdatedAt.UTC(),
		PaidAt:         normalizeTimePointer(doc.PaidAt),
		FailedAt:       normalizeTimePointer(doc.FailedAt),
	}
	if doc.PaymentReference != nil {
		ref := *doc.PaymentReference
		order.PaymentReference = &ref
	}
	if doc.Capture != nil {
		order.Capture = &domain.PaymentCapture{
			TransactionID: doc.Capture.TransactionID,
			Status:        doc.Capture.Status,
			Amount:        floatToMoney(doc.Capture.Amount),
			Currency:      doc.Capture.Currency,
			PayerEmail:    doc.Capture.PayerEmail,
			CapturedAt:    doc.Capture.CapturedAt.UTC(),
		}
	}
	return order
}

func normalizeTimePointer(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	t := value.UTC()
	return &t
}
