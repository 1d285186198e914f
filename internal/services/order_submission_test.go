package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"

	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/repositories"
)

type fakeOrderRepo struct {
	mu        sync.Mutex
	global    map[string]map[string]any
	user      map[string]map[string]any
	taken     map[string]bool
	createErr error
	updates   []domain.PaymentStatusUpdate
	updateErr error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		global: map[string]map[string]any{},
		user:   map[string]map[string]any{},
		taken:  map[string]bool{},
	}
}

func (r *fakeOrderRepo) CreateLedgers(_ context.Context, orderID, ownerID string, doc map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if r.taken[orderID] || r.global[orderID] != nil {
		return fmt.Errorf("%w: %s", repositories.ErrOrderIDTaken, orderID)
	}
	r.global[orderID] = doc
	r.user[ownerID+"/"+orderID] = doc
	return nil
}

func (r *fakeOrderRepo) Get(_ context.Context, ownerID, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.user[ownerID+"/"+orderID]
	if !ok {
		return domain.Order{}, notFoundErr{}
	}
	return domain.Order{OrderID: orderID, UserID: ownerID, PaymentStatus: fmt.Sprint(doc["paymentStatus"])}, nil
}

func (r *fakeOrderRepo) UpdatePaymentStatus(_ context.Context, _ string, _ string, update domain.PaymentStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates = append(r.updates, update)
	return nil
}

type publishedEvent struct {
	eventType string
	subject   string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, eventType, subject string, _ any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, publishedEvent{eventType: eventType, subject: subject})
	return fmt.Sprintf("evt-%d", len(p.events)), nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.eventType)
	}
	return out
}

// sequenceRandom replays values modulo n.
func sequenceRandom(values ...int) func(n int) int {
	var mu sync.Mutex
	i := 0
	return func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		v := values[i%len(values)]
		i++
		return v % n
	}
}

func builtOrder(t *testing.T) Order {
	t.Helper()
	order, err := BuildOrder(orderInputs(line("1-default-1", ServiceOffering{ID: 1, Name: "Gutter", Price: []int{500}, Type: "repairs"}, 1)))
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	return order
}

var orderIDPattern = regexp.MustCompile(`^[A-Z]{2}\d{5}$`)

func TestNewOrderIDFormat(t *testing.T) {
	for i := 0; i < 500; i++ {
		if id := NewOrderID(nil); !orderIDPattern.MatchString(id) {
			t.Fatalf("order id %q does not match format", id)
		}
	}
	if id := NewOrderID(sequenceRandom(0, 25, 1, 2, 3, 4, 9)); id != "AZ12349" {
		t.Fatalf("unexpected deterministic id %q", id)
	}
}

func TestSubmitOrderWritesBothLedgers(t *testing.T) {
	repo := newFakeOrderRepo()
	events := &fakePublisher{}
	svc, err := NewOrderSubmitter(OrderSubmissionDeps{Orders: repo, Events: events})
	if err != nil {
		t.Fatalf("NewOrderSubmitter: %v", err)
	}

	res, err := svc.SubmitOrder(context.Background(), builtOrder(t), "user-1")
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !orderIDPattern.MatchString(res.OrderID) || res.Order.OrderID != res.OrderID {
		t.Fatalf("unexpected result %+v", res)
	}
	global := repo.global[res.OrderID]
	owned := repo.user["user-1/"+res.OrderID]
	if global == nil || owned == nil || global["orderId"] != res.OrderID {
		t.Fatalf("expected both ledgers written, got %v / %v", global, owned)
	}
	if got := events.types(); len(got) != 1 || got[0] != EventOrderCreated {
		t.Fatalf("expected order.created, got %v", got)
	}
}

func TestSubmitOrderRetriesOnCollision(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.taken["AA00000"] = true
	svc, _ := NewOrderSubmitter(OrderSubmissionDeps{
		Orders: repo,
		Random: sequenceRandom(0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 1),
	})

	res, err := svc.SubmitOrder(context.Background(), builtOrder(t), "user-1")
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.OrderID != "BB11111" {
		t.Fatalf("expected retry with a fresh id, got %s", res.OrderID)
	}
}

func TestSubmitOrderGivesUpAfterAttempts(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.taken["AA00000"] = true
	svc, _ := NewOrderSubmitter(OrderSubmissionDeps{Orders: repo, Random: sequenceRandom(0), MaxAttempts: 2})

	if _, err := svc.SubmitOrder(context.Background(), builtOrder(t), "user-1"); !errors.Is(err, ErrOrderIDExhausted) {
		t.Fatalf("expected ErrOrderIDExhausted, got %v", err)
	}
}

func TestSubmitOrderSurfacesPersistenceFailures(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.createErr = errors.New("permission denied")
	events := &fakePublisher{}
	svc, _ := NewOrderSubmitter(OrderSubmissionDeps{Orders: repo, Events: events})

	if _, err := svc.SubmitOrder(context.Background(), builtOrder(t), "user-1"); !errors.Is(err, ErrOrderPersistence) {
		t.Fatalf("expected ErrOrderPersistence, got %v", err)
	}
	if len(events.types()) != 0 {
		t.Fatalf("expected no events for a failed submission")
	}
	if _, err := svc.SubmitOrder(context.Background(), builtOrder(t), " "); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for a blank owner, got %v", err)
	}
}

func TestSubmitOrderIgnoresPublishFailures(t *testing.T) {
	svc, _ := NewOrderSubmitter(OrderSubmissionDeps{Orders: newFakeOrderRepo(), Events: &fakePublisher{err: errors.New("topic gone")}})
	if _, err := svc.SubmitOrder(context.Background(), builtOrder(t), "user-1"); err != nil {
		t.Fatalf("expected publish failures to be ignored, got %v", err)
	}
}

func TestGetOrderMapsNotFound(t *testing.T) {
	svc, _ := NewOrderSubmitter(OrderSubmissionDeps{Orders: newFakeOrderRepo()})
	if _, err := svc.GetOrder(context.Background(), "user-1", "ZZ99999"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
