package services_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/reservation-service/models"
	"github.com/yashrajoria/reservation-service/repository"
)

// ---- in-memory store: stock, orders and transactions ----

// memStore applies the same conditional rules as the Mongo repositories.
// Transactions are serialized and roll back by restoring a snapshot.
type memStore struct {
	mu     sync.Mutex
	stock  map[models.SkuRef]*models.StockRecord
	orders map[string]*models.Order

	// createOrderErr is returned by the next order insert, if set.
	createOrderErr error
	txCount        int
}

type txKey struct{}

func newMemStore() *memStore {
	return &memStore{
		stock:  make(map[models.SkuRef]*models.StockRecord),
		orders: make(map[string]*models.Order),
	}
}

func (s *memStore) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	stock := make(map[models.SkuRef]models.StockRecord, len(s.stock))
	for k, v := range s.stock {
		cp := *v
		cp.Holds = append([]models.StockHold(nil), v.Holds...)
		stock[k] = cp
	}
	orders := make(map[string]*models.Order, len(s.orders))
	for k, v := range s.orders {
		orders[k] = v
	}

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.stock = make(map[models.SkuRef]*models.StockRecord, len(stock))
		for k, v := range stock {
			rec := v
			s.stock[k] = &rec
		}
		s.orders = orders
		return err
	}
	return nil
}

func (s *memStore) seed(ref models.SkuRef, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[ref] = &models.StockRecord{
		ID:                uuid.NewString(),
		SkuKind:           ref.Kind,
		SkuID:             ref.ID,
		ProductID:         ref.ID,
		AvailableQuantity: available,
		IsAvailable:       available > 0,
	}
}

func (s *memStore) snapshot(ref models.SkuRef) models.StockRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.stock[ref]
	cp.Holds = append([]models.StockHold(nil), cp.Holds...)
	return cp
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) live(ref models.SkuRef) *models.StockRecord {
	rec, ok := s.stock[ref]
	if !ok || rec.DeletedAt != nil {
		return nil
	}
	return rec
}

func refreshAvailability(rec *models.StockRecord, now time.Time) {
	rec.IsAvailable = rec.AvailableQuantity > 0
	if rec.IsAvailable {
		rec.SoldOutAt = nil
	} else if rec.SoldOutAt == nil {
		rec.SoldOutAt = &now
	}
	rec.LockedQuantity = 0
	rec.LockExpiresAt = nil
	for _, h := range rec.Holds {
		rec.LockedQuantity += h.Quantity
		if rec.LockExpiresAt == nil || h.ExpiresAt.Before(*rec.LockExpiresAt) {
			exp := h.ExpiresAt
			rec.LockExpiresAt = &exp
		}
	}
}

// dropHolds removes the holds matching drop and returns their quantity.
func dropHolds(rec *models.StockRecord, drop func(models.StockHold) bool) int {
	n := 0
	kept := rec.Holds[:0:0]
	for _, h := range rec.Holds {
		if drop(h) {
			n += h.Quantity
			continue
		}
		kept = append(kept, h)
	}
	rec.Holds = kept
	return n
}

func memReceipt(rec *models.StockRecord, qty int) *models.ReservationReceipt {
	return &models.ReservationReceipt{
		Sku:            rec.Ref(),
		Quantity:       qty,
		RemainingStock: rec.AvailableQuantity,
		SoldOut:        !rec.IsAvailable,
		LockExpiresAt:  rec.LockExpiresAt,
	}
}

func (s *memStore) Create(ctx context.Context, rec *models.StockRecord) error {
	defer s.lock(ctx)()
	if _, ok := s.stock[rec.Ref()]; ok {
		return repository.ErrAlreadyExists
	}
	cp := *rec
	refreshAvailability(&cp, time.Now())
	s.stock[rec.Ref()] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, ref models.SkuRef) (*models.StockRecord, error) {
	defer s.lock(ctx)()
	rec := s.live(ref)
	if rec == nil {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) Restock(ctx context.Context, ref models.SkuRef, quantity int) (*models.StockRecord, error) {
	defer s.lock(ctx)()
	rec := s.live(ref)
	if rec == nil {
		return nil, repository.ErrNotFound
	}
	rec.AvailableQuantity += quantity
	refreshAvailability(rec, time.Now())
	cp := *rec
	return &cp, nil
}

func (s *memStore) SoftDelete(ctx context.Context, ref models.SkuRef) error {
	defer s.lock(ctx)()
	rec := s.live(ref)
	if rec == nil {
		return repository.ErrNotFound
	}
	now := time.Now()
	rec.DeletedAt = &now
	return nil
}

func (s *memStore) Reserve(ctx context.Context, ref models.SkuRef, quantity int) (*models.ReservationReceipt, error) {
	defer s.lock(ctx)()
	rec := s.live(ref)
	if rec == nil || rec.AvailableQuantity < quantity {
		return nil, repository.ErrOutOfStock
	}
	rec.AvailableQuantity -= quantity
	refreshAvailability(rec, time.Now())
	return memReceipt(rec, quantity), nil
}

func (s *memStore) Lock(ctx context.Context, ref models.SkuRef, quantity int, expiresAt time.Time) (*models.ReservationReceipt, error) {
	defer s.lock(ctx)()
	rec := s.live(ref)
	if rec == nil || rec.AvailableQuantity < quantity {
		return nil, repository.ErrOutOfStock
	}
	hold := models.StockHold{ID: uuid.NewString(), Quantity: quantity, ExpiresAt: expiresAt}
	rec.AvailableQuantity -= quantity
	rec.Holds = append(rec.Holds, hold)
	refreshAvailability(rec, time.Now())
	rcpt := memReceipt(rec, quantity)
	rcpt.HoldID = hold.ID
	rcpt.LockExpiresAt = &hold.ExpiresAt
	return rcpt, nil
}

func (s *memStore) CommitLock(ctx context.Context, ref models.SkuRef, holdID string, quantity int) (*models.ReservationReceipt, error) {
	defer s.lock(ctx)()
	rec := s.live(ref)
	if rec == nil {
		return nil, repository.ErrLockNotHeld
	}
	n := dropHolds(rec, func(h models.StockHold) bool { return h.ID == holdID && h.Quantity == quantity })
	if n == 0 {
		return nil, repository.ErrLockNotHeld
	}
	refreshAvailability(rec, time.Now())
	return memReceipt(rec, quantity), nil
}

func (s *memStore) ReleaseLock(ctx context.Context, ref models.SkuRef, holdID string) (*models.ReservationReceipt, error) {
	defer s.lock(ctx)()
	rec := s.live(ref)
	if rec == nil {
		return nil, repository.ErrLockNotHeld
	}
	n := dropHolds(rec, func(h models.StockHold) bool { return h.ID == holdID })
	if n == 0 {
		return nil, repository.ErrLockNotHeld
	}
	rec.AvailableQuantity += n
	refreshAvailability(rec, time.Now())
	rcpt := memReceipt(rec, n)
	rcpt.HoldID = holdID
	return rcpt, nil
}

func (s *memStore) FindExpiredLocks(ctx context.Context, now time.Time, limit int) ([]models.StockRecord, error) {
	defer s.lock(ctx)()
	var out []models.StockRecord
	for _, rec := range s.stock {
		if rec.LockedQuantity > 0 && rec.LockExpiresAt != nil && !rec.LockExpiresAt.After(now) {
			out = append(out, *rec)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) UnlockExpired(ctx context.Context, id string, now time.Time) (int, error) {
	defer s.lock(ctx)()
	for _, rec := range s.stock {
		if rec.ID != id {
			continue
		}
		released := dropHolds(rec, func(h models.StockHold) bool { return !h.ExpiresAt.After(now) })
		rec.AvailableQuantity += released
		refreshAvailability(rec, now)
		return released, nil
	}
	return 0, nil
}

// memOrders shares the store so order inserts roll back with stock changes.
type memOrders struct{ *memStore }

func (o memOrders) FindByExternalID(ctx context.Context, externalOrderID string) (*models.Order, error) {
	defer o.lock(ctx)()
	order, ok := o.orders[externalOrderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

func (o memOrders) Create(ctx context.Context, order *models.Order) error {
	defer o.lock(ctx)()
	if err := o.createOrderErr; err != nil {
		o.createOrderErr = nil
		return err
	}
	if _, ok := o.orders[order.ExternalOrderID]; ok {
		return repository.ErrDuplicateOrder
	}
	o.orders[order.ExternalOrderID] = order
	return nil
}

// ---- in-memory session repository ----

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*models.CheckoutSession

	deleteErr error
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*models.CheckoutSession)}
}

func (m *memSessions) Save(_ context.Context, sess *models.CheckoutSession, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sess.SessionID] = &cp
	return nil
}

func (m *memSessions) Get(_ context.Context, id string) (*models.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *memSessions) MarkUsed(_ context.Context, id, usedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if sess.Used {
		if sess.UsedBy == usedBy {
			return nil
		}
		return repository.ErrSessionAlreadyUsed
	}
	sess.Used = true
	sess.UsedAt = &at
	sess.UsedBy = usedBy
	return nil
}

func (m *memSessions) Unmark(_ context.Context, id, usedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.UsedBy != usedBy {
		return nil
	}
	sess.Used = false
	sess.UsedAt = nil
	sess.UsedBy = ""
	return nil
}

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.sessions, id)
	return nil
}

func (m *memSessions) Scan(_ context.Context, visit func(*models.CheckoutSession)) error {
	m.mu.Lock()
	all := make([]models.CheckoutSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, *s)
	}
	m.mu.Unlock()
	for i := range all {
		visit(&all[i])
	}
	return nil
}

func (m *memSessions) usedBy(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		return sess.UsedBy
	}
	return ""
}

func (m *memSessions) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// ---- recording collaborators ----

type recordingNotifier struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (n *recordingNotifier) OrderConfirmed(_ context.Context, order *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order.ExternalOrderID)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.orders)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.DomainEvent
	err    error
}

func (e *recordingEvents) Publish(_ context.Context, evt models.DomainEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return e.err
}

func (e *recordingEvents) ofType(t string) []models.DomainEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.DomainEvent
	for _, evt := range e.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

// recordingLedger keeps one entry per kind and external order id, like the
// unique index on the real ledgers.
type recordingLedger struct {
	mu      sync.Mutex
	entries []models.ReconciliationEntry
	err     error
}

func (l *recordingLedger) Record(_ context.Context, entry *models.ReconciliationEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	for _, e := range l.entries {
		if e.Kind == entry.Kind && e.ExternalOrderID == entry.ExternalOrderID {
			return nil
		}
	}
	entry.ID = uint(len(l.entries) + 1)
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *recordingLedger) ofKind(kind string) []models.ReconciliationEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.ReconciliationEntry
	for _, e := range l.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (l *recordingLedger) ListOpen(context.Context, int) ([]models.ReconciliationEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.ReconciliationEntry(nil), l.entries...), nil
}

func (l *recordingLedger) Resolve(context.Context, uint) error { return nil }

type memCache struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	getErr error
}

func (c *memCache) Get(_ context.Context, id string) (*models.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.orders[id], nil
}

func (c *memCache) Put(_ context.Context, order *models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orders == nil {
		c.orders = make(map[string]*models.Order)
	}
	c.orders[order.ExternalOrderID] = order
	return nil
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
	values map[string]float64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: map[string]int{}, values: map[string]float64{}}
}

func (m *countingMetrics) RecordCount(_ context.Context, name string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
	return nil
}

func (m *countingMetrics) RecordValue(_ context.Context, name string, v float64, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] += v
	return nil
}

func (m *countingMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

var errBoom = errors.New("boom")
