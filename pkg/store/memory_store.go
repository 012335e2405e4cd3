package store

import (
	"sort"
	"sync"
	"time"

	"scribeworks/pkg/domain"
)

// MemoryStore keeps everything in-process with the same guard semantics as
// GormStore. Used in tests and local development.
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[string]domain.Order
	assignments map[string]domain.JobAssignment
	versions    map[string][]domain.FileVersion // key: fileID
	files       map[string]domain.File
	workers     map[string]domain.Worker
	bonuses     map[string]domain.Bonus
	seq         int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]domain.Order),
		assignments: make(map[string]domain.JobAssignment),
		versions:    make(map[string][]domain.FileVersion),
		files:       make(map[string]domain.File),
		workers:     make(map[string]domain.Worker),
		bonuses:     make(map[string]domain.Bonus),
	}
}

func (m *MemoryStore) CreateOrder(o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *MemoryStore) GetOrder(id string) (domain.Order, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	return o, ok, nil
}

func (m *MemoryStore) GetOrderByFile(fileID string) (domain.Order, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest domain.Order
	found := false
	for _, o := range m.orders {
		if o.FileID != fileID {
			continue
		}
		if !found || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
			found = true
		}
	}
	return latest, found, nil
}

func (m *MemoryStore) ListAssignableOrders(statuses []domain.OrderStatus, updatedBefore time.Time) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	allowed := make(map[domain.OrderStatus]struct{}, len(statuses))
	for _, s := range statuses {
		allowed[s] = struct{}{}
	}
	var res []domain.Order
	for _, o := range m.orders {
		if _, ok := allowed[o.Status]; !ok {
			continue
		}
		if o.UpdatedAt.After(updatedBefore) {
			continue
		}
		res = append(res, o)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Priority > res[j].Priority })
	return res, nil
}

func (m *MemoryStore) TransitionOrder(id string, from []domain.OrderStatus, to domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, from, to)
}

func (m *MemoryStore) transitionLocked(id string, from []domain.OrderStatus, to domain.OrderStatus) error {
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !statusIn(o.Status, from) {
		return domain.ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return nil
}

func (m *MemoryStore) SetOrderScreening(id string, required bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.ScreeningRequired = required
	o.ScreeningReason = reason
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return nil
}

func (m *MemoryStore) SetOrderDifficulty(id string, highDifficulty bool, issueCount int, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.HighDifficulty = highDifficulty
	o.IssueCount = issueCount
	o.DeliveryDeadline = deadline
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return nil
}

func (m *MemoryStore) GetAssignment(id string) (domain.JobAssignment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	return a, ok, nil
}

func (m *MemoryStore) ActiveAssignmentForWorker(workerID string) (domain.JobAssignment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assignments {
		if a.WorkerID == workerID && a.Status.Active() {
			return a, true, nil
		}
	}
	return domain.JobAssignment{}, false, nil
}

func (m *MemoryStore) ActiveAssignmentForOrder(orderID string, stage domain.JobStage) (domain.JobAssignment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assignments {
		if a.OrderID == orderID && a.Stage == stage && a.Status.Active() {
			return a, true, nil
		}
	}
	return domain.JobAssignment{}, false, nil
}

func (m *MemoryStore) HasAssignmentInStatus(orderID, workerID string, stage domain.JobStage, statuses []domain.JobStatus) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assignments {
		if a.OrderID == orderID && a.WorkerID == workerID && a.Stage == stage && jobStatusIn(a.Status, statuses) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) CreateAssignment(a domain.JobAssignment, orderFrom []domain.OrderStatus, orderTo domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.assignments {
		if !existing.Status.Active() {
			continue
		}
		if existing.OrderID == a.OrderID && existing.Stage == a.Stage {
			return domain.ErrAlreadyAssigned
		}
		if existing.WorkerID == a.WorkerID {
			return domain.ErrAlreadyAssigned
		}
	}
	if err := m.transitionLocked(a.OrderID, orderFrom, orderTo); err != nil {
		return err
	}
	m.assignments[a.ID] = a
	return nil
}

func (m *MemoryStore) UpdateAssignmentStatus(id string, status domain.JobStatus, earnings *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAssignmentLocked(id, status, earnings)
}

func (m *MemoryStore) updateAssignmentLocked(id string, status domain.JobStatus, earnings *float64) error {
	a, ok := m.assignments[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	a.Status = status
	a.UpdatedAt = now
	switch status {
	case domain.JobAccepted:
		a.AcceptedAt = &now
	case domain.JobCompleted:
		a.CompletedAt = &now
	case domain.JobRejected, domain.JobCancelled:
		a.CancelledAt = &now
	}
	if earnings != nil {
		a.Earnings = *earnings
	}
	m.assignments[id] = a
	return nil
}

// PutAssignment overwrites an assignment row directly, bypassing guards.
// Test seeding helper; not part of the Store interface.
func (m *MemoryStore) PutAssignment(a domain.JobAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = a
	return nil
}

func (m *MemoryStore) CloseAssignment(c JobClosure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[c.AssignmentID]
	if !ok {
		return domain.ErrNotFound
	}
	if !jobStatusIn(a.Status, c.JobFrom) {
		return domain.ErrInvalidTransition
	}
	if c.OrderTo != "" {
		if err := m.transitionLocked(c.OrderID, c.OrderFrom, c.OrderTo); err != nil {
			return err
		}
		if c.DeliveredAt != nil {
			o := m.orders[c.OrderID]
			o.DeliveredAt = c.DeliveredAt
			o.DeliveredByWorkerID = c.DeliveredBy
			m.orders[c.OrderID] = o
		}
	}
	return m.updateAssignmentLocked(c.AssignmentID, c.JobTo, c.Earnings)
}

func (m *MemoryStore) ReassignJob(oldID string, closeStatus domain.JobStatus, closeEarnings *float64, next domain.JobAssignment, orderTo domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[oldID]; !ok {
		return domain.ErrNotFound
	}
	// Uniqueness is re-checked before any write; the row being replaced does
	// not count against the replacement.
	for id, existing := range m.assignments {
		if id == oldID || !existing.Status.Active() {
			continue
		}
		if existing.OrderID == next.OrderID && existing.Stage == next.Stage {
			return domain.ErrAlreadyAssigned
		}
		if existing.WorkerID == next.WorkerID {
			return domain.ErrAlreadyAssigned
		}
	}
	if err := m.updateAssignmentLocked(oldID, closeStatus, closeEarnings); err != nil {
		return err
	}
	m.assignments[next.ID] = next
	o, ok := m.orders[next.OrderID]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = orderTo
	o.UpdatedAt = time.Now().UTC()
	m.orders[next.OrderID] = o
	return nil
}

func (m *MemoryStore) RefundOrder(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status == domain.OrderCancelled || o.Status == domain.OrderRefunded {
		return domain.ErrInvalidTransition
	}
	now := time.Now().UTC()
	o.Status = domain.OrderRefunded
	o.UpdatedAt = now
	m.orders[orderID] = o
	for id, a := range m.assignments {
		if a.OrderID != orderID {
			continue
		}
		switch a.Status {
		case domain.JobCompleted, domain.JobRejected, domain.JobCancelled:
			continue
		}
		a.Status = domain.JobCancelled
		a.CancelledAt = &now
		a.UpdatedAt = now
		m.assignments[id] = a
	}
	return nil
}

func (m *MemoryStore) CompletedAssignments(stage domain.JobStage, from, to time.Time) ([]domain.JobAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.JobAssignment
	for _, a := range m.assignments {
		if a.Stage != stage || a.Status != domain.JobCompleted || a.CompletedAt == nil {
			continue
		}
		if a.CompletedAt.Before(from) || !a.CompletedAt.Before(to) {
			continue
		}
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CompletedAt.Before(*res[j].CompletedAt) })
	return res, nil
}

func (m *MemoryStore) SaveWorker(w domain.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID] = w
	return nil
}

func (m *MemoryStore) GetWorker(id string) (domain.Worker, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	return w, ok, nil
}

func (m *MemoryStore) SaveFile(f domain.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	return nil
}

func (m *MemoryStore) GetFile(id string) (domain.File, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	return f, ok, nil
}

func (m *MemoryStore) AppendFileVersion(v domain.FileVersion) (domain.FileVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.Tag == domain.TagCustomerEdit {
		kept := m.versions[v.FileID][:0]
		for _, existing := range m.versions[v.FileID] {
			if existing.Tag != domain.TagCustomerEdit {
				kept = append(kept, existing)
			}
		}
		m.versions[v.FileID] = kept
	}
	m.seq++
	v.Seq = m.seq
	m.versions[v.FileID] = append(m.versions[v.FileID], v)
	return v, nil
}

func (m *MemoryStore) LatestFileVersion(fileID string, tag domain.StageTag) (domain.FileVersion, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest domain.FileVersion
	found := false
	for _, v := range m.versions[fileID] {
		if v.Tag != tag {
			continue
		}
		if !found || v.Seq > latest.Seq {
			latest = v
			found = true
		}
	}
	return latest, found, nil
}

func (m *MemoryStore) ListFileVersions(fileID string, tags []domain.StageTag) ([]domain.FileVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	allowed := make(map[domain.StageTag]struct{}, len(tags))
	for _, t := range tags {
		allowed[t] = struct{}{}
	}
	var res []domain.FileVersion
	for _, v := range m.versions[fileID] {
		if len(tags) > 0 {
			if _, ok := allowed[v.Tag]; !ok {
				continue
			}
		}
		res = append(res, v)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

func (m *MemoryStore) DeleteCustomerEdit(fileID string) (domain.FileVersion, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted domain.FileVersion
	found := false
	kept := m.versions[fileID][:0]
	for _, v := range m.versions[fileID] {
		if v.Tag == domain.TagCustomerEdit && (!found || v.Seq > deleted.Seq) {
			deleted = v
			found = true
			continue
		}
		kept = append(kept, v)
	}
	m.versions[fileID] = kept
	return deleted, found, nil
}

func (m *MemoryStore) CreateBonus(b domain.Bonus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := b.WorkerID + "|" + b.Window + "|" + string(b.Type) + "|" + string(b.Stage)
	if _, exists := m.bonuses[key]; exists {
		return false, nil
	}
	m.bonuses[key] = b
	return true, nil
}

func (m *MemoryStore) ListBonuses(workerID string) ([]domain.Bonus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Bonus
	for _, b := range m.bonuses {
		if b.WorkerID == workerID {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func statusIn(s domain.OrderStatus, in []domain.OrderStatus) bool {
	for _, candidate := range in {
		if s == candidate {
			return true
		}
	}
	return false
}

func jobStatusIn(s domain.JobStatus, in []domain.JobStatus) bool {
	for _, candidate := range in {
		if s == candidate {
			return true
		}
	}
	return false
}
