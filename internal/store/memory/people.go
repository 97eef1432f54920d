package memory

import (
	"context"
	"sync"

	"trainingcenter/backend/internal/domain"
	"trainingcenter/backend/internal/store"
)

type People struct {
	mu     sync.RWMutex
	people map[string]domain.Person
}

func NewPeople(people ...domain.Person) *People {
	p := &People{people: make(map[string]domain.Person, len(people))}
	for _, person := range people {
		p.people[person.ID] = person
	}
	return p
}

func (p *People) Put(person domain.Person) {
	p.mu.Lock()
	p.people[person.ID] = person
	p.mu.Unlock()
}

// Exists reports whether personID is known and still active.
func (p *People) Exists(ctx context.Context, personID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	person, ok := p.people[personID]
	return ok && person.Active, nil
}

func (p *People) DisplayName(ctx context.Context, personID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	person, ok := p.people[personID]
	if !ok {
		return "", store.ErrNotFound
	}
	return person.DisplayName, nil
}

type Payments struct {
	mu        sync.RWMutex
	byStudent map[string][]domain.Payment
}

func NewPayments(payments ...domain.Payment) *Payments {
	p := &Payments{byStudent: make(map[string][]domain.Payment)}
	for _, pay := range payments {
		p.byStudent[pay.StudentID] = append(p.byStudent[pay.StudentID], pay)
	}
	return p
}

func (p *Payments) Put(pay domain.Payment) {
	p.mu.Lock()
	p.byStudent[pay.StudentID] = append(p.byStudent[pay.StudentID], pay)
	p.mu.Unlock()
}

// IsDelinquent reports whether the student has at least one overdue payment.
func (p *Payments) IsDelinquent(ctx context.Context, studentID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, pay := range p.byStudent[studentID] {
		if pay.Status == domain.PaymentOverdue {
			return true, nil
		}
	}
	return false, nil
}
