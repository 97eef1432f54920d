package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Person is the slice of the member/instructor aggregates the scheduler reads:
// identity, display name and whether the person may still be booked.
type Person struct {
	bun.BaseModel `bun:"table:people"`

	ID          string `bun:"id,pk"`
	DisplayName string `bun:"display_name,notnull"`
	Role        Role   `bun:"role,notnull"`
	Active      bool   `bun:"active,notnull"`
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
)

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID          uuid.UUID     `bun:"id,pk,type:uuid"`
	StudentID   string        `bun:"student_id,notnull"`
	AmountCents int64         `bun:"amount_cents,notnull"`
	DueDate     time.Time     `bun:"due_date,notnull"`
	Status      PaymentStatus `bun:"status,notnull"`
}
