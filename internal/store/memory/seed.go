package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"trainingcenter/backend/internal/domain"
)

type seedPerson struct {
	ID          string `mapstructure:"id"`
	DisplayName string `mapstructure:"display_name"`
	Role        string `mapstructure:"role"`
	Active      *bool  `mapstructure:"active"`
}

type seedPayment struct {
	ID          string `mapstructure:"id"`
	StudentID   string `mapstructure:"student_id"`
	AmountCents int64  `mapstructure:"amount_cents"`
	DueDate     string `mapstructure:"due_date"`
	Status      string `mapstructure:"status"`
}

// LoadSeed reads people and payments from a YAML, JSON or TOML file. People
// are active unless the file says otherwise. Payments without an id get one
// derived from their position so reloading the same file is stable.
func LoadSeed(path string) (*People, *Payments, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read seed %s: %w", path, err)
	}

	var rawPeople []seedPerson
	if err := v.UnmarshalKey("people", &rawPeople); err != nil {
		return nil, nil, fmt.Errorf("seed people: %w", err)
	}
	var rawPayments []seedPayment
	if err := v.UnmarshalKey("payments", &rawPayments); err != nil {
		return nil, nil, fmt.Errorf("seed payments: %w", err)
	}

	people := NewPeople()
	for i, sp := range rawPeople {
		person, err := sp.person()
		if err != nil {
			return nil, nil, fmt.Errorf("seed people[%d]: %w", i, err)
		}
		people.Put(person)
	}

	payments := NewPayments()
	for i, sp := range rawPayments {
		pay, err := sp.payment(i)
		if err != nil {
			return nil, nil, fmt.Errorf("seed payments[%d]: %w", i, err)
		}
		payments.Put(pay)
	}
	return people, payments, nil
}

func (sp seedPerson) person() (domain.Person, error) {
	id := strings.TrimSpace(sp.ID)
	if id == "" {
		return domain.Person{}, fmt.Errorf("id is required")
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(sp.Role)))
	if role != domain.RoleStudent && role != domain.RoleInstructor {
		return domain.Person{}, fmt.Errorf("%s: unknown role %q", id, sp.Role)
	}
	active := true
	if sp.Active != nil {
		active = *sp.Active
	}
	return domain.Person{ID: id, DisplayName: strings.TrimSpace(sp.DisplayName), Role: role, Active: active}, nil
}

func (sp seedPayment) payment(index int) (domain.Payment, error) {
	studentID := strings.TrimSpace(sp.StudentID)
	if studentID == "" {
		return domain.Payment{}, fmt.Errorf("student_id is required")
	}

	status := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(sp.Status)))
	switch status {
	case domain.PaymentPending, domain.PaymentPaid, domain.PaymentOverdue:
	default:
		return domain.Payment{}, fmt.Errorf("%s: unknown status %q", studentID, sp.Status)
	}
	if sp.AmountCents < 0 {
		return domain.Payment{}, fmt.Errorf("%s: amount_cents must not be negative", studentID)
	}

	var due time.Time
	if s := strings.TrimSpace(sp.DueDate); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			if t, err = time.Parse(time.DateOnly, s); err != nil {
				return domain.Payment{}, fmt.Errorf("%s: due_date: %w", studentID, err)
			}
		}
		due = t.UTC()
	}

	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("trainingcenter:seed-payment:%s:%d", studentID, index)))
	if s := strings.TrimSpace(sp.ID); s != "" {
		parsed, err := uuid.Parse(s)
		if err != nil {
			return domain.Payment{}, fmt.Errorf("%s: id: %w", studentID, err)
		}
		id = parsed
	}
	return domain.Payment{ID: id, StudentID: studentID, AmountCents: sp.AmountCents, DueDate: due, Status: status}, nil
}
