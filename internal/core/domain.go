package core

import (
	"strings"
	"time"
)

const (
	RoleInvestor AccountRole = "investor"
	RoleAdmin    AccountRole = "admin"
	// RoleObserver can see everything but never authors or votes on spendings.
	RoleObserver AccountRole = "observer"
)

const (
	MemberActive  MemberRole = "active"
	MemberPassive MemberRole = "passive"
)

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

const (
	CategoryService Category = "Service"
	CategoryProduct Category = "Product"
)

const maxDescriptionLen = 500

type (
	AccountRole string
	MemberRole  string
	Status      string
	Decision    string
	Category    string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64 `json:"cents"`
	}

	// User is an account as seen by this service.
	User struct {
		ID   string      `json:"id"`
		Name string      `json:"name"`
		Role AccountRole `json:"role"`
	}

	// Person is the id/name pair used in views.
	Person struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	Membership struct {
		User User       `json:"user"`
		Role MemberRole `json:"role"`
	}

	// Project is owned by an external store and read-only here.
	// Members may contain the same user more than once.
	Project struct {
		ID            string       `json:"id"`
		Name          string       `json:"name"`
		Creator       User         `json:"creator"`
		FundingTarget Money        `json:"fundingTarget"` // zero means uncapped
		Members       []Membership `json:"members"`
		CreatedAt     time.Time    `json:"createdAt"`
	}

	Vote struct {
		Decision  Decision  `json:"decision"`
		At        time.Time `json:"at"`
		VoterName string    `json:"voterName"`
	}

	Spending struct {
		ID          string          `json:"id"`
		ProjectID   string          `json:"projectId"`
		Amount      Money           `json:"amount"`
		Category    Category        `json:"category"`
		ProductName string          `json:"productName,omitempty"`
		PayeeName   string          `json:"payeeName,omitempty"`
		PayeePlace  string          `json:"payeePlace,omitempty"`
		LedgerID    string          `json:"ledgerId,omitempty"`
		SubLedger   string          `json:"subLedger,omitempty"`
		Description string          `json:"description"`
		SpentOn     Date            `json:"spentOn"`
		InitiatorID string          `json:"initiatorId"`
		FundedByID  string          `json:"fundedById"`
		Status      Status          `json:"status"`
		Votes       map[string]Vote `json:"votes"`
		CreatedAt   time.Time       `json:"createdAt"`
		UpdatedAt   time.Time       `json:"updatedAt"`
		Version     int64           `json:"version"`
	}

	// Ledger is a named bucket with an optional closed catalog of sub-ledgers.
	Ledger struct {
		ID         string   `json:"id"`
		ProjectID  string   `json:"projectId"`
		Name       string   `json:"name"`
		SubLedgers []string `json:"subLedgers"`
	}

	// NewSpending is the caller input for creating a spending.
	NewSpending struct {
		ProjectID   string
		Amount      Money
		Category    Category
		ProductName string
		PayeeName   string
		PayeePlace  string
		LedgerID    string
		SubLedger   string
		Description string
		SpentOn     Date
		FundedBy    string
	}
)

func (r AccountRole) Valid() bool {
	switch r {
	case RoleInvestor, RoleAdmin, RoleObserver:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further vote may change the status.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

func (c Category) Valid() bool {
	return c == CategoryService || c == CategoryProduct
}

func (u User) IsObserver() bool {
	return u.Role == RoleObserver
}

func (u User) Person() Person {
	return Person{ID: u.ID, Name: u.Name}
}

// IsMember reports whether id is the creator or appears in the member list.
func (p Project) IsMember(id string) bool {
	_, ok := p.Member(id)
	return ok
}

// Member looks up a user by id among the creator and the memberships.
func (p Project) Member(id string) (User, bool) {
	if id == "" {
		return User{}, false
	}
	if p.Creator.ID == id {
		return p.Creator, true
	}
	for _, m := range p.Members {
		if m.User.ID == id {
			return m.User, true
		}
	}
	return User{}, false
}

// HasAccess reports whether u may read the project's spendings.
func (p Project) HasAccess(u User) bool {
	return u.IsObserver() || p.IsMember(u.ID)
}

// Clone returns a copy whose vote ledger can be mutated independently.
func (s Spending) Clone() Spending {
	votes := make(map[string]Vote, len(s.Votes))
	for k, v := range s.Votes {
		votes[k] = v
	}
	s.Votes = votes
	return s
}

// Validate checks the category-independent and category-specific fields.
func (n NewSpending) Validate() error {
	if err := n.Amount.Validate(); err != nil {
		return err
	}
	if len(n.Description) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	switch n.Category {
	case CategoryProduct:
		if strings.TrimSpace(n.ProductName) == "" {
			return ErrMissingProductName
		}
	case CategoryService:
		if strings.TrimSpace(n.PayeeName) == "" || strings.TrimSpace(n.PayeePlace) == "" {
			return ErrMissingPayee
		}
	default:
		return ErrInvalidCategory
	}
	if n.LedgerID == "" && n.SubLedger != "" {
		return ErrInvalidSubLedger
	}
	return nil
}

// ValidateSubLedger accepts any value when the catalog is empty.
func (l Ledger) ValidateSubLedger(sub string) error {
	if sub == "" || len(l.SubLedgers) == 0 {
		return nil
	}
	for _, s := range l.SubLedgers {
		if s == sub {
			return nil
		}
	}
	return ErrInvalidSubLedger
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// MonthKey formats the date as YYYY-MM.
func (d Date) MonthKey() string {
	return d.Format("2006-01")
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + d.Format("2006-01-02") + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return ErrInvalidDate
	}
	d.Time = t
	return nil
}
