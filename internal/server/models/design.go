package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
)

// Design statuses.
const (
	StatusSubmitted = "submitted"
	StatusInReview  = "in_review"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
)

const MetalGold = "gold"

// MaxEngravingLength is measured in characters, not bytes.
const MaxEngravingLength = 64

var (
	Statuses     = []string{StatusSubmitted, StatusInReview, StatusApproved, StatusRejected}
	Styles       = []string{"ring", "pendant", "earrings", "bracelet", "necklace", "brooch", "cufflinks", "other"}
	Metals       = []string{MetalGold, "platinum", "silver", "palladium"}
	Karats       = []string{"10K", "14K", "18K", "22K", "24K"}
	MetalColours = []string{"yellow", "white", "rose", "two_tone"}
)

// Customer holds contact details of the person the piece is made for.
type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
}

type Stone struct {
	Type     string  `json:"type"`
	Shape    string  `json:"shape,omitempty"`
	Carat    float64 `json:"carat"`
	Colour   string  `json:"colour,omitempty"`
	Clarity  string  `json:"clarity,omitempty"`
	Quantity int     `json:"quantity"`
	Setting  string  `json:"setting,omitempty"`
}

type Markings struct {
	Engraving string `json:"engraving,omitempty"`
	Font      string `json:"font,omitempty"`
	Hallmark  string `json:"hallmark,omitempty"`
	LogoStamp bool   `json:"logo_stamp"`
}

// DesignSpec is the customer-editable part of a design. It is stored as the
// JSONB document of a designs row.
type DesignSpec struct {
	Customer    Customer `json:"customer"`
	Style       string   `json:"style"`
	Metal       string   `json:"metal"`
	Karat       string   `json:"karat,omitempty"`
	MetalColour string   `json:"metal_colour,omitempty"`
	Size        string   `json:"size,omitempty"`
	Stones      []Stone  `json:"stones"`
	Markings    Markings `json:"markings"`
	Notes       string   `json:"notes,omitempty"`
}

// Design is a stored submission.
type Design struct {
	DesignSpec

	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Status    string        `json:"status"`
	Files     []*DesignFile `json:"files"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StoneCount sums stone quantities.
func (d *DesignSpec) StoneCount() int {
	n := 0
	for _, s := range d.Stones {
		n += s.Quantity
	}
	return n
}

// TotalCarat is the carat weight of all stones times their quantity.
func (d *DesignSpec) TotalCarat() float64 {
	var t float64
	for _, s := range d.Stones {
		t += s.Carat * float64(s.Quantity)
	}
	return t
}

// Normalize trims string fields and lower-cases the customer email.
func (d *DesignSpec) Normalize() {
	d.Customer.Name = strings.TrimSpace(d.Customer.Name)
	d.Customer.Email = common.NormalizeEmail(d.Customer.Email)
	d.Customer.Phone = strings.TrimSpace(d.Customer.Phone)
	d.Customer.Company = strings.TrimSpace(d.Customer.Company)
	d.Style = strings.ToLower(strings.TrimSpace(d.Style))
	d.Metal = strings.ToLower(strings.TrimSpace(d.Metal))
	d.Karat = strings.ToUpper(strings.TrimSpace(d.Karat))
	d.MetalColour = strings.ToLower(strings.TrimSpace(d.MetalColour))
	d.Size = strings.TrimSpace(d.Size)
	d.Notes = strings.TrimSpace(d.Notes)
	d.Markings.Engraving = strings.TrimSpace(d.Markings.Engraving)
	for i := range d.Stones {
		d.Stones[i].Type = strings.TrimSpace(d.Stones[i].Type)
	}
	if d.Stones == nil {
		d.Stones = []Stone{}
	}
}

// Validate returns a *common.ValidationError listing every offending field,
// or nil.
func (d *DesignSpec) Validate() error {
	v := &common.ValidationError{}

	if d.Customer.Name == "" {
		v.Add("customer.name", "is required")
	}
	if !common.IsValidEmail(d.Customer.Email) {
		v.Add("customer.email", "must be a valid email address")
	}
	if !oneOf(d.Style, Styles) {
		v.Add("style", "must be one of "+strings.Join(Styles, ", "))
	}
	if !oneOf(d.Metal, Metals) {
		v.Add("metal", "must be one of "+strings.Join(Metals, ", "))
	}
	switch {
	case d.Metal == MetalGold && !oneOf(d.Karat, Karats):
		v.Add("karat", "must be one of "+strings.Join(Karats, ", ")+" for gold")
	case d.Metal != MetalGold && d.Karat != "":
		v.Add("karat", "only applies to gold")
	}
	if d.MetalColour != "" && !oneOf(d.MetalColour, MetalColours) {
		v.Add("metal_colour", "must be one of "+strings.Join(MetalColours, ", "))
	}
	for i, s := range d.Stones {
		p := fmt.Sprintf("stones[%d]", i)
		if s.Type == "" {
			v.Add(p+".type", "is required")
		}
		if s.Carat <= 0 {
			v.Add(p+".carat", "must be greater than 0")
		}
		if s.Quantity < 1 {
			v.Add(p+".quantity", "must be at least 1")
		}
	}
	if utf8.RuneCountInString(d.Markings.Engraving) > MaxEngravingLength {
		v.Add("markings.engraving", fmt.Sprintf("must be at most %d characters", MaxEngravingLength))
	}

	return v.Err()
}

// IsValidStatus reports whether s is a known design status.
func IsValidStatus(s string) bool {
	return oneOf(s, Statuses)
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// DesignFilter narrows design listings. Zero values mean "any".
type DesignFilter struct {
	Status string
	Style  string
	UserID string
	Query  string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Clamp applies the default and maximum page size.
func (f *DesignFilter) Clamp() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
