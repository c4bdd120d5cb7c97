package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SubscriptionType classifies a detected subscription.
type SubscriptionType string

const (
	SubscriptionPaid       SubscriptionType = "paid"
	SubscriptionFree       SubscriptionType = "free"
	SubscriptionNewsletter SubscriptionType = "newsletter"
)

// AllSubscriptionTypes returns the canonical subscription types.
func AllSubscriptionTypes() []SubscriptionType {
	return []SubscriptionType{SubscriptionPaid, SubscriptionFree, SubscriptionNewsletter}
}

// ParseSubscriptionType maps a raw value onto a canonical type. Unknown or
// empty values map to SubscriptionFree.
func ParseSubscriptionType(raw string) SubscriptionType {
	switch t := SubscriptionType(strings.TrimSpace(raw)); t {
	case SubscriptionPaid, SubscriptionFree, SubscriptionNewsletter:
		return t
	default:
		return SubscriptionFree
	}
}

// IsValid reports whether t is one of the canonical types.
func (t SubscriptionType) IsValid() bool {
	switch t {
	case SubscriptionPaid, SubscriptionFree, SubscriptionNewsletter:
		return true
	}
	return false
}

// SubscriptionRecord is a canonical detected subscription.
type SubscriptionRecord struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Type           SubscriptionType `json:"type"`
	Price          *float64         `json:"price,omitempty"` // monthly cost
	RenewalDate    string           `json:"renewalDate,omitempty"`
	Email          string           `json:"email,omitempty"`
	UnsubscribeURL string           `json:"unsubscribeUrl,omitempty"`
	ManagementURL  string           `json:"managementUrl,omitempty"`
	Logo           string           `json:"logo,omitempty"`
	LastCharge     string           `json:"lastCharge,omitempty"`
	DetectedDate   string           `json:"detectedDate"`
}

// IdentityKey returns lowercase(name) + "_" + email. Two records with the same
// key refer to the same real-world subscription.
func (s SubscriptionRecord) IdentityKey() string {
	// Casers are stateful; build one per call so records can be keyed from
	// any goroutine.
	return cases.Lower(language.Und).String(s.Name) + "_" + s.Email
}

// InformationScore counts the populated fields among price, renewalDate,
// unsubscribeUrl and managementUrl. A zero price does not count.
func (s SubscriptionRecord) InformationScore() int {
	score := 0
	if s.Price != nil && *s.Price != 0 {
		score++
	}
	if s.RenewalDate != "" {
		score++
	}
	if s.UnsubscribeURL != "" {
		score++
	}
	if s.ManagementURL != "" {
		score++
	}
	return score
}

// PriceValue returns the price or 0 when absent.
func (s SubscriptionRecord) PriceValue() float64 {
	if s.Price == nil {
		return 0
	}
	return *s.Price
}

// Float returns a pointer to v. Handy for building records in tests and
// fixtures.
func Float(v float64) *float64 {
	return &v
}
