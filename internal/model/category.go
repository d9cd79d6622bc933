package model

import (
	"encoding/json"
	"fmt"
)

// Domain identifies one upstream data source. Each registered collector
// serves exactly one domain.
type Domain string

const (
	DomainSecureScore     Domain = "secure_score"
	DomainIdentity        Domain = "identity"
	DomainDevices         Domain = "devices"
	DomainBackup          Domain = "backup"
	DomainThreats         Domain = "threats"
	DomainVulnerabilities Domain = "vulnerabilities"
)

// Domains returns every known domain in a fixed order.
func Domains() []Domain {
	return []Domain{
		DomainSecureScore,
		DomainIdentity,
		DomainDevices,
		DomainBackup,
		DomainThreats,
		DomainVulnerabilities,
	}
}

// ParseDomain validates a domain name.
func ParseDomain(v string) (Domain, error) {
	for _, d := range Domains() {
		if string(d) == v {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", v)
}

// Category is a security area with its own sub-score or finding bucket.
type Category string

const (
	CategorySecureScore     Category = "secure_score"
	CategoryIdentity        Category = "identity"
	CategoryDataProtection  Category = "data_protection"
	CategoryBackup          Category = "backup"
	CategoryDevices         Category = "devices"
	CategoryNetwork         Category = "network"
	CategoryThreats         Category = "threats"
	CategoryVulnerabilities Category = "vulnerabilities"
)

// GradedCategories returns the categories that carry a weight in the
// composite score, in report order.
func GradedCategories() []Category {
	return []Category{
		CategorySecureScore,
		CategoryIdentity,
		CategoryDataProtection,
		CategoryBackup,
		CategoryDevices,
		CategoryNetwork,
	}
}

// Categories returns graded categories followed by finding-only ones.
func Categories() []Category {
	return append(GradedCategories(), CategoryThreats, CategoryVulnerabilities)
}

// ParseCategory validates a category name.
func ParseCategory(v string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == v {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", v)
}

// SourceDomain returns the domain whose data feeds category c.
func SourceDomain(c Category) Domain {
	switch c {
	case CategorySecureScore, CategoryDataProtection, CategoryNetwork:
		return DomainSecureScore
	case CategoryIdentity:
		return DomainIdentity
	case CategoryDevices:
		return DomainDevices
	case CategoryBackup:
		return DomainBackup
	case CategoryThreats:
		return DomainThreats
	default:
		return DomainVulnerabilities
	}
}

// Availability tags how a domain's (and therefore a category's) data was
// obtained for an assessment.
type Availability string

const (
	Live                    Availability = "LIVE"
	Cached                  Availability = "CACHED"
	UnavailableNoPermission Availability = "UNAVAILABLE_NO_PERMISSION"
	UnavailableError        Availability = "UNAVAILABLE_ERROR"
	Mock                    Availability = "MOCK"
)

// Usable reports whether data tagged a carries a payload that may be scored.
func (a Availability) Usable() bool {
	return a == Live || a == Cached || a == Mock
}

// Label is the user-facing rendering of a. Missing data never renders as a
// number.
func (a Availability) Label() string {
	switch a {
	case Live:
		return "Live"
	case Cached:
		return "Cached"
	case Mock:
		return "Demo Data"
	case UnavailableNoPermission:
		return "Not Configured"
	case UnavailableError:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// CategoryScore is one category's sub-score inside a snapshot.
type CategoryScore struct {
	Category  Category     `json:"category"`
	Score     float64      `json:"score"`
	Weight    float64      `json:"weight"`
	Available bool         `json:"available"`
	State     Availability `json:"state"`
	Stale     bool         `json:"stale,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// Value returns the score as a pointer, nil when the category is not
// available. Use this wherever a score leaves the model so that missing
// data is never read as 0.
func (c CategoryScore) Value() *float64 {
	if !c.Available {
		return nil
	}
	return Float(c.Score)
}

// MarshalJSON writes the score as null when the category is not available.
func (c CategoryScore) MarshalJSON() ([]byte, error) {
	type plain CategoryScore
	return json.Marshal(struct {
		plain
		Score *float64 `json:"score"`
	}{plain: plain(c), Score: c.Value()})
}

// UnmarshalJSON accepts a null score.
func (c *CategoryScore) UnmarshalJSON(b []byte) error {
	type plain CategoryScore
	var v struct {
		plain
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = CategoryScore(v.plain)
	if v.Score != nil {
		c.Score = *v.Score
	}
	return nil
}

// Display renders the score or the availability label.
func (c CategoryScore) Display() string {
	if !c.Available {
		if c.State.Usable() {
			return "Not Configured"
		}
		return c.State.Label()
	}
	return fmt.Sprintf("%.1f", c.Score)
}
