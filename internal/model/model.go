// Package model defines the core domain types shared across the tracker.
// Prices use shopspring/decimal, never float64.
package model

import (
	"github.com/shopspring/decimal"
)

// Coin is one row of the market-data listing. Coins are replaced wholesale
// on every successful fetch and never mutated in place.
type Coin struct {
	ID                       string          `json:"id"`
	Symbol                   string          `json:"symbol"`
	Name                     string          `json:"name"`
	Image                    string          `json:"image,omitempty"`
	CurrentPrice             decimal.Decimal `json:"current_price"`
	MarketCap                decimal.Decimal `json:"market_cap"`
	PriceChangePercentage24h decimal.Decimal `json:"price_change_percentage_24h"`
}

// User is the authenticated principal. A nil *User means "no session".
type User struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
	ProviderID  string `json:"provider_id,omitempty"`
}

// Label is what the UI shows for the user: display name, else email.
func (u *User) Label() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Severity of a Notification.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeveritySuccess, SeverityError, SeverityInfo, SeverityWarning:
		return true
	}
	return false
}

// Notification is the transient alert shown to the user. Only one is live
// at a time; a newer one overwrites an older one.
type Notification struct {
	Open     bool     `json:"open"`
	Message  string   `json:"message"`
	Severity Severity `json:"type"`
}

// Success builds an open success notification.
func Success(msg string) Notification {
	return Notification{Open: true, Message: msg, Severity: SeveritySuccess}
}

// Failure builds an open error notification.
func Failure(msg string) Notification {
	return Notification{Open: true, Message: msg, Severity: SeverityError}
}

// Info builds an open info notification.
func Info(msg string) Notification {
	return Notification{Open: true, Message: msg, Severity: SeverityInfo}
}

// WatchlistCollection is the document collection holding one watchlist
// document per user, keyed by uid. Document shape: {coins: [ids...]}.
const (
	WatchlistCollection = "watchlist"
	WatchlistField      = "coins"
)
