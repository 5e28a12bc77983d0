package session

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/neelesh18904/CryptoProject/internal/model"
)

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		sym   string
		price string
		want  string
	}{
		{"₹", "12345.678", "₹ 12,345.68"},
		{"$", "0.5", "$ 0.50"},
		{"$", "999", "$ 999.00"},
		{"$", "1234567", "$ 1,234,567.00"},
		{"₹", "-4321.1", "₹ -4,321.10"},
	}
	for _, tc := range cases {
		if got := FormatPrice(tc.sym, decimal.RequireFromString(tc.price)); got != tc.want {
			t.Errorf("FormatPrice(%s, %s) = %q, want %q", tc.sym, tc.price, got, tc.want)
		}
	}
}

func TestBuildPanel(t *testing.T) {
	st := State{
		Symbol: "$",
		Coins: []model.Coin{
			{ID: "bitcoin", Name: "Bitcoin", CurrentPrice: decimal.NewFromInt(65000)},
			{ID: "ethereum", Name: "Ethereum", CurrentPrice: decimal.NewFromInt(3000)},
		},
		User:      &model.User{UID: "u1", DisplayName: "Ada", Email: "ada@example.com"},
		Watchlist: []string{"ethereum", "delisted"},
	}

	p, ok := BuildPanel(st)
	if !ok {
		t.Fatal("panel should exist for a signed-in user")
	}
	if p.Profile.Name != "Ada" {
		t.Errorf("name = %q", p.Profile.Name)
	}
	if len(p.Items) != 1 || p.Items[0].ID != "ethereum" || p.Items[0].Price != "$ 3,000.00" {
		t.Errorf("unexpected items %+v", p.Items)
	}
	if p.Empty != "" {
		t.Errorf("unexpected empty message %q", p.Empty)
	}

	st.Watchlist = nil
	p, _ = BuildPanel(st)
	if p.Empty != EmptyWatchlistMessage || len(p.Items) != 0 {
		t.Errorf("expected empty panel, got %+v", p)
	}

	st.User = nil
	if _, ok := BuildPanel(st); ok {
		t.Error("no panel without a user")
	}
}
