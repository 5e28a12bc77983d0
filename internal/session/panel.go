package session

import (
	"strings"

	"github.com/shopspring/decimal"
)

// EmptyWatchlistMessage is shown when none of the watched coins are listed.
const EmptyWatchlistMessage = "No coins in watchlist"

// Profile is the signed-in user as shown in the side panel.
type Profile struct {
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// PanelItem is one watched coin.
type PanelItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	Price string `json:"price"`
}

// Panel is the watchlist side panel. It only exists for a signed-in user.
type Panel struct {
	Profile Profile     `json:"profile"`
	Items   []PanelItem `json:"items"`
	Empty   string      `json:"empty,omitempty"`
}

// Panel builds the watchlist panel from the current state. ok is false
// when nobody is signed in.
func (c *Context) Panel() (panel Panel, ok bool, err error) {
	err = c.query(func() {
		panel, ok = BuildPanel(c.state)
	})
	return panel, ok, err
}

// BuildPanel lists the watched coins that appear in the current coin
// listing, in listing order.
func BuildPanel(st State) (Panel, bool) {
	if st.User == nil {
		return Panel{}, false
	}

	watched := make(map[string]bool, len(st.Watchlist))
	for _, id := range st.Watchlist {
		watched[id] = true
	}

	p := Panel{
		Profile: Profile{Name: st.User.Label(), Email: st.User.Email, PhotoURL: st.User.PhotoURL},
		Items:   []PanelItem{},
	}
	for _, coin := range st.Coins {
		if !watched[coin.ID] {
			continue
		}
		p.Items = append(p.Items, PanelItem{
			ID:    coin.ID,
			Name:  coin.Name,
			Image: coin.Image,
			Price: FormatPrice(st.Symbol, coin.CurrentPrice),
		})
	}
	if len(p.Items) == 0 {
		p.Empty = EmptyWatchlistMessage
	}
	return p, true
}

// FormatPrice renders "<symbol> 12,345.68".
func FormatPrice(symbol string, price decimal.Decimal) string {
	return symbol + " " + withCommas(price.StringFixed(2))
}

func withCommas(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := sign + b.String()
	if hasFrac {
		out += "." + frac
	}
	return out
}
