package orders

import "time"

type Channel string

const (
	ChannelQR  Channel = "qr"
	ChannelNFC Channel = "nfc"
)

type Order struct {
	ID               string
	TenantID         string
	DeviceID         string
	SessionID        string // checkout session, QR only
	PaymentID        string // payment intent, known after settlement for QR
	ConnectedAccount string
	Channel          Channel
	Currency         string
	Status           Status // lihat status.go
	PaymentMethod    string
	ReceiptURL       string
	TotalQty         int
	TotalCents       int64
	RefundID         string
	RefundedAt       *time.Time
	SettledAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []LineItem
}

// TransactionID is the provider-side identity shown to devices.
func (o Order) TransactionID() string {
	if o.PaymentID != "" {
		return o.PaymentID
	}
	return o.SessionID
}

type LineItem struct {
	ProductID       string
	SectionID       string
	Name            string
	ImageURL        string
	UnitPriceCents  int64
	WasInBonus      bool
	BonusPriceCents int64
	Qty             int
}

// Ref selects an order by its provider identity. Exactly one field is set.
type Ref struct {
	SessionID string
	PaymentID string
}

func BySession(id string) Ref { return Ref{SessionID: id} }
func ByPayment(id string) Ref { return Ref{PaymentID: id} }

func (r Ref) String() string {
	if r.SessionID != "" {
		return "session:" + r.SessionID
	}
	return "payment:" + r.PaymentID
}

// Settlement is the provider-confirmed state written on pending -> settled.
type Settlement struct {
	PaymentID     string
	PaymentMethod string
	ReceiptURL    string
	SettledAt     time.Time
	Items         []LineItem
}

type StockEffect struct {
	ProductID string
	Qty       int
	Remaining int
	Missing   bool // product unknown to the inventory store
	Replayed  bool // ledger already had this movement
}

type SettleResult struct {
	Order   Order
	Applied bool
	Stock   []StockEffect
}

type Refund struct {
	RefundID   string
	RefundedAt time.Time
}

func Totals(items []LineItem) (qty int, cents int64) {
	for _, it := range items {
		qty += it.Qty
		cents += it.UnitPriceCents * int64(it.Qty)
	}
	return qty, cents
}

// stockLines folds line items into one movement per product, in first-seen
// order. Lines without a product reference carry no inventory.
func stockLines(items []LineItem) []LineItem {
	idx := make(map[string]int, len(items))
	var out []LineItem
	for _, it := range items {
		if it.ProductID == "" || it.Qty <= 0 {
			continue
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, LineItem{ProductID: it.ProductID, Qty: it.Qty})
	}
	return out
}

// MergeItems builds the settled line items. Prices and quantities come only
// from the provider lines; the provisional snapshot contributes descriptive
// fields, matched by product id so provider reordering is harmless.
func MergeItems(provisional, confirmed []LineItem) []LineItem {
	byProduct := make(map[string][]LineItem, len(provisional))
	for _, it := range provisional {
		byProduct[it.ProductID] = append(byProduct[it.ProductID], it)
	}

	out := make([]LineItem, 0, len(confirmed))
	for _, c := range confirmed {
		merged := LineItem{
			ProductID:      c.ProductID,
			Name:           c.Name,
			UnitPriceCents: c.UnitPriceCents,
			Qty:            c.Qty,
		}
		if c.ProductID != "" {
			if queue := byProduct[c.ProductID]; len(queue) > 0 {
				p := queue[0]
				byProduct[c.ProductID] = queue[1:]
				merged.SectionID = p.SectionID
				merged.ImageURL = p.ImageURL
				merged.WasInBonus = p.WasInBonus
				if merged.Name == "" {
					merged.Name = p.Name
				}
			}
		}
		if merged.WasInBonus {
			merged.BonusPriceCents = c.UnitPriceCents
		}
		out = append(out, merged)
	}
	return out
}
