package fraud

import (
	"fmt"
	"sort"
)

// Field is a typed path into a Transaction, e.g. "billingAddress.country".
// Only paths in the accessor table can be referenced by rules.
type Field string

// Kind is the value type a Field yields.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

type accessor struct {
	kind Kind
	// get returns the value and whether it is present.
	get func(tx *Transaction) (any, bool)
}

func str(f func(tx *Transaction) string) accessor {
	return accessor{kind: KindString, get: func(tx *Transaction) (any, bool) { return f(tx), true }}
}

func num(f func(tx *Transaction) float64) accessor {
	return accessor{kind: KindNumber, get: func(tx *Transaction) (any, bool) { return f(tx), true }}
}

func flag(f func(tx *Transaction) bool) accessor {
	return accessor{kind: KindBool, get: func(tx *Transaction) (any, bool) { return f(tx), true }}
}

// behavioral fields are absent when telemetry or the single signal was not
// collected.
func behaviorFloat(f func(b *BehavioralData) *float64) accessor {
	return accessor{kind: KindNumber, get: func(tx *Transaction) (any, bool) {
		if tx.BehavioralData == nil {
			return nil, false
		}
		if v := f(tx.BehavioralData); v != nil {
			return *v, true
		}
		return nil, false
	}}
}

func behaviorInt(f func(b *BehavioralData) *int) accessor {
	return accessor{kind: KindNumber, get: func(tx *Transaction) (any, bool) {
		if tx.BehavioralData == nil {
			return nil, false
		}
		if v := f(tx.BehavioralData); v != nil {
			return float64(*v), true
		}
		return nil, false
	}}
}

var fieldTable = map[Field]accessor{
	"orderId":       str(func(tx *Transaction) string { return tx.OrderID }),
	"customerId":    str(func(tx *Transaction) string { return tx.CustomerID }),
	"customerEmail": str(func(tx *Transaction) string { return tx.CustomerEmail }),
	"amount":        num(func(tx *Transaction) float64 { return tx.Amount }),
	"currency":      str(func(tx *Transaction) string { return tx.Currency }),
	"paymentMethod": str(func(tx *Transaction) string { return tx.PaymentMethod }),

	"billingAddress.line1":       str(func(tx *Transaction) string { return tx.BillingAddress.Line1 }),
	"billingAddress.city":        str(func(tx *Transaction) string { return tx.BillingAddress.City }),
	"billingAddress.postalCode":  str(func(tx *Transaction) string { return tx.BillingAddress.PostalCode }),
	"billingAddress.country":     str(func(tx *Transaction) string { return tx.BillingAddress.Country }),
	"shippingAddress.line1":      str(func(tx *Transaction) string { return tx.ShippingAddress.Line1 }),
	"shippingAddress.city":       str(func(tx *Transaction) string { return tx.ShippingAddress.City }),
	"shippingAddress.postalCode": str(func(tx *Transaction) string { return tx.ShippingAddress.PostalCode }),
	"shippingAddress.country":    str(func(tx *Transaction) string { return tx.ShippingAddress.Country }),

	"deviceFingerprint.id":               str(func(tx *Transaction) string { return tx.DeviceFingerprint.ID }),
	"deviceFingerprint.ipAddress":        str(func(tx *Transaction) string { return tx.DeviceFingerprint.IPAddress }),
	"deviceFingerprint.userAgent":        str(func(tx *Transaction) string { return tx.DeviceFingerprint.UserAgent }),
	"deviceFingerprint.screenResolution": str(func(tx *Transaction) string { return tx.DeviceFingerprint.ScreenResolution }),
	"deviceFingerprint.timezone":         str(func(tx *Transaction) string { return tx.DeviceFingerprint.Timezone }),
	"deviceFingerprint.language":         str(func(tx *Transaction) string { return tx.DeviceFingerprint.Language }),

	"behavioralData.timeOnSite":     behaviorFloat(func(b *BehavioralData) *float64 { return b.TimeOnSite }),
	"behavioralData.typingSpeed":    behaviorFloat(func(b *BehavioralData) *float64 { return b.TypingSpeed }),
	"behavioralData.copyPasteCount": behaviorInt(func(b *BehavioralData) *int { return b.CopyPasteCount }),
	"behavioralData.formFillTime":   behaviorFloat(func(b *BehavioralData) *float64 { return b.FormFillTime }),
	"behavioralData.mouseMovements": behaviorInt(func(b *BehavioralData) *int { return b.MouseMovements }),

	"orderContext.newCustomer": flag(func(tx *Transaction) bool { return tx.OrderContext.NewCustomer }),
	"orderContext.rushOrder":   flag(func(tx *Transaction) bool { return tx.OrderContext.RushOrder }),
	"orderContext.giftOrder":   flag(func(tx *Transaction) bool { return tx.OrderContext.GiftOrder }),
	"orderContext.itemCount":   num(func(tx *Transaction) float64 { return float64(tx.OrderContext.ItemCount) }),
}

// LookupField resolves a dot path. ok is false for paths outside the table.
func LookupField(path string) (Field, bool) {
	f := Field(path)
	_, ok := fieldTable[f]
	return f, ok
}

// Fields lists every known path in sorted order.
func Fields() []Field {
	out := make([]Field, 0, len(fieldTable))
	for f := range fieldTable {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Kind returns the value type of f.
func (f Field) Kind() (Kind, error) {
	a, ok := fieldTable[f]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, string(f))
	}
	return a.kind, nil
}

// Value reads f from tx. Numbers are always float64.
func (f Field) Value(tx *Transaction) (any, error) {
	a, ok := fieldTable[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, string(f))
	}
	v, present := a.get(tx)
	if !present {
		return nil, fmt.Errorf("%w: %q", ErrMissingField, string(f))
	}
	return v, nil
}
