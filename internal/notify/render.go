package notify

import (
	"fmt"
	"sort"
	"strings"
)

var markdownV2Escaper = func() *strings.Replacer {
	special := `_*[]()~` + "`" + `>#+-=|{}.!\`
	pairs := make([]string, 0, len(special)*2)
	for _, r := range special {
		pairs = append(pairs, string(r), `\`+string(r))
	}
	return strings.NewReplacer(pairs...)
}()

func escape(s string) string { return markdownV2Escaper.Replace(s) }

// Render formats an event as a Telegram MarkdownV2 message.
func Render(event Event, d Details) string {
	var b strings.Builder
	switch event {
	case EventOrderCreated:
		b.WriteString("⏳ *New Checkout Started*\n\n")
		if o := d.Order; o != nil {
			fmt.Fprintf(&b, "*Internal ID:* `%s`\n", escape(o.OrderID))
			fmt.Fprintf(&b, "*Customer:* %s\n", escape(o.CustomerInfo.Name))
			fmt.Fprintf(&b, "*Phone:* `%s`\n", escape(o.CustomerInfo.Phone))
			fmt.Fprintf(&b, "*Address:* %s\n", escape(o.CustomerInfo.Address))
			fmt.Fprintf(&b, "*Total:* *₹%s*\n\n*Items:*\n", escape(o.Total.StringFixed(2)))
			for _, it := range o.Items {
				fmt.Fprintf(&b, "• %s `(%s)` x %d\n", escape(orNA(it.Name)), escape(it.VariationID), it.Quantity)
			}
		}
		b.WriteString("\n_User is proceeding to payment gateway\\._")
	case EventOrderPaid:
		b.WriteString("✅ *Payment Successful*\n\n")
		fmt.Fprintf(&b, "*Internal ID:* `%s`\n", escape(d.OrderID))
		fmt.Fprintf(&b, "*Payment ID:* `%s`\n\n", escape(d.PaymentID))
		b.WriteString("_Order ready for syncing to Sheet\\._")
	case EventPaymentFailed:
		b.WriteString("❌ *Payment Verification Failed*\n\n")
		fmt.Fprintf(&b, "*Internal ID:* `%s`\n", escape(d.OrderID))
		if d.PaymentID != "" {
			fmt.Fprintf(&b, "*Payment ID:* `%s`\n", escape(d.PaymentID))
		}
	case EventAbandonedCarts:
		fmt.Fprintf(&b, "🛒 *Abandoned Carts Processed* \\(%d\\)\n\n", len(d.OrderIDs))
		for _, id := range d.OrderIDs {
			fmt.Fprintf(&b, "• `%s`\n", escape(id))
		}
		b.WriteString("\n_Stock has been returned to inventory\\._")
	default:
		b.WriteString("🚨 *CRITICAL BACKEND ERROR*\n\n")
		fmt.Fprintf(&b, "*Context:* %s\n\n*Details:*\n", escape(orNA(d.Context)))
		keys := make([]string, 0, len(d.Fields))
		for k := range d.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			label := strings.ReplaceAll(k, "_", " ")
			if label != "" {
				label = strings.ToUpper(label[:1]) + label[1:]
			}
			fmt.Fprintf(&b, "> *%s:* `%s`\n", escape(label), escape(d.Fields[k]))
		}
		b.WriteString("\n_Please check the server logs immediately\\._")
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
