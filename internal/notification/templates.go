package notification

import (
	"fmt"
	"html/template"
	"strings"
)

// templateData feeds every email template; unused fields stay zero.
type templateData struct {
	RequestID  int64
	Total      string
	PDFURL     string
	ChargeID   string
	TrackingID string
}

var templates = template.Must(template.New("emails").Parse(`
{{define "request.created"}}<p>We received your order #{{.RequestID}} for ${{.Total}}. We will keep you posted.</p>{{end}}
{{define "invoice.generated"}}<p>Your invoice for order #{{.RequestID}} is ready: <a href="{{.PDFURL}}">download invoice</a>.</p>{{end}}
{{define "payment.processed"}}<p>Your payment of ${{.Total}} for order #{{.RequestID}} went through (reference {{.ChargeID}}).</p>{{end}}
{{define "shipping.created"}}<p>Order #{{.RequestID}} has shipped. Track it with {{.TrackingID}}.</p>{{end}}
{{define "order.completed"}}<p>Order #{{.RequestID}} is complete. Thank you for shopping with us.</p>{{end}}
`))

var subjects = map[string]string{
	"request.created":   "We received your order #%d",
	"invoice.generated": "Your invoice for order #%d",
	"payment.processed": "Payment confirmed for order #%d",
	"shipping.created":  "Order #%d is on its way",
	"order.completed":   "Order #%d is complete",
}

func render(name string, requestID int64, data templateData) (subject, body string, err error) {
	format, ok := subjects[name]
	if !ok {
		return "", "", fmt.Errorf("notification: no template for %q", name)
	}

	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", "", fmt.Errorf("notification: render %s failed: %w", name, err)
	}

	return fmt.Sprintf(format, requestID), b.String(), nil
}
