package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"
)

const invoiceHTMLTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Invoice {{.Invoice.Number}}</title>
  <style>
    body { margin: 0; padding: 40px; font-family: -apple-system, "Segoe UI", Roboto, Arial, sans-serif; color: #1a1f36; }
    .card { max-width: 760px; margin: 0 auto; }
    .label { font-size: 11px; text-transform: uppercase; color: #8792a2; }
    .status { display: inline-block; padding: 2px 8px; font-size: 11px; text-transform: uppercase; background: #e3e8ee; }
    .status-paid { background: #d7f7c2; }
    .status-overdue, .status-payment_failed { background: #ffe7f2; }
    table { width: 100%; border-collapse: collapse; margin: 24px 0; }
    th, td { padding: 8px 0; border-bottom: 1px solid #e3e8ee; text-align: left; }
    .num { text-align: right; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Invoice {{.Invoice.Number}}</h1>
    <span class="status status-{{.Invoice.Status}}">{{.Invoice.Status}}</span>

    <p>
      <span class="label">Bill to</span><br>
      <strong>{{.Customer.Name}}</strong><br>{{.Customer.Email}}
    </p>
    <p>
      <span class="label">Issued</span> {{formatDate .Invoice.IssuedAt}}<br>
      <span class="label">Due</span> {{formatDate .Invoice.DueAt}}
    </p>

    <table>
      <thead>
        <tr><th>Description</th><th class="num">Qty</th><th class="num">Unit price</th><th class="num">Amount</th></tr>
      </thead>
      <tbody>
        {{range .Items}}
        <tr>
          <td>{{.Title}}</td>
          <td class="num">{{formatQuantity .Quantity}}</td>
          <td class="num">{{formatMoney .UnitPrice $.Invoice.Currency}}</td>
          <td class="num">{{formatMoney .Amount $.Invoice.Currency}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>

    <table>
      <tr><td>Subtotal</td><td class="num">{{formatMoney .Invoice.SubtotalAmount .Invoice.Currency}}</td></tr>
      {{if .Invoice.TaxAmount}}<tr><td>Tax</td><td class="num">{{formatMoney .Invoice.TaxAmount .Invoice.Currency}}</td></tr>{{end}}
      <tr><td><strong>Total</strong></td><td class="num"><strong>{{formatMoney .Invoice.TotalAmount .Invoice.Currency}}</strong></td></tr>
      <tr><td>Amount due</td><td class="num">{{formatMoney .Invoice.AmountDue .Invoice.Currency}}</td></tr>
    </table>

    {{if and .Invoice.HostedURL .Invoice.AmountDue}}<p><a href="{{.Invoice.HostedURL}}">Pay online</a></p>{{end}}
    {{if .Notes}}<p class="label">Notes</p><p>{{.Notes}}</p>{{end}}
  </div>
</body>
</html>
`

type HTMLRenderer struct {
	tpl *template.Template
}

func NewRenderer() Renderer {
	funcs := template.FuncMap{
		"formatMoney":    formatMoney,
		"formatDate":     formatDate,
		"formatQuantity": formatQuantity,
	}
	return &HTMLRenderer{
		tpl: template.Must(template.New("invoice").Funcs(funcs).Parse(invoiceHTMLTemplate)),
	}
}

func (r *HTMLRenderer) RenderHTML(input RenderInput) (string, error) {
	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, input); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatMoney prints minor units without going through floating point.
func formatMoney(amount int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, amount/100, amount%100)
}

func formatDate(value *time.Time) string {
	if value == nil || value.IsZero() {
		return "-"
	}
	return value.UTC().Format("2006-01-02")
}

func formatQuantity(value int64) string {
	return strconv.FormatInt(value, 10)
}
