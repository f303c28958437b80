package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voyagehq/concierge-agent/internal/httpkit"
)

// Invoice is the result of create_invoice.
type Invoice struct {
	ID            string  `json:"id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Description   string  `json:"description"`
	CustomerEmail string  `json:"customerEmail"`
	Status        string  `json:"status"`
	InvoiceURL    string  `json:"invoiceUrl"`
	PaymentURL    string  `json:"paymentUrl"`
	CreatedAt     string  `json:"createdAt"`
	DueDate       string  `json:"dueDate"`
}

const (
	stripeBaseURL  = "https://api.stripe.com/v1"
	invoiceDueDays = 30
)

// handleCreateInvoice creates a draft invoice. With a Stripe key
// configured it drives the real API (customer, invoice item, invoice);
// without one it returns a deterministic draft so the conversation flow
// can be exercised end to end offline.
func (r *Registry) handleCreateInvoice(ctx context.Context, args map[string]any) (any, error) {
	amount := numberArg(args, "amount")
	currency := stringArg(args, "currency")
	description := stringArg(args, "description")
	customerEmail := stringArg(args, "customerEmail")

	if amount <= 0 {
		return nil, fmt.Errorf("Invoice amount must be greater than zero")
	}
	if !strings.Contains(customerEmail, "@") {
		return nil, fmt.Errorf("Invalid customer email address")
	}

	if r.deps.StripeKey != "" {
		return r.createStripeInvoice(ctx, amount, currency, description, customerEmail)
	}

	now := time.Now().UTC()
	id := "inv_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	return Invoice{
		ID:            id,
		Amount:        amount,
		Currency:      strings.ToUpper(currency),
		Description:   description,
		CustomerEmail: customerEmail,
		Status:        "draft",
		InvoiceURL:    "https://invoice.example.com/view/" + id,
		PaymentURL:    "https://pay.example.com/invoice/" + id,
		CreatedAt:     now.Format(time.RFC3339),
		DueDate:       now.AddDate(0, 0, invoiceDueDays).Format(time.RFC3339),
	}, nil
}

func (r *Registry) createStripeInvoice(ctx context.Context, amount float64, currency, description, customerEmail string) (any, error) {
	customer := struct {
		ID string `json:"id"`
	}{}
	err := r.stripePost(ctx, "/customers", url.Values{
		"email": {customerEmail},
	}, &customer)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}

	err = r.stripePost(ctx, "/invoiceitems", url.Values{
		"customer":    {customer.ID},
		"amount":      {strconv.FormatInt(int64(amount), 10)},
		"currency":    {strings.ToLower(currency)},
		"description": {description},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create invoice item: %w", err)
	}

	created := struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		HostedInvoiceURL string `json:"hosted_invoice_url"`
		Created          int64  `json:"created"`
		DueDate          int64  `json:"due_date"`
	}{}
	err = r.stripePost(ctx, "/invoices", url.Values{
		"customer":          {customer.ID},
		"auto_advance":      {"false"},
		"collection_method": {"send_invoice"},
		"days_until_due":    {strconv.Itoa(invoiceDueDays)},
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	inv := Invoice{
		ID:            created.ID,
		Amount:        amount,
		Currency:      strings.ToUpper(currency),
		Description:   description,
		CustomerEmail: customerEmail,
		Status:        created.Status,
		InvoiceURL:    created.HostedInvoiceURL,
		PaymentURL:    created.HostedInvoiceURL,
		CreatedAt:     time.Unix(created.Created, 0).UTC().Format(time.RFC3339),
	}
	if created.DueDate > 0 {
		inv.DueDate = time.Unix(created.DueDate, 0).UTC().Format(time.RFC3339)
	}
	return inv, nil
}

// stripePost issues a form-encoded POST to the Stripe API and decodes
// the JSON response into out when non-nil.
func (r *Registry) stripePost(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, stripeBaseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.deps.StripeKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.deps.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := httpkit.ReadErrorBody(resp.Body, 2048)
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, body)
	}

	if out == nil {
		httpkit.DrainAndClose(resp.Body, 64*1024)
		return nil
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
