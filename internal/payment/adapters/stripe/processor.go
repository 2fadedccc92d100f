package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripego "github.com/stripe/stripe-go/v76"

	paymentdomain "github.com/smallbiznis/atelier/internal/payment/domain"
)

func (a *Adapter) CreateOrUpdateCustomer(ctx context.Context, customer paymentdomain.Customer) (string, error) {
	params := &stripego.CustomerParams{
		Email: stripego.String(strings.TrimSpace(customer.Email)),
		Name:  stripego.String(strings.TrimSpace(customer.Name)),
	}
	params.Context = ctx
	params.AddMetadata(paymentdomain.MetadataOrgID, customer.OrgID.String())

	existing := strings.TrimSpace(customer.ExternalID)
	if existing == "" {
		found, err := a.findCustomerByOrg(ctx, customer.OrgID.String())
		if err != nil {
			return "", err
		}
		existing = found
	}

	if existing != "" {
		updated, err := a.sc.Customers.Update(existing, params)
		if err != nil {
			return "", err
		}
		return updated.ID, nil
	}

	created, err := a.sc.Customers.New(params)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (a *Adapter) findCustomerByOrg(ctx context.Context, orgID string) (string, error) {
	params := &stripego.CustomerSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", paymentdomain.MetadataOrgID, orgID)

	iter := a.sc.Customers.Search(params)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	return "", iter.Err()
}

// ensurePrice reuses a price by lookup key so repeated quotes with the same
// amount do not mint new processor prices.
func (a *Adapter) ensurePrice(ctx context.Context, currency string, line paymentdomain.PriceLine, recurring bool) (string, error) {
	cadence := "once"
	if recurring {
		cadence = "monthly"
	}
	lookupKey := fmt.Sprintf("atelier:%s:%s:%d:%s", line.Key, cadence, line.AmountCents, currency)

	list := &stripego.PriceListParams{LookupKeys: stripego.StringSlice([]string{lookupKey})}
	list.Context = ctx
	iter := a.sc.Prices.List(list)
	for iter.Next() {
		return iter.Price().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", err
	}

	name := strings.TrimSpace(line.Description)
	if name == "" {
		name = line.Key
	}
	params := &stripego.PriceParams{
		Currency:    stripego.String(currency),
		UnitAmount:  stripego.Int64(line.AmountCents),
		LookupKey:   stripego.String(lookupKey),
		ProductData: &stripego.PriceProductDataParams{Name: stripego.String(name)},
	}
	if recurring {
		params.Recurring = &stripego.PriceRecurringParams{
			Interval: stripego.String(string(stripego.PriceRecurringIntervalMonth)),
		}
	}
	params.Context = ctx
	params.AddMetadata("capability", line.Key)

	price, err := a.sc.Prices.New(params)
	if err != nil {
		return "", err
	}
	return price.ID, nil
}

func (a *Adapter) recurringPrices(ctx context.Context, currency string, lines []paymentdomain.PriceLine) ([]string, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.AmountCents <= 0 {
			continue
		}
		id, err := a.ensurePrice(ctx, currency, line, true)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("stripe: subscription needs at least one recurring line")
	}
	return ids, nil
}

func (a *Adapter) setupItems(ctx context.Context, currency string, lines []paymentdomain.PriceLine) ([]*stripego.SubscriptionAddInvoiceItemParams, error) {
	items := make([]*stripego.SubscriptionAddInvoiceItemParams, 0, len(lines))
	for _, line := range lines {
		if line.AmountCents <= 0 {
			continue
		}
		id, err := a.ensurePrice(ctx, currency, line, false)
		if err != nil {
			return nil, err
		}
		items = append(items, &stripego.SubscriptionAddInvoiceItemParams{
			Price:    stripego.String(id),
			Quantity: stripego.Int64(1),
		})
	}
	return items, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, req paymentdomain.SubscriptionRequest) (paymentdomain.ExternalSubscription, error) {
	priceIDs, err := a.recurringPrices(ctx, req.Currency, req.RecurringLines)
	if err != nil {
		return paymentdomain.ExternalSubscription{}, err
	}
	setup, err := a.setupItems(ctx, req.Currency, req.SetupLines)
	if err != nil {
		return paymentdomain.ExternalSubscription{}, err
	}

	items := make([]*stripego.SubscriptionItemsParams, 0, len(priceIDs))
	for _, id := range priceIDs {
		items = append(items, &stripego.SubscriptionItemsParams{
			Price:    stripego.String(id),
			Quantity: stripego.Int64(1),
		})
	}

	params := &stripego.SubscriptionParams{
		Customer:        stripego.String(req.ExternalCustomerID),
		Items:           items,
		AddInvoiceItems: setup,
		PaymentBehavior: stripego.String("default_incomplete"),
	}
	if req.TrialDays > 0 {
		params.TrialPeriodDays = stripego.Int64(int64(req.TrialDays))
	}
	params.Context = ctx
	params.AddMetadata(paymentdomain.MetadataOrgID, req.OrgID.String())
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sub, err := a.sc.Subscriptions.New(params)
	if err != nil {
		return paymentdomain.ExternalSubscription{}, err
	}
	return toExternalSubscription(sub), nil
}

func (a *Adapter) UpdateSubscription(ctx context.Context, req paymentdomain.SubscriptionUpdate) (paymentdomain.ExternalSubscription, error) {
	getParams := &stripego.SubscriptionParams{}
	getParams.Context = ctx
	current, err := a.sc.Subscriptions.Get(req.ExternalSubscriptionID, getParams)
	if err != nil {
		return paymentdomain.ExternalSubscription{}, err
	}

	priceIDs, err := a.recurringPrices(ctx, req.Currency, req.RecurringLines)
	if err != nil {
		return paymentdomain.ExternalSubscription{}, err
	}
	setup, err := a.setupItems(ctx, req.Currency, req.SetupLines)
	if err != nil {
		return paymentdomain.ExternalSubscription{}, err
	}

	params := &stripego.SubscriptionParams{
		Items:           diffItems(current, priceIDs),
		AddInvoiceItems: setup,
	}
	if req.Prorate {
		params.ProrationBehavior = stripego.String(string(stripego.SubscriptionSchedulePhaseProrationBehaviorCreateProrations))
	} else {
		params.ProrationBehavior = stripego.String(string(stripego.SubscriptionSchedulePhaseProrationBehaviorNone))
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sub, err := a.sc.Subscriptions.Update(req.ExternalSubscriptionID, params)
	if err != nil {
		return paymentdomain.ExternalSubscription{}, err
	}
	return toExternalSubscription(sub), nil
}

// diffItems keeps items whose price is still wanted, deletes the rest and adds
// prices that are not on the subscription yet.
func diffItems(current *stripego.Subscription, wanted []string) []*stripego.SubscriptionItemsParams {
	want := make(map[string]struct{}, len(wanted))
	for _, id := range wanted {
		want[id] = struct{}{}
	}

	items := []*stripego.SubscriptionItemsParams{}
	have := map[string]struct{}{}
	if current != nil && current.Items != nil {
		for _, item := range current.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if _, keep := want[item.Price.ID]; keep {
				have[item.Price.ID] = struct{}{}
				continue
			}
			items = append(items, &stripego.SubscriptionItemsParams{
				ID:      stripego.String(item.ID),
				Deleted: stripego.Bool(true),
			})
		}
	}
	for _, id := range wanted {
		if _, ok := have[id]; ok {
			continue
		}
		items = append(items, &stripego.SubscriptionItemsParams{
			Price:    stripego.String(id),
			Quantity: stripego.Int64(1),
		})
	}
	return items
}

func (a *Adapter) CancelSubscription(ctx context.Context, externalID string, immediate bool) (paymentdomain.ExternalSubscription, error) {
	if immediate {
		params := &stripego.SubscriptionCancelParams{}
		params.Context = ctx
		sub, err := a.sc.Subscriptions.Cancel(externalID, params)
		if err != nil {
			return paymentdomain.ExternalSubscription{}, err
		}
		return toExternalSubscription(sub), nil
	}
	return a.setCancelAtPeriodEnd(ctx, externalID, true)
}

func (a *Adapter) ReactivateSubscription(ctx context.Context, externalID string) (paymentdomain.ExternalSubscription, error) {
	return a.setCancelAtPeriodEnd(ctx, externalID, false)
}

func (a *Adapter) setCancelAtPeriodEnd(ctx context.Context, externalID string, cancel bool) (paymentdomain.ExternalSubscription, error) {
	params := &stripego.SubscriptionParams{CancelAtPeriodEnd: stripego.Bool(cancel)}
	params.Context = ctx
	sub, err := a.sc.Subscriptions.Update(externalID, params)
	if err != nil {
		return paymentdomain.ExternalSubscription{}, err
	}
	return toExternalSubscription(sub), nil
}

func (a *Adapter) PauseSubscription(ctx context.Context, externalID string) (paymentdomain.ExternalSubscription, error) {
	params := &stripego.SubscriptionParams{
		PauseCollection: &stripego.SubscriptionPauseCollectionParams{
			Behavior: stripego.String(string(stripego.SubscriptionPauseCollectionBehaviorVoid)),
		},
	}
	params.Context = ctx
	sub, err := a.sc.Subscriptions.Update(externalID, params)
	if err != nil {
		return paymentdomain.ExternalSubscription{}, err
	}
	return toExternalSubscription(sub), nil
}

func (a *Adapter) ResumeSubscription(ctx context.Context, externalID string) (paymentdomain.ExternalSubscription, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx
	params.AddExtra("pause_collection", "")
	sub, err := a.sc.Subscriptions.Update(externalID, params)
	if err != nil {
		return paymentdomain.ExternalSubscription{}, err
	}
	return toExternalSubscription(sub), nil
}

func (a *Adapter) CreateInvoice(ctx context.Context, req paymentdomain.InvoiceRequest) (paymentdomain.ExternalInvoice, error) {
	params := &stripego.InvoiceParams{
		Customer:                    stripego.String(req.ExternalCustomerID),
		Currency:                    stripego.String(req.Currency),
		CollectionMethod:            stripego.String(string(stripego.InvoiceCollectionMethodSendInvoice)),
		AutoAdvance:                 stripego.Bool(false),
		PendingInvoiceItemsBehavior: stripego.String("exclude"),
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		params.Description = stripego.String(desc)
	}
	if req.DueDate != nil {
		params.DueDate = stripego.Int64(req.DueDate.Unix())
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	inv, err := a.sc.Invoices.New(params)
	if err != nil {
		return paymentdomain.ExternalInvoice{}, err
	}

	for _, line := range req.Lines {
		item := &stripego.InvoiceItemParams{
			Customer:    stripego.String(req.ExternalCustomerID),
			Invoice:     stripego.String(inv.ID),
			Currency:    stripego.String(req.Currency),
			Description: stripego.String(line.Description),
			Quantity:    stripego.Int64(line.Quantity),
			UnitAmount:  stripego.Int64(line.UnitPriceCents),
		}
		item.Context = ctx
		if _, err := a.sc.InvoiceItems.New(item); err != nil {
			return paymentdomain.ExternalInvoice{}, err
		}
	}
	if req.TaxCents > 0 {
		item := &stripego.InvoiceItemParams{
			Customer:    stripego.String(req.ExternalCustomerID),
			Invoice:     stripego.String(inv.ID),
			Currency:    stripego.String(req.Currency),
			Description: stripego.String("Tax"),
			Amount:      stripego.Int64(req.TaxCents),
		}
		item.Context = ctx
		if _, err := a.sc.InvoiceItems.New(item); err != nil {
			return paymentdomain.ExternalInvoice{}, err
		}
	}

	return toExternalInvoice(inv), nil
}

func (a *Adapter) FinalizeInvoice(ctx context.Context, externalID string) (paymentdomain.ExternalInvoice, error) {
	params := &stripego.InvoiceFinalizeInvoiceParams{AutoAdvance: stripego.Bool(false)}
	params.Context = ctx
	inv, err := a.sc.Invoices.FinalizeInvoice(externalID, params)
	if err != nil {
		return paymentdomain.ExternalInvoice{}, err
	}
	return toExternalInvoice(inv), nil
}

func (a *Adapter) SendInvoice(ctx context.Context, externalID string) (paymentdomain.ExternalInvoice, error) {
	params := &stripego.InvoiceSendInvoiceParams{}
	params.Context = ctx
	inv, err := a.sc.Invoices.SendInvoice(externalID, params)
	if err != nil {
		return paymentdomain.ExternalInvoice{}, err
	}
	return toExternalInvoice(inv), nil
}

func (a *Adapter) VoidInvoice(ctx context.Context, externalID string) (paymentdomain.ExternalInvoice, error) {
	params := &stripego.InvoiceVoidInvoiceParams{}
	params.Context = ctx
	inv, err := a.sc.Invoices.VoidInvoice(externalID, params)
	if err != nil {
		return paymentdomain.ExternalInvoice{}, err
	}
	return toExternalInvoice(inv), nil
}

func (a *Adapter) MarkInvoiceUncollectible(ctx context.Context, externalID string) (paymentdomain.ExternalInvoice, error) {
	params := &stripego.InvoiceMarkUncollectibleParams{}
	params.Context = ctx
	inv, err := a.sc.Invoices.MarkUncollectible(externalID, params)
	if err != nil {
		return paymentdomain.ExternalInvoice{}, err
	}
	return toExternalInvoice(inv), nil
}

func toExternalSubscription(sub *stripego.Subscription) paymentdomain.ExternalSubscription {
	if sub == nil {
		return paymentdomain.ExternalSubscription{}
	}
	return paymentdomain.ExternalSubscription{
		ID:                 sub.ID,
		CustomerID:         customerID(sub.Customer),
		Status:             subscriptionStatus(sub),
		CurrentPeriodStart: unixPtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(sub.CurrentPeriodEnd),
		TrialStart:         unixPtr(sub.TrialStart),
		TrialEnd:           unixPtr(sub.TrialEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         unixPtr(sub.CanceledAt),
	}
}

func toExternalInvoice(inv *stripego.Invoice) paymentdomain.ExternalInvoice {
	if inv == nil {
		return paymentdomain.ExternalInvoice{}
	}
	return paymentdomain.ExternalInvoice{
		ID:        inv.ID,
		Status:    string(inv.Status),
		Number:    inv.Number,
		HostedURL: inv.HostedInvoiceURL,
	}
}
