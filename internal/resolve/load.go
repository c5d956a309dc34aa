package resolve

import (
	"context"
	"fmt"

	"lectern/internal/queue"
	"lectern/internal/services"
)

// Load resolves the effective configuration for an item straight from
// the store, fetching its tenant record and matched template.
func Load(ctx context.Context, store *queue.Store, item *queue.Item) (*Effective, error) {
	tenant, err := store.GetTenant(ctx, item.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, services.Wrap(services.ErrConfiguration, "resolve", "load tenant",
			fmt.Sprintf("tenant %s is not registered", item.TenantID), nil)
	}

	var tpl *queue.Template
	if item.TemplateID != nil {
		tpl, err = store.GetTemplate(ctx, *item.TemplateID)
		if err != nil {
			return nil, err
		}
	}
	return ForItem(item, tenant, tpl)
}
