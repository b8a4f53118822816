package postgres

import (
	"context"

	"github.com/carecoord/welfare-dispatch/dispatch/models"
)

func (r *Repository) GetTenantIDs(ctx context.Context) ([]string, error) {
	sb := sqlFlavor.NewSelectBuilder().Select("DISTINCT tenant_id").From("monitored_people")
	sb.OrderBy("tenant_id")

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenantID string
		if err = rows.Scan(&tenantID); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenantID)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return tenants, nil
}

func (r *Repository) GetMonitoredPeople(ctx context.Context, tenantID string) ([]*models.MonitoredPerson, error) {
	sb := sqlFlavor.NewSelectBuilder().
		Select("person_id", "tenant_id", "full_name", "address", "emergency_contact_name", "emergency_contact_phone").
		From("monitored_people")
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("person_id")

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []*models.MonitoredPerson
	for rows.Next() {
		var (
			p                         models.MonitoredPerson
			contactName, contactPhone string
		)
		if err = rows.Scan(&p.PersonID, &p.TenantID, &p.FullName, &p.Address, &contactName, &contactPhone); err != nil {
			return nil, err
		}
		if contactName != "" || contactPhone != "" {
			p.EmergencyContact = &models.Contact{Name: contactName, Phone: contactPhone}
		}
		people = append(people, &p)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return people, nil
}
