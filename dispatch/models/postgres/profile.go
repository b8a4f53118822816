package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"

	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
)

var profileColumns = []string{
	"id", "person_id", "tenant_id", "version", "response_priority", "escalation_delay_hours",
	"consent_obtained", "consent_date", "consent_given_by", "hipaa_authorization",
	"details", "special_instructions", "created_at", "superseded_at",
}

// profileDetails is the JSONB document holding the descriptive sections of a profile.
type profileDetails struct {
	Mobility      models.Mobility          `json:"mobility"`
	Medical       models.MedicalEquipment  `json:"medical"`
	Communication models.Communication     `json:"communication"`
	Access        models.Access            `json:"access"`
	Risk          models.Risk              `json:"risk"`
	Contacts      models.SecondaryContacts `json:"contacts"`
}

func (r *Repository) GetCurrentProfile(ctx context.Context, personID string) (*models.EmergencyProfile, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(profileColumns...).From("emergency_profiles")
	sb.Where(sb.Equal("person_id", personID), sb.IsNull("superseded_at"))

	query, args := sb.Build()
	profile, err := scanProfile(r.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dispatcherrors.NewNotFound("emergency profile", personID)
		}
		return nil, err
	}
	return profile, nil
}

func (r *Repository) GetCurrentProfilesByTenant(ctx context.Context, tenantID string) ([]*models.EmergencyProfile, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(profileColumns...).From("emergency_profiles")
	sb.Where(sb.Equal("tenant_id", tenantID), sb.IsNull("superseded_at"))
	sb.OrderBy("person_id")

	return r.getProfiles(ctx, sb)
}

func (r *Repository) GetProfileHistory(ctx context.Context, personID string) ([]*models.EmergencyProfile, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(profileColumns...).From("emergency_profiles")
	sb.Where(sb.Equal("person_id", personID))
	sb.OrderBy("version").Desc()

	return r.getProfiles(ctx, sb)
}

func (r *Repository) CreateProfileVersion(ctx context.Context, profile models.EmergencyProfile) (*models.EmergencyProfile, error) {
	// Serializes writers for the person until the surrounding transaction ends.
	query, args := sqlbuilder.Buildf(`SELECT pg_advisory_xact_lock(hashtext(%s))`, profile.PersonID).BuildWithFlavor(sqlFlavor)
	if _, err := r.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}

	query, args = sqlbuilder.Buildf(`SELECT COALESCE(MAX(version), 0) FROM emergency_profiles WHERE person_id = %s`,
		profile.PersonID).BuildWithFlavor(sqlFlavor)

	var previous int
	if err := r.QueryRowContext(ctx, query, args...).Scan(&previous); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ub := sqlFlavor.NewUpdateBuilder().Update("emergency_profiles")
	ub.Set(ub.Assign("superseded_at", now))
	ub.Where(ub.Equal("person_id", profile.PersonID), ub.IsNull("superseded_at"))

	query, args = ub.Build()
	if _, err := r.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}

	details, err := json.Marshal(profileDetails{
		Mobility:      profile.Mobility,
		Medical:       profile.Medical,
		Communication: profile.Communication,
		Access:        profile.Access,
		Risk:          profile.Risk,
		Contacts:      profile.Contacts,
	})
	if err != nil {
		return nil, err
	}

	profile.Version = previous + 1
	profile.SupersededAt = nil
	query, args = sqlbuilder.Buildf(`INSERT INTO emergency_profiles
		(person_id, tenant_id, version, response_priority, escalation_delay_hours,
			consent_obtained, consent_date, consent_given_by, hipaa_authorization,
			details, special_instructions, created_at) VALUES
		(%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s) RETURNING id`,
		profile.PersonID, profile.TenantID, profile.Version, string(profile.ResponsePriority), profile.EscalationDelayHours,
		profile.ConsentObtained, profile.ConsentDate, profile.ConsentGivenBy, profile.HIPAAAuthorization,
		details, profile.SpecialInstructions, now).
		BuildWithFlavor(sqlFlavor)

	if err := r.QueryRowContext(ctx, query, args...).Scan(&profile.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("person %s version %d: %w", profile.PersonID, profile.Version, models.ErrProfileVersionConflict)
		}
		return nil, err
	}
	profile.CreatedAt = now

	return &profile, nil
}

func (r *Repository) getProfiles(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]*models.EmergencyProfile, error) {
	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*models.EmergencyProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return profiles, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row scanner) (*models.EmergencyProfile, error) {
	var (
		p                         models.EmergencyProfile
		consentDate, supersededAt sql.NullTime
		details                   []byte
	)
	if err := row.Scan(&p.ID, &p.PersonID, &p.TenantID, &p.Version, &p.ResponsePriority, &p.EscalationDelayHours,
		&p.ConsentObtained, &consentDate, &p.ConsentGivenBy, &p.HIPAAAuthorization,
		&details, &p.SpecialInstructions, &p.CreatedAt, &supersededAt); err != nil {
		return nil, err
	}

	if len(details) > 0 {
		var d profileDetails
		if err := json.Unmarshal(details, &d); err != nil {
			return nil, err
		}
		p.Mobility, p.Medical, p.Communication = d.Mobility, d.Medical, d.Communication
		p.Access, p.Risk, p.Contacts = d.Access, d.Risk, d.Contacts
	}
	p.ConsentDate = nullTime(consentDate)
	p.SupersededAt = nullTime(supersededAt)

	return &p, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
