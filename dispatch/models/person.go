package models

// MonitoredPerson is the engine's read-only projection of the external care record.
type MonitoredPerson struct {
	PersonID         string   `json:"personId"`
	TenantID         string   `json:"tenantId"`
	FullName         string   `json:"fullName"`
	Address          string   `json:"address"`
	EmergencyContact *Contact `json:"emergencyContact,omitempty"`
}

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}
