package model

import (
	"time"

	"github.com/google/uuid"
)

// Placeholder values written by anonymization.
const (
	AnonymizedName  = "Paciente Anonimizado"
	AnonymizedCPF   = "***.***.***-**"
	AnonymizedNotes = "Dados anonimizados conforme LGPD"
)

// Patient holds plaintext values in memory. CPF, RG, Phone, Address,
// InsuranceCardNumber and EmergencyContactPhone are sealed before they reach storage.
type Patient struct {
	Base
	AccountID             uuid.UUID  `json:"account_id"`
	Name                  string     `json:"name"`
	CPF                   string     `json:"cpf"`
	RG                    *string    `json:"rg,omitempty"`
	BirthDate             *time.Time `json:"birth_date,omitempty"`
	Phone                 *string    `json:"phone,omitempty"`
	Address               *string    `json:"address,omitempty"`
	City                  string     `json:"city,omitempty"`
	State                 string     `json:"state,omitempty"`
	ZipCode               string     `json:"zip_code,omitempty"`
	HealthPlan            string     `json:"health_plan,omitempty"`
	InsuranceCardNumber   *string    `json:"insurance_card_number,omitempty"`
	EmergencyContactName  *string    `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string    `json:"emergency_contact_phone,omitempty"`
	MedicalNotes          string     `json:"medical_notes,omitempty"`
	LGPDConsent           bool       `json:"lgpd_consent"`
	LGPDConsentAt         *time.Time `json:"lgpd_consent_at,omitempty"`
	Active                bool       `json:"active"`
	AnonymizedAt          *time.Time `json:"anonymized_at,omitempty"`
}

func (p *Patient) IsAnonymized() bool {
	return p.AnonymizedAt != nil
}

type CreatePatientRequest struct {
	Email                 string     `json:"email" binding:"required,email"`
	Password              string     `json:"password" binding:"required,min=8,max=72"`
	Name                  string     `json:"name" binding:"required,min=2,max=100"`
	CPF                   string     `json:"cpf" binding:"required,cpf"`
	RG                    *string    `json:"rg"`
	BirthDate             *time.Time `json:"birth_date"`
	Phone                 *string    `json:"phone" binding:"omitempty,br_phone"`
	Address               *string    `json:"address"`
	City                  string     `json:"city"`
	State                 string     `json:"state" binding:"omitempty,uf"`
	ZipCode               string     `json:"zip_code" binding:"omitempty,br_zip"`
	HealthPlan            string     `json:"health_plan"`
	InsuranceCardNumber   *string    `json:"insurance_card_number"`
	EmergencyContactName  *string    `json:"emergency_contact_name"`
	EmergencyContactPhone *string    `json:"emergency_contact_phone" binding:"omitempty,br_phone"`
	MedicalNotes          string     `json:"medical_notes"`
	LGPDConsent           bool       `json:"lgpd_consent"`
}

// UpdatePatientRequest carries only the fields being changed.
type UpdatePatientRequest struct {
	Name                  *string    `json:"name" binding:"omitempty,min=2,max=100"`
	RG                    *string    `json:"rg"`
	BirthDate             *time.Time `json:"birth_date"`
	Phone                 *string    `json:"phone" binding:"omitempty,br_phone"`
	Address               *string    `json:"address"`
	City                  *string    `json:"city"`
	State                 *string    `json:"state" binding:"omitempty,uf"`
	ZipCode               *string    `json:"zip_code" binding:"omitempty,br_zip"`
	HealthPlan            *string    `json:"health_plan"`
	InsuranceCardNumber   *string    `json:"insurance_card_number"`
	EmergencyContactName  *string    `json:"emergency_contact_name"`
	EmergencyContactPhone *string    `json:"emergency_contact_phone" binding:"omitempty,br_phone"`
	MedicalNotes          *string    `json:"medical_notes"`
	LGPDConsent           *bool      `json:"lgpd_consent"`
}

// ChangedFields lists the JSON names of the fields present in the request.
func (r *UpdatePatientRequest) ChangedFields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(r.Name != nil, "name")
	add(r.RG != nil, "rg")
	add(r.BirthDate != nil, "birth_date")
	add(r.Phone != nil, "phone")
	add(r.Address != nil, "address")
	add(r.City != nil, "city")
	add(r.State != nil, "state")
	add(r.ZipCode != nil, "zip_code")
	add(r.HealthPlan != nil, "health_plan")
	add(r.InsuranceCardNumber != nil, "insurance_card_number")
	add(r.EmergencyContactName != nil, "emergency_contact_name")
	add(r.EmergencyContactPhone != nil, "emergency_contact_phone")
	add(r.MedicalNotes != nil, "medical_notes")
	add(r.LGPDConsent != nil, "lgpd_consent")
	return fields
}

type PatientFilter struct {
	Pagination
	Search     string `form:"search"`
	City       string `form:"city"`
	HealthPlan string `form:"health_plan"`
	// Active defaults to true when nil.
	Active *bool `form:"active"`
}

type PatientStatistics struct {
	TotalActive     int64   `json:"total_active"`
	WithConsent     int64   `json:"with_lgpd_consent"`
	RegisteredToday int64   `json:"registered_today"`
	ConsentRate     float64 `json:"consent_rate"`
}
