package model

import (
	"time"

	"github.com/google/uuid"
)

// Position is the job held by a professional.
type Position string

const (
	PositionPhysician         Position = "physician"
	PositionNurse             Position = "nurse"
	PositionNursingTechnician Position = "nursing_technician"
	PositionPhysiotherapist   Position = "physiotherapist"
	PositionPsychologist      Position = "psychologist"
)

// AccountRole is the account role granted to a professional holding p.
func (p Position) AccountRole() Role {
	if p == PositionPhysician {
		return RolePhysician
	}
	return RoleNurse
}

// Professional holds plaintext values in memory. CPF and Phone are sealed in storage.
type Professional struct {
	Base
	AccountID       uuid.UUID  `json:"account_id"`
	Name            string     `json:"name"`
	CPF             string     `json:"cpf"`
	CRM             *string    `json:"crm,omitempty"`
	COREN           *string    `json:"coren,omitempty"`
	Specialty       string     `json:"specialty,omitempty"`
	Phone           *string    `json:"phone,omitempty"`
	Position        Position   `json:"position"`
	Department      string     `json:"department,omitempty"`
	AdmissionDate   *time.Time `json:"admission_date,omitempty"`
	Active          bool       `json:"active"`
	CanPrescribe    bool       `json:"can_prescribe"`
	CanTelemedicine bool       `json:"can_telemedicine"`
}

type CreateProfessionalRequest struct {
	Email           string     `json:"email" binding:"required,email"`
	Password        string     `json:"password" binding:"required,min=8,max=72"`
	Name            string     `json:"name" binding:"required,min=2,max=100"`
	CPF             string     `json:"cpf" binding:"required,cpf"`
	CRM             *string    `json:"crm"`
	COREN           *string    `json:"coren"`
	Specialty       string     `json:"specialty"`
	Phone           *string    `json:"phone" binding:"omitempty,br_phone"`
	Position        Position   `json:"position" binding:"required,oneof=physician nurse nursing_technician physiotherapist psychologist"`
	Department      string     `json:"department"`
	AdmissionDate   *time.Time `json:"admission_date"`
	CanPrescribe    bool       `json:"can_prescribe"`
	CanTelemedicine bool       `json:"can_telemedicine"`
}

// UpdateProfessionalRequest carries only the fields being changed. CPF, CRM, COREN
// and the active flag are reserved to administrators.
type UpdateProfessionalRequest struct {
	Name            *string    `json:"name" binding:"omitempty,min=2,max=100"`
	CPF             *string    `json:"cpf" binding:"omitempty,cpf"`
	CRM             *string    `json:"crm"`
	COREN           *string    `json:"coren"`
	Specialty       *string    `json:"specialty"`
	Phone           *string    `json:"phone" binding:"omitempty,br_phone"`
	Department      *string    `json:"department"`
	AdmissionDate   *time.Time `json:"admission_date"`
	Active          *bool      `json:"active"`
	CanPrescribe    *bool      `json:"can_prescribe"`
	CanTelemedicine *bool      `json:"can_telemedicine"`
}

// TouchesRestricted reports whether the request changes an admin-only field.
func (r *UpdateProfessionalRequest) TouchesRestricted() bool {
	return r.CPF != nil || r.CRM != nil || r.COREN != nil || r.Active != nil
}

func (r *UpdateProfessionalRequest) ChangedFields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(r.Name != nil, "name")
	add(r.CPF != nil, "cpf")
	add(r.CRM != nil, "crm")
	add(r.COREN != nil, "coren")
	add(r.Specialty != nil, "specialty")
	add(r.Phone != nil, "phone")
	add(r.Department != nil, "department")
	add(r.AdmissionDate != nil, "admission_date")
	add(r.Active != nil, "active")
	add(r.CanPrescribe != nil, "can_prescribe")
	add(r.CanTelemedicine != nil, "can_telemedicine")
	return fields
}

type ProfessionalFilter struct {
	Pagination
	Search     string   `form:"search"`
	Specialty  string   `form:"specialty"`
	Position   Position `form:"position"`
	Department string   `form:"department"`
	Active     *bool    `form:"active"`
}

type ProfessionalStatistics struct {
	TotalActive     int64            `json:"total_active"`
	ByPosition      map[string]int64 `json:"by_position"`
	BySpecialty     map[string]int64 `json:"by_specialty"`
	CanPrescribe    int64            `json:"can_prescribe"`
	CanTelemedicine int64            `json:"can_telemedicine"`
}

// ProfessionalSchedule lists the non-cancelled appointments of one day.
type ProfessionalSchedule struct {
	Professional ProfessionalSummary `json:"professional"`
	Date         string              `json:"date"`
	Appointments []*Appointment      `json:"appointments"`
}
