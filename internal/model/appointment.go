package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentType string

const (
	AppointmentInPerson     AppointmentType = "in_person"
	AppointmentTelemedicine AppointmentType = "telemedicine"
)

type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "scheduled"
	AppointmentInProgress AppointmentStatus = "in_progress"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentCancelled  AppointmentStatus = "cancelled"
	AppointmentNoShow     AppointmentStatus = "no_show"
)

// Blocking reports whether an appointment in this status still holds its time slot.
func (s AppointmentStatus) Blocking() bool {
	return s != AppointmentCancelled && s != AppointmentCompleted
}

type Appointment struct {
	Base
	PatientID        uuid.UUID         `json:"patient_id" db:"patient_id"`
	ProfessionalID   uuid.UUID         `json:"professional_id" db:"professional_id"`
	ScheduledAt      time.Time         `json:"scheduled_at" db:"scheduled_at"`
	Type             AppointmentType   `json:"type" db:"type"`
	Status           AppointmentStatus `json:"status" db:"status"`
	Urgent           bool              `json:"urgent" db:"urgent"`
	Reason           *string           `json:"reason,omitempty" db:"reason"`
	Notes            *string           `json:"notes,omitempty" db:"notes"`
	CancelReason     *string           `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CancelledAt      *time.Time        `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CheckedIn        bool              `json:"checked_in" db:"checked_in"`
	CheckedInAt      *time.Time        `json:"checked_in_at,omitempty" db:"checked_in_at"`
	Diagnosis        *string           `json:"diagnosis,omitempty" db:"diagnosis"`
	Prescription     *string           `json:"prescription,omitempty" db:"prescription"`
	ClinicalNotes    *string           `json:"clinical_notes,omitempty" db:"clinical_notes"`
	RequestedExams   *string           `json:"requested_exams,omitempty" db:"requested_exams"`
	FollowUpRequired bool              `json:"follow_up_required" db:"follow_up_required"`
	FollowUpDate     *time.Time        `json:"follow_up_date,omitempty" db:"follow_up_date"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// AppointmentDetail is an appointment with summaries of both parties.
type AppointmentDetail struct {
	*Appointment
	Patient      *AppointmentPatient  `json:"patient,omitempty"`
	Professional *ProfessionalSummary `json:"professional,omitempty"`
}

// AppointmentPatient is the patient view embedded in appointment responses.
type AppointmentPatient struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	CPF       string     `json:"cpf,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
}

type CreateAppointmentRequest struct {
	PatientID      uuid.UUID       `json:"patient_id" binding:"required"`
	ProfessionalID uuid.UUID       `json:"professional_id" binding:"required"`
	ScheduledAt    time.Time       `json:"scheduled_at" binding:"required"`
	Type           AppointmentType `json:"type" binding:"required,oneof=in_person telemedicine"`
	Reason         *string         `json:"reason" binding:"omitempty,max=500"`
	Notes          *string         `json:"notes"`
	Urgent         bool            `json:"urgent"`
}

type UpdateAppointmentRequest struct {
	ScheduledAt *time.Time         `json:"scheduled_at"`
	Type        *AppointmentType   `json:"type" binding:"omitempty,oneof=in_person telemedicine"`
	Status      *AppointmentStatus `json:"status" binding:"omitempty,oneof=scheduled in_progress no_show"`
	Reason      *string            `json:"reason" binding:"omitempty,max=500"`
	Notes       *string            `json:"notes"`
	Urgent      *bool              `json:"urgent"`
}

func (r *UpdateAppointmentRequest) ChangedFields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(r.ScheduledAt != nil, "scheduled_at")
	add(r.Type != nil, "type")
	add(r.Status != nil, "status")
	add(r.Reason != nil, "reason")
	add(r.Notes != nil, "notes")
	add(r.Urgent != nil, "urgent")
	return fields
}

type CancelAppointmentRequest struct {
	Reason *string `json:"reason" binding:"omitempty,max=500"`
}

type CompleteAppointmentRequest struct {
	Diagnosis        string     `json:"diagnosis" binding:"required,min=10"`
	Prescription     *string    `json:"prescription"`
	ClinicalNotes    *string    `json:"clinical_notes"`
	RequestedExams   *string    `json:"requested_exams"`
	FollowUpRequired bool       `json:"follow_up_required"`
	FollowUpDate     *time.Time `json:"follow_up_date"`
}

type AppointmentFilter struct {
	Pagination
	Status         AppointmentStatus `form:"status"`
	PatientID      *uuid.UUID        `form:"-"`
	ProfessionalID *uuid.UUID        `form:"-"`
	Urgent         *bool             `form:"urgent"`
	From           *time.Time        `form:"date_from" time_format:"2006-01-02"`
	To             *time.Time        `form:"date_to" time_format:"2006-01-02"`
}

type AppointmentReport struct {
	From           *time.Time             `json:"date_from,omitempty"`
	To             *time.Time             `json:"date_to,omitempty"`
	Total          int64                  `json:"total"`
	Completed      int64                  `json:"completed"`
	Cancelled      int64                  `json:"cancelled"`
	Scheduled      int64                  `json:"scheduled"`
	CompletionRate float64                `json:"completion_rate"`
	ByProfessional []ProfessionalWorkload `json:"by_professional"`
}

type ProfessionalWorkload struct {
	ProfessionalID uuid.UUID `json:"professional_id" db:"professional_id"`
	Name           string    `json:"name" db:"name"`
	Specialty      string    `json:"specialty" db:"specialty"`
	Total          int64     `json:"total" db:"total"`
}
