package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction is the closed vocabulary of audited actions.
type AuditAction string

const (
	// Authentication
	ActionLoginSuccess               AuditAction = "LOGIN_SUCCESS"
	ActionLoginFailed                AuditAction = "LOGIN_FAILED"
	ActionAccountLocked              AuditAction = "ACCOUNT_LOCKED"
	ActionLogout                     AuditAction = "LOGOUT"
	ActionTokenRefreshed             AuditAction = "TOKEN_REFRESHED"
	ActionPasswordChangeSuccess      AuditAction = "PASSWORD_CHANGE_SUCCESS"
	ActionPasswordChangeFailed       AuditAction = "PASSWORD_CHANGE_FAILED"
	ActionRegisterSuccess            AuditAction = "REGISTER_SUCCESS"
	ActionRegisterFailed             AuditAction = "REGISTER_FAILED"
	ActionProfileViewed              AuditAction = "PROFILE_VIEWED"
	ActionProfileUpdated             AuditAction = "PROFILE_UPDATED"
	ActionUnauthorizedAccess         AuditAction = "UNAUTHORIZED_ACCESS"
	ActionUnauthorizedResourceAccess AuditAction = "UNAUTHORIZED_RESOURCE_ACCESS"

	// Patients
	ActionPatientCreated          AuditAction = "PACIENTE_CREATED"
	ActionPatientsListed          AuditAction = "PACIENTES_LISTED"
	ActionPatientViewed           AuditAction = "PACIENTE_VIEWED"
	ActionPatientUpdated          AuditAction = "PACIENTE_UPDATED"
	ActionPatientDeactivated      AuditAction = "PACIENTE_DEACTIVATED"
	ActionPatientAnonymized       AuditAction = "PACIENTE_ANONYMIZED"
	ActionPatientStatisticsViewed AuditAction = "PACIENTES_STATISTICS_VIEWED"

	// Professionals
	ActionProfessionalCreated          AuditAction = "PROFISSIONAL_CREATED"
	ActionProfessionalsListed          AuditAction = "PROFISSIONAIS_LISTED"
	ActionProfessionalViewed           AuditAction = "PROFISSIONAL_VIEWED"
	ActionProfessionalScheduleViewed   AuditAction = "PROFISSIONAL_SCHEDULE_VIEWED"
	ActionProfessionalUpdated          AuditAction = "PROFISSIONAL_UPDATED"
	ActionProfessionalDeactivated      AuditAction = "PROFISSIONAL_DEACTIVATED"
	ActionProfessionalStatisticsViewed AuditAction = "PROFISSIONAIS_STATISTICS_VIEWED"

	// Appointments
	ActionAppointmentCreated   AuditAction = "CONSULTA_CREATED"
	ActionAppointmentsListed   AuditAction = "CONSULTAS_LISTED"
	ActionAppointmentViewed    AuditAction = "CONSULTA_VIEWED"
	ActionAppointmentUpdated   AuditAction = "CONSULTA_UPDATED"
	ActionAppointmentCancelled AuditAction = "CONSULTA_CANCELLED"
	ActionAppointmentCheckIn   AuditAction = "CONSULTA_CHECKIN"
	ActionAppointmentCompleted AuditAction = "CONSULTA_COMPLETED"
	ActionAppointmentReport    AuditAction = "CONSULTAS_REPORT_GENERATED"

	// Audit trail
	ActionAuditLogsViewed       AuditAction = "AUDIT_LOGS_VIEWED"
	ActionAuditLogDetailedView  AuditAction = "AUDIT_LOG_DETAILED_VIEW"
	ActionUserActivityReport    AuditAction = "USER_ACTIVITY_REPORT_GENERATED"
	ActionSecurityReport        AuditAction = "SECURITY_REPORT_GENERATED"
	ActionAuditLogsExported     AuditAction = "AUDIT_LOGS_EXPORTED"
	ActionAuditStatisticsViewed AuditAction = "AUDIT_STATISTICS_VIEWED"
)

// SecurityAlert reports whether the action is forwarded to security alerting.
func (a AuditAction) SecurityAlert() bool {
	switch a {
	case ActionAccountLocked, ActionUnauthorizedAccess, ActionUnauthorizedResourceAccess:
		return true
	}
	return false
}

// ResourceType identifies what an audit entry refers to.
type ResourceType string

const (
	ResourceAuth         ResourceType = "AUTH"
	ResourcePatient      ResourceType = "PACIENTE"
	ResourceProfessional ResourceType = "PROFISSIONAL"
	ResourceAppointment  ResourceType = "CONSULTA"
	ResourceAudit        ResourceType = "AUDIT"
	ResourceAPI          ResourceType = "API"
)

// AuditEntry is immutable once written.
type AuditEntry struct {
	ID           string       `json:"id" db:"id"`
	ActorID      *uuid.UUID   `json:"actor_id,omitempty" db:"actor_id"`
	Action       AuditAction  `json:"action" db:"action"`
	ResourceType ResourceType `json:"resource_type" db:"resource_type"`
	ResourceID   *string      `json:"resource_id,omitempty" db:"resource_id"`
	Context      JSONMap      `json:"context,omitempty" db:"context"`
	PreviousData JSONMap      `json:"previous_data,omitempty" db:"previous_data"`
	NewData      JSONMap      `json:"new_data,omitempty" db:"new_data"`
	IPAddress    string       `json:"ip_address" db:"ip_address"`
	UserAgent    string       `json:"user_agent" db:"user_agent"`
	Success      bool         `json:"success" db:"success"`
	ErrorMessage *string      `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

type AuditFilter struct {
	Pagination
	ActorID      *uuid.UUID
	Action       AuditAction
	Actions      []AuditAction
	ResourceType ResourceType
	ResourceID   string
	IPAddress    string
	From         *time.Time
	To           *time.Time
	Success      *bool
}

type CountByKey struct {
	Key   string `json:"key" db:"key"`
	Count int64  `json:"count" db:"count"`
}

type AuditStatistics struct {
	From       *time.Time   `json:"date_from,omitempty"`
	To         *time.Time   `json:"date_to,omitempty"`
	Total      int64        `json:"total"`
	Failures   int64        `json:"failures"`
	ByAction   []CountByKey `json:"by_action"`
	ByResource []CountByKey `json:"by_resource"`
	TopActors  []CountByKey `json:"top_actors"`
}

type SecurityReport struct {
	From              *time.Time    `json:"date_from,omitempty"`
	To                *time.Time    `json:"date_to,omitempty"`
	Counts            []CountByKey  `json:"counts"`
	TopFailedLoginIPs []CountByKey  `json:"top_failed_login_ips"`
	RecentLockouts    []*AuditEntry `json:"recent_lockouts"`
}

type UserActivityReport struct {
	Account      *Account      `json:"account"`
	From         *time.Time    `json:"date_from,omitempty"`
	To           *time.Time    `json:"date_to,omitempty"`
	Total        int64         `json:"total"`
	ByAction     []CountByKey  `json:"by_action"`
	ByResource   []CountByKey  `json:"by_resource"`
	RecentEvents []*AuditEntry `json:"recent_events"`
}
