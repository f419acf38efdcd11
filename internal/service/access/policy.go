package access

import "github.com/jwalitptl/hospital-api/internal/model"

// Action is a capability checked by the evaluator.
type Action string

const (
	PatientCreate     Action = "patient.create"
	PatientList       Action = "patient.list"
	PatientView       Action = "patient.view"
	PatientUpdate     Action = "patient.update"
	PatientDeactivate Action = "patient.deactivate"
	PatientAnonymize  Action = "patient.anonymize"
	PatientStatistics Action = "patient.statistics"

	ProfessionalCreate          Action = "professional.create"
	ProfessionalList            Action = "professional.list"
	ProfessionalListBySpecialty Action = "professional.list_by_specialty"
	ProfessionalView            Action = "professional.view"
	ProfessionalSchedule        Action = "professional.schedule"
	ProfessionalUpdate          Action = "professional.update"
	ProfessionalDeactivate      Action = "professional.deactivate"
	ProfessionalStatistics      Action = "professional.statistics"

	AppointmentCreate   Action = "appointment.create"
	AppointmentList     Action = "appointment.list"
	AppointmentView     Action = "appointment.view"
	AppointmentUpdate   Action = "appointment.update"
	AppointmentCancel   Action = "appointment.cancel"
	AppointmentCheckIn  Action = "appointment.checkin"
	AppointmentComplete Action = "appointment.complete"
	AppointmentReport   Action = "appointment.report"

	AuditList           Action = "audit.list"
	AuditView           Action = "audit.view"
	AuditUserActivity   Action = "audit.user_activity"
	AuditSecurityReport Action = "audit.security_report"
	AuditStatistics     Action = "audit.statistics"
	AuditExport         Action = "audit.export"
)

// Actions lists every declared action. The policy table must cover all of them.
var Actions = []Action{
	PatientCreate, PatientList, PatientView, PatientUpdate, PatientDeactivate, PatientAnonymize, PatientStatistics,
	ProfessionalCreate, ProfessionalList, ProfessionalListBySpecialty, ProfessionalView, ProfessionalSchedule,
	ProfessionalUpdate, ProfessionalDeactivate, ProfessionalStatistics,
	AppointmentCreate, AppointmentList, AppointmentView, AppointmentUpdate, AppointmentCancel, AppointmentCheckIn,
	AppointmentComplete, AppointmentReport,
	AuditList, AuditView, AuditUserActivity, AuditSecurityReport, AuditStatistics, AuditExport,
}

// OwnerKind names the linked record a role must own to act on a resource.
type OwnerKind int

const (
	OwnerPatient OwnerKind = iota + 1
	OwnerProfessional
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerPatient:
		return "patient"
	case OwnerProfessional:
		return "professional"
	}
	return "unknown"
}

// Rule lists the roles allowed to perform an action and, per role, the
// ownership each role must hold over the target. Roles absent from
// Ownership act on any resource.
type Rule struct {
	Resource  model.ResourceType
	Roles     []model.Role
	Ownership map[model.Role]OwnerKind
}

func (r Rule) allows(role model.Role) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

var (
	allRoles      = model.Roles
	adminOnly     = []model.Role{model.RoleAdmin}
	clinicalStaff = []model.Role{model.RoleAdmin, model.RolePhysician, model.RoleNurse}

	ownProfessional = map[model.Role]OwnerKind{
		model.RolePhysician: OwnerProfessional,
		model.RoleNurse:     OwnerProfessional,
	}
	ownAppointment = map[model.Role]OwnerKind{
		model.RolePatient:   OwnerPatient,
		model.RolePhysician: OwnerProfessional,
		model.RoleNurse:     OwnerProfessional,
	}
)

var policy = map[Action]Rule{
	PatientCreate: {Resource: model.ResourcePatient, Roles: clinicalStaff},
	PatientList:   {Resource: model.ResourcePatient, Roles: allRoles},
	PatientView: {
		Resource:  model.ResourcePatient,
		Roles:     allRoles,
		Ownership: map[model.Role]OwnerKind{model.RolePatient: OwnerPatient},
	},
	PatientUpdate: {
		Resource:  model.ResourcePatient,
		Roles:     []model.Role{model.RoleAdmin, model.RolePhysician, model.RoleNurse, model.RoleReceptionist, model.RolePatient},
		Ownership: map[model.Role]OwnerKind{model.RolePatient: OwnerPatient},
	},
	PatientDeactivate: {Resource: model.ResourcePatient, Roles: adminOnly},
	PatientAnonymize:  {Resource: model.ResourcePatient, Roles: adminOnly},
	PatientStatistics: {Resource: model.ResourcePatient, Roles: adminOnly},

	ProfessionalCreate:          {Resource: model.ResourceProfessional, Roles: adminOnly},
	ProfessionalList:            {Resource: model.ResourceProfessional, Roles: allRoles},
	ProfessionalListBySpecialty: {Resource: model.ResourceProfessional, Roles: allRoles},
	ProfessionalView:            {Resource: model.ResourceProfessional, Roles: allRoles, Ownership: ownProfessional},
	ProfessionalSchedule:        {Resource: model.ResourceProfessional, Roles: clinicalStaff, Ownership: ownProfessional},
	ProfessionalUpdate:          {Resource: model.ResourceProfessional, Roles: clinicalStaff, Ownership: ownProfessional},
	ProfessionalDeactivate:      {Resource: model.ResourceProfessional, Roles: adminOnly},
	ProfessionalStatistics:      {Resource: model.ResourceProfessional, Roles: adminOnly},

	AppointmentCreate: {Resource: model.ResourceAppointment, Roles: clinicalStaff},
	AppointmentList:   {Resource: model.ResourceAppointment, Roles: allRoles},
	AppointmentView: {
		Resource:  model.ResourceAppointment,
		Roles:     []model.Role{model.RoleAdmin, model.RolePhysician, model.RoleNurse, model.RolePatient},
		Ownership: ownAppointment,
	},
	AppointmentUpdate: {Resource: model.ResourceAppointment, Roles: clinicalStaff, Ownership: ownProfessional},
	AppointmentCancel: {
		Resource:  model.ResourceAppointment,
		Roles:     []model.Role{model.RoleAdmin, model.RolePhysician, model.RoleNurse, model.RolePatient},
		Ownership: ownAppointment,
	},
	AppointmentCheckIn:  {Resource: model.ResourceAppointment, Roles: clinicalStaff},
	AppointmentComplete: {Resource: model.ResourceAppointment, Roles: clinicalStaff, Ownership: ownProfessional},
	AppointmentReport:   {Resource: model.ResourceAppointment, Roles: adminOnly},

	AuditList:           {Resource: model.ResourceAudit, Roles: adminOnly},
	AuditView:           {Resource: model.ResourceAudit, Roles: adminOnly},
	AuditUserActivity:   {Resource: model.ResourceAudit, Roles: adminOnly},
	AuditSecurityReport: {Resource: model.ResourceAudit, Roles: adminOnly},
	AuditStatistics:     {Resource: model.ResourceAudit, Roles: adminOnly},
	AuditExport:         {Resource: model.ResourceAudit, Roles: adminOnly},
}

// RuleFor returns the rule registered for action.
func RuleFor(action Action) (Rule, bool) {
	rule, ok := policy[action]
	return rule, ok
}
