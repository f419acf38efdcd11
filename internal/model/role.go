package model

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin        Role = "admin"
	RolePhysician    Role = "physician"
	RoleNurse        Role = "nurse"
	RoleReceptionist Role = "receptionist"
	RolePatient      Role = "patient"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RolePhysician, RoleNurse, RoleReceptionist, RolePatient}

func (r Role) Valid() bool {
	for _, role := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsClinical reports whether the role belongs to clinical staff.
func (r Role) IsClinical() bool {
	return r == RolePhysician || r == RoleNurse
}

func (r Role) String() string {
	return string(r)
}
