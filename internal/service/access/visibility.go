package access

import (
	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/pkg/security"
)

// VisibilityFor returns how sensitive fields are shown to role. Clinical
// staff and administrators see plaintext, as does a patient reading their
// own record.
func VisibilityFor(role model.Role, owner bool) Visibility {
	switch role {
	case model.RoleAdmin, model.RolePhysician, model.RoleNurse:
		return Plaintext
	case model.RolePatient:
		if owner {
			return Plaintext
		}
	}
	return Masked
}

// MaskPatient returns a copy of p with every sensitive field anonymized.
func MaskPatient(p *model.Patient) *model.Patient {
	if p == nil {
		return nil
	}
	masked := *p
	masked.CPF = security.AnonymizeString(p.CPF, security.KindCPF)
	masked.RG = security.Anonymize(p.RG, security.KindGeneric)
	masked.Phone = security.Anonymize(p.Phone, security.KindPhone)
	masked.Address = security.Anonymize(p.Address, security.KindGeneric)
	masked.InsuranceCardNumber = security.Anonymize(p.InsuranceCardNumber, security.KindGeneric)
	masked.EmergencyContactPhone = security.Anonymize(p.EmergencyContactPhone, security.KindPhone)
	return &masked
}

// ApplyPatient masks p unless v grants plaintext.
func ApplyPatient(p *model.Patient, v Visibility) *model.Patient {
	if v == Plaintext {
		return p
	}
	return MaskPatient(p)
}

// MaskProfessional returns a copy of p with CPF and phone anonymized.
func MaskProfessional(p *model.Professional) *model.Professional {
	if p == nil {
		return nil
	}
	masked := *p
	masked.CPF = security.AnonymizeString(p.CPF, security.KindCPF)
	masked.Phone = security.Anonymize(p.Phone, security.KindPhone)
	return &masked
}

func ApplyProfessional(p *model.Professional, v Visibility) *model.Professional {
	if v == Plaintext {
		return p
	}
	return MaskProfessional(p)
}
