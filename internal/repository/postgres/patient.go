package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/pkg/security"
)

const patientColumns = `id, account_id, name, cpf, cpf_index, rg, birth_date, phone, address,
	city, state, zip_code, health_plan, insurance_card_number, emergency_contact_name,
	emergency_contact_phone, medical_notes, lgpd_consent, lgpd_consent_at, active,
	anonymized_at, created_at, updated_at`

// patientRow is the stored shape of a patient: sensitive columns hold envelopes.
type patientRow struct {
	ID                    uuid.UUID  `db:"id"`
	AccountID             uuid.UUID  `db:"account_id"`
	Name                  string     `db:"name"`
	CPF                   string     `db:"cpf"`
	CPFIndex              *string    `db:"cpf_index"`
	RG                    *string    `db:"rg"`
	BirthDate             *time.Time `db:"birth_date"`
	Phone                 *string    `db:"phone"`
	Address               *string    `db:"address"`
	City                  string     `db:"city"`
	State                 string     `db:"state"`
	ZipCode               string     `db:"zip_code"`
	HealthPlan            string     `db:"health_plan"`
	InsuranceCardNumber   *string    `db:"insurance_card_number"`
	EmergencyContactName  *string    `db:"emergency_contact_name"`
	EmergencyContactPhone *string    `db:"emergency_contact_phone"`
	MedicalNotes          string     `db:"medical_notes"`
	LGPDConsent           bool       `db:"lgpd_consent"`
	LGPDConsentAt         *time.Time `db:"lgpd_consent_at"`
	Active                bool       `db:"active"`
	AnonymizedAt          *time.Time `db:"anonymized_at"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

type patientRepository struct {
	BaseRepository
	envelope *security.Envelope
	index    *security.BlindIndex
}

func NewPatientRepository(base BaseRepository, envelope *security.Envelope, index *security.BlindIndex) repository.PatientRepository {
	return &patientRepository{BaseRepository: base, envelope: envelope, index: index}
}

// toRow seals every sensitive field. Nothing leaves this function in plaintext
// except the columns listed as plain in the schema.
func (r *patientRepository) toRow(p *model.Patient) (*patientRow, error) {
	row := &patientRow{
		ID:                   p.ID,
		AccountID:            p.AccountID,
		Name:                 p.Name,
		BirthDate:            p.BirthDate,
		City:                 p.City,
		State:                p.State,
		ZipCode:              p.ZipCode,
		HealthPlan:           p.HealthPlan,
		EmergencyContactName: p.EmergencyContactName,
		MedicalNotes:         p.MedicalNotes,
		LGPDConsent:          p.LGPDConsent,
		LGPDConsentAt:        p.LGPDConsentAt,
		Active:               p.Active,
		AnonymizedAt:         p.AnonymizedAt,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}

	var err error
	if row.CPF, err = r.envelope.SealString(p.CPF); err != nil {
		return nil, fmt.Errorf("failed to seal cpf: %w", err)
	}
	if p.AnonymizedAt == nil {
		idx := r.index.Compute(p.CPF)
		row.CPFIndex = &idx
	}

	sealed := []struct {
		src *string
		dst **string
	}{
		{p.RG, &row.RG},
		{p.Phone, &row.Phone},
		{p.Address, &row.Address},
		{p.InsuranceCardNumber, &row.InsuranceCardNumber},
		{p.EmergencyContactPhone, &row.EmergencyContactPhone},
	}
	for _, f := range sealed {
		if *f.dst, err = r.envelope.Seal(f.src); err != nil {
			return nil, fmt.Errorf("failed to seal patient field: %w", err)
		}
	}
	return row, nil
}

func (r *patientRepository) fromRow(row *patientRow) (*model.Patient, error) {
	p := &model.Patient{
		Base:                 model.Base{ID: row.ID, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt},
		AccountID:            row.AccountID,
		Name:                 row.Name,
		BirthDate:            row.BirthDate,
		City:                 row.City,
		State:                row.State,
		ZipCode:              row.ZipCode,
		HealthPlan:           row.HealthPlan,
		EmergencyContactName: row.EmergencyContactName,
		MedicalNotes:         row.MedicalNotes,
		LGPDConsent:          row.LGPDConsent,
		LGPDConsentAt:        row.LGPDConsentAt,
		Active:               row.Active,
		AnonymizedAt:         row.AnonymizedAt,
	}

	var err error
	if p.CPF, err = r.envelope.OpenString(row.CPF); err != nil {
		return nil, fmt.Errorf("failed to open cpf of patient %s: %w", row.ID, err)
	}

	opened := []struct {
		src *string
		dst **string
	}{
		{row.RG, &p.RG},
		{row.Phone, &p.Phone},
		{row.Address, &p.Address},
		{row.InsuranceCardNumber, &p.InsuranceCardNumber},
		{row.EmergencyContactPhone, &p.EmergencyContactPhone},
	}
	for _, f := range opened {
		if *f.dst, err = r.envelope.Open(f.src); err != nil {
			return nil, fmt.Errorf("failed to open field of patient %s: %w", row.ID, err)
		}
	}
	return p, nil
}

func (r *patientRepository) CreateWithAccount(ctx context.Context, account *model.Account, patient *model.Patient) error {
	start := time.Now()

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now().UTC()
	patient.ID = uuid.New()
	patient.AccountID = account.ID
	patient.CreatedAt = now
	patient.UpdatedAt = now

	row, err := r.toRow(patient)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO patients (` + patientColumns + `)
		VALUES (
			:id, :account_id, :name, :cpf, :cpf_index, :rg, :birth_date, :phone, :address,
			:city, :state, :zip_code, :health_plan, :insurance_card_number, :emergency_contact_name,
			:emergency_contact_phone, :medical_notes, :lgpd_consent, :lgpd_consent_at, :active,
			:anonymized_at, :created_at, :updated_at
		)
	`
	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertAccount(ctx, tx, account); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, query, row)
		return err
	})
	err = translate(err, "create patient")
	r.observe("patients.create", start, err)
	return err
}

func (r *patientRepository) get(ctx context.Context, where string, arg interface{}) (*model.Patient, error) {
	var row patientRow
	err := r.db.GetContext(ctx, &row, `SELECT `+patientColumns+` FROM patients WHERE `+where, arg)
	if err != nil {
		return nil, translate(err, "get patient")
	}
	return r.fromRow(&row)
}

func (r *patientRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	start := time.Now()
	p, err := r.get(ctx, "id = $1", id)
	r.observe("patients.get_by_id", start, err)
	return p, err
}

func (r *patientRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*model.Patient, error) {
	start := time.Now()
	p, err := r.get(ctx, "account_id = $1", accountID)
	r.observe("patients.get_by_account", start, err)
	return p, err
}

func (r *patientRepository) IDByAccount(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.GetContext(ctx, &id, `SELECT id FROM patients WHERE account_id = $1`, accountID)
	if err != nil {
		return uuid.Nil, translate(err, "resolve patient")
	}
	return id, nil
}

func (r *patientRepository) List(ctx context.Context, filter model.PatientFilter) ([]*model.Patient, int64, error) {
	start := time.Now()
	page := filter.Pagination.Normalize(model.DefaultPageSize, model.MaxPageSize)

	var w whereBuilder
	active := true
	if filter.Active != nil {
		active = *filter.Active
	}
	w.add("active = $%d", active)
	if search := strings.TrimSpace(filter.Search); search != "" {
		// An 11 digit search is treated as a CPF and matched through the blind index.
		if digits := onlyDigits(search); len(digits) == 11 {
			w.add("cpf_index = $%d", r.index.Compute(digits))
		} else {
			w.add("name ILIKE $%d", "%"+search+"%")
		}
	}
	if filter.City != "" {
		w.add("city ILIKE $%d", "%"+filter.City+"%")
	}
	if filter.HealthPlan != "" {
		w.add("health_plan = $%d", filter.HealthPlan)
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM patients`+w.String(), w.args...); err != nil {
		err = translate(err, "count patients")
		r.observe("patients.list", start, err)
		return nil, 0, err
	}

	args := append([]interface{}{}, w.args...)
	query := `SELECT ` + patientColumns + ` FROM patients` + w.String() +
		fmt.Sprintf(" ORDER BY name ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	var rows []patientRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		err = translate(err, "list patients")
		r.observe("patients.list", start, err)
		return nil, 0, err
	}
	r.observe("patients.list", start, nil)

	patients := make([]*model.Patient, 0, len(rows))
	for i := range rows {
		p, err := r.fromRow(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	start := time.Now()
	patient.UpdatedAt = time.Now().UTC()
	row, err := r.toRow(patient)
	if err != nil {
		return err
	}

	query := `
		UPDATE patients SET
			name = :name, rg = :rg, birth_date = :birth_date, phone = :phone, address = :address,
			city = :city, state = :state, zip_code = :zip_code, health_plan = :health_plan,
			insurance_card_number = :insurance_card_number,
			emergency_contact_name = :emergency_contact_name,
			emergency_contact_phone = :emergency_contact_phone,
			medical_notes = :medical_notes, lgpd_consent = :lgpd_consent,
			lgpd_consent_at = :lgpd_consent_at, updated_at = :updated_at
		WHERE id = :id AND anonymized_at IS NULL
	`
	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		err = translate(err, "update patient")
	} else {
		err = expectOne(res, "update patient")
	}
	r.observe("patients.update", start, err)
	return err
}

func (r *patientRepository) Deactivate(ctx context.Context, id uuid.UUID, now time.Time) error {
	start := time.Now()
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var accountID uuid.UUID
		err := tx.GetContext(ctx, &accountID,
			`UPDATE patients SET active = FALSE, updated_at = $1 WHERE id = $2 RETURNING account_id`,
			now, id,
		)
		if err != nil {
			return translate(err, "deactivate patient")
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET active = FALSE, updated_at = $1 WHERE id = $2`,
			now, accountID,
		)
		return translate(err, "deactivate patient account")
	})
	r.observe("patients.deactivate", start, err)
	return err
}

// Anonymize replaces every direct identifier in a single UPDATE so readers see
// either the full pre-image or the full post-image.
func (r *patientRepository) Anonymize(ctx context.Context, id uuid.UUID, now time.Time) error {
	start := time.Now()
	placeholderCPF, err := r.envelope.SealString(model.AnonymizedCPF)
	if err != nil {
		return fmt.Errorf("failed to seal placeholder: %w", err)
	}

	query := `
		UPDATE patients SET
			name = $1,
			cpf = $2,
			cpf_index = NULL,
			rg = NULL,
			phone = NULL,
			address = NULL,
			insurance_card_number = NULL,
			emergency_contact_name = NULL,
			emergency_contact_phone = NULL,
			medical_notes = $3,
			active = FALSE,
			anonymized_at = $4,
			updated_at = $4
		WHERE id = $5
	`
	res, err := r.db.ExecContext(ctx, query, model.AnonymizedName, placeholderCPF, model.AnonymizedNotes, now, id)
	if err != nil {
		err = translate(err, "anonymize patient")
	} else {
		err = expectOne(res, "anonymize patient")
	}
	r.observe("patients.anonymize", start, err)
	return err
}

func (r *patientRepository) Statistics(ctx context.Context, now time.Time) (*model.PatientStatistics, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE active) AS total_active,
			COUNT(*) FILTER (WHERE active AND lgpd_consent) AS with_consent,
			COUNT(*) FILTER (WHERE created_at >= $1) AS registered_today
		FROM patients
	`
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var stats model.PatientStatistics
	err := r.db.QueryRowxContext(ctx, query, dayStart).
		Scan(&stats.TotalActive, &stats.WithConsent, &stats.RegisteredToday)
	if err != nil {
		return nil, translate(err, "get patient statistics")
	}
	if stats.TotalActive > 0 {
		stats.ConsentRate = float64(stats.WithConsent) / float64(stats.TotalActive) * 100
	}
	return &stats, nil
}

func onlyDigits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
