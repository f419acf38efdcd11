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

const professionalColumns = `id, account_id, name, cpf, cpf_index, crm, coren, specialty, phone,
	position, department, admission_date, active, can_prescribe, can_telemedicine,
	created_at, updated_at`

type professionalRow struct {
	ID              uuid.UUID  `db:"id"`
	AccountID       uuid.UUID  `db:"account_id"`
	Name            string     `db:"name"`
	CPF             string     `db:"cpf"`
	CPFIndex        string     `db:"cpf_index"`
	CRM             *string    `db:"crm"`
	COREN           *string    `db:"coren"`
	Specialty       string     `db:"specialty"`
	Phone           *string    `db:"phone"`
	Position        string     `db:"position"`
	Department      string     `db:"department"`
	AdmissionDate   *time.Time `db:"admission_date"`
	Active          bool       `db:"active"`
	CanPrescribe    bool       `db:"can_prescribe"`
	CanTelemedicine bool       `db:"can_telemedicine"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

type professionalRepository struct {
	BaseRepository
	envelope *security.Envelope
	index    *security.BlindIndex
}

func NewProfessionalRepository(base BaseRepository, envelope *security.Envelope, index *security.BlindIndex) repository.ProfessionalRepository {
	return &professionalRepository{BaseRepository: base, envelope: envelope, index: index}
}

func (r *professionalRepository) toRow(p *model.Professional) (*professionalRow, error) {
	row := &professionalRow{
		ID:              p.ID,
		AccountID:       p.AccountID,
		Name:            p.Name,
		CPFIndex:        r.index.Compute(p.CPF),
		CRM:             p.CRM,
		COREN:           p.COREN,
		Specialty:       p.Specialty,
		Position:        string(p.Position),
		Department:      p.Department,
		AdmissionDate:   p.AdmissionDate,
		Active:          p.Active,
		CanPrescribe:    p.CanPrescribe,
		CanTelemedicine: p.CanTelemedicine,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}

	var err error
	if row.CPF, err = r.envelope.SealString(p.CPF); err != nil {
		return nil, fmt.Errorf("failed to seal cpf: %w", err)
	}
	if row.Phone, err = r.envelope.Seal(p.Phone); err != nil {
		return nil, fmt.Errorf("failed to seal phone: %w", err)
	}
	return row, nil
}

func (r *professionalRepository) fromRow(row *professionalRow) (*model.Professional, error) {
	p := &model.Professional{
		Base:            model.Base{ID: row.ID, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt},
		AccountID:       row.AccountID,
		Name:            row.Name,
		CRM:             row.CRM,
		COREN:           row.COREN,
		Specialty:       row.Specialty,
		Position:        model.Position(row.Position),
		Department:      row.Department,
		AdmissionDate:   row.AdmissionDate,
		Active:          row.Active,
		CanPrescribe:    row.CanPrescribe,
		CanTelemedicine: row.CanTelemedicine,
	}

	var err error
	if p.CPF, err = r.envelope.OpenString(row.CPF); err != nil {
		return nil, fmt.Errorf("failed to open cpf of professional %s: %w", row.ID, err)
	}
	if p.Phone, err = r.envelope.Open(row.Phone); err != nil {
		return nil, fmt.Errorf("failed to open phone of professional %s: %w", row.ID, err)
	}
	return p, nil
}

func (r *professionalRepository) CreateWithAccount(ctx context.Context, account *model.Account, professional *model.Professional) error {
	start := time.Now()

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now().UTC()
	professional.ID = uuid.New()
	professional.AccountID = account.ID
	professional.CreatedAt = now
	professional.UpdatedAt = now

	row, err := r.toRow(professional)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO professionals (` + professionalColumns + `)
		VALUES (
			:id, :account_id, :name, :cpf, :cpf_index, :crm, :coren, :specialty, :phone,
			:position, :department, :admission_date, :active, :can_prescribe, :can_telemedicine,
			:created_at, :updated_at
		)
	`
	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertAccount(ctx, tx, account); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, query, row)
		return err
	})
	err = translate(err, "create professional")
	r.observe("professionals.create", start, err)
	return err
}

func (r *professionalRepository) get(ctx context.Context, where string, arg interface{}) (*model.Professional, error) {
	var row professionalRow
	err := r.db.GetContext(ctx, &row, `SELECT `+professionalColumns+` FROM professionals WHERE `+where, arg)
	if err != nil {
		return nil, translate(err, "get professional")
	}
	return r.fromRow(&row)
}

func (r *professionalRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Professional, error) {
	start := time.Now()
	p, err := r.get(ctx, "id = $1", id)
	r.observe("professionals.get_by_id", start, err)
	return p, err
}

func (r *professionalRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*model.Professional, error) {
	start := time.Now()
	p, err := r.get(ctx, "account_id = $1", accountID)
	r.observe("professionals.get_by_account", start, err)
	return p, err
}

func (r *professionalRepository) IDByAccount(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.GetContext(ctx, &id, `SELECT id FROM professionals WHERE account_id = $1`, accountID)
	if err != nil {
		return uuid.Nil, translate(err, "resolve professional")
	}
	return id, nil
}

func (r *professionalRepository) List(ctx context.Context, filter model.ProfessionalFilter) ([]*model.Professional, int64, error) {
	start := time.Now()
	page := filter.Pagination.Normalize(model.DefaultPageSize, model.MaxPageSize)

	var w whereBuilder
	active := true
	if filter.Active != nil {
		active = *filter.Active
	}
	w.add("active = $%d", active)
	if search := strings.TrimSpace(filter.Search); search != "" {
		w.add("name ILIKE $%d", "%"+search+"%")
	}
	if filter.Specialty != "" {
		w.add("specialty ILIKE $%d", "%"+filter.Specialty+"%")
	}
	if filter.Position != "" {
		w.add("position = $%d", string(filter.Position))
	}
	if filter.Department != "" {
		w.add("department = $%d", filter.Department)
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM professionals`+w.String(), w.args...); err != nil {
		err = translate(err, "count professionals")
		r.observe("professionals.list", start, err)
		return nil, 0, err
	}

	args := append([]interface{}{}, w.args...)
	query := `SELECT ` + professionalColumns + ` FROM professionals` + w.String() +
		fmt.Sprintf(" ORDER BY name ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	var rows []professionalRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		err = translate(err, "list professionals")
		r.observe("professionals.list", start, err)
		return nil, 0, err
	}
	r.observe("professionals.list", start, nil)

	professionals := make([]*model.Professional, 0, len(rows))
	for i := range rows {
		p, err := r.fromRow(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		professionals = append(professionals, p)
	}
	return professionals, total, nil
}

func (r *professionalRepository) Update(ctx context.Context, professional *model.Professional) error {
	start := time.Now()
	professional.UpdatedAt = time.Now().UTC()
	row, err := r.toRow(professional)
	if err != nil {
		return err
	}

	query := `
		UPDATE professionals SET
			name = :name, cpf = :cpf, cpf_index = :cpf_index, crm = :crm, coren = :coren,
			specialty = :specialty, phone = :phone, department = :department,
			admission_date = :admission_date, active = :active, can_prescribe = :can_prescribe,
			can_telemedicine = :can_telemedicine, updated_at = :updated_at
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		err = translate(err, "update professional")
	} else {
		err = expectOne(res, "update professional")
	}
	r.observe("professionals.update", start, err)
	return err
}

func (r *professionalRepository) Deactivate(ctx context.Context, id uuid.UUID, now time.Time) error {
	start := time.Now()
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var accountID uuid.UUID
		err := tx.GetContext(ctx, &accountID,
			`UPDATE professionals SET active = FALSE, updated_at = $1 WHERE id = $2 RETURNING account_id`,
			now, id,
		)
		if err != nil {
			return translate(err, "deactivate professional")
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET active = FALSE, updated_at = $1 WHERE id = $2`,
			now, accountID,
		)
		return translate(err, "deactivate professional account")
	})
	r.observe("professionals.deactivate", start, err)
	return err
}

func (r *professionalRepository) Statistics(ctx context.Context) (*model.ProfessionalStatistics, error) {
	stats := &model.ProfessionalStatistics{
		ByPosition:  make(map[string]int64),
		BySpecialty: make(map[string]int64),
	}

	err := r.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE can_prescribe),
			COUNT(*) FILTER (WHERE can_telemedicine)
		FROM professionals WHERE active
	`).Scan(&stats.TotalActive, &stats.CanPrescribe, &stats.CanTelemedicine)
	if err != nil {
		return nil, translate(err, "get professional statistics")
	}

	groups := []struct {
		column string
		into   map[string]int64
	}{
		{"position", stats.ByPosition},
		{"specialty", stats.BySpecialty},
	}
	for _, g := range groups {
		var counts []model.CountByKey
		query := fmt.Sprintf(`
			SELECT %[1]s AS key, COUNT(*) AS count
			FROM professionals WHERE active
			GROUP BY %[1]s ORDER BY count DESC
		`, g.column)
		if err := r.db.SelectContext(ctx, &counts, query); err != nil {
			return nil, translate(err, "group professionals")
		}
		for _, c := range counts {
			g.into[c.Key] = c.Count
		}
	}
	return stats, nil
}
