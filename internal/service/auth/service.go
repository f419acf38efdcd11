package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/internal/service/audit"
	"github.com/jwalitptl/hospital-api/pkg/auth"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
	"github.com/jwalitptl/hospital-api/pkg/security"
	"github.com/jwalitptl/hospital-api/pkg/validator"
)

const (
	defaultMaxLoginAttempts = 5
	defaultLockoutDuration  = 15 * time.Minute
)

// decoyPassword backs the hash compared against when the email is unknown,
// so every login attempt pays the same bcrypt cost.
const decoyPassword = "no-account-matches-this-login"

// Login failure reasons kept in the audit context.
const (
	reasonNotFound    = "not-found"
	reasonInactive    = "inactive"
	reasonLocked      = "locked"
	reasonBadPassword = "bad-password"
)

type Config struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
}

type Service struct {
	accounts      repository.AccountRepository
	patients      repository.PatientRepository
	professionals repository.ProfessionalRepository
	hasher        security.PasswordHasher
	tokens        *auth.TokenManager
	recorder      audit.Recorder
	metrics       *metrics.Metrics
	cfg           Config
	now           func() time.Time

	decoyOnce sync.Once
	decoyHash string
}

type Option func(*Service)

// WithClock replaces the clock used for lockout decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(accounts repository.AccountRepository, patients repository.PatientRepository,
	professionals repository.ProfessionalRepository, hasher security.PasswordHasher,
	tokens *auth.TokenManager, recorder audit.Recorder, cfg Config, opts ...Option) *Service {
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = defaultMaxLoginAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = defaultLockoutDuration
	}
	s := &Service{
		accounts:      accounts,
		patients:      patients,
		professionals: professionals,
		hasher:        hasher,
		tokens:        tokens,
		recorder:      recorder,
		cfg:           cfg,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login walks the account state machine: unknown, deactivated and locked
// accounts are rejected before the password is checked. A wrong password
// is counted atomically and locks the account once the threshold is hit.
func (s *Service) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	now := s.now()

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		_ = s.hasher.Compare(s.decoy(), password)
		s.metrics.LoginAttempt(reasonNotFound)
		s.recorder.Record(ctx, audit.Entry{
			Action:       model.ActionLoginFailed,
			ResourceType: model.ResourceAuth,
			Context: model.JSONMap{
				"reason": reasonNotFound,
				"email":  security.AnonymizeString(email, security.KindEmail),
			},
			Err: errors.New("account not found"),
		})
		return nil, apperrors.InvalidCredentials()
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	if !account.Active {
		s.loginFailed(ctx, account, model.JSONMap{"reason": reasonInactive}, "account inactive")
		return nil, apperrors.AccountInactive()
	}

	if account.IsLocked(now) {
		s.loginFailed(ctx, account, model.JSONMap{
			"reason":       reasonLocked,
			"locked_until": account.LockedUntil,
		}, "account locked")
		return nil, apperrors.AccountLocked()
	}

	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		failure, ferr := s.accounts.RegisterFailedLogin(ctx, account.ID, now, s.cfg.MaxLoginAttempts, s.cfg.LockoutDuration)
		if ferr != nil {
			return nil, apperrors.Internal(ferr)
		}
		s.loginFailed(ctx, account, model.JSONMap{
			"reason":   reasonBadPassword,
			"attempts": failure.Attempts,
		}, "invalid password")

		if failure.LockedUntil != nil && failure.Attempts >= s.cfg.MaxLoginAttempts {
			s.metrics.Lockout()
			s.recorder.Record(ctx, audit.Entry{
				ActorID:      &account.ID,
				Action:       model.ActionAccountLocked,
				ResourceType: model.ResourceAuth,
				ResourceID:   account.ID.String(),
				Context: model.JSONMap{
					"attempts":     failure.Attempts,
					"locked_until": failure.LockedUntil,
				},
			})
		}
		return nil, apperrors.InvalidCredentials()
	}

	s.rehash(ctx, account, password)

	if err := s.accounts.RecordSuccessfulLogin(ctx, account.ID, now); err != nil {
		return nil, apperrors.Internal(err)
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.LastLoginAt = &now

	token, expiresAt, err := s.issue(account)
	if err != nil {
		return nil, err
	}

	s.metrics.LoginAttempt("success")
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &account.ID,
		Action:       model.ActionLoginSuccess,
		ResourceType: model.ResourceAuth,
		ResourceID:   account.ID.String(),
	})

	profile, err := s.profile(ctx, account)
	if err != nil {
		return nil, err
	}
	return &model.LoginResponse{
		TokenResponse: model.TokenResponse{Token: token, ExpiresAt: expiresAt},
		Profile:       profile,
	}, nil
}

// rehash upgrades a hash produced with an outdated work factor. Failures
// only cost the upgrade, never the login.
func (s *Service) rehash(ctx context.Context, account *model.Account, password string) {
	if !s.hasher.NeedsRehash(account.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		log.Warn().Err(err).Str("account_id", account.ID.String()).Msg("failed to upgrade password hash")
		return
	}
	account.PasswordHash = hash
}

func (s *Service) loginFailed(ctx context.Context, account *model.Account, details model.JSONMap, msg string) {
	if reason, ok := details["reason"].(string); ok {
		s.metrics.LoginAttempt(reason)
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &account.ID,
		Action:       model.ActionLoginFailed,
		ResourceType: model.ResourceAuth,
		ResourceID:   account.ID.String(),
		Context:      details,
		Err:          errors.New(msg),
	})
}

// Register creates a patient account and its patient record together.
func (s *Service) Register(ctx context.Context, req *model.RegisterRequest) (*model.Profile, error) {
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) || errors.Is(err, security.ErrPasswordTooLong) {
			return nil, apperrors.ValidationFailed(err.Error())
		}
		return nil, apperrors.Internal(err)
	}

	now := s.now().UTC()
	account := &model.Account{
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RolePatient,
		Active:       true,
	}
	patient := &model.Patient{
		Name:        req.Name,
		CPF:         validator.Digits(req.CPF),
		BirthDate:   req.BirthDate,
		Phone:       req.Phone,
		LGPDConsent: req.LGPDConsent,
		Active:      true,
	}
	if req.LGPDConsent {
		patient.LGPDConsentAt = &now
	}

	if err := s.patients.CreateWithAccount(ctx, account, patient); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.recorder.Record(ctx, audit.Entry{
				Action:       model.ActionRegisterFailed,
				ResourceType: model.ResourceAuth,
				Context: model.JSONMap{
					"reason": "duplicate",
					"email":  security.AnonymizeString(req.Email, security.KindEmail),
				},
				Err: err,
			})
			return nil, apperrors.Conflict("email or CPF already registered")
		}
		return nil, apperrors.Internal(err)
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &account.ID,
		Action:       model.ActionRegisterSuccess,
		ResourceType: model.ResourceAuth,
		ResourceID:   account.ID.String(),
		NewData:      model.JSONMap{"role": string(account.Role), "patient_id": patient.ID.String()},
	})

	return &model.Profile{
		ID:      account.ID,
		Email:   account.Email,
		Role:    account.Role,
		Patient: &model.PatientSummary{ID: patient.ID, Name: patient.Name},
	}, nil
}

// Authenticate resolves a bearer token to a principal whose account still
// exists and is active.
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, apperrors.Unauthorized(err)
	}
	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Unauthorized(err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !account.Active {
		return nil, apperrors.AccountInactive()
	}
	return &model.Principal{AccountID: account.ID, Email: account.Email, Role: account.Role}, nil
}

func (s *Service) ChangePassword(ctx context.Context, principal *model.Principal, current, next string) error {
	account, err := s.account(ctx, principal)
	if err != nil {
		return err
	}

	if err := s.hasher.Compare(account.PasswordHash, current); err != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      &account.ID,
			Action:       model.ActionPasswordChangeFailed,
			ResourceType: model.ResourceAuth,
			ResourceID:   account.ID.String(),
			Context:      model.JSONMap{"reason": "current password mismatch"},
			Err:          err,
		})
		return apperrors.InvalidCredentials()
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) || errors.Is(err, security.ErrPasswordTooLong) {
			return apperrors.ValidationFailed(err.Error())
		}
		return apperrors.Internal(err)
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		return apperrors.Internal(err)
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &account.ID,
		Action:       model.ActionPasswordChangeSuccess,
		ResourceType: model.ResourceAuth,
		ResourceID:   account.ID.String(),
	})
	return nil
}

// Logout only records the event; tokens are stateless and expire on their own.
func (s *Service) Logout(ctx context.Context, principal *model.Principal) {
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionLogout,
		ResourceType: model.ResourceAuth,
		ResourceID:   principal.AccountID.String(),
	})
}

func (s *Service) Refresh(ctx context.Context, principal *model.Principal) (*model.TokenResponse, error) {
	account, err := s.account(ctx, principal)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, apperrors.AccountInactive()
	}

	token, expiresAt, err := s.issue(account)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &account.ID,
		Action:       model.ActionTokenRefreshed,
		ResourceType: model.ResourceAuth,
		ResourceID:   account.ID.String(),
	})
	return &model.TokenResponse{Token: token, ExpiresAt: expiresAt}, nil
}

func (s *Service) Profile(ctx context.Context, principal *model.Principal) (*model.Profile, error) {
	account, err := s.account(ctx, principal)
	if err != nil {
		return nil, err
	}
	profile, err := s.profile(ctx, account)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &account.ID,
		Action:       model.ActionProfileViewed,
		ResourceType: model.ResourceAuth,
		ResourceID:   account.ID.String(),
	})
	return profile, nil
}

func (s *Service) UpdateProfile(ctx context.Context, principal *model.Principal, req *model.UpdateProfileRequest) (*model.Profile, error) {
	account, err := s.account(ctx, principal)
	if err != nil {
		return nil, err
	}

	previous := account.Email
	if err := s.accounts.UpdateEmail(ctx, account.ID, req.Email); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict("email already in use")
		}
		return nil, apperrors.Internal(err)
	}
	if account, err = s.account(ctx, principal); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &account.ID,
		Action:       model.ActionProfileUpdated,
		ResourceType: model.ResourceAuth,
		ResourceID:   account.ID.String(),
		PreviousData: model.JSONMap{"email": previous},
		NewData:      model.JSONMap{"email": account.Email},
	})
	return s.profile(ctx, account)
}

func (s *Service) account(ctx context.Context, principal *model.Principal) (*model.Account, error) {
	if principal == nil {
		return nil, apperrors.Unauthorized(nil)
	}
	account, err := s.accounts.GetByID(ctx, principal.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Unauthorized(err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return account, nil
}

func (s *Service) issue(account *model.Account) (string, time.Time, error) {
	token, expiresAt, err := s.tokens.Issue(model.Principal{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
	})
	if err != nil {
		return "", time.Time{}, apperrors.Internal(fmt.Errorf("failed to issue token: %w", err))
	}
	return token, expiresAt, nil
}

// profile attaches the summary of the record linked to the account, if any.
func (s *Service) profile(ctx context.Context, account *model.Account) (*model.Profile, error) {
	profile := &model.Profile{
		ID:          account.ID,
		Email:       account.Email,
		Role:        account.Role,
		LastLoginAt: account.LastLoginAt,
	}

	switch {
	case account.Role == model.RolePatient:
		p, err := s.patients.GetByAccountID(ctx, account.ID)
		if err == nil {
			profile.Patient = &model.PatientSummary{ID: p.ID, Name: p.Name}
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Internal(err)
		}
	case account.Role.IsClinical():
		p, err := s.professionals.GetByAccountID(ctx, account.ID)
		if err == nil {
			profile.Professional = &model.ProfessionalSummary{ID: p.ID, Name: p.Name, Specialty: p.Specialty, Position: p.Position}
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Internal(err)
		}
	}
	return profile, nil
}

func (s *Service) decoy() string {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash(decoyPassword)
		if err != nil {
			log.Warn().Err(err).Msg("failed to prepare decoy password hash")
			return
		}
		s.decoyHash = hash
	})
	return s.decoyHash
}
