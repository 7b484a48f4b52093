package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	"github.com/smallbiznis/rentwise/internal/payment/gateway"
	"github.com/smallbiznis/rentwise/internal/processoraccount/domain"
	tenancydomain "github.com/smallbiznis/rentwise/internal/tenancy/domain"
	"github.com/smallbiznis/rentwise/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultProvider = "stripe"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	TenancyRepo tenancydomain.Repository
	Gateways    *gateway.Registry
	Cfg         config.Config
	Policy      *config.RentPolicyHolder
	Clock       clock.Clock
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	tenancyRepo tenancydomain.Repository
	gateways    *gateway.Registry
	policy      *config.RentPolicyHolder
	clock       clock.Clock
	box         *secretBox
	baseURL     string
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("processoraccount.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		tenancyRepo: p.TenancyRepo,
		gateways:    p.Gateways,
		policy:      p.Policy,
		clock:       p.Clock,
		box:         newSecretBox(p.Cfg.Processor.SecretKey),
		baseURL:     p.Cfg.PublicBaseURL,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Account, error) {
	name := strings.TrimSpace(req.Name)
	accountSlug := slug.Make(name)
	if name == "" || accountSlug == "" {
		return nil, domain.ErrInvalidName
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = defaultProvider
	}
	if !s.gateways.ProviderExists(provider) {
		return nil, domain.ErrInvalidProvider
	}

	secretKey := strings.TrimSpace(req.SecretKey)
	if secretKey == "" {
		return nil, domain.ErrInvalidSecret
	}

	propertyIDs, err := s.parsePropertyIDs(ctx, req.PropertyIDs)
	if err != nil {
		return nil, err
	}

	gw, err := s.gateways.New(provider, gateway.Credentials{
		SecretKey:         secretKey,
		ExternalAccountID: strings.TrimSpace(req.ExternalAccountID),
	})
	if err != nil {
		return nil, err
	}
	if err := gw.VerifyCredential(ctx); err != nil {
		s.log.Warn("processor credential rejected", zap.String("name", name), zap.Error(err))
		return nil, err
	}

	sealed, err := s.box.seal(secretKey)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	account := domain.Account{
		ID:               s.genID.Generate(),
		Name:             name,
		Slug:             accountSlug,
		Provider:         provider,
		SecretCiphertext: sealed,
		WebhookStatus:    domain.WebhookStatusPending,
		IsActive:         true,
		IsVerified:       true,
		IsGlobalAccount:  req.IsGlobalAccount,
		IsDefaultAccount: req.IsDefaultAccount,
		VerifiedAt:       &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if external := strings.TrimSpace(req.ExternalAccountID); external != "" {
		account.ExternalAccountID = &external
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if account.IsDefaultAccount {
			if err := s.repo.ClearDefault(ctx, tx, account.ID, now); err != nil {
				return err
			}
		}
		if err := s.repo.Insert(ctx, tx, &account); err != nil {
			return mapUniqueErr(err)
		}
		return s.assign(ctx, tx, account.ID, propertyIDs, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("processor account created",
		zap.String("account_id", account.ID.String()),
		zap.String("provider", provider),
		zap.Bool("is_default", account.IsDefaultAccount),
	)

	// Registration failure is recorded on the account and can be retried;
	// the verified credential is kept.
	if _, err := s.registerWebhook(ctx, account); err != nil {
		s.log.Warn("webhook registration failed",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
	}

	return s.load(ctx, account.ID, false)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Account, error) {
	accounts, err := s.repo.List(ctx, s.db, req.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		ids, err := s.repo.ListPropertyIDs(ctx, s.db, accounts[i].ID)
		if err != nil {
			return nil, err
		}
		accounts[i].PropertyIDs = ids
	}
	return accounts, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Account, error) {
	accountID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, accountID, false)
}

func (s *Service) RotateCredentials(ctx context.Context, id string, req domain.RotateRequest) (*domain.Account, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	secretKey := strings.TrimSpace(req.SecretKey)
	if secretKey == "" {
		return nil, domain.ErrInvalidSecret
	}

	gw, err := s.gateways.New(account.Provider, gateway.Credentials{
		AccountID:         account.ID,
		SecretKey:         secretKey,
		ExternalAccountID: deref(account.ExternalAccountID),
	})
	if err != nil {
		return nil, err
	}
	if err := gw.VerifyCredential(ctx); err != nil {
		return nil, err
	}

	sealed, err := s.box.seal(secretKey)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateSecret(ctx, s.db, account.ID, sealed, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrNotFound
	}

	s.log.Info("processor credentials rotated", zap.String("account_id", account.ID.String()))
	return s.load(ctx, account.ID, false)
}

func (s *Service) SetActive(ctx context.Context, id string, active bool) (*domain.Account, error) {
	accountID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateActive(ctx, s.db, accountID, active, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrNotFound
	}
	return s.load(ctx, accountID, false)
}

func (s *Service) RegisterWebhook(ctx context.Context, id string) (*domain.Account, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.registerWebhook(ctx, *account); err != nil {
		return nil, err
	}
	return s.load(ctx, account.ID, false)
}

// registerWebhook points the processor at this account's callback URL. The
// gateway reuses the remote endpoint when we already hold its secret and
// removes stale endpoints for the same URL otherwise, so retries do not pile
// up duplicate registrations.
func (s *Service) registerWebhook(ctx context.Context, account domain.Account) (gateway.WebhookEndpoint, error) {
	gw, err := s.Gateway(ctx, account)
	if err != nil {
		return gateway.WebhookEndpoint{}, err
	}

	url := s.webhookURL(account)
	endpoint, err := gw.EnsureWebhook(ctx, gateway.WebhookRequest{
		URL:             url,
		Events:          s.policy.Get().WebhookEvents,
		KnownEndpointID: deref(account.WebhookEndpointID),
		HasSecret:       account.HasWebhookSecret(),
	})
	now := s.clock.Now().UTC()
	if err != nil {
		if _, updateErr := s.repo.UpdateWebhook(ctx, s.db, account.ID, domain.WebhookUpdate{
			Status: domain.WebhookStatusFailed,
		}, now); updateErr != nil {
			s.log.Error("record webhook failure", zap.String("account_id", account.ID.String()), zap.Error(updateErr))
		}
		return gateway.WebhookEndpoint{}, err
	}

	update := domain.WebhookUpdate{
		EndpointID: &endpoint.ID,
		URL:        &url,
		Status:     domain.WebhookStatusRegistered,
	}
	if !endpoint.Reused {
		if strings.TrimSpace(endpoint.Secret) == "" {
			return gateway.WebhookEndpoint{}, gateway.NewProcessorError(gateway.ErrorKindInvalid, "ensure_webhook", errors.New("endpoint created without signing secret"))
		}
		sealed, err := s.box.seal(endpoint.Secret)
		if err != nil {
			return gateway.WebhookEndpoint{}, err
		}
		update.SecretCiphertext = &sealed
	}
	if _, err := s.repo.UpdateWebhook(ctx, s.db, account.ID, update, now); err != nil {
		return gateway.WebhookEndpoint{}, err
	}

	s.log.Info("webhook registered",
		zap.String("account_id", account.ID.String()),
		zap.String("endpoint_id", endpoint.ID),
		zap.Bool("reused", endpoint.Reused),
	)
	return endpoint, nil
}

func (s *Service) webhookURL(account domain.Account) string {
	return fmt.Sprintf("%s/webhooks/%s/%s", s.baseURL, account.Provider, account.ID.String())
}

func (s *Service) SetDefault(ctx context.Context, id string) (*domain.Account, error) {
	accountID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.FindByID(ctx, tx, accountID, false)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrNotFound
		}
		if err := s.repo.ClearDefault(ctx, tx, accountID, now); err != nil {
			return err
		}
		updated, err := s.repo.MarkDefault(ctx, tx, accountID, now)
		if err != nil {
			return mapUniqueErr(err)
		}
		if !updated {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("default processor account changed", zap.String("account_id", accountID.String()))
	return s.load(ctx, accountID, false)
}

func (s *Service) AssignProperties(ctx context.Context, id string, propertyIDs []string) (*domain.Account, error) {
	accountID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	ids, err := s.parsePropertyIDs(ctx, propertyIDs)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, domain.ErrInvalidProperty
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.FindByID(ctx, tx, accountID, false)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrNotFound
		}
		return s.assign(ctx, tx, accountID, ids, s.clock.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, accountID, false)
}

func (s *Service) assign(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, propertyIDs []snowflake.ID, now time.Time) error {
	for _, propertyID := range propertyIDs {
		owner, err := s.repo.FindAssignment(ctx, tx, propertyID)
		if err != nil {
			return err
		}
		if owner != 0 && owner != accountID {
			return domain.ErrPropertyAlreadyAssigned
		}
		if owner == accountID {
			continue
		}
		if err := s.repo.InsertAssignment(ctx, tx, accountID, propertyID, now); err != nil {
			return mapUniqueErr(err)
		}
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	accountID, err := parseID(id)
	if err != nil {
		return err
	}
	deleted, err := s.repo.SoftDelete(ctx, s.db, accountID, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	s.log.Info("processor account deleted", zap.String("account_id", accountID.String()))
	return nil
}

func (s *Service) Restore(ctx context.Context, id string) (*domain.Account, error) {
	accountID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	restored, err := s.repo.Restore(ctx, s.db, accountID, s.clock.Now().UTC())
	if err != nil {
		return nil, mapUniqueErr(err)
	}
	if !restored {
		return nil, domain.ErrNotFound
	}
	return s.load(ctx, accountID, false)
}

func (s *Service) ResolveForProperty(ctx context.Context, propertyID snowflake.ID) (*domain.Account, error) {
	resolvers := []func(context.Context, *gorm.DB) (*domain.Account, error){
		func(ctx context.Context, db *gorm.DB) (*domain.Account, error) {
			return s.repo.FindUsableForProperty(ctx, db, propertyID)
		},
		s.repo.FindUsableGlobal,
		s.repo.FindDefault,
	}
	for _, resolve := range resolvers {
		account, err := resolve(ctx, s.db)
		if err != nil {
			return nil, err
		}
		if account != nil {
			return account, nil
		}
	}
	return nil, domain.ErrNoProcessorAccountFound
}

func (s *Service) WebhookCandidates(ctx context.Context, hint string) ([]domain.Account, error) {
	if hint = strings.TrimSpace(hint); hint != "" {
		if accountID, err := snowflake.ParseString(hint); err == nil {
			account, err := s.repo.FindByID(ctx, s.db, accountID, false)
			if err != nil {
				return nil, err
			}
			if account != nil && account.HasWebhookSecret() {
				return []domain.Account{*account}, nil
			}
		}
		s.log.Debug("webhook account hint not usable, trying all secrets", zap.String("hint", hint))
	}
	return s.repo.ListWithWebhookSecret(ctx, s.db)
}

func (s *Service) Gateway(ctx context.Context, account domain.Account) (gateway.Gateway, error) {
	if !account.HasSecret() {
		return nil, gateway.ErrMissingCredential
	}
	secretKey, err := s.box.open(account.SecretCiphertext)
	if err != nil {
		return nil, err
	}

	creds := gateway.Credentials{
		AccountID:         account.ID,
		SecretKey:         secretKey,
		ExternalAccountID: deref(account.ExternalAccountID),
	}
	if account.HasWebhookSecret() {
		webhookSecret, err := s.box.open(*account.WebhookSecretCiphertext)
		if err != nil {
			return nil, err
		}
		creds.WebhookSecret = webhookSecret
	}
	return s.gateways.New(account.Provider, creds)
}

func (s *Service) load(ctx context.Context, id snowflake.ID, includeDeleted bool) (*domain.Account, error) {
	account, err := s.repo.FindByID(ctx, s.db, id, includeDeleted)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrNotFound
	}
	ids, err := s.repo.ListPropertyIDs(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	account.PropertyIDs = ids
	return account, nil
}

func (s *Service) parsePropertyIDs(ctx context.Context, raw []string) ([]snowflake.ID, error) {
	seen := map[snowflake.ID]struct{}{}
	out := make([]snowflake.ID, 0, len(raw))
	for _, value := range raw {
		id, err := snowflake.ParseString(strings.TrimSpace(value))
		if err != nil || id == 0 {
			return nil, domain.ErrInvalidProperty
		}
		if _, ok := seen[id]; ok {
			continue
		}
		property, err := s.tenancyRepo.FindProperty(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if property == nil {
			return nil, tenancydomain.ErrPropertyNotFound
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func parseID(id string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return 0, domain.ErrInvalidID
	}
	return parsed, nil
}

func mapUniqueErr(err error) error {
	if !db.IsDuplicateKeyErr(err) {
		return err
	}
	name := db.ConstraintName(err)
	switch {
	case strings.Contains(name, "default"):
		return domain.ErrDefaultConflict
	case strings.Contains(name, "external"):
		return domain.ErrDuplicateExternalID
	case strings.Contains(name, "propert"):
		return domain.ErrPropertyAlreadyAssigned
	default:
		return domain.ErrDuplicateName
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
