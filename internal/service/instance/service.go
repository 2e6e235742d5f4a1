package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/open-apime/autoreply/internal/config"
	"github.com/open-apime/autoreply/internal/pkg/crypto"
	"github.com/open-apime/autoreply/internal/provider/greenapi"
	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/storage/model"
)

var (
	ErrInvalidName     = errors.New("nome da instância inválido")
	ErrInvalidID       = errors.New("idInstance inválido")
	ErrInvalidToken    = errors.New("apiTokenInstance obrigatório")
	ErrInvalidAPIURL   = errors.New("apiUrl inválida")
	ErrInvalidSettings = errors.New("configuração de envio inválida")
)

// Target reúne o necessário para enviar mensagens por uma instância: as
// credenciais já decifradas e a configuração de envio efetiva.
type Target struct {
	Credentials     greenapi.Credentials
	MinSendInterval time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
}

// StateForgetter descarta o estado de conexão mantido em memória.
type StateForgetter interface {
	Forget(instanceID string)
}

type Service struct {
	repo         storage.InstanceRepository
	ruleRepo     storage.RuleRepository
	stateRepo    storage.ConnectionStateRepository
	eventLogRepo storage.EventLogRepository
	sealer       *crypto.Sealer
	defaults     config.DispatchConfig
	apiURL       string
	tracker      StateForgetter
}

type Options struct {
	Repo         storage.InstanceRepository
	RuleRepo     storage.RuleRepository
	StateRepo    storage.ConnectionStateRepository
	EventLogRepo storage.EventLogRepository
	Sealer       *crypto.Sealer
	Defaults     config.DispatchConfig
	APIURL       string
	Tracker      StateForgetter
}

func NewService(opts Options) *Service {
	return &Service{
		repo:         opts.Repo,
		ruleRepo:     opts.RuleRepo,
		stateRepo:    opts.StateRepo,
		eventLogRepo: opts.EventLogRepo,
		sealer:       opts.Sealer,
		defaults:     opts.Defaults,
		apiURL:       opts.APIURL,
		tracker:      opts.Tracker,
	}
}

type CreateInput struct {
	ID              string
	Name            string
	APIURL          string
	APIToken        string
	WebhookToken    string
	MinSendInterval time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	BusinessHours   *model.BusinessHours
	SenderCooldown  time.Duration
}

type UpdateInput struct {
	Name            string
	APIURL          string
	APIToken        string // vazio mantém o token atual
	WebhookToken    *string
	MinSendInterval time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	BusinessHours   *model.BusinessHours
	SenderCooldown  time.Duration
}

func (s *Service) Create(ctx context.Context, input CreateInput) (model.Instance, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" || strings.ContainsAny(id, "/ ") {
		return model.Instance{}, ErrInvalidID
	}
	if strings.TrimSpace(input.Name) == "" {
		return model.Instance{}, ErrInvalidName
	}
	token := strings.TrimSpace(input.APIToken)
	if token == "" {
		return model.Instance{}, ErrInvalidToken
	}
	apiURL, err := validateAPIURL(input.APIURL)
	if err != nil {
		return model.Instance{}, err
	}
	if err := validateSettings(input.MinSendInterval, input.MaxRetries, input.BackoffBase); err != nil {
		return model.Instance{}, err
	}
	if err := validateGates(input.BusinessHours, input.SenderCooldown); err != nil {
		return model.Instance{}, err
	}

	sealed, err := s.sealer.Seal([]byte(token))
	if err != nil {
		return model.Instance{}, fmt.Errorf("instance: seal token: %w", err)
	}

	inst := model.Instance{
		ID:              id,
		Name:            strings.TrimSpace(input.Name),
		APIURL:          apiURL,
		APITokenEnc:     sealed,
		MinSendInterval: input.MinSendInterval,
		MaxRetries:      input.MaxRetries,
		BackoffBase:     input.BackoffBase,
		BusinessHours:   input.BusinessHours,
		SenderCooldown:  input.SenderCooldown,
	}
	if wt := strings.TrimSpace(input.WebhookToken); wt != "" {
		inst.WebhookTokenHash = crypto.HashToken(wt)
	}

	return s.repo.Create(ctx, inst)
}

func (s *Service) List(ctx context.Context) ([]model.Instance, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (model.Instance, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (model.Instance, error) {
	inst, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return model.Instance{}, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return model.Instance{}, ErrInvalidName
	}
	apiURL, err := validateAPIURL(input.APIURL)
	if err != nil {
		return model.Instance{}, err
	}
	if err := validateSettings(input.MinSendInterval, input.MaxRetries, input.BackoffBase); err != nil {
		return model.Instance{}, err
	}
	if err := validateGates(input.BusinessHours, input.SenderCooldown); err != nil {
		return model.Instance{}, err
	}

	if token := strings.TrimSpace(input.APIToken); token != "" {
		sealed, err := s.sealer.Seal([]byte(token))
		if err != nil {
			return model.Instance{}, fmt.Errorf("instance: seal token: %w", err)
		}
		inst.APITokenEnc = sealed
	}
	if input.WebhookToken != nil {
		inst.WebhookTokenHash = ""
		if wt := strings.TrimSpace(*input.WebhookToken); wt != "" {
			inst.WebhookTokenHash = crypto.HashToken(wt)
		}
	}

	inst.Name = strings.TrimSpace(input.Name)
	inst.APIURL = apiURL
	inst.MinSendInterval = input.MinSendInterval
	inst.MaxRetries = input.MaxRetries
	inst.BackoffBase = input.BackoffBase
	inst.BusinessHours = input.BusinessHours
	inst.SenderCooldown = input.SenderCooldown
	return s.repo.Update(ctx, inst)
}

// Delete remove a instância junto com regras, estado de conexão e histórico.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}

	if s.ruleRepo != nil {
		if err := s.ruleRepo.DeleteByInstanceID(ctx, id); err != nil {
			return err
		}
	}
	if s.stateRepo != nil {
		if err := s.stateRepo.Delete(ctx, id); err != nil {
			return err
		}
	}
	if s.eventLogRepo != nil {
		if err := s.eventLogRepo.DeleteByInstanceID(ctx, id); err != nil {
			return err
		}
	}
	if s.tracker != nil {
		s.tracker.Forget(id)
	}

	return s.repo.Delete(ctx, id)
}

// Resolve devolve as credenciais decifradas e a configuração de envio da
// instância. Campos zerados usam os valores globais.
func (s *Service) Resolve(ctx context.Context, id string) (Target, error) {
	inst, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Target{}, err
	}

	token, err := s.sealer.Open(inst.APITokenEnc)
	if err != nil {
		return Target{}, fmt.Errorf("instance: open token: %w", err)
	}

	target := Target{
		Credentials: greenapi.Credentials{
			APIURL:     inst.APIURL,
			IDInstance: inst.ID,
			APIToken:   string(token),
		},
		MinSendInterval: s.defaults.MinSendInterval,
		MaxRetries:      s.defaults.MaxRetries,
		BackoffBase:     s.defaults.BackoffBase,
	}
	if target.Credentials.APIURL == "" {
		target.Credentials.APIURL = s.apiURL
	}
	if inst.MinSendInterval > 0 {
		target.MinSendInterval = inst.MinSendInterval
	}
	if inst.MaxRetries > 0 {
		target.MaxRetries = inst.MaxRetries
	}
	if inst.BackoffBase > 0 {
		target.BackoffBase = inst.BackoffBase
	}
	return target, nil
}

// VerifyWebhookToken confere o token enviado pelo provedor. Instâncias sem
// token configurado aceitam qualquer chamada.
func (s *Service) VerifyWebhookToken(ctx context.Context, id, token string) (bool, error) {
	inst, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if inst.WebhookTokenHash == "" {
		return true, nil
	}
	return crypto.TokenMatches(token, inst.WebhookTokenHash), nil
}

func validateAPIURL(raw string) (string, error) {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if u != "" && !strings.HasPrefix(u, "http") {
		return "", ErrInvalidAPIURL
	}
	return u, nil
}

func validateSettings(minInterval time.Duration, maxRetries int, backoffBase time.Duration) error {
	if minInterval < 0 || maxRetries < 0 || backoffBase < 0 {
		return ErrInvalidSettings
	}
	return nil
}

func validateGates(hours *model.BusinessHours, cooldown time.Duration) error {
	if cooldown < 0 {
		return ErrInvalidSettings
	}
	return hours.Validate()
}
