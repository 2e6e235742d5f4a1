package rule

import (
	"context"
	"errors"
	"strings"

	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/storage/model"
)

var (
	ErrInvalidTrigger   = errors.New("gatilho obrigatório")
	ErrInvalidResponse  = errors.New("resposta obrigatória")
	ErrInvalidMatchMode = errors.New("matchMode deve ser contains ou exact")
	ErrInvalidMaxUses   = errors.New("maxUsesPerDay não pode ser negativo")
)

type Service struct {
	repo         storage.RuleRepository
	instanceRepo storage.InstanceRepository
}

func NewService(repo storage.RuleRepository, instanceRepo storage.InstanceRepository) *Service {
	return &Service{repo: repo, instanceRepo: instanceRepo}
}

type Input struct {
	Trigger       string
	Response      string
	MatchMode     string
	CaseSensitive bool
	Enabled       bool
	Priority      int
	Category      string
	MaxUsesPerDay int
}

func (in Input) validate() (model.MatchMode, error) {
	if strings.TrimSpace(in.Trigger) == "" {
		return "", ErrInvalidTrigger
	}
	if strings.TrimSpace(in.Response) == "" {
		return "", ErrInvalidResponse
	}
	if in.MaxUsesPerDay < 0 {
		return "", ErrInvalidMaxUses
	}
	switch model.MatchMode(in.MatchMode) {
	case "":
		return model.MatchContains, nil
	case model.MatchContains, model.MatchExact:
		return model.MatchMode(in.MatchMode), nil
	default:
		return "", ErrInvalidMatchMode
	}
}

func (s *Service) Create(ctx context.Context, instanceID string, in Input) (model.AutoReplyRule, error) {
	mode, err := in.validate()
	if err != nil {
		return model.AutoReplyRule{}, err
	}
	if _, err := s.instanceRepo.GetByID(ctx, instanceID); err != nil {
		return model.AutoReplyRule{}, err
	}

	return s.repo.Create(ctx, model.AutoReplyRule{
		InstanceID:    instanceID,
		Trigger:       strings.TrimSpace(in.Trigger),
		Response:      in.Response,
		MatchMode:     mode,
		CaseSensitive: in.CaseSensitive,
		Enabled:       in.Enabled,
		Priority:      in.Priority,
		Category:      strings.TrimSpace(in.Category),
		MaxUsesPerDay: in.MaxUsesPerDay,
	})
}

func (s *Service) List(ctx context.Context, instanceID string) ([]model.AutoReplyRule, error) {
	rules, err := s.repo.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []model.AutoReplyRule{}
	}
	return rules, nil
}

func (s *Service) Get(ctx context.Context, instanceID, id string) (model.AutoReplyRule, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return model.AutoReplyRule{}, err
	}
	if r.InstanceID != instanceID {
		return model.AutoReplyRule{}, storage.ErrNotFound
	}
	return r, nil
}

// Update substitui os campos editáveis. O contador de uso não é alterado.
func (s *Service) Update(ctx context.Context, instanceID, id string, in Input) (model.AutoReplyRule, error) {
	mode, err := in.validate()
	if err != nil {
		return model.AutoReplyRule{}, err
	}

	r, err := s.Get(ctx, instanceID, id)
	if err != nil {
		return model.AutoReplyRule{}, err
	}

	r.Trigger = strings.TrimSpace(in.Trigger)
	r.Response = in.Response
	r.MatchMode = mode
	r.CaseSensitive = in.CaseSensitive
	r.Enabled = in.Enabled
	r.Priority = in.Priority
	r.Category = strings.TrimSpace(in.Category)
	r.MaxUsesPerDay = in.MaxUsesPerDay

	return s.repo.Update(ctx, r)
}

func (s *Service) Delete(ctx context.Context, instanceID, id string) error {
	if _, err := s.Get(ctx, instanceID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}
