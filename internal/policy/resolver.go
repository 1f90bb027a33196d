package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/haulops-crm/internal/channels"
)

// Resolver answers policy questions. Implementations read fresh state on
// every call; callers must not cache results across invocations.
type Resolver interface {
	AutomationMode(ctx context.Context, ch channels.Channel) (Mode, error)
	ServiceArea(ctx context.Context) (ServiceAreaPolicy, error)
	Templates(ctx context.Context) (TemplatesPolicy, error)
	ConfirmationLoop(ctx context.Context) (ConfirmationLoopPolicy, error)
	SalesAutopilot(ctx context.Context) (SalesAutopilotPolicy, error)
}

// Document names under which policies are stored.
const (
	DocAutomation       = "automation"
	DocServiceArea      = "service_area"
	DocTemplates        = "templates"
	DocConfirmationLoop = "confirmation_loop"
	DocSalesAutopilot   = "sales_autopilot"
)

// RedisStore keeps policy documents as JSON values in Redis.
type RedisStore struct {
	redis    *redis.Client
	prefix   string
	validate *validator.Validate
}

// NewRedisStore creates a policy store. Keys are "<prefix>:<document>"; a
// trailing colon on prefix is ignored.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if client == nil {
		panic("policy: redis client required")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "policy"
	}
	return &RedisStore{redis: client, prefix: prefix, validate: validator.New()}
}

var _ Resolver = (*RedisStore)(nil)

func (s *RedisStore) key(doc string) string {
	return fmt.Sprintf("%s:%s", s.prefix, doc)
}

func (s *RedisStore) load(ctx context.Context, doc string, dst any) (bool, error) {
	data, err := s.redis.Get(ctx, s.key(doc)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("policy: get %s: %w", doc, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("policy: decode %s: %w", doc, err)
	}
	return true, nil
}

// Save validates and stores a policy document.
func (s *RedisStore) Save(ctx context.Context, doc string, value any) error {
	if err := s.validate.Struct(value); err != nil {
		return fmt.Errorf("policy: invalid %s: %w", doc, err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("policy: encode %s: %w", doc, err)
	}
	if err := s.redis.Set(ctx, s.key(doc), data, 0).Err(); err != nil {
		return fmt.Errorf("policy: set %s: %w", doc, err)
	}
	return nil
}

// AutomationMode returns the channel's mode, draft when unconfigured.
func (s *RedisStore) AutomationMode(ctx context.Context, ch channels.Channel) (Mode, error) {
	var settings AutomationSettings
	if _, err := s.load(ctx, DocAutomation, &settings); err != nil {
		return ModeDraft, err
	}
	return settings.ModeFor(ch), nil
}

// ServiceArea returns the service area; disabled when unconfigured.
func (s *RedisStore) ServiceArea(ctx context.Context) (ServiceAreaPolicy, error) {
	var p ServiceAreaPolicy
	_, err := s.load(ctx, DocServiceArea, &p)
	return p, err
}

// Templates returns the template groups; empty when unconfigured.
func (s *RedisStore) Templates(ctx context.Context) (TemplatesPolicy, error) {
	var p TemplatesPolicy
	_, err := s.load(ctx, DocTemplates, &p)
	return p, err
}

// ConfirmationLoop returns the confirmation policy; disabled when unconfigured.
func (s *RedisStore) ConfirmationLoop(ctx context.Context) (ConfirmationLoopPolicy, error) {
	var p ConfirmationLoopPolicy
	_, err := s.load(ctx, DocConfirmationLoop, &p)
	return p, err
}

// SalesAutopilot returns the sales autopilot switch; disabled when unconfigured.
func (s *RedisStore) SalesAutopilot(ctx context.Context) (SalesAutopilotPolicy, error) {
	var p SalesAutopilotPolicy
	_, err := s.load(ctx, DocSalesAutopilot, &p)
	return p, err
}

// Static is an in-memory Resolver for tests and local development.
type Static struct {
	Automation     AutomationSettings
	Area           ServiceAreaPolicy
	TemplateGroups TemplatesPolicy
	Confirmation   ConfirmationLoopPolicy
	Autopilot      SalesAutopilotPolicy
}

var _ Resolver = (*Static)(nil)

func (s *Static) AutomationMode(_ context.Context, ch channels.Channel) (Mode, error) {
	return s.Automation.ModeFor(ch), nil
}

func (s *Static) ServiceArea(context.Context) (ServiceAreaPolicy, error) {
	return s.Area, nil
}

func (s *Static) Templates(context.Context) (TemplatesPolicy, error) {
	return s.TemplateGroups, nil
}

func (s *Static) ConfirmationLoop(context.Context) (ConfirmationLoopPolicy, error) {
	return s.Confirmation, nil
}

func (s *Static) SalesAutopilot(context.Context) (SalesAutopilotPolicy, error) {
	return s.Autopilot, nil
}
