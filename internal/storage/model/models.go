package model

import "time"

type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchExact    MatchMode = "exact"
)

type AutoReplyRule struct {
	ID               string     `json:"id"`
	InstanceID       string     `json:"instanceId"`
	Trigger          string     `json:"trigger"`
	Response         string     `json:"response"`
	MatchMode        MatchMode  `json:"matchMode"`
	CaseSensitive    bool       `json:"caseSensitive"`
	Enabled          bool       `json:"enabled"`
	Priority         int        `json:"priority"`
	Category         string     `json:"category,omitempty"`
	MaxUsesPerDay    int        `json:"maxUsesPerDay"`
	CurrentUsesToday int        `json:"currentUsesToday"`
	UsageWindowStart time.Time  `json:"usageWindowStart"`
	LastUsedAt       *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// UsageWindow é a duração da janela de contagem de MaxUsesPerDay.
const UsageWindow = 24 * time.Hour

// RolledOver devolve a regra com a janela de uso avançada caso now já tenha
// passado 24h de UsageWindowStart.
func (r AutoReplyRule) RolledOver(now time.Time) AutoReplyRule {
	if r.UsageWindowStart.IsZero() || !now.Before(r.UsageWindowStart.Add(UsageWindow)) {
		r.CurrentUsesToday = 0
		r.UsageWindowStart = now
	}
	return r
}

// Capped informa se a regra atingiu o limite diário. Considera a janela já
// avançada.
func (r AutoReplyRule) Capped(now time.Time) bool {
	if r.MaxUsesPerDay <= 0 {
		return false
	}
	return r.RolledOver(now).CurrentUsesToday >= r.MaxUsesPerDay
}

type InboundEvent struct {
	MessageID  string    `json:"messageId"`
	InstanceID string    `json:"instanceId"`
	ChatID     string    `json:"chatId"`
	SenderName string    `json:"senderName,omitempty"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type AuthState string

const (
	AuthStateNotAuthorized AuthState = "not_authorized"
	AuthStateAuthorizing   AuthState = "authorizing"
	AuthStateAuthorized    AuthState = "authorized"
	AuthStateDisconnected  AuthState = "disconnected"
	AuthStateError         AuthState = "error"
)

type ConnectionState struct {
	InstanceID          string     `json:"instanceId"`
	AuthState           AuthState  `json:"authState"`
	LastSendAt          *time.Time `json:"lastSendAt,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Instance guarda credenciais e configuração de uma instância do provedor.
// SenderCooldown limita a uma resposta automática por contato dentro do
// período; zero desliga.
type Instance struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	APIURL           string         `json:"apiUrl,omitempty"`
	APITokenEnc      []byte         `json:"-"`
	WebhookTokenHash string         `json:"-"`
	MinSendInterval  time.Duration  `json:"minSendInterval"`
	MaxRetries       int            `json:"maxRetries"`
	BackoffBase      time.Duration  `json:"backoffBase"`
	BusinessHours    *BusinessHours `json:"businessHours,omitempty"`
	SenderCooldown   time.Duration  `json:"senderCooldown"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

type EventLog struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instanceId"`
	MessageID  string    `json:"messageId"`
	ChatID     string    `json:"chatId"`
	Outcome    string    `json:"outcome"`
	RuleID     string    `json:"ruleId,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
