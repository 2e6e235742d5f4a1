// Package rule decide qual regra de resposta automática atende uma mensagem.
//
// Match é pura: recebe as regras e o horário atual e nunca altera o estado do
// chamador. A contagem de uso só é persistida pelo pipeline depois de um envio
// confirmado.
package rule

import (
	"sort"
	"strings"
	"time"

	"github.com/open-apime/autoreply/internal/storage/model"
)

// Match devolve a primeira regra elegível cujo gatilho casa com text.
// Regras desabilitadas ou que atingiram o limite diário são ignoradas. A
// ordem é prioridade decrescente e, no empate, id crescente. A regra devolvida
// já tem a janela de uso avançada para now.
func Match(text string, rules []model.AutoReplyRule, now time.Time) (model.AutoReplyRule, bool) {
	normalized := normalize(text)
	if normalized == "" {
		return model.AutoReplyRule{}, false
	}

	for _, r := range Candidates(rules, now) {
		if matches(normalized, r) {
			return r, true
		}
	}
	return model.AutoReplyRule{}, false
}

// Candidates devolve uma cópia ordenada das regras elegíveis em now.
func Candidates(rules []model.AutoReplyRule, now time.Time) []model.AutoReplyRule {
	out := make([]model.AutoReplyRule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		r = r.RolledOver(now)
		if r.MaxUsesPerDay > 0 && r.CurrentUsesToday >= r.MaxUsesPerDay {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func matches(text string, r model.AutoReplyRule) bool {
	trigger := normalize(r.Trigger)
	if trigger == "" {
		return false
	}

	if !r.CaseSensitive {
		text = strings.ToLower(text)
		trigger = strings.ToLower(trigger)
	}

	switch r.MatchMode {
	case model.MatchExact:
		return text == trigger
	case model.MatchContains, "":
		return strings.Contains(text, trigger)
	default:
		return false
	}
}

func normalize(s string) string {
	return strings.TrimSpace(s)
}
