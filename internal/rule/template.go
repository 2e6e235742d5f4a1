package rule

import (
	"sort"
	"strings"
	"time"

	"github.com/open-apime/autoreply/internal/storage/model"
)

const (
	dateLayout = "02/01/2006"
	timeLayout = "15:04"
)

// Variables monta os valores disponíveis para a resposta de um evento.
func Variables(event model.InboundEvent, now time.Time) map[string]string {
	name := event.SenderName
	if name == "" {
		name = strings.TrimSuffix(event.ChatID, "@c.us")
	}
	return map[string]string{
		"name":   name,
		"chatId": event.ChatID,
		"text":   strings.TrimSpace(event.Text),
		"date":   now.Format(dateLayout),
		"time":   now.Format(timeLayout),
	}
}

// Render substitui cada {{chave}} presente em vars. Marcadores sem valor
// permanecem no texto.
func Render(tmpl string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
