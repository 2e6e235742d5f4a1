package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/open-apime/autoreply/internal/storage/model"
)

func TestRender(t *testing.T) {
	out := Render("Olá {{name}}, recebemos: {{text}}", map[string]string{
		"name": "Ana",
		"text": "preço",
	})
	assert.Equal(t, "Olá Ana, recebemos: preço", out)
}

func TestRenderKeepsUnknownPlaceholders(t *testing.T) {
	out := Render("{{name}} {{orderId}}", map[string]string{"name": "Ana"})
	assert.Equal(t, "Ana {{orderId}}", out)
}

func TestRenderRepeatedPlaceholder(t *testing.T) {
	out := Render("{{name}}/{{name}}", map[string]string{"name": "x"})
	assert.Equal(t, "x/x", out)
}

func TestRenderNoPlaceholders(t *testing.T) {
	assert.Equal(t, "texto fixo", Render("texto fixo", map[string]string{"name": "x"}))
}

func TestVariables(t *testing.T) {
	vars := Variables(model.InboundEvent{
		ChatID: "5511999999999@c.us",
		Text:   "  oi  ",
	}, now)

	assert.Equal(t, "5511999999999", vars["name"])
	assert.Equal(t, "5511999999999@c.us", vars["chatId"])
	assert.Equal(t, "oi", vars["text"])
	assert.Equal(t, "10/03/2025", vars["date"])
	assert.Equal(t, "14:30", vars["time"])
}

func TestVariablesSenderName(t *testing.T) {
	vars := Variables(model.InboundEvent{ChatID: "1@c.us", SenderName: "Ana"}, now)
	assert.Equal(t, "Ana", vars["name"])
}
