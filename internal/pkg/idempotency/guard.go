// Package idempotency colapsa entregas repetidas do mesmo webhook.
//
// O provedor entrega eventos pelo menos uma vez, então o mesmo idMessage pode
// chegar várias vezes, inclusive em paralelo. Admit faz verificação e registro
// numa única operação atômica: só a primeira chamada para um id dentro da
// janela de retenção recebe true.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL é a janela de retenção usada quando nenhuma é configurada.
const DefaultTTL = 24 * time.Hour

type Guard interface {
	// Admit devolve true apenas na primeira vez que messageID é visto dentro
	// da janela de retenção. Ids vazios nunca são admitidos.
	Admit(ctx context.Context, messageID string) (bool, error)
}

// Claimer reserva uma chave por um período escolhido a cada chamada. Serve
// para o intervalo entre respostas automáticas ao mesmo contato.
type Claimer interface {
	// Claim devolve true se a chave estava livre e agora fica reservada por
	// ttl. Chaves vazias ou ttl <= 0 nunca são reservadas.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release libera a chave antes do prazo.
	Release(ctx context.Context, key string) error
}
