package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/open-apime/autoreply/internal/provider/greenapi"
	"github.com/open-apime/autoreply/internal/storage/model"
)

const (
	typeIncomingMessage = "incomingMessageReceived"
	typeStateChanged    = "stateInstanceChanged"

	groupSuffix = "@g.us"
)

var (
	ErrMalformedPayload = errors.New("webhook: payload inválido")
	ErrInstanceMismatch = errors.New("webhook: idInstance não confere com a rota")
)

type Kind int

const (
	KindIgnored Kind = iota
	KindMessage
	KindState
)

// Notification é o resultado normalizado de um webhook do provedor.
type Notification struct {
	Kind   Kind
	Type   string
	Event  model.InboundEvent
	State  model.AuthState
	Reason string
}

type payload struct {
	TypeWebhook  string `json:"typeWebhook"`
	IDMessage    string `json:"idMessage"`
	Timestamp    int64  `json:"timestamp"`
	InstanceData struct {
		IDInstance json.Number `json:"idInstance"`
	} `json:"instanceData"`
	SenderData struct {
		ChatID     string `json:"chatId"`
		SenderName string `json:"senderName"`
	} `json:"senderData"`
	MessageData struct {
		TypeMessage     string `json:"typeMessage"`
		TextMessageData struct {
			TextMessage string `json:"textMessage"`
		} `json:"textMessageData"`
		ExtendedTextMessageData struct {
			Text string `json:"text"`
		} `json:"extendedTextMessageData"`
		FileMessageData struct {
			Caption string `json:"caption"`
		} `json:"fileMessageData"`
	} `json:"messageData"`
	StateInstance string `json:"stateInstance"`
}

// Decode converte o corpo de um webhook em Notification. instanceID é o id da
// rota; quando o corpo traz idInstance, os dois precisam coincidir.
func Decode(body []byte, instanceID string, receivedAt time.Time) (Notification, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.TypeWebhook == "" {
		return Notification{}, fmt.Errorf("%w: typeWebhook ausente", ErrMalformedPayload)
	}
	if id := p.InstanceData.IDInstance.String(); id != "" && id != instanceID {
		return Notification{}, ErrInstanceMismatch
	}

	n := Notification{Type: p.TypeWebhook}

	switch p.TypeWebhook {
	case typeStateChanged:
		if p.StateInstance == "" {
			return Notification{}, fmt.Errorf("%w: stateInstance ausente", ErrMalformedPayload)
		}
		n.Kind = KindState
		n.State = greenapi.ParseState(p.StateInstance)
		return n, nil

	case typeIncomingMessage:
		if p.IDMessage == "" || p.SenderData.ChatID == "" {
			return Notification{}, fmt.Errorf("%w: idMessage ou chatId ausente", ErrMalformedPayload)
		}
		if strings.HasSuffix(p.SenderData.ChatID, groupSuffix) {
			n.Reason = "grupo"
			return n, nil
		}

		text := strings.TrimSpace(messageText(p))
		if text == "" {
			n.Reason = "sem texto"
			return n, nil
		}

		if p.Timestamp > 0 {
			receivedAt = time.Unix(p.Timestamp, 0)
		}
		n.Kind = KindMessage
		n.Event = model.InboundEvent{
			MessageID:  p.IDMessage,
			InstanceID: instanceID,
			ChatID:     p.SenderData.ChatID,
			SenderName: p.SenderData.SenderName,
			Text:       text,
			ReceivedAt: receivedAt.UTC(),
		}
		return n, nil

	default:
		n.Reason = "tipo não tratado"
		return n, nil
	}
}

func messageText(p payload) string {
	md := p.MessageData
	switch md.TypeMessage {
	case "textMessage":
		return md.TextMessageData.TextMessage
	case "extendedTextMessage", "quotedMessage":
		return md.ExtendedTextMessageData.Text
	case "imageMessage", "videoMessage", "documentMessage":
		return md.FileMessageData.Caption
	}
	if md.TextMessageData.TextMessage != "" {
		return md.TextMessageData.TextMessage
	}
	return md.ExtendedTextMessageData.Text
}
