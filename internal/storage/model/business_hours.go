package model

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidBusinessHours = errors.New("horário de atendimento inválido")

// DaySchedule é o expediente de um dia, em "HH:MM" no fuso da instância.
// Start e End são inclusivos.
type DaySchedule struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// BusinessHours restringe as respostas automáticas ao expediente. Days usa o
// nome do dia em inglês e minúsculo ("monday", "tuesday", ...); dia ausente
// conta como fechado.
type BusinessHours struct {
	Enabled  bool                   `json:"enabled"`
	Timezone string                 `json:"timezone,omitempty"`
	Days     map[string]DaySchedule `json:"days"`
}

// Open informa se t cai dentro do expediente. Horário desabilitado ou nulo
// está sempre aberto.
func (b *BusinessHours) Open(t time.Time) bool {
	if b == nil || !b.Enabled {
		return true
	}
	if loc, err := time.LoadLocation(b.Timezone); err == nil {
		t = t.In(loc)
	}

	day, ok := b.Days[strings.ToLower(t.Weekday().String())]
	if !ok || !day.Enabled {
		return false
	}
	clock := t.Format("15:04")
	return clock >= day.Start && clock <= day.End
}

func (b *BusinessHours) Validate() error {
	if b == nil {
		return nil
	}
	if _, err := time.LoadLocation(b.Timezone); err != nil {
		return ErrInvalidBusinessHours
	}
	for name, day := range b.Days {
		if !validWeekday(name) {
			return ErrInvalidBusinessHours
		}
		if !day.Enabled {
			continue
		}
		start, err := time.Parse("15:04", day.Start)
		if err != nil {
			return ErrInvalidBusinessHours
		}
		end, err := time.Parse("15:04", day.End)
		if err != nil || end.Before(start) {
			return ErrInvalidBusinessHours
		}
	}
	return nil
}

func validWeekday(name string) bool {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return true
		}
	}
	return false
}
