package model

import "errors"

// Erros compartilhados pelas implementações de storage. Ficam aqui para que
// sqlite e postgres devolvam o mesmo valor sem importar o pacote storage.
var (
	ErrNotFound   = errors.New("not found")
	ErrCapReached = errors.New("limite diário da regra atingido")
)
