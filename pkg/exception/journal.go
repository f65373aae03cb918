package exception

import "errors"

var (
	ErrJournal = errors.New("journal: database unavailable")
)
