package logstream

import "errors"

var (
	// ErrStreamClosed — поток закрыт финальным статусом.
	ErrStreamClosed = errors.New("log stream closed")

	// ErrUnknownRun — run неизвестен ни в памяти, ни в архиве.
	ErrUnknownRun = errors.New("unknown run")
)
