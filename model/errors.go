package model

import "errors"

var (
	// ErrConnection marks connection-level failures (lost session, timeouts,
	// failed folder selection). They abort the current batch.
	ErrConnection = errors.New("mailbox connection failure")

	// ErrNoConnection is returned when an operation is given no session.
	ErrNoConnection = errors.New("no mailbox connection")
)
