package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrGiveUp           = errors.New("reconnect attempts exhausted")
	ErrNoPosition       = errors.New("no open position")
	ErrRiskRejected     = errors.New("rejected by risk gate")
	ErrUnknownStrategy  = errors.New("unknown strategy")
	ErrNotRunning       = errors.New("engine not running")
	ErrAlreadyRunning   = errors.New("engine already running")
)
