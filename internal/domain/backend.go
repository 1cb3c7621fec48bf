package domain

import (
	"context"
	"time"
)

// PollStatus is the outcome of a single authorization probe.
type PollStatus string

const (
	PollPending    PollStatus = "pending"
	PollAuthorized PollStatus = "authorized"
	PollFailed     PollStatus = "failed"
)

// DeviceAuthSession is what the backend hands out when a device authorization starts.
type DeviceAuthSession struct {
	StateID         string
	VerificationURI string
	ExpiresAt       time.Time
}

// PollResult is a well-formed answer to a probe.
// Warning is only set for pending results; Message only for failed ones.
type PollResult struct {
	Status  PollStatus
	Warning string
	Message string
}

// TokenStatus summarises the tokens the backend currently holds.
type TokenStatus struct {
	HasToken bool
	Count    int
}

// DeviceAuthBackend is the port the device flow talks to.
// The flow does not know about HTTP, JSON, or the backend's URL layout.
type DeviceAuthBackend interface {
	Initialize(ctx context.Context) (DeviceAuthSession, error)
	Poll(ctx context.Context, stateID string) (PollResult, error)
	Cancel(ctx context.Context, stateID string) error
}
