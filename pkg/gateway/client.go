// Copyright 2025-2026 Aiku AI

package gateway

import (
	"context"
	"time"
)

// ClientStateConnected is the state value a healthy client reports from
// State. Anything else is treated as a liveness failure.
const ClientStateConnected = "connected"

// SendResult is the network's acknowledgement of a sent message.
type SendResult struct {
	MessageID string
	Timestamp time.Time
}

// NetworkClient is the contract for the underlying chat-network library.
// The supervisor is the only component allowed to hold one.
//
// Start begins connecting and returns immediately; all further lifecycle
// reporting happens through Events. The events channel is closed when the
// client is destroyed or the connection is torn down. SendText and State
// must be safe to call concurrently with event delivery.
type NetworkClient interface {
	Start(ctx context.Context) error
	Events() <-chan Event
	SendText(ctx context.Context, recipient, body string) (*SendResult, error)
	State(ctx context.Context) (string, error)
	Destroy(ctx context.Context) error
}

// ClientFactory constructs a NetworkClient for a client identity, seeded
// with the persisted credential payload (nil when none is stored).
type ClientFactory func(clientID string, credential []byte) (NetworkClient, error)
