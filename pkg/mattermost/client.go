// Copyright 2025-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mattermost adapts the Mattermost REST and WebSocket clients to
// the gateway's NetworkClient contract. Session credentials are opaque
// JSON blobs holding the server URL and access token; first-boot
// onboarding uses either a bootstrap token or an out-of-band login URL
// surfaced as the credential artifact.
package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/chatgate/pkg/gateway"
)

// Config parameterizes the adapter.
type Config struct {
	// ServerURL is the Mattermost server base URL.
	ServerURL string
	// BootstrapToken authenticates the first boot when no credential has
	// been persisted yet. Once a credential exists it takes precedence.
	BootstrapToken string
}

// credential is the persisted session blob.
type credential struct {
	ServerURL string `json:"server_url"`
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
}

// Client is a single authenticated Mattermost connection implementing
// gateway.NetworkClient. Lifecycle is reported exclusively through the
// events channel.
type Client struct {
	cfg      Config
	clientID string
	stored   []byte

	mu     sync.RWMutex
	api    *model.Client4
	ws     *model.WebSocketClient
	userID string

	events    chan gateway.Event
	stopChan  chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
	log       zerolog.Logger
}

var _ gateway.NetworkClient = (*Client)(nil)

// New creates a client seeded with the persisted credential payload (nil
// when none is stored).
func New(cfg Config, clientID string, stored []byte, log zerolog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		clientID: clientID,
		stored:   stored,
		events:   make(chan gateway.Event, 16),
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "mm_client").Str("client_id", clientID).Logger(),
	}
}

// Factory returns a gateway.ClientFactory producing clients with this
// adapter configuration.
func Factory(cfg Config, log zerolog.Logger) gateway.ClientFactory {
	return func(clientID string, stored []byte) (gateway.NetworkClient, error) {
		return New(cfg, clientID, stored, log), nil
	}
}

// Start begins connecting in the background. Connection errors are
// reported through events, not returned.
func (c *Client) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.connect(ctx)
	return nil
}

func (c *Client) Events() <-chan gateway.Event {
	return c.events
}

func (c *Client) connect(ctx context.Context) {
	defer c.wg.Done()

	serverURL := c.cfg.ServerURL
	token := ""
	if len(c.stored) > 0 {
		var cred credential
		if err := json.Unmarshal(c.stored, &cred); err != nil {
			c.log.Warn().Err(err).Msg("Stored credential is corrupt, falling back to onboarding")
		} else {
			token = cred.Token
			if cred.ServerURL != "" {
				serverURL = cred.ServerURL
			}
		}
	}
	if token == "" {
		token = c.cfg.BootstrapToken
	}
	if token == "" {
		// No credential at all: surface the onboarding artifact and wait
		// for the operator to complete login out of band.
		artifact, _ := json.Marshal(map[string]string{
			"server_url":   serverURL,
			"login_url":    serverURL + "/login",
			"instructions": "create a personal access token and restart the gateway with it",
		})
		c.log.Info().Str("server_url", serverURL).Msg("No credential available, awaiting onboarding")
		c.emit(gateway.OnboardingTokenEvent{Token: string(artifact)})
		return
	}

	c.emit(gateway.LoadingProgressEvent{Percent: 10, Stage: "authenticating"})

	api := model.NewAPIv4Client(serverURL)
	api.SetToken(token)

	me, _, err := api.GetMe(ctx, "")
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to verify Mattermost session")
		c.emit(gateway.AuthFailureEvent{Reason: "authentication token rejected: " + err.Error()})
		return
	}

	c.mu.Lock()
	c.api = api
	c.userID = me.Id
	c.mu.Unlock()

	c.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")
	c.emit(gateway.LoadingProgressEvent{Percent: 50, Stage: "authenticated"})

	payload, err := json.Marshal(credential{ServerURL: serverURL, Token: token, UserID: me.Id})
	if err != nil {
		c.emit(gateway.AuthFailureEvent{Reason: "failed to encode credential: " + err.Error()})
		return
	}
	c.emit(gateway.AuthenticatedEvent{Credential: payload})

	ws, err := c.connectWebSocket(serverURL, api.AuthToken)
	if err != nil {
		c.log.Error().Err(err).Msg("WebSocket connection failed")
		c.emit(gateway.DisconnectedEvent{Reason: "websocket connection failed: " + err.Error()})
		return
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	c.emit(gateway.LoadingProgressEvent{Percent: 90, Stage: "websocket connected"})

	c.wg.Add(1)
	go c.listen(ws)

	c.emit(gateway.ReadyEvent{})
}

func (c *Client) connectWebSocket(serverURL, authToken string) (*model.WebSocketClient, error) {
	wsURL := httpToWS(serverURL)
	ws, err := model.NewWebSocketClient4(wsURL, authToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()
	c.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return ws, nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// listen drains the WebSocket event channel. The gateway only needs the
// connection lifecycle, so payloads are not interpreted; a closed channel
// means the connection dropped.
func (c *Client) listen(ws *model.WebSocketClient) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopChan:
			return
		case event, ok := <-ws.EventChannel:
			if !ok {
				c.log.Warn().Msg("WebSocket event channel closed")
				c.emit(gateway.DisconnectedEvent{Reason: "websocket event channel closed"})
				return
			}
			if event == nil {
				continue
			}
			c.log.Debug().Str("event", string(event.EventType())).Msg("WebSocket event")
		}
	}
}

// emit delivers an event unless the client is being destroyed.
func (c *Client) emit(ev gateway.Event) {
	select {
	case <-c.stopChan:
	case c.events <- ev:
	}
}

// SendText posts a message. Recipients starting with "@" are resolved to a
// direct-message channel; anything else is treated as a channel ID.
func (c *Client) SendText(ctx context.Context, recipient, body string) (*gateway.SendResult, error) {
	c.mu.RLock()
	api := c.api
	userID := c.userID
	c.mu.RUnlock()
	if api == nil {
		return nil, fmt.Errorf("client is not authenticated")
	}

	channelID := recipient
	if strings.HasPrefix(recipient, "@") {
		user, _, err := api.GetUserByUsername(ctx, strings.TrimPrefix(recipient, "@"), "")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve recipient %q: %w", recipient, err)
		}
		channel, _, err := api.CreateDirectChannel(ctx, userID, user.Id)
		if err != nil {
			return nil, fmt.Errorf("failed to open direct channel: %w", err)
		}
		channelID = channel.Id
	}

	post, _, err := api.CreatePost(ctx, &model.Post{
		ChannelId: channelID,
		Message:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return &gateway.SendResult{
		MessageID: post.Id,
		Timestamp: time.UnixMilli(post.CreateAt),
	}, nil
}

// State reports the current connection state for liveness verification.
func (c *Client) State(ctx context.Context) (string, error) {
	c.mu.RLock()
	api := c.api
	ws := c.ws
	c.mu.RUnlock()
	if api == nil || ws == nil {
		return "disconnected", nil
	}
	if _, _, err := api.GetMe(ctx, ""); err != nil {
		return "disconnected", nil
	}
	return gateway.ClientStateConnected, nil
}

// Destroy closes the WebSocket, stops the background goroutines and closes
// the events channel. Safe to call more than once.
func (c *Client) Destroy(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})

	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		ws.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		c.closeOnce.Do(func() {
			close(c.events)
		})
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
