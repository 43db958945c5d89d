// Copyright 2025-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM wraps an httptest.Server simulating the slice of the Mattermost
// API the adapter touches. It records calls and serves canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to model.User for GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Usernames maps username to user ID for GetUserByUsername.
	Usernames map[string]string
	// FailEndpoints causes specific path fragments to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:         make(map[string]*model.User),
		TokenToUser:   make(map[string]string),
		Usernames:     make(map[string]string),
		FailEndpoints: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

// addUser registers a user reachable through the given token.
func (f *fakeMM) addUser(id, username, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Users[id] = &model.User{Id: id, Username: username}
	f.Usernames[username] = id
	if token != "" {
		f.TokenToUser[token] = id
	}
}

// revokeToken invalidates a previously registered token.
func (f *fakeMM) revokeToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.TokenToUser, token)
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) lookupUser(id string) (*model.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	return u, ok
}

func (f *fakeMM) lookupUsername(username string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.Usernames[username]
	return id, ok
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	for fragment := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, fragment) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.lookupUser(uid); ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/users/username/{username}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/username/"):
		username := strings.TrimPrefix(path, "/api/v4/users/username/")
		if uid, ok := f.lookupUsername(username); ok {
			u, _ := f.lookupUser(uid)
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found"})

	// POST /api/v4/channels/direct
	case r.Method == "POST" && path == "/api/v4/channels/direct":
		var members []string
		_ = json.Unmarshal(body, &members)
		_ = json.NewEncoder(w).Encode(&model.Channel{
			Id:   "dm-" + strings.Join(members, "-"),
			Type: model.ChannelTypeDirect,
		})

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		post.CreateAt = 1700000000000
		_ = json.NewEncoder(w).Encode(&post)

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "unhandled: " + path})
	}
}
