package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/settlement-api/internal/pkg/events"
	"github.com/tokenbridge/settlement-api/internal/pkg/jwt"
)

type fakeSubscription struct {
	ch     chan string
	once   sync.Once
	closed chan struct{}
}

func (s *fakeSubscription) Messages() <-chan string { return s.ch }

func (s *fakeSubscription) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeSubscriber struct {
	mu       sync.Mutex
	channels []string
	sub      *fakeSubscription
	ready    chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		sub:   &fakeSubscription{ch: make(chan string, 4), closed: make(chan struct{})},
		ready: make(chan struct{}),
	}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	f.mu.Lock()
	f.channels = channels
	f.mu.Unlock()
	close(f.ready)
	return f.sub, nil
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestServeWSStreamsUserEvents(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	sub := newFakeSubscriber()
	srv := httptest.NewServer(http.HandlerFunc(NewHandler(jwtSvc, sub, nil).ServeWS))
	defer srv.Close()

	userID := uuid.New()
	token, err := jwtSvc.GenerateAccessToken(userID, "user")
	require.NoError(t, err)

	conn, _, err := dial(t, srv, token)
	require.NoError(t, err)
	defer conn.Close()

	<-sub.ready
	sub.mu.Lock()
	assert.Equal(t, []string{events.UserChannel(userID)}, sub.channels)
	sub.mu.Unlock()

	sub.sub.ch <- `{"type":"mint_request.confirmed"}`

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mint_request.confirmed"}`, string(msg))

	conn.Close()
	select {
	case <-sub.sub.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("subscription was not closed after disconnect")
	}
}

func TestServeWSAdminFollowsBroadcast(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	sub := newFakeSubscriber()
	srv := httptest.NewServer(http.HandlerFunc(NewHandler(jwtSvc, sub, nil).ServeWS))
	defer srv.Close()

	adminID := uuid.New()
	token, err := jwtSvc.GenerateAccessToken(adminID, "admin")
	require.NoError(t, err)

	conn, _, err := dial(t, srv, token)
	require.NoError(t, err)
	defer conn.Close()

	<-sub.ready
	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, []string{events.UserChannel(adminID), events.BroadcastChannel}, sub.channels)
}

func TestServeWSRejectsBadTokens(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(NewHandler(jwtSvc, newFakeSubscriber(), nil).ServeWS))
	defer srv.Close()

	_, resp, err := dial(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	foreign, err := jwt.NewService("other", time.Minute).GenerateAccessToken(uuid.New(), "user")
	require.NoError(t, err)
	_, resp, err = dial(t, srv, foreign)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
