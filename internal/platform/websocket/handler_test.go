package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/realtime"
)

func startServer(t *testing.T, f *gatewayFixture, mw ...echo.MiddlewareFunc) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	e := echo.New()
	e.Use(mw...)
	NewHandler(ctx, f.gw, []string{"http://localhost:3000"}).RegisterRoutes(e)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func readEnvelope(t *testing.T, conn *gorillawebsocket.Conn) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env realtime.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestHandler_UpgradeAndAuthenticate(t *testing.T) {
	f := newGatewayFixture(GatewayConfig{TrustEvents: true})
	url := startServer(t, f)

	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "authenticate", "data": map[string]interface{}{"userId": 5, "userType": "user"},
	}))
	env := readEnvelope(t, conn)
	assert.Equal(t, realtime.EventAuthenticated, env.Event)

	_, ok := f.presence.Lookup(5)
	assert.True(t, ok)

	// Emissions addressed to the identity channel reach the socket.
	require.NoError(t, f.hub.Emit(context.Background(), realtime.ToChannel("user_5"), realtime.EventNewMessage, map[string]int{"id": 1}))
	env = readEnvelope(t, conn)
	assert.Equal(t, realtime.EventNewMessage, env.Event)

	conn.Close()
	assert.Eventually(t, func() bool {
		_, ok := f.presence.Lookup(5)
		return !ok && f.hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_VerifiedConnectionPinsIdentity(t *testing.T) {
	f := newGatewayFixture(GatewayConfig{})
	verified := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), 42, auth.RoleProvider, true)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
	url := startServer(t, f, verified)

	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "authenticate", "data": map[string]interface{}{"userId": 5, "userType": "user"},
	}))
	env := readEnvelope(t, conn)
	assert.Equal(t, realtime.EventError, env.Event)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "authenticate", "data": map[string]interface{}{"userId": 42, "userType": "doctor"},
	}))
	env = readEnvelope(t, conn)
	assert.Equal(t, realtime.EventAuthenticated, env.Event)
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	f := newGatewayFixture(GatewayConfig{TrustEvents: true})
	url := startServer(t, f)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_RequiresWebSocket(t *testing.T) {
	f := newGatewayFixture(GatewayConfig{})
	h := NewHandler(context.Background(), f.gw, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.HandleConnect(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.hub.ClientCount())
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	check := originChecker([]string{"http://localhost:3000/", " https://app.example "})
	assert.True(t, check(req("http://localhost:3000")))
	assert.True(t, check(req("https://app.example")))
	assert.True(t, check(req("")))
	assert.False(t, check(req("https://other.example")))

	assert.True(t, originChecker([]string{"*"})(req("https://any.example")))
	assert.True(t, originChecker(nil)(req("https://any.example")))
}

func TestGateway_ShutdownClosesConnections(t *testing.T) {
	f := newGatewayFixture(GatewayConfig{TrustEvents: true})
	url := startServer(t, f)

	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	f.gw.Shutdown()
	assert.Eventually(t, func() bool { return f.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
