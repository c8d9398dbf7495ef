package realtime

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"school-notify-backend/internal/store"
)

// CloseUnauthenticated is the close code sent to connections that fail
// authentication, distinct from normal closure so clients can tell a
// session problem from a network one.
const CloseUnauthenticated = 4401

const (
	writeWait = 10 * time.Second
	// Outbound queue per connection; counts responses and relayed deltas
	// share it so per-recipient ordering is kept by the single writer.
	outboundBuffer = 16
)

// AuthFunc resolves a bearer token to a user id.
type AuthFunc func(token string) (int64, error)

// Gateway is the persistent-connection endpoint. Each accepted connection
// joins its user's broadcast group, receives an initial full snapshot
// computed from the store (never the cache), and then relays pushed deltas
// verbatim until disconnect.
type Gateway struct {
	store    store.Store
	broker   Broker
	auth     AuthFunc
	upgrader websocket.Upgrader
}

// NewGateway creates a gateway over the given broker.
func NewGateway(s store.Store, b Broker, auth AuthFunc) *Gateway {
	return &Gateway{
		store:  s,
		broker: b,
		auth:   auth,
		upgrader: websocket.Upgrader{
			// Access is governed by the bearer token, not the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

type countsMessage struct {
	Type string `json:"type"`
	store.Counts
}

type deltaMessage struct {
	Type string `json:"type"`
	Delta
}

type pongMessage struct {
	Type string `json:"type"`
}

type clientMessage struct {
	Type           string `json:"type"`
	ActiveSchoolID *int64 `json:"active_school_id"`
}

// Handle upgrades the request and runs the connection until it closes.
func (g *Gateway) Handle(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	userID, err := g.auth(bearerToken(c))
	if err != nil {
		logrus.WithField("path", c.Request.URL.Path).Info("ws reject: unauthenticated")
		msg := websocket.FormatCloseMessage(CloseUnauthenticated, "unauthenticated")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	activeSchoolID := parseSchoolID(c.Query("active_school_id"))

	deltas, leave, err := g.broker.Subscribe(userID)
	if err != nil {
		logrus.WithField("group", GroupName(userID)).Errorf("ws group join failed: %v", err)
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	logrus.WithFields(logrus.Fields{
		"group":            GroupName(userID),
		"active_school_id": activeSchoolID,
	}).Info("ws accepted")

	out := make(chan any, outboundBuffer)
	done := make(chan struct{})

	// Single writer: gorilla allows one concurrent writer per connection.
	go func() {
		for {
			select {
			case msg := <-out:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Relay broadcast events into the outbound queue.
	go func() {
		for {
			select {
			case d, ok := <-deltas:
				if !ok {
					return
				}
				select {
				case out <- deltaMessage{Type: "delta", Delta: d}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	send := func(msg any) {
		select {
		case out <- msg:
		case <-done:
		}
	}

	// A freshly opened connection always starts from an authoritative
	// snapshot, even if it missed deltas while disconnected.
	g.sendCounts(c, send, userID, activeSchoolID)

	// Read loop owns the connection lifecycle.
	defer func() {
		close(done)
		leave()
		conn.Close()
		logrus.WithField("group", GroupName(userID)).Info("ws disconnected")
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "keepalive":
			send(pongMessage{Type: "pong"})
		case "resync":
			// Client-triggered only; the gateway never resyncs on a timer.
			g.sendCounts(c, send, userID, activeSchoolID)
		case "set_active_school":
			activeSchoolID = msg.ActiveSchoolID
			g.sendCounts(c, send, userID, activeSchoolID)
		}
	}
}

func (g *Gateway) sendCounts(c *gin.Context, send func(any), userID int64, activeSchoolID *int64) {
	counts, err := g.store.CountsFor(c.Request.Context(), userID, activeSchoolID, time.Now())
	if err != nil {
		logrus.WithField("group", GroupName(userID)).Errorf("ws snapshot failed: %v", err)
		return
	}
	send(countsMessage{Type: "counts", Counts: counts})
}

// bearerToken pulls the token from the Authorization header or, for browser
// WebSocket clients that cannot set headers, the token query parameter.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, found := strings.CutPrefix(h, "Bearer "); found {
			return tok
		}
	}
	return c.Query("token")
}

func parseSchoolID(raw string) *int64 {
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}
