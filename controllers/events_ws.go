package controller

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/websocket/v2"

	"mailburst/config"
	"mailburst/utils"
	"mailburst/worker"
)

// HandleDeliveryEventsWS streams per-user delivery events over a websocket.
// The browser cannot set an Authorization header on a websocket handshake,
// so the JWT rides in the token query parameter instead.
func HandleDeliveryEventsWS(c *websocket.Conn) {
	defer c.Close()

	claims, err := utils.ParseJWTToken(c.Query("token"))
	if err != nil {
		c.WriteJSON(map[string]string{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := config.Redis.Subscribe(ctx, worker.EventChannel(claims.UserID))
	defer sub.Close()

	// Drain reads so client close frames are noticed and terminate the feed.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := sub.Channel()
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				log.Printf("Error writing event to websocket: %v", err)
				return
			}
		case <-ping.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
