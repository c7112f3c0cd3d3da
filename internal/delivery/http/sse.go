package http

import (
	"bufio"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/busfleet/backend/internal/sse"
)

// keepAliveInterval is how often an idle connection gets a comment
// frame so proxies do not reap it.
const keepAliveInterval = 30 * time.Second

// StreamEvents is the long-lived push subscription endpoint. It
// registers the connection with the hub, confirms with a connected
// frame carrying the client id, then relays broadcast frames and
// keep-alive comments until the client goes away. The optional deviceId
// query parameter scopes device-targeted events to this subscriber.
func (h *Handler) StreamEvents(c *fiber.Ctx) error {
	deviceID := c.Query("deviceId")

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	id, frames := h.hub.Subscribe(deviceID)
	log := h.log.With().Str("client", id).Logger()

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		// Ticker and registry entry are released together, whatever
		// ends the stream.
		defer h.hub.Unsubscribe(id)

		hello, _ := json.Marshal(fiber.Map{"clientId": id})
		if !writeFrame(w, sse.FormatEvent(sse.EventConnected, hello)) {
			return
		}

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case frame, ok := <-frames:
				if !ok {
					// Hub dropped us (stalled or shutting down).
					return
				}
				if !writeFrame(w, frame) {
					log.Debug().Msg("push write failed, closing stream")
					return
				}
			case <-keepAlive.C:
				if !writeFrame(w, sse.KeepAliveFrame) {
					log.Debug().Msg("keep-alive write failed, closing stream")
					return
				}
			}
		}
	}))

	return nil
}

// writeFrame reports false on the first transport failure, which the
// stream loop treats as a disconnect.
func writeFrame(w *bufio.Writer, frame []byte) bool {
	if _, err := w.Write(frame); err != nil {
		return false
	}
	return w.Flush() == nil
}
