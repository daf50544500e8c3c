package httpapi

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"smartattendance/internal/notify"
)

const keepAlive = 15 * time.Second

// events streams one session as server-sent events: the current document
// as "session", then bus events until the session ends or the client leaves.
func (s *server) events(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	// subscribe before reading so an end in between is not lost
	ch, err := s.Bus.Subscribe(ctx, id)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		writeError(c, err, nil)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("session", sess)
	c.Writer.Flush()
	if !sess.Active() {
		return
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(evt.Type, evt)
			return evt.Type != notify.TypeSessionEnded
		case t := <-ticker.C:
			c.SSEvent("ping", t.UTC())
			return true
		case <-ctx.Done():
			return false
		}
	})
}
