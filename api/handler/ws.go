package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/openrecords/gridscout/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is key-authenticated upstream; browser origin checks add
	// nothing for a server-to-server control plane.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// RunWS returns a handler for GET /ws/run/:id.
// It streams run_update events until the run reaches a terminal state or
// the client disconnects. The first frame is always a full snapshot so a
// late subscriber does not miss earlier transitions.
func RunWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := runStore.Load(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "run not found",
				},
			})
			return
		}
		entry := val.(*runEntry)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		events := entry.subscribe()
		defer entry.unsubscribe(events)

		snap := entry.snapshot()
		first := models.RunEvent{
			Type:           models.EventRunUpdate,
			RunID:          snap.RunID,
			Status:         snap.Status,
			LogCount:       snap.LogCount,
			Logs:           snap.Logs,
			ExtractedCount: snap.ExtractedCount,
			ScriptPath:     snap.ScriptPath,
		}
		if snap.Error != nil {
			first.Error = snap.Error.Message
		}
		if err := writeEvent(conn, first); err != nil {
			return
		}
		if snap.Status.Terminal() {
			return
		}

		pump(conn, func(ev models.RunEvent) (bool, error) {
			if err := writeEvent(conn, ev); err != nil {
				return true, err
			}
			return ev.Status.Terminal(), nil
		}, events)
	}
}

// ParallelWS returns a handler for GET /ws/parallel/:id.
// It streams script_start, script_complete, and the final parallel_complete
// event.
func ParallelWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := parallelStore.Load(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "parallel run not found",
				},
			})
			return
		}
		entry := val.(*parallelEntry)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		events := entry.subscribe()
		defer entry.unsubscribe(events)

		snap := entry.snapshot()
		if snap.Status == "completed" {
			// Finished before the client attached: replay the aggregate.
			success, failed := 0, 0
			for _, res := range snap.Results {
				if res.Success {
					success++
				} else {
					failed++
				}
			}
			writeEvent(conn, models.ParallelEvent{
				Type:    models.EventParallelComplete,
				RunID:   snap.ID,
				Done:    len(snap.Results),
				Total:   len(snap.Scripts),
				Success: success,
				Failed:  failed,
			})
			return
		}

		pump(conn, func(ev models.ParallelEvent) (bool, error) {
			if err := writeEvent(conn, ev); err != nil {
				return true, err
			}
			return ev.Type == models.EventParallelComplete, nil
		}, events)
	}
}

// pump forwards events to the connection until the sink reports done, the
// subscription channel drains, or a ping fails (client gone).
func pump[E any](conn *websocket.Conn, sink func(E) (bool, error), events chan E) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			done, err := sink(ev)
			if err != nil || done {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}
