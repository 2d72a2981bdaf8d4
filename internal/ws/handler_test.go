package ws

import (
	"context"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/guessparty/backend/internal/hub"
)

// Connections that never complete a join still spawn a writer goroutine.
// It must wind down when the handler returns, not block on its outbox.
func TestHandlerReleasesWriterWhenJoinNeverCompletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.NewHub(ctx, hub.Options{MaxRooms: 4})
	srv := httptest.NewServer(Handler(h, zap.NewNop().Sugar()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	baseline := runtime.NumGoroutine()

	for i := 0; i < 5; i++ {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		// not a join, so the connection is rejected before entering a room
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"toggleReady"}`)); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, _, err := conn.Read(ctx); err != nil {
			t.Fatalf("read error event: %v", err)
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("goroutines leaked: %d running, baseline %d", runtime.NumGoroutine(), baseline)
}
