package controller_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"gavel/internal/common/cache"
	"gavel/internal/common/db"
	"gavel/internal/message"
	problemRepo "gavel/internal/problem/repository"
	"gavel/internal/submission/repository"
	"gavel/internal/submit/controller"
	"gavel/internal/submit/service"
	"gavel/internal/submit/stream"
)

// The stream handler reads nothing from the database when the mirror answers,
// so the repositories and storage behind the service can be inert.
type stubSubmissionRepo struct{}

func (stubSubmissionRepo) Create(context.Context, db.Transaction, *repository.Submission) error {
	panic("not used")
}
func (stubSubmissionRepo) GetByID(context.Context, int64) (*repository.Submission, error) {
	panic("not used")
}
func (stubSubmissionRepo) GetResults(context.Context, int64) ([]repository.TestCaseResult, error) {
	panic("not used")
}
func (stubSubmissionRepo) UpdateStatus(context.Context, int64, message.Status) error {
	panic("not used")
}
func (stubSubmissionRepo) ApplyResult(context.Context, *message.ResultNotification) error {
	panic("not used")
}
func (stubSubmissionRepo) MarkPublished(context.Context, int64) error { panic("not used") }
func (stubSubmissionRepo) ListUnpublished(context.Context, time.Time, int) ([]repository.Submission, error) {
	panic("not used")
}

type stubProblemRepo struct{}

func (stubProblemRepo) GetByID(context.Context, int64) (*problemRepo.Problem, error) {
	panic("not used")
}
func (stubProblemRepo) ListTestCases(context.Context, int64) ([]problemRepo.TestCase, error) {
	panic("not used")
}
func (stubProblemRepo) Create(context.Context, *problemRepo.Problem) error { panic("not used") }
func (stubProblemRepo) AddTestCase(context.Context, int64, string, string) (*problemRepo.TestCase, error) {
	panic("not used")
}

type stubStorage struct{}

func (stubStorage) Put(context.Context, string, io.Reader, int64, string) error { panic("not used") }
func (stubStorage) Get(context.Context, string) (io.ReadCloser, error)          { panic("not used") }
func (stubStorage) Exists(context.Context, string) (bool, error)                { panic("not used") }

type stubPublisher struct{}

func (stubPublisher) PublishJob(context.Context, *message.Job) error { panic("not used") }

func newStreamServer(t *testing.T) (*httptest.Server, *repository.StatusMirror, *stream.Hub) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mirror := repository.NewStatusMirror(cache.NewRedisWithClient(client))

	svc, err := service.NewSubmitService(service.Config{
		SubmissionRepo: stubSubmissionRepo{},
		ProblemRepo:    stubProblemRepo{},
		StatusMirror:   mirror,
		Storage:        stubStorage{},
		Publisher:      stubPublisher{},
	})
	if err != nil {
		t.Fatalf("new submit service failed: %v", err)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	hub := stream.NewHub()
	controller.NewSubmitController(svc, hub).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, mirror, hub
}

func dialStream(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/submissions/" + id + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream failed: %v (resp %v)", err, resp)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) stream.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event stream.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event failed: %v", err)
	}
	return event
}

func TestStreamPushesStatusUntilTerminal(t *testing.T) {
	srv, mirror, hub := newStreamServer(t)
	if err := mirror.Set(context.Background(), 5, message.StatusRunning); err != nil {
		t.Fatalf("seed mirror failed: %v", err)
	}
	conn := dialStream(t, srv, "5")

	if event := readEvent(t, conn); event.Status != message.StatusRunning {
		t.Fatalf("expected current RUNNING first, got %+v", event)
	}

	// The subscription is registered before the upgrade; give the broadcast
	// a moment in case the handler goroutine is still settling.
	time.Sleep(50 * time.Millisecond)
	hub.Broadcast(5, message.StatusPassed)

	if event := readEvent(t, conn); event.Status != message.StatusPassed {
		t.Fatalf("expected pushed PASSED, got %+v", event)
	}
	// Terminal status ends the stream from the server side.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("stream must close after a terminal status")
	}
}

func TestStreamNoticesClientClose(t *testing.T) {
	srv, mirror, _ := newStreamServer(t)
	if err := mirror.Set(context.Background(), 6, message.StatusRunning); err != nil {
		t.Fatalf("seed mirror failed: %v", err)
	}
	conn := dialStream(t, srv, "6")
	readEvent(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetWriteDeadline(deadline)
	closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, closeFrame); err != nil {
		t.Fatalf("send close failed: %v", err)
	}

	// The server must react to the close frame well before the next ping
	// tick: its read pump sees the close and tears the stream down.
	_ = conn.SetReadDeadline(deadline)
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the server to close the connection")
	}
}
