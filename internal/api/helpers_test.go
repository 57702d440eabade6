package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/api"
	"github.com/permitguard/permitguard/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)

	return l
}

// testServices bundles the mocks behind a full router.
type testServices struct {
	audit      *mockAudit
	integrity  *mockIntegrity
	anchors    *mockAnchors
	lockout    *mockLockout
	challenges *mockChallenges
	approvals  *mockApprovals
}

func newTestServices() *testServices {
	return &testServices{
		audit:      &mockAudit{},
		integrity:  &mockIntegrity{},
		anchors:    &mockAnchors{},
		lockout:    &mockLockout{},
		challenges: &mockChallenges{},
		approvals:  &mockApprovals{},
	}
}

// testOrigin is the browser console origin allowed by the test router.
const testOrigin = "http://localhost:3000"

// router builds the production router over the mocks.
func (s *testServices) router(t *testing.T) http.Handler {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return api.NewRouter(ctx, &api.RouterDeps{
		Log:         testLogger(),
		Audit:       s.audit,
		Integrity:   s.integrity,
		Anchors:     s.anchors,
		Lockout:     s.lockout,
		Challenges:  s.challenges,
		Approvals:   s.approvals,
		CORSOrigins: []string{testOrigin},
		Version:     "test-v1",
	})
}

// actor identifies the caller of a test request.
type actor struct {
	id   string
	role string
}

var (
	anonymous = actor{}
	alice     = actor{id: "alice", role: "user"}
	adminA    = actor{id: "admin-a", role: "admin"}
	system    = actor{id: "profile-svc", role: "system"}
)

// doRequest performs an HTTP request as who and returns the recorder.
func doRequest(r http.Handler, who actor, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}

	req.RemoteAddr = "10.0.0.1:5555"
	if who.id != "" {
		req.Header.Set(middleware.ActorIDHeader, who.id)
		req.Header.Set(middleware.ActorRoleHeader, who.role)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
	}

	return body
}
