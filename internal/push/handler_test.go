package push

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/gigpush/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPISpecPath = "../../api/openapi/openapi.yaml"

func newTestServer(t *testing.T, runner DrainRunner) *testutil.Client {
	t.Helper()

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		NewHandler(runner, NewTriggerAuth(TriggerAuthConfig{
			Secret:          testSecret,
			SchedulerHeader: "X-Scheduler-Trigger",
		})).RegisterRoutes(r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client := testutil.NewClientWithValidator(srv.URL, testutil.NewOpenAPIValidator(t, openAPISpecPath))
	client.SetT(t)
	return client
}

func TestHandler_Drain(t *testing.T) {
	runner := &stubRunner{summary: Summary{Processed: 4, Sent: 2, Failed: 1, Skipped: 1}}
	client := newTestServer(t, runner)
	client.Token = testSecret

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			client.SetT(t)

			var resp *http.Response
			var err error
			if method == http.MethodGet {
				resp, err = client.GET("/api/v1/push/drain")
			} else {
				resp, err = client.POST("/api/v1/push/drain")
			}
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t,
				`{"ok":true,"processed":4,"sent":2,"failed":1,"skipped":1}`,
				testutil.ReadBody(t, resp),
			)
		})
	}

	assert.Equal(t, 2, runner.callCount())
}

func TestHandler_Drain_SchedulerHeader(t *testing.T) {
	runner := &stubRunner{}
	client := newTestServer(t, runner)
	client.Headers = map[string]string{"X-Scheduler-Trigger": "cron"}

	resp, err := client.POST("/api/v1/push/drain")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true,"processed":0,"sent":0,"failed":0,"skipped":0}`, testutil.ReadBody(t, resp))
}

func TestHandler_Drain_Unauthorized(t *testing.T) {
	runner := &stubRunner{}
	client := newTestServer(t, runner)
	client.Token = "wrong"

	resp, err := client.POST("/api/v1/push/drain")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"ok":false,"error":"unauthorized"}`, testutil.ReadBody(t, resp))
	assert.Zero(t, runner.callCount())
}

func TestHandler_Drain_Failure(t *testing.T) {
	runner := &stubRunner{err: fmt.Errorf("%w: fetch due items: %w", ErrDrainFailed, errors.New("connection refused"))}
	client := newTestServer(t, runner)
	client.Token = testSecret

	resp, err := client.GET("/api/v1/push/drain")
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body failureResponse
	testutil.DecodeJSON(t, resp, &body)
	assert.False(t, body.OK)
	assert.Equal(t, "drain failed: fetch due items: connection refused", body.Error)
}
