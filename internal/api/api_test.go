package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/towerxfer/internal/models"
)

// controllerStub serves the handful of endpoints a user transfer touches.
type controllerStub struct {
	mu      sync.Mutex
	users   map[int]string
	nextID  int
	deleted []int
}

func (c *controllerStub) handler() http.Handler {
	writeList := func(w http.ResponseWriter, results []map[string]interface{}) {
		json.NewEncoder(w).Encode(map[string]interface{}{"count": len(results), "next": nil, "results": results})
	}
	r := chi.NewRouter()
	r.Get("/api/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current_version":"/api/v2/"}`))
	})
	r.Route("/api/v2", func(r chi.Router) {
		r.Get("/ping/", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"version":"21.0.0"}`))
		})
		r.Get("/me/", func(w http.ResponseWriter, r *http.Request) {
			if user, pass, _ := r.BasicAuth(); user != "admin" || pass != "secret" {
				http.Error(w, `{"detail":"Authentication credentials were not provided."}`, http.StatusUnauthorized)
				return
			}
			writeList(w, []map[string]interface{}{{"id": 1, "username": "admin"}})
		})
		r.Options("/users/", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"actions":{"POST":{
				"username":{"type":"string","required":true,"max_length":150},
				"email":{"type":"string","required":false,"default":""},
				"password":{"type":"string","required":true}}}}`))
		})
		r.Get("/users/", func(w http.ResponseWriter, r *http.Request) {
			c.mu.Lock()
			defer c.mu.Unlock()
			var out []map[string]interface{}
			for id, name := range c.users {
				if want := r.URL.Query().Get("username"); want != "" && want != name {
					continue
				}
				out = append(out, map[string]interface{}{"id": id, "username": name, "email": name + "@example.com"})
			}
			writeList(w, out)
		})
		r.Post("/users/", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			c.mu.Lock()
			c.nextID++
			id := c.nextID
			c.users[id], _ = body["username"].(string)
			c.mu.Unlock()
			body["id"] = id
			delete(body, "password")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(body)
		})
		r.Delete("/users/{id}/", func(w http.ResponseWriter, r *http.Request) {
			id, _ := strconv.Atoi(chi.URLParam(r, "id"))
			c.mu.Lock()
			delete(c.users, id)
			c.deleted = append(c.deleted, id)
			c.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r
}

func newTestServer(t *testing.T) (*Server, *controllerStub, *models.Connection, *httptest.Server) {
	t.Helper()
	stub := &controllerStub{users: map[int]string{1: "alice"}, nextID: 1}
	ctl := httptest.NewServer(stub.handler())
	t.Cleanup(ctl.Close)

	u, err := url.Parse(ctl.URL)
	require.NoError(t, err)
	port, _ := strconv.Atoi(u.Port())
	conn := &models.Connection{
		Name: "stub", Type: "awx", Scheme: "http", Host: u.Hostname(), Port: port,
		Username: "admin", Password: "secret",
	}

	s := NewServer(models.NewConnectionStore(), zerolog.Nop())
	s.Connections.Create(conn)
	api := httptest.NewServer(NewRouter(s))
	t.Cleanup(api.Close)
	return s, stub, conn, api
}

func doJSON(t *testing.T, method, target string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, target, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func waitJob(t *testing.T, s *Server, id string) *models.Job {
	t.Helper()
	job := s.Jobs.Get(id)
	require.NotNil(t, job)
	require.Eventually(t, func() bool {
		done, _ := job.Done()
		return done
	}, 5*time.Second, 10*time.Millisecond)
	return job.Snapshot()
}

func jobID(t *testing.T, resp *http.Response, body []byte) string {
	t.Helper()
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out["job_id"])
	return out["job_id"]
}

func TestConnections_CRUD(t *testing.T) {
	_, _, _, api := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, api.URL+"/api/connections", map[string]interface{}{
		"name": "prod", "type": "aap", "host": "aap.example.com", "username": "admin", "password": "pw",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Connection
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "https", created.Scheme)
	assert.Equal(t, 443, created.Port)
	assert.NotEqual(t, "pw", created.Password, "password must be masked")

	resp, body = doJSON(t, http.MethodGet, api.URL+"/api/connections", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), `"pw"`)
	assert.NotContains(t, string(body), `"secret"`)

	resp, _ = doJSON(t, http.MethodPost, api.URL+"/api/connections", map[string]interface{}{"name": "nohost"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, api.URL+"/api/connections/nope", map[string]interface{}{"host": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, api.URL+"/api/connections/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodDelete, api.URL+"/api/connections/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateConnection_KeepsPassword(t *testing.T) {
	s, _, conn, api := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPut, api.URL+"/api/connections/"+conn.ID, map[string]interface{}{
		"name": "renamed", "host": conn.Host, "port": conn.Port, "scheme": "http", "username": "admin", "password": "••••••••",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored := s.Connections.Get(conn.ID)
	assert.Equal(t, "renamed", stored.Name)
	assert.Equal(t, "secret", stored.Password)
}

func TestTestConnection(t *testing.T) {
	s, _, conn, api := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, api.URL+"/api/connections/"+conn.ID+"/test", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, "ok", s.Connections.Get(conn.ID).AuthStatus)

	s.Connections.Get(conn.ID).Password = "wrong"
	_, body = doJSON(t, http.MethodPost, api.URL+"/api/connections/"+conn.ID+"/test", nil)
	assert.Contains(t, string(body), `"ok":false`)
	assert.Equal(t, "error", s.Connections.Get(conn.ID).AuthStatus)
}

func TestResources(t *testing.T) {
	_, _, conn, api := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, api.URL+"/api/connections/"+conn.ID+"/resources", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"job_template"`)

	resp, body = doJSON(t, http.MethodGet, api.URL+"/api/connections/"+conn.ID+"/resources/user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"alice"`)

	resp, _ = doJSON(t, http.MethodGet, api.URL+"/api/connections/"+conn.ID+"/resources/widgets", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResources_VersionGated(t *testing.T) {
	s, _, conn, api := newTestServer(t)

	s.Connections.SetVersion(conn.ID, "17.1.0", conn.APIPrefix)
	_, body := doJSON(t, http.MethodGet, api.URL+"/api/connections/"+conn.ID+"/resources", nil)
	assert.Contains(t, string(body), `"inventory_script"`)

	s.Connections.SetVersion(conn.ID, "23.4.0", conn.APIPrefix)
	_, body = doJSON(t, http.MethodGet, api.URL+"/api/connections/"+conn.ID+"/resources", nil)
	assert.NotContains(t, string(body), `"inventory_script"`)
	resp, _ := doJSON(t, http.MethodGet, api.URL+"/api/connections/"+conn.ID+"/resources/inventory_script", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReceiveJob(t *testing.T) {
	s, _, conn, api := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, api.URL+"/api/connections/"+conn.ID+"/receive", map[string]interface{}{
		"assets": map[string][]string{"user": {"alice"}},
	})
	id := jobID(t, resp, body)
	job := waitJob(t, s, id)
	require.Equal(t, "completed", job.Status, job.Error)
	assert.Equal(t, "ok=1 changed=0 warnings=0 failed=0", job.Recap)

	resp, body = doJSON(t, http.MethodGet, api.URL+"/api/jobs/"+id+"/document", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &doc))
	require.Len(t, doc, 1)
	assert.Equal(t, "user", doc[0]["asset_type"])
	assert.Equal(t, "alice", doc[0]["username"])
	assert.Equal(t, "alice@example.com", doc[0]["email"])
	assert.NotContains(t, doc[0], "id")

	// log lines are the run's structured output
	require.NotEmpty(t, job.Output)
	assert.True(t, strings.HasPrefix(job.Output[0], "{"), job.Output[0])
}

func TestReceiveJob_BadSelection(t *testing.T) {
	_, _, conn, api := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, api.URL+"/api/connections/"+conn.ID+"/receive", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, api.URL+"/api/connections/"+conn.ID+"/receive", map[string]interface{}{
		"assets": map[string][]string{"widget": {"x"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, api.URL+"/api/connections/missing/receive", map[string]interface{}{"all": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendJob(t *testing.T) {
	s, stub, conn, api := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, api.URL+"/api/connections/"+conn.ID+"/send", map[string]interface{}{
		"document": []map[string]interface{}{
			{"asset_type": "user", "username": "bob", "email": "bob@example.com"},
		},
		"secret_management": "random",
	})
	job := waitJob(t, s, jobID(t, resp, body))
	require.Equal(t, "completed", job.Status, job.Error)
	assert.Equal(t, "ok=0 changed=1 warnings=0 failed=0", job.Recap)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Contains(t, stub.users, 2)
	assert.Equal(t, "bob", stub.users[2])
}

func TestSendJob_Rejected(t *testing.T) {
	_, _, conn, api := newTestServer(t)
	target := api.URL + "/api/connections/" + conn.ID + "/send"

	resp, _ := doJSON(t, http.MethodPost, target, map[string]interface{}{
		"document":          []map[string]interface{}{{"asset_type": "user", "username": "bob"}},
		"secret_management": "prompt",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, target, map[string]interface{}{"document": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, target, map[string]interface{}{
		"document": []map[string]interface{}{{"asset_type": "user", "username": "bob"}},
		"exclude":  []string{"gizmo"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEmptyJob(t *testing.T) {
	s, stub, conn, api := newTestServer(t)
	target := api.URL + "/api/connections/" + conn.ID + "/empty"
	sel := map[string][]string{"user": {"alice"}}

	resp, _ := doJSON(t, http.MethodPost, target, map[string]interface{}{"assets": sel, "confirm": "yes"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	stub.mu.Lock()
	assert.Empty(t, stub.deleted)
	stub.mu.Unlock()

	resp, body := doJSON(t, http.MethodPost, target, map[string]interface{}{"assets": sel, "confirm": "YES"})
	job := waitJob(t, s, jobID(t, resp, body))
	require.Equal(t, "completed", job.Status, job.Error)
	assert.Equal(t, "ok=0 changed=1 warnings=0 failed=0", job.Recap)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, []int{1}, stub.deleted)
}

func TestJobs(t *testing.T) {
	s, _, _, api := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, api.URL+"/api/jobs/none", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	running := s.Jobs.Create("receive", "c")
	resp, _ = doJSON(t, http.MethodGet, api.URL+"/api/jobs/"+running.ID+"/document", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	cancelled := false
	running.SetCancel(func() { cancelled = true })
	resp, _ = doJSON(t, http.MethodPost, api.URL+"/api/jobs/"+running.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, cancelled)

	running.Fail("cancelled")
	resp, _ = doJSON(t, http.MethodPost, api.URL+"/api/jobs/"+running.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, api.URL+"/api/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jobs []models.Job
	require.NoError(t, json.Unmarshal(body, &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "failed", jobs[0].Status)
}

func TestStreamJobLogs(t *testing.T) {
	s, _, _, api := newTestServer(t)
	job := s.Jobs.Create("send", "c")
	job.AppendLog("first")
	job.AppendLog("second")
	job.Complete("ok=0 changed=0 warnings=0 failed=0")

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(api.URL, "http")+"/ws/jobs/"+job.ID+"/logs", nil)
	require.NoError(t, err)
	defer ws.Close()

	var got []string
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			break
		}
		got = append(got, string(msg))
	}
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestMetrics(t *testing.T) {
	s, _, conn, api := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, api.URL+"/api/connections/"+conn.ID+"/receive", map[string]interface{}{
		"assets": map[string][]string{"user": {"alice"}},
	})
	waitJob(t, s, jobID(t, resp, body))

	resp, body = doJSON(t, http.MethodGet, api.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `towerxfer_objects_total{operation="receive",outcome="ok",type="user"} 1`)
}
