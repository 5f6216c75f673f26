package www

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func TestRunProtected(t *testing.T) {
	log := logs.NewTestingLog(t)
	router := httprouter.New()
	Handle(log, router, "GET", "/bad", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		PanicBadRequestf("No %v here", "cheese")
	})
	Handle(log, router, "GET", "/missing/:id", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		PanicNotFoundf("Thing %v not found", RequiredID(p.ByName("id")))
	})
	Handle(log, router, "GET", "/boom", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		Check(errors.New("database on fire"))
	})
	Handle(log, router, "GET", "/ok", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		SendJSON(w, map[string]any{"min": QueryFloat32(r, "min"), "n": QueryInt(r, "n")})
	})

	check := func(path string, code int, body string) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		require.Equal(t, code, rec.Code, path)
		b, _ := io.ReadAll(rec.Body)
		require.Equal(t, body, string(b), path)
	}
	check("/bad", 400, "No cheese here")
	check("/missing/5", 404, "Thing 5 not found")
	check("/missing/x", 400, "Invalid ID 'x'")
	check("/boom", 500, "database on fire")
	check("/ok?min=0.5&n=3", 200, `{"min":0.5,"n":3}`)
	check("/ok?min=abc", 400, "Invalid number for min: 'abc'")
}

func TestQueryTime(t *testing.T) {
	r := httptest.NewRequest("GET", "/?a=1700000000000&b=2024-03-01T12:00:00Z", nil)
	require.Equal(t, time.UnixMilli(1700000000000).UTC(), QueryTime(r, "a"))
	require.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), QueryTime(r, "b"))
	require.True(t, QueryTime(r, "c").IsZero())
}

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			http.Error(w, "nope", http.StatusTeapot)
			return
		}
		w.Write([]byte(`{"x":7}`))
	}))
	defer srv.Close()

	out := struct{ X int }{}
	req, _ := http.NewRequest("GET", srv.URL+"/ok", nil)
	require.NoError(t, FetchJSON(nil, req, &out))
	require.Equal(t, 7, out.X)

	req, _ = http.NewRequest("GET", srv.URL+"/fail", nil)
	err := FetchJSON(srv.Client(), req, &out)
	require.ErrorContains(t, err, "418")
	require.ErrorContains(t, err, "nope")
}
