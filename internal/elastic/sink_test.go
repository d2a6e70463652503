package elastic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tourney-registry/internal/models"
)

type fakeES struct {
	mu      sync.Mutex
	indexes map[string]bool
	docs    map[string]TeamDoc
	calls   []string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/"+IdxTeams:
		if !f.indexes[IdxTeams] {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/"+IdxTeams:
		f.indexes[IdxTeams] = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case r.Method == http.MethodPut || r.Method == http.MethodPost:
		var doc TeamDoc
		_ = json.NewDecoder(r.Body).Decode(&doc)
		f.docs[r.URL.Path] = doc
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	case r.Method == http.MethodDelete:
		if _, ok := f.docs[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"result":"not_found"}`))
			return
		}
		delete(f.docs, r.URL.Path)
		_, _ = w.Write([]byte(`{"result":"deleted"}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unexpected"}`))
	}
}

func TestSinkIndexesAndDeletes(t *testing.T) {
	ctx := context.Background()
	f := &fakeES{indexes: map[string]bool{}, docs: map[string]TeamDoc{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := Connect(srv.URL)
	require.NoError(t, err)
	s := NewSink(c)

	require.NoError(t, s.Prepare(ctx))
	require.NoError(t, s.Prepare(ctx))
	require.True(t, f.indexes[IdxTeams])

	team := models.Team{TeamID: 7, TeamNumber: "007", TeamName: "Owls", Stage: models.StageSemiFinals, ContactNumber: "9876543210"}
	require.NoError(t, s.Upsert(ctx, team))
	doc, ok := f.docs["/"+IdxTeams+"/_doc/7"]
	require.True(t, ok)
	require.Equal(t, "semiFinals", doc.Stage)
	require.Equal(t, "007", doc.TeamNumber)

	require.NoError(t, s.Delete(ctx, 7))
	require.NoError(t, s.Delete(ctx, 7))
	require.Empty(t, f.docs)
}

func TestSinkSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"strict_dynamic_mapping_exception"}}`))
	}))
	t.Cleanup(srv.Close)
	c, err := Connect(srv.URL)
	require.NoError(t, err)

	err = NewSink(c).Upsert(context.Background(), models.Team{TeamID: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "strict_dynamic_mapping_exception")
}
