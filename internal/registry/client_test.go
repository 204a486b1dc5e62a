package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
)

const project = "3f1d9a52-6f4e-4b8e-9d0a-2f6e0c1b7a11"

func TestClient_Resolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/flowcells/resolve/"+project+"/M01234/42/000000000-ABCDE/", r.URL.Path)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(domain.FlowCell{
			SodarUUID:        "fc-uuid",
			VendorID:         "000000000-ABCDE",
			StatusSequencing: domain.StatusInProgress,
			ManualLabel:      "rerun",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", project, "secret")
	fc, err := client.Resolve(context.Background(), domain.FlowCellKey{
		Project: project, Instrument: "M01234", RunNumber: 42, Flowcell: "000000000-ABCDE",
	})
	require.NoError(t, err)
	assert.Equal(t, "fc-uuid", fc.SodarUUID)
	assert.Equal(t, domain.StatusInProgress, fc.StatusSequencing)
	assert.Equal(t, "rerun", fc.ManualLabel)
}

func TestClient_ResolveNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Not found."}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, project, "")
	_, err := client.Resolve(context.Background(), domain.FlowCellKey{Project: project})
	require.ErrorIs(t, err, domain.ErrRegistryNotFound)
	assert.NotErrorIs(t, err, domain.ErrRegistryTransport)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestClient_ServerErrorIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, project, "")
	_, err := client.Resolve(context.Background(), domain.FlowCellKey{Project: project})
	require.ErrorIs(t, err, domain.ErrRegistryTransport)
	assert.NotErrorIs(t, err, domain.ErrRegistryNotFound)
}

func TestClient_UnreachableIsTransport(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(url, project, "")
	_, err := client.Create(context.Background(), &domain.FlowCell{})
	require.ErrorIs(t, err, domain.ErrRegistryTransport)
}

func TestClient_CreateUpdateAndHistogram(t *testing.T) {
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		switch r.Method {
		case http.MethodPost:
			if r.URL.Path == "/api/flowcells/"+project+"/" {
				var fc domain.FlowCell
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&fc))
				fc.SodarUUID = "new-uuid"
				w.WriteHeader(http.StatusCreated)
				json.NewEncoder(w).Encode(fc)
				return
			}
			var hist domain.LaneIndexHistogram
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&hist))
			assert.Equal(t, 2, hist.Lane)
			assert.Equal(t, map[string]int{"ACGTACGT": 90}, hist.Histogram)
			w.WriteHeader(http.StatusCreated)
		case http.MethodPatch:
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Len(t, body, 3, "partial update must only carry owned fields")
			json.NewEncoder(w).Encode(domain.FlowCell{
				SodarUUID:        "new-uuid",
				CurrentReads:     body["current_reads"].(string),
				StatusSequencing: domain.SequencingStatus(body["status_sequencing"].(string)),
			})
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, project, "")
	ctx := context.Background()

	created, err := client.Create(ctx, &domain.FlowCell{VendorID: "HXXX"})
	require.NoError(t, err)
	assert.Equal(t, "new-uuid", created.SodarUUID)
	assert.Equal(t, "HXXX", created.VendorID)

	updated, err := client.Update(ctx, created.SodarUUID, domain.FlowCellPatch{
		PlannedReads: "151T", CurrentReads: "151T", StatusSequencing: domain.StatusComplete,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, updated.StatusSequencing)

	err = client.PushHistogram(ctx, domain.LaneIndexHistogram{
		Flowcell: "new-uuid", Lane: 2, IndexReadNo: 1, SampleSize: 100,
		Histogram: map[string]int{"ACGTACGT": 90},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"POST /api/flowcells/" + project + "/",
		"PATCH /api/flowcells/" + project + "/new-uuid/",
		"POST /api/indexhistos/" + project + "/new-uuid/",
	}, calls)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(project)
	key := domain.FlowCellKey{Project: project, Instrument: "M01234", RunNumber: 42, Flowcell: "FC1"}

	_, err := mem.Resolve(ctx, key)
	require.ErrorIs(t, err, domain.ErrRegistryNotFound)

	created, err := mem.Create(ctx, &domain.FlowCell{SequencingMachine: "M01234", RunNumber: 42, VendorID: "FC1", Description: "keep"})
	require.NoError(t, err)
	require.NotEmpty(t, created.SodarUUID)

	found, err := mem.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, created.SodarUUID, found.SodarUUID)

	updated, err := mem.Update(ctx, created.SodarUUID, domain.FlowCellPatch{StatusSequencing: domain.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, updated.StatusSequencing)
	assert.Equal(t, "keep", updated.Description)

	require.NoError(t, mem.PushHistogram(ctx, domain.LaneIndexHistogram{Flowcell: created.SodarUUID, Lane: 1}))
	require.ErrorIs(t, mem.PushHistogram(ctx, domain.LaneIndexHistogram{Flowcell: "missing"}), domain.ErrRegistryNotFound)
	assert.Len(t, mem.Histograms(), 1)
	assert.Len(t, mem.FlowCells(), 1)
}
