package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/logger"
	"catalog-import-service/internal/pipeline"
	"catalog-import-service/internal/repository/sqlite"
	"catalog-import-service/internal/service"
	httptransport "catalog-import-service/internal/transport/http"
)

type queueStub struct {
	enqueuedIDs        []string
	enqueuedPriorities []int
}

func (q *queueStub) Enqueue(ctx context.Context, jobID string, priority int) error {
	q.enqueuedIDs = append(q.enqueuedIDs, jobID)
	q.enqueuedPriorities = append(q.enqueuedPriorities, priority)
	return nil
}

type fixture struct {
	router   http.Handler
	queue    *queueStub
	jobs     *sqlite.JobRepository
	catalog  *sqlite.CatalogRepository
	importer *entity.Importer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	importers := sqlite.NewImporterRepository(db)
	imp := &entity.Importer{Name: "NORIEGA", Active: true, Settings: entity.ImporterSettings{BatchSize: 10}}
	require.NoError(t, importers.Upsert(ctx, imp))
	require.NoError(t, importers.Upsert(ctx, &entity.Importer{Name: "EMASA", Active: false}))

	f := &fixture{
		queue:    &queueStub{},
		jobs:     sqlite.NewJobRepository(db),
		catalog:  sqlite.NewCatalogRepository(db),
		importer: imp,
	}
	svc := service.NewJobService(f.jobs, importers, f.catalog, f.queue)
	f.router = httptransport.Routes(httptransport.NewHandler(svc), logger.Discard())
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHTTP_SubmitImport_201_AndPriorityStored(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/importers/noriega/jobs", `{"type":"categories","priority":2}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	resp := decode[struct {
		ID string `json:"id"`
	}](t, rr)
	assert.Equal(t, []string{resp.ID}, f.queue.enqueuedIDs)
	assert.Equal(t, []int{2}, f.queue.enqueuedPriorities)

	rr = f.do(http.MethodGet, "/jobs/"+resp.ID, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	got := decode[map[string]any](t, rr)
	assert.Equal(t, float64(2), got["priority"])
	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, "categories", got["type"])
}

func TestHTTP_SubmitImport_DefaultPriorityIs1(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/importers/NORIEGA/jobs", `{"type":"products","category_ids":[3]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, []int{1}, f.queue.enqueuedPriorities)

	id := uuid.MustParse(decode[map[string]string](t, rr)["id"])
	job, err := f.jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, job.Params.CategoryIDs)
}

func TestHTTP_SubmitImport_Errors(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name, path, body string
		want             int
	}{
		{"bad json", "/importers/NORIEGA/jobs", `{`, http.StatusBadRequest},
		{"bad type", "/importers/NORIEGA/jobs", `{"type":"echo"}`, http.StatusBadRequest},
		{"unknown importer", "/importers/ACME/jobs", `{"type":"products"}`, http.StatusNotFound},
		{"inactive importer", "/importers/EMASA/jobs", `{"type":"products"}`, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rr)["message"])
		})
	}
	assert.Empty(t, f.queue.enqueuedIDs)
}

func TestHTTP_GetJob_Errors(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/jobs/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/jobs/"+uuid.NewString(), "").Code)
}

func TestHTTP_CancelJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.jobs.Create(ctx, f.importer.ID, entity.JobTypeProducts, 1, entity.JobParams{})
	require.NoError(t, err)

	rr := f.do(http.MethodPost, "/jobs/"+id.String()+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	got := decode[map[string]any](t, rr)
	assert.Equal(t, "cancelled", got["status"])
	assert.NotEmpty(t, got["completed_at"])

	rr = f.do(http.MethodPost, "/jobs/"+id.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(http.MethodPost, "/jobs/"+uuid.NewString()+"/cancel", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHTTP_JobLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.jobs.Create(ctx, f.importer.ID, entity.JobTypeCategories, 1, entity.JobParams{})
	require.NoError(t, err)
	_, err = f.jobs.MarkRunning(ctx, id, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.jobs.AppendLog(ctx, id, entity.LogInfo, "logging in to NORIEGA"))
	require.NoError(t, f.jobs.AppendLog(ctx, id, entity.LogWarning, "no total on page"))
	msg := "login failed"
	_, err = f.jobs.Finish(ctx, id, pipeline.Finish{Status: entity.StatusFailed, ErrorMessage: &msg, CompletedAt: time.Now()})
	require.NoError(t, err)

	rr := f.do(http.MethodGet, "/jobs/"+id.String()+"/logs?limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	logs := decode[[]map[string]string](t, rr)
	require.Len(t, logs, 1)
	assert.Equal(t, "INFO", logs[0]["level"])
	assert.Equal(t, "logging in to NORIEGA", logs[0]["message"])

	rr = f.do(http.MethodGet, "/jobs/"+id.String(), "")
	got := decode[map[string]any](t, rr)
	assert.Equal(t, "failed", got["status"])
	assert.Equal(t, "login failed", got["error"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/jobs/"+id.String()+"/logs?limit=x", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/jobs/"+uuid.NewString()+"/logs", "").Code)
}

func TestHTTP_HealthAndSwagger(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = f.do(http.MethodGet, "/swagger/doc.json", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/importers/{name}/jobs")
}
