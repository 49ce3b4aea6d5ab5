package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/service"
)

type fakeRepo struct {
	createCalled   int
	lastImporterID int64
	lastType       entity.JobType
	lastPriority   int
	lastParams     entity.JobParams

	createID  uuid.UUID
	createErr error

	jobs      map[uuid.UUID]*entity.Job
	logs      []entity.JobLogEntry
	lastLimit int
}

func (r *fakeRepo) Create(ctx context.Context, importerID int64, typ entity.JobType, priority int, params entity.JobParams) (uuid.UUID, error) {
	r.createCalled++
	r.lastImporterID = importerID
	r.lastType = typ
	r.lastPriority = priority
	r.lastParams = params
	if r.createErr != nil {
		return uuid.Nil, r.createErr
	}
	return r.createID, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *fakeRepo) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (entity.JobStatus, error) {
	job, ok := r.jobs[id]
	if !ok {
		return "", entity.ErrNotFound
	}
	prev := job.Status
	switch prev {
	case entity.StatusPending:
		job.Status = entity.StatusCancelled
		job.CompletedAt = &at
	case entity.StatusRunning:
		job.Status = entity.StatusCancelled
	}
	return prev, nil
}

func (r *fakeRepo) Logs(ctx context.Context, id uuid.UUID, limit int) ([]entity.JobLogEntry, error) {
	r.lastLimit = limit
	return r.logs, nil
}

type fakeImporters map[string]*entity.Importer

func (f fakeImporters) GetByName(ctx context.Context, name string) (*entity.Importer, error) {
	imp, ok := f[name]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return imp, nil
}

type fakeSelection struct {
	ids []int64
	err error
}

func (f fakeSelection) SelectedCategoryIDs(ctx context.Context, importerID int64) ([]int64, error) {
	return f.ids, f.err
}

type fakeQueue struct {
	enqueuedIDs        []string
	enqueuedPriorities []int
	enqueueErr         error
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	q.enqueuedIDs = append(q.enqueuedIDs, jobID)
	q.enqueuedPriorities = append(q.enqueuedPriorities, priority)
	return q.enqueueErr
}

func importers() fakeImporters {
	return fakeImporters{
		"NORIEGA": {ID: 3, Name: "NORIEGA", Active: true},
		"EMASA":   {ID: 4, Name: "EMASA", Active: false},
	}
}

func TestJobService_SubmitImport_PriorityPropagates(t *testing.T) {
	ctx := context.Background()
	id := uuid.MustParse("66666666-6666-6666-6666-666666666666")

	repo := &fakeRepo{createID: id}
	queue := &fakeQueue{}
	svc := service.NewJobService(repo, importers(), fakeSelection{}, queue)

	got, err := svc.SubmitImport(ctx, service.SubmitRequest{
		Importer: "noriega",
		Type:     entity.JobTypeCategories,
		Priority: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	assert.EqualValues(t, 3, repo.lastImporterID)
	assert.Equal(t, entity.JobTypeCategories, repo.lastType)
	assert.Equal(t, 2, repo.lastPriority)
	assert.Empty(t, repo.lastParams.CategoryIDs)
	assert.Equal(t, []string{id.String()}, queue.enqueuedIDs)
	assert.Equal(t, []int{2}, queue.enqueuedPriorities)
}

func TestJobService_SubmitImport_PriorityClampedToNormal(t *testing.T) {
	repo := &fakeRepo{createID: uuid.New()}
	queue := &fakeQueue{}
	svc := service.NewJobService(repo, importers(), fakeSelection{}, queue)

	_, err := svc.SubmitImport(context.Background(), service.SubmitRequest{
		Importer: "NORIEGA",
		Type:     entity.JobTypeCategories,
		Priority: 999, // invalid
	})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.lastPriority)
	assert.Equal(t, []int{1}, queue.enqueuedPriorities)
}

func TestJobService_SubmitImport_SnapshotsSelection(t *testing.T) {
	ctx := context.Background()

	t.Run("selected categories when none given", func(t *testing.T) {
		repo := &fakeRepo{createID: uuid.New()}
		svc := service.NewJobService(repo, importers(), fakeSelection{ids: []int64{5, 9}}, &fakeQueue{})

		_, err := svc.SubmitImport(ctx, service.SubmitRequest{Importer: "NORIEGA", Type: entity.JobTypeProducts, RequestedBy: "ops"})
		require.NoError(t, err)
		assert.Equal(t, []int64{5, 9}, repo.lastParams.CategoryIDs)
		assert.Equal(t, "ops", repo.lastParams.RequestedBy)
	})

	t.Run("explicit ids win", func(t *testing.T) {
		repo := &fakeRepo{createID: uuid.New()}
		svc := service.NewJobService(repo, importers(), fakeSelection{ids: []int64{5, 9}}, &fakeQueue{})

		_, err := svc.SubmitImport(ctx, service.SubmitRequest{Importer: "NORIEGA", Type: entity.JobTypeProducts, CategoryIDs: []int64{7}})
		require.NoError(t, err)
		assert.Equal(t, []int64{7}, repo.lastParams.CategoryIDs)
	})

	t.Run("selection lookup fails", func(t *testing.T) {
		repo := &fakeRepo{createID: uuid.New()}
		svc := service.NewJobService(repo, importers(), fakeSelection{err: errors.New("db down")}, &fakeQueue{})

		_, err := svc.SubmitImport(ctx, service.SubmitRequest{Importer: "NORIEGA", Type: entity.JobTypeProducts})
		require.Error(t, err)
		assert.Zero(t, repo.createCalled)
	})
}

func TestJobService_SubmitImport_Rejects(t *testing.T) {
	cases := []struct {
		name string
		req  service.SubmitRequest
		want error
	}{
		{"missing importer", service.SubmitRequest{Type: entity.JobTypeProducts}, service.ErrInvalidRequest},
		{"bad type", service.SubmitRequest{Importer: "NORIEGA", Type: "echo"}, service.ErrInvalidRequest},
		{"bad category id", service.SubmitRequest{Importer: "NORIEGA", Type: entity.JobTypeProducts, CategoryIDs: []int64{0}}, service.ErrInvalidRequest},
		{"unknown importer", service.SubmitRequest{Importer: "ACME", Type: entity.JobTypeProducts}, service.ErrImporterNotFound},
		{"inactive importer", service.SubmitRequest{Importer: "EMASA", Type: entity.JobTypeProducts}, service.ErrImporterInactive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeRepo{createID: uuid.New()}
			queue := &fakeQueue{}
			svc := service.NewJobService(repo, importers(), fakeSelection{}, queue)

			_, err := svc.SubmitImport(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, repo.createCalled)
			assert.Empty(t, queue.enqueuedIDs)
		})
	}
}

func TestJobService_SubmitImport_EnqueueError(t *testing.T) {
	repo := &fakeRepo{createID: uuid.New()}
	queue := &fakeQueue{enqueueErr: errors.New("redis down")}
	svc := service.NewJobService(repo, importers(), fakeSelection{}, queue)

	_, err := svc.SubmitImport(context.Background(), service.SubmitRequest{Importer: "NORIEGA", Type: entity.JobTypeCategories})
	require.Error(t, err)
	assert.Equal(t, 1, repo.createCalled)
}

func TestJobService_CancelJob(t *testing.T) {
	ctx := context.Background()
	pending, running, done := uuid.New(), uuid.New(), uuid.New()
	repo := &fakeRepo{jobs: map[uuid.UUID]*entity.Job{
		pending: {ID: pending, Status: entity.StatusPending},
		running: {ID: running, Status: entity.StatusRunning},
		done:    {ID: done, Status: entity.StatusCompleted},
	}}
	svc := service.NewJobService(repo, importers(), fakeSelection{}, &fakeQueue{})

	job, err := svc.CancelJob(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)

	job, err = svc.CancelJob(ctx, running)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, job.Status)
	assert.Nil(t, job.CompletedAt)

	job, err = svc.CancelJob(ctx, running)
	require.NoError(t, err, "the worker has not closed the job yet")
	assert.Equal(t, entity.StatusCancelled, job.Status)
	assert.Nil(t, job.CompletedAt)

	_, err = svc.CancelJob(ctx, pending)
	assert.ErrorIs(t, err, service.ErrJobFinished)

	_, err = svc.CancelJob(ctx, done)
	assert.ErrorIs(t, err, service.ErrJobFinished)

	_, err = svc.CancelJob(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrJobNotFound)
}

func TestJobService_GetJobAndLogs(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	repo := &fakeRepo{
		jobs: map[uuid.UUID]*entity.Job{id: {ID: id, Status: entity.StatusRunning, Progress: 40}},
		logs: []entity.JobLogEntry{{JobID: id, Level: entity.LogInfo, Message: "started"}},
	}
	svc := service.NewJobService(repo, importers(), fakeSelection{}, &fakeQueue{})

	job, err := svc.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 40, job.Progress)

	_, err = svc.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrJobNotFound)

	logs, err := svc.JobLogs(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, 200, repo.lastLimit)

	_, err = svc.JobLogs(ctx, id, 5000)
	require.NoError(t, err)
	assert.Equal(t, 1000, repo.lastLimit)

	_, err = svc.JobLogs(ctx, uuid.New(), 10)
	assert.ErrorIs(t, err, service.ErrJobNotFound)
}
