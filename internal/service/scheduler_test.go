package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/logger"
)

type recordingSubmitter struct {
	reqs []SubmitRequest
	err  error
}

func (r *recordingSubmitter) SubmitImport(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	r.reqs = append(r.reqs, req)
	return uuid.New(), r.err
}

func TestScheduler_Add(t *testing.T) {
	sub := &recordingSubmitter{}
	s := NewScheduler(sub, logger.Discard())

	_, err := s.Add(Schedule{Importer: "NORIEGA", Type: entity.JobTypeCategories, Spec: "0 3 * * *"})
	require.NoError(t, err)
	_, err = s.Add(Schedule{Importer: "NORIEGA", Type: entity.JobTypeProducts, Spec: "@every 6h", Priority: 2})
	require.NoError(t, err)

	_, err = s.Add(Schedule{Importer: "NORIEGA", Type: entity.JobTypeProducts, Spec: "not a cron"})
	assert.Error(t, err)
	_, err = s.Add(Schedule{Importer: "NORIEGA", Type: "echo", Spec: "@daily"})
	assert.Error(t, err)

	assert.Equal(t, 2, s.Len())
}

func TestScheduler_FireSubmits(t *testing.T) {
	sub := &recordingSubmitter{}
	s := NewScheduler(sub, logger.Discard())

	id, err := s.Add(Schedule{Importer: "EMASA", Type: entity.JobTypeProducts, Spec: "@hourly", Priority: 0})
	require.NoError(t, err)

	s.cron.Entry(id).Job.Run()
	require.Len(t, sub.reqs, 1)
	assert.Equal(t, SubmitRequest{Importer: "EMASA", Type: entity.JobTypeProducts, RequestedBy: "scheduler"}, sub.reqs[0])

	// a failed submission is logged and the entry stays registered
	sub.err = errors.New("importer is inactive")
	s.cron.Entry(id).Job.Run()
	assert.Len(t, sub.reqs, 2)
	assert.Equal(t, 1, s.Len())
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(&recordingSubmitter{}, logger.Discard())
	s.Start()
	s.Stop(context.Background())
}
