package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scangate/internal/infra/jobs"
	"github.com/openctemio/scangate/pkg/domain/finding"
	"github.com/openctemio/scangate/pkg/domain/repository"
)

func (f *fixture) pendingScan(t *testing.T) *repository.Scan {
	t.Helper()
	rs := repository.NewScan(f.repo.ID, f.vc.ID)
	require.NoError(t, f.repos.CreateScan(context.Background(), rs))
	return rs
}

func TestRepositoryScan_Completes(t *testing.T) {
	f := newFixture()
	f.detector.secrets = awsKey
	rs := f.pendingScan(t)

	err := f.repositoryScans().RunRepositoryScan(context.Background(), jobs.RepositoryScanPayload{ScanID: rs.ID.String()})
	require.NoError(t, err)

	assert.Equal(t, repository.ScanCompleted, rs.Status)
	assert.Equal(t, 1, rs.Attempts)
	assert.NotNil(t, f.repo.LastScanAt)

	secrets := f.store.Secrets()
	require.Len(t, secrets, 1)
	assert.Equal(t, finding.SourceRepoScan, secrets[0].Source)
	assert.Equal(t, f.repo.ID, secrets[0].Links.RepositoryID)
	assert.Equal(t, "main", f.detector.sources[0].Branch)
}

func TestRepositoryScan_FailureIsRetried(t *testing.T) {
	f := newFixture()
	f.detector.secretErr = errors.New("clone failed")
	rs := f.pendingScan(t)
	svc := f.repositoryScans()

	err := svc.RunRepositoryScan(context.Background(), jobs.RepositoryScanPayload{ScanID: rs.ID.String()})
	require.Error(t, err)
	assert.Equal(t, repository.ScanFailed, rs.Status)
	assert.Equal(t, "clone failed", rs.Error)

	f.detector.secretErr = nil
	require.NoError(t, svc.RunRepositoryScan(context.Background(), jobs.RepositoryScanPayload{ScanID: rs.ID.String()}))
	assert.Equal(t, repository.ScanCompleted, rs.Status)
	assert.Equal(t, 2, rs.Attempts)
	assert.Empty(t, rs.Error)
}

func TestRepositoryScan_CompletedIsSkipped(t *testing.T) {
	f := newFixture()
	rs := f.pendingScan(t)
	rs.Finish(nil)

	require.NoError(t, f.repositoryScans().RunRepositoryScan(context.Background(), jobs.RepositoryScanPayload{ScanID: rs.ID.String()}))
	assert.Zero(t, f.detector.SecretCalls())
}

func TestSweep(t *testing.T) {
	t.Run("enqueues pending scans", func(t *testing.T) {
		f := newFixture()
		f.pendingScan(t)
		f.pendingScan(t)
		done := f.pendingScan(t)
		done.Finish(nil)

		require.NoError(t, f.repositoryScans().Sweep(context.Background()))
		assert.Len(t, f.enqueuer.repoScans, 2)
		assert.False(t, f.locker.held)
		assert.Equal(t, 1, f.locker.released)
	})

	t.Run("lock held elsewhere", func(t *testing.T) {
		f := newFixture()
		f.pendingScan(t)
		f.locker.held = true

		require.NoError(t, f.repositoryScans().Sweep(context.Background()))
		assert.Empty(t, f.enqueuer.repoScans)
	})
}

func TestTriggerVC(t *testing.T) {
	f := newFixture()

	scans, err := f.repositoryScans().TriggerVC(context.Background(), f.vc.ID.String())
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, repository.ScanPending, scans[0].Status)
	require.Len(t, f.enqueuer.repoScans, 1)
	assert.Equal(t, scans[0].ID.String(), f.enqueuer.repoScans[0].ScanID)
}
