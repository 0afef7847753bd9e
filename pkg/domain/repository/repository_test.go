package repository

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

func TestScan_Attempts(t *testing.T) {
	s := NewScan(shared.NewID(), shared.NewID())
	assert.Equal(t, ScanPending, s.Status)

	s.Begin()
	s.Finish(errors.New("clone failed"))
	assert.Equal(t, ScanFailed, s.Status)
	assert.Equal(t, "clone failed", s.Error)

	s.Begin()
	s.Finish(nil)
	assert.Equal(t, 2, s.Attempts)
	assert.Equal(t, ScanCompleted, s.Status)
	assert.Empty(t, s.Error)
	assert.NotNil(t, s.CompletedAt)
}
