package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scangate/internal/config"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archive_Store(t *testing.T) {
	fp := &fakePutter{}
	a := newS3Archive("scan-reports", "", fp)

	key, err := a.Store(context.Background(), "secret", "5f0c", []byte(`[]`))
	require.NoError(t, err)

	assert.Equal(t, "reports/secret/5f0c.json", key)
	require.Len(t, fp.inputs, 1)
	assert.Equal(t, "scan-reports", aws.ToString(fp.inputs[0].Bucket))
	assert.Equal(t, "application/json", aws.ToString(fp.inputs[0].ContentType))
	assert.Equal(t, []byte(`[]`), fp.bodies[0])
}

func TestS3Archive_CustomPrefix(t *testing.T) {
	a := newS3Archive("b", "/archive/scans/", &fakePutter{})
	assert.Equal(t, "archive/scans/vulnerability/1.json", a.Key("vulnerability", "1"))
}

func TestS3Archive_StoreErrors(t *testing.T) {
	a := newS3Archive("b", "", &fakePutter{err: errors.New("access denied")})

	_, err := a.Store(context.Background(), "secret", "1", nil)
	assert.ErrorContains(t, err, "access denied")

	_, err = a.Store(context.Background(), "", "1", nil)
	assert.Error(t, err)
}

func TestNewS3Archive_RequiresBucket(t *testing.T) {
	_, err := NewS3Archive(context.Background(), config.ArchiveConfig{Region: "us-east-1"})
	assert.Error(t, err)
}
