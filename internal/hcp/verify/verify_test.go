package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorkspace struct {
	existing        map[string]bool
	typeCheckOK     bool
	typeCheckOutput string
	typeCheckDelay  time.Duration
	typeCheckErr    error
}

func (f *fakeWorkspace) ReadFile(ctx context.Context, path string) ([]byte, error)     { return nil, nil }
func (f *fakeWorkspace) WriteFile(ctx context.Context, path string, data []byte) error { return nil }
func (f *fakeWorkspace) RevertFile(ctx context.Context, path string) error             { return nil }
func (f *fakeWorkspace) ListFiles(ctx context.Context, dir string) ([]string, error)   { return nil, nil }

func (f *fakeWorkspace) FileExists(ctx context.Context, path string) (bool, error) {
	return f.existing[path], nil
}

func (f *fakeWorkspace) TypeCheck(ctx context.Context) (bool, string, error) {
	if f.typeCheckDelay > 0 {
		select {
		case <-time.After(f.typeCheckDelay):
		case <-ctx.Done():
			return false, "", ctx.Err()
		}
	}
	return f.typeCheckOK, f.typeCheckOutput, f.typeCheckErr
}

func TestVerify_MissingFileFails(t *testing.T) {
	ws := &fakeWorkspace{existing: map[string]bool{"a.go": true}}
	v := New(ws, time.Second)
	res, err := v.Verify(context.Background(), []string{"a.go", "missing.go"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.ErrorDetails, "missing.go")
}

func TestVerify_TypeCheckFailurePropagates(t *testing.T) {
	ws := &fakeWorkspace{existing: map[string]bool{"a.go": true}, typeCheckOK: false, typeCheckOutput: "syntax error"}
	v := New(ws, time.Second)
	res, err := v.Verify(context.Background(), []string{"a.go"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, "syntax error", res.ErrorDetails)
}

func TestVerify_TimeoutIsFailure(t *testing.T) {
	ws := &fakeWorkspace{existing: map[string]bool{"a.go": true}, typeCheckDelay: 50 * time.Millisecond}
	v := New(ws, 10*time.Millisecond)
	res, err := v.Verify(context.Background(), []string{"a.go"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.ErrorDetails, "timed out")
}

func TestVerify_Success(t *testing.T) {
	ws := &fakeWorkspace{existing: map[string]bool{"a.go": true}, typeCheckOK: true}
	v := New(ws, time.Second)
	res, err := v.Verify(context.Background(), []string{"a.go"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
}
