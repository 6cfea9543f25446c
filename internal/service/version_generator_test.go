package service_test

import (
	"testing"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"github.com/devrev/pairdb/gmu-node/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVersionGenerator_Compare(t *testing.T) {
	gen := service.NewVersionGenerator("node-a", testMembers, zap.NewNop())

	tests := []struct {
		name     string
		a, b     *model.Version
		expected model.VersionComparison
	}{
		{"equal", ver(1, 2, 3), ver(1, 2, 3), model.Equal},
		{"less", ver(1, 2, 3), ver(1, 3, 3), model.Less},
		{"greater", ver(2, 2, 3), ver(1, 2, 3), model.Greater},
		{"concurrent", ver(2, 1, 3), ver(1, 2, 3), model.Concurrent},
		{"sub-version ignored", ver(1, 2, 3).WithSubVersion(4), ver(1, 2, 3), model.Equal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := gen.Compare(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestVersionGenerator_NewProvisionalVersion(t *testing.T) {
	gen := service.NewVersionGenerator("node-b", testMembers, zap.NewNop())

	committed := ver(4, 2, 7)
	p1, err := gen.NewProvisionalVersion(committed)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3, 7}, p1.Counters())

	cmp, err := gen.Compare(p1, committed)
	require.NoError(t, err)
	assert.Equal(t, model.Greater, cmp)

	// the local counter keeps increasing even against a stale base
	p2, err := gen.NewProvisionalVersion(committed)
	require.NoError(t, err)
	assert.Equal(t, int64(4), gen.ThisNodeValue(p2))

	gen.ObserveCommitVersion(ver(0, 10, 0))
	p3, err := gen.NewProvisionalVersion(committed)
	require.NoError(t, err)
	assert.Equal(t, int64(11), gen.ThisNodeValue(p3))
}

func TestVersionGenerator_Rebase(t *testing.T) {
	gen := service.NewVersionGenerator("node-a", testMembers, zap.NewNop())

	view := gen.UpdateView([]string{"node-a", "node-c", "node-d"})
	assert.Equal(t, int64(2), view.ViewID())

	rebased, err := gen.Rebase(ver(5, 6, 7), 2)
	require.NoError(t, err)
	// node-b departed, node-d joined
	assert.Equal(t, []int64{5, 7, 0}, rebased.Counters())
	assert.Equal(t, int64(2), rebased.ViewID())

	_, err = gen.Rebase(rebased, 1)
	assert.True(t, errors.HasCode(err, errors.ErrCodeVersionMismatch))

	_, err = gen.Rebase(ver(1, 1, 1), 9)
	assert.True(t, errors.HasCode(err, errors.ErrCodeVersionMismatch))
}

func TestVersionGenerator_CompareAcrossViews(t *testing.T) {
	gen := service.NewVersionGenerator("node-a", testMembers, zap.NewNop())
	gen.UpdateView([]string{"node-a", "node-b", "node-c", "node-d"})

	newer := model.NewVersion(2, []int64{5, 6, 7, 1})
	cmp, err := gen.Compare(ver(5, 6, 7), newer)
	require.NoError(t, err)
	assert.Equal(t, model.Less, cmp)

	gen.RetireViewsBefore(2)
	_, err = gen.Compare(ver(5, 6, 7), newer)
	assert.True(t, errors.HasCode(err, errors.ErrCodeVersionMismatch))
}

func TestVersionGenerator_UpdateViewUnchanged(t *testing.T) {
	gen := service.NewVersionGenerator("node-a", testMembers, zap.NewNop())
	view := gen.UpdateView([]string{"node-c", "node-b", "node-a"})
	assert.Equal(t, int64(1), view.ViewID())
}

func TestVersionGenerator_MergeAndMax(t *testing.T) {
	gen := service.NewVersionGenerator("node-a", testMembers, zap.NewNop())

	merged, err := gen.MergeAndMax([]*model.Version{ver(3, 1, 0), ver(1, 4, 0), ver(0, 0, 2)})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 2}, merged.Counters())

	_, err = gen.MergeAndMax(nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidArgument))
}

func TestVersionGenerator_CalculateMaxVersionToRead(t *testing.T) {
	gen := service.NewVersionGenerator("node-a", testMembers, zap.NewNop())

	assert.Nil(t, gen.CalculateMaxVersionToRead(ver(1, 1, 1), nil))
	assert.Equal(t, ver(1, 1, 1), gen.CalculateMaxVersionToRead(ver(1, 1, 1), []string{"node-b"}))
}

func TestVersionGenerator_ConvertVersionToWrite(t *testing.T) {
	gen := service.NewVersionGenerator("node-a", testMembers, zap.NewNop())
	w := gen.ConvertVersionToWrite(ver(2, 0, 0), 3)
	assert.Equal(t, 3, w.SubVersion())
	assert.Equal(t, "1:(2,0,0).3", w.String())
}
