package list_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/microbox/internal/app/list"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox/sandboxmock"
)

func TestParseFilter(t *testing.T) {
	tests := map[string]struct {
		filter    string
		expFilter list.Filter
		expErr    bool
	}{
		"A state filter should be parsed.": {
			filter:    "state=running",
			expFilter: list.Filter{Key: "state", Value: "running"},
		},
		"A status filter should be an alias of state.": {
			filter:    "status=stopped",
			expFilter: list.Filter{Key: "state", Value: "stopped"},
		},
		"A name filter should be parsed.": {
			filter:    "name=web",
			expFilter: list.Filter{Key: "name", Value: "web"},
		},
		"Missing value should fail.": {
			filter: "name=",
			expErr: true,
		},
		"Missing separator should fail.": {
			filter: "running",
			expErr: true,
		},
		"Unknown keys should fail.": {
			filter: "label=a",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			f, err := list.ParseFilter(test.filter)
			if test.expErr {
				assert.ErrorIs(err, model.ErrNotValid)
				return
			}
			assert.NoError(err)
			assert.Equal(test.expFilter, f)
		})
	}
}

func TestServiceRun(t *testing.T) {
	t0 := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	vms := []model.VM{
		{ID: "01JA", Name: "a", State: model.VMStateRunning, CreatedAt: t0, Config: model.VMConfig{Image: "alpine:3.20"}},
		{ID: "01JB", Name: "b", State: model.VMStateStopped, CreatedAt: t0.Add(time.Minute)},
		{ID: "01JC", Name: "c", State: model.VMStateCreated, CreatedAt: t0.Add(2 * time.Minute)},
		{ID: "01JD", Name: "d", State: model.VMStateStarting, CreatedAt: t0.Add(3 * time.Minute), Config: model.VMConfig{Image: "alpine:3.20"}},
	}

	tests := map[string]struct {
		req    list.Request
		mock   func(m *sandboxmock.MockManager)
		expIDs []string
		expErr bool
	}{
		"By default only active VMs are listed, newest first.": {
			req:    list.Request{},
			expIDs: []string{"01JD", "01JA"},
		},

		"All should list every VM.": {
			req:    list.Request{All: true},
			expIDs: []string{"01JD", "01JC", "01JB", "01JA"},
		},

		"Filters should be combined.": {
			req: list.Request{All: true, Filters: []list.Filter{
				{Key: "image", Value: "alpine:3.20"},
				{Key: "state", Value: "running"},
			}},
			expIDs: []string{"01JA"},
		},

		"ID filters should match prefixes.": {
			req:    list.Request{All: true, Filters: []list.Filter{{Key: "id", Value: "01jb"}}},
			expIDs: []string{"01JB"},
		},

		"Name filters should match exact names.": {
			req:    list.Request{All: true, Filters: []list.Filter{{Key: "name", Value: "c"}}},
			expIDs: []string{"01JC"},
		},

		"Listing errors should fail.": {
			mock: func(m *sandboxmock.MockManager) {
				m.On("List", mock.Anything).Once().Return(nil, errors.New("something"))
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			mm := sandboxmock.NewMockManager(t)
			if test.mock != nil {
				test.mock(mm)
			} else {
				mm.On("List", mock.Anything).Once().Return(vms, nil)
			}

			svc, err := list.NewService(list.ServiceConfig{Manager: mm})
			require.NoError(err)

			got, err := svc.Run(context.TODO(), test.req)
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)

			ids := []string{}
			for _, vm := range got {
				ids = append(ids, vm.ID)
			}
			assert.Equal(test.expIDs, ids)
		})
	}
}
