package remove_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/microbox/internal/app/remove"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox/sandboxmock"
)

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config remove.ServiceConfig
		expErr bool
	}{
		"valid config should create service": {
			config: remove.ServiceConfig{Manager: &sandboxmock.MockManager{}},
		},
		"missing manager should fail": {
			config: remove.ServiceConfig{},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			svc, err := remove.NewService(test.config)
			if test.expErr {
				require.Error(err)
				require.Nil(svc)
			} else {
				require.NoError(err)
				require.NotNil(svc)
			}
		})
	}
}

func TestServiceRun(t *testing.T) {
	tests := map[string]struct {
		req    remove.Request
		mock   func(m *sandboxmock.MockManager)
		expErr error
	}{
		"Removing a stopped VM should remove it by ID.": {
			req: remove.Request{Ref: "web"},
			mock: func(m *sandboxmock.MockManager) {
				m.On("Get", mock.Anything, "web").Once().Return(&model.VM{ID: "01J0", Name: "web", State: model.VMStateStopped}, nil)
				m.On("Remove", mock.Anything, "01J0").Once().Return(nil)
			},
		},

		"Removing a running VM without force should fail.": {
			req: remove.Request{Ref: "web"},
			mock: func(m *sandboxmock.MockManager) {
				m.On("Get", mock.Anything, "web").Once().Return(&model.VM{ID: "01J0", Name: "web", State: model.VMStateRunning}, nil)
				m.On("Remove", mock.Anything, "01J0").Once().Return(&model.TransitionError{VMID: "01J0", Op: "remove", From: model.VMStateRunning, Err: model.ErrInvalidState})
			},
			expErr: model.ErrInvalidState,
		},

		"Force removing a running VM should kill it first.": {
			req: remove.Request{Ref: "web", Force: true},
			mock: func(m *sandboxmock.MockManager) {
				m.On("Get", mock.Anything, "web").Once().Return(&model.VM{ID: "01J0", Name: "web", State: model.VMStateRunning}, nil)
				m.On("Kill", mock.Anything, "01J0").Once().Return(nil)
				m.On("Remove", mock.Anything, "01J0").Once().Return(nil)
			},
		},

		"Force removing a crashed VM should not kill it.": {
			req: remove.Request{Ref: "web", Force: true},
			mock: func(m *sandboxmock.MockManager) {
				m.On("Get", mock.Anything, "web").Once().Return(&model.VM{ID: "01J0", Name: "web", State: model.VMStateCrashed}, nil)
				m.On("Remove", mock.Anything, "01J0").Once().Return(nil)
			},
		},

		"Removing a missing VM should fail.": {
			req: remove.Request{Ref: "web"},
			mock: func(m *sandboxmock.MockManager) {
				m.On("Get", mock.Anything, "web").Once().Return(nil, model.ErrNotFound)
			},
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			mm := sandboxmock.NewMockManager(t)
			test.mock(mm)

			svc, err := remove.NewService(remove.ServiceConfig{Manager: mm})
			require.NoError(err)

			vm, err := svc.Run(context.TODO(), test.req)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				assert.Nil(vm)
				return
			}
			require.NoError(err)
			assert.Equal("01J0", vm.ID)
		})
	}
}
