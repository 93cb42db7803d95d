package copy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/microbox/internal/app/copy"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox/sandboxmock"
)

func TestParseCopyArgs(t *testing.T) {
	tests := map[string]struct {
		src       string
		dst       string
		expParsed *copy.ParsedCopy
		expErr    bool
	}{
		"Host to VM.": {
			src:       "./file.txt",
			dst:       "web:/tmp/file.txt",
			expParsed: &copy.ParsedCopy{VMRef: "web", LocalPath: "./file.txt", RemotePath: "/tmp/file.txt", ToVM: true},
		},
		"VM to host.": {
			src:       "01J0:/etc/hostname",
			dst:       "/tmp/out",
			expParsed: &copy.ParsedCopy{VMRef: "01J0", LocalPath: "/tmp/out", RemotePath: "/etc/hostname", ToVM: false},
		},
		"Absolute host paths with colons are local.": {
			src:       "/tmp/a:b",
			dst:       "web:/srv",
			expParsed: &copy.ParsedCopy{VMRef: "web", LocalPath: "/tmp/a:b", RemotePath: "/srv", ToVM: true},
		},
		"Two VMs should fail.": {
			src:    "a:/x",
			dst:    "b:/y",
			expErr: true,
		},
		"Two local paths should fail.": {
			src:    "/x",
			dst:    "./y",
			expErr: true,
		},
		"Missing VM reference should fail.": {
			src:    "/x",
			dst:    ":/y",
			expErr: true,
		},
		"Missing VM path should fail.": {
			src:    "web:",
			dst:    "/y",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			parsed, err := copy.ParseCopyArgs(test.src, test.dst)
			if test.expErr {
				assert.ErrorIs(err, model.ErrNotValid)
				return
			}
			assert.NoError(err)
			assert.Equal(test.expParsed, parsed)
		})
	}
}

func TestServiceRun(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(local, []byte("hello"), 0o644))

	tests := map[string]struct {
		req    copy.Request
		mock   func(m *sandboxmock.MockManager)
		expErr error
	}{
		"Copying to a VM should use copy to.": {
			req: copy.Request{Source: local, Destination: "web:/tmp/file.txt"},
			mock: func(m *sandboxmock.MockManager) {
				m.On("CopyTo", mock.Anything, "web", local, "/tmp/file.txt").Once().Return(nil)
			},
		},

		"Copying from a VM should use copy from.": {
			req: copy.Request{Source: "web:/etc", Destination: dir},
			mock: func(m *sandboxmock.MockManager) {
				m.On("CopyFrom", mock.Anything, "web", "/etc", dir).Once().Return(nil)
			},
		},

		"A missing local source should fail.": {
			req:    copy.Request{Source: filepath.Join(dir, "missing"), Destination: "web:/tmp"},
			mock:   func(m *sandboxmock.MockManager) {},
			expErr: model.ErrNotFound,
		},

		"Invalid arguments should fail.": {
			req:    copy.Request{Source: "a:/x", Destination: "b:/y"},
			mock:   func(m *sandboxmock.MockManager) {},
			expErr: model.ErrNotValid,
		},

		"Manager errors should fail.": {
			req: copy.Request{Source: "web:/etc", Destination: dir},
			mock: func(m *sandboxmock.MockManager) {
				m.On("CopyFrom", mock.Anything, "web", "/etc", dir).Once().Return(model.ErrInvalidState)
			},
			expErr: model.ErrInvalidState,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			mm := sandboxmock.NewMockManager(t)
			test.mock(mm)

			svc, err := copy.NewService(copy.ServiceConfig{Manager: mm})
			require.NoError(t, err)

			err = svc.Run(context.TODO(), test.req)
			if test.expErr != nil {
				assert.True(t, errors.Is(err, test.expErr), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
