package imagelist_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/microbox/internal/app/imagelist"
	"github.com/slok/microbox/internal/image/imagemock"
	"github.com/slok/microbox/internal/model"
)

func TestServiceRun(t *testing.T) {
	tests := map[string]struct {
		mock      func(m *imagemock.MockManager)
		expImages []model.Image
		expErr    bool
	}{
		"Listing should return the images.": {
			mock: func(m *imagemock.MockManager) {
				m.On("List", mock.Anything).Once().Return([]model.Image{{Ref: "alpine:3.20"}, {Ref: "debian:12"}}, nil)
			},
			expImages: []model.Image{{Ref: "alpine:3.20"}, {Ref: "debian:12"}},
		},

		"Listing errors should fail.": {
			mock: func(m *imagemock.MockManager) {
				m.On("List", mock.Anything).Once().Return(nil, errors.New("something"))
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			mi := imagemock.NewMockManager(t)
			test.mock(mi)

			svc, err := imagelist.NewService(imagelist.ServiceConfig{Manager: mi})
			require.NoError(err)

			got, err := svc.Run(context.TODO())
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(test.expImages, got)
		})
	}
}
