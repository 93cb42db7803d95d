package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/microbox/internal/protocol"
	"github.com/slok/microbox/internal/session"
)

type chunk struct {
	seq  uint64
	data string
}

func TestReassembler(t *testing.T) {
	tests := map[string]struct {
		chunks      []chunk
		expData     string
		expComplete bool
		expErr      bool
	}{
		"In order chunks should be delivered directly.": {
			chunks:      []chunk{{0, "a"}, {1, "b"}, {2, ""}},
			expData:     "ab",
			expComplete: true,
		},
		"Shuffled chunks should be delivered in order.": {
			chunks:      []chunk{{2, "c"}, {0, "a"}, {3, ""}, {1, "b"}},
			expData:     "abc",
			expComplete: true,
		},
		"Missing chunks should not complete.": {
			chunks:      []chunk{{0, "a"}, {2, "c"}, {3, ""}},
			expData:     "a",
			expComplete: false,
		},
		"An empty stream should complete.": {
			chunks:      []chunk{{0, ""}},
			expComplete: true,
		},
		"A duplicated chunk should fail.": {
			chunks: []chunk{{0, "a"}, {0, "a"}},
			expErr: true,
		},
		"A duplicated pending chunk should fail.": {
			chunks: []chunk{{3, "a"}, {3, "a"}},
			expErr: true,
		},
		"A chunk after the end of stream should fail.": {
			chunks: []chunk{{0, "a"}, {1, ""}, {1, "b"}},
			expErr: true,
		},
		"An end of stream before received chunks should fail.": {
			chunks: []chunk{{5, "f"}, {2, ""}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			r := session.NewReassembler(0)
			var got []byte
			var err error
			for _, c := range test.chunks {
				var ready [][]byte
				ready, err = r.Add(c.seq, []byte(c.data))
				if err != nil {
					break
				}
				for _, b := range ready {
					got = append(got, b...)
				}
			}

			if test.expErr {
				assert.ErrorIs(err, protocol.ErrProtocol)
				return
			}
			assert.NoError(err)
			assert.Equal(test.expData, string(got))
			assert.Equal(test.expComplete, r.Complete())
		})
	}
}

func TestReassemblerLimitsPendingChunks(t *testing.T) {
	require := require.New(t)

	r := session.NewReassembler(2)
	_, err := r.Add(1, []byte("b"))
	require.NoError(err)
	_, err = r.Add(2, []byte("c"))
	require.NoError(err)
	_, err = r.Add(3, []byte("d"))
	require.ErrorIs(err, protocol.ErrProtocol)
}
