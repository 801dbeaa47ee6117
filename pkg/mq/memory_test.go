package mq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	t.Run("publish delivers to every subscriber of the topic", func(t *testing.T) {
		q := NewInMemoryQueue()

		var got1, got2 [][]byte
		require.NoError(t, q.Subscribe("connections", func(b []byte) error {
			got1 = append(got1, b)
			return nil
		}))
		require.NoError(t, q.Subscribe("connections", func(b []byte) error {
			got2 = append(got2, b)
			return nil
		}))
		require.NoError(t, q.Subscribe("other", func(b []byte) error {
			t.Fatal("unexpected delivery to another topic")
			return nil
		}))

		require.NoError(t, q.Publish("connections", []byte("m1")))

		assert.Equal(t, [][]byte{[]byte("m1")}, got1)
		assert.Equal(t, [][]byte{[]byte("m1")}, got2)
		assert.Len(t, q.GetMessages("connections"), 1)
	})

	t.Run("handler error does not stop remaining handlers", func(t *testing.T) {
		q := NewInMemoryQueue()
		boom := errors.New("boom")

		delivered := 0
		require.NoError(t, q.Subscribe("t", func([]byte) error { return boom }))
		require.NoError(t, q.Subscribe("t", func([]byte) error {
			delivered++
			return nil
		}))

		err := q.Publish("t", []byte("x"))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, delivered)
	})

	t.Run("keyed publish delivers like publish", func(t *testing.T) {
		var q KeyedQueue = NewInMemoryQueue()

		var got []string
		require.NoError(t, q.Subscribe("t", func(b []byte) error {
			got = append(got, string(b))
			return nil
		}))
		require.NoError(t, q.PublishWithKey("t", "k1", []byte("a")))
		require.NoError(t, q.PublishWithKey("t", "k2", []byte("b")))

		assert.Equal(t, []string{"a", "b"}, got)
	})

	t.Run("closed queue rejects publish and subscribe", func(t *testing.T) {
		q := NewInMemoryQueue()
		require.NoError(t, q.Close())

		assert.ErrorIs(t, q.Publish("t", []byte("x")), ErrQueueClosed)
		assert.ErrorIs(t, q.Subscribe("t", func([]byte) error { return nil }), ErrQueueClosed)
	})
}
