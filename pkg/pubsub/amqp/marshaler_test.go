/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package amqp

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

func TestMarshaler(t *testing.T) {
	m := DefaultMarshaler{}

	t.Run("round trip", func(t *testing.T) {
		msg := message.NewMessage("msg1", []byte("payload"))
		msg.Metadata.Set("key1", "value1")

		publishing, err := m.Marshal(msg)
		require.NoError(t, err)
		require.Equal(t, "payload", string(publishing.Body))
		require.Equal(t, "msg1", publishing.Headers[defaultMessageUUIDHeaderKey])
		require.Equal(t, "value1", publishing.Headers["key1"])
		require.EqualValues(t, amqp.Persistent, publishing.DeliveryMode)

		msg2, err := m.Unmarshal(amqp.Delivery{
			Body:    publishing.Body,
			Headers: publishing.Headers,
		})
		require.NoError(t, err)
		require.Equal(t, "msg1", msg2.UUID)
		require.Equal(t, "payload", string(msg2.Payload))
		require.Equal(t, "value1", msg2.Metadata["key1"])
	})

	t.Run("expiration metadata", func(t *testing.T) {
		msg := message.NewMessage("msg1", []byte("payload"))
		msg.Metadata.Set(metadataExpiration, "2s")

		publishing, err := m.Marshal(msg)
		require.NoError(t, err)
		require.Equal(t, "2000", publishing.Expiration)

		_, ok := publishing.Headers[metadataExpiration]
		require.False(t, ok)
	})

	t.Run("invalid expiration metadata", func(t *testing.T) {
		msg := message.NewMessage("msg1", []byte("payload"))
		msg.Metadata.Set(metadataExpiration, "invalid")

		publishing, err := m.Marshal(msg)
		require.NoError(t, err)
		require.Empty(t, publishing.Expiration)
	})

	t.Run("array header value", func(t *testing.T) {
		delivery := amqp.Delivery{
			Body: []byte("payload"),
			Headers: amqp.Table{
				defaultMessageUUIDHeaderKey: "msg1",
				metadataDeath: []interface{}{
					amqp.Table{"queue": "queue1", "reason": "rejected"},
				},
			},
		}

		msg, err := m.Unmarshal(delivery)
		require.NoError(t, err)
		require.Contains(t, msg.Metadata[metadataDeath], "queue1")

		publishing, err := m.Marshal(msg)
		require.NoError(t, err)
		require.Len(t, publishing.Headers[metadataDeath], 1)
	})

	t.Run("invalid UUID header", func(t *testing.T) {
		_, err := m.Unmarshal(amqp.Delivery{
			Headers: amqp.Table{defaultMessageUUIDHeaderKey: 42},
		})
		require.Error(t, err)
	})

	t.Run("custom UUID header key", func(t *testing.T) {
		m := DefaultMarshaler{MessageUUIDHeaderKey: "custom-uuid"}

		publishing, err := m.Marshal(message.NewMessage("msg1", nil))
		require.NoError(t, err)
		require.Equal(t, "msg1", publishing.Headers["custom-uuid"])
	})

	t.Run("not persistent delivery mode", func(t *testing.T) {
		m := DefaultMarshaler{NotPersistentDeliveryMode: true}

		publishing, err := m.Marshal(message.NewMessage("msg1", nil))
		require.NoError(t, err)
		require.NotEqualValues(t, amqp.Persistent, publishing.DeliveryMode)
	})
}
