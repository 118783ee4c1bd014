/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

type stubSubscriber struct {
	chans []chan *message.Message
	err   error
}

func (s *stubSubscriber) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}

	msgChan := make(chan *message.Message, 1)

	s.chans = append(s.chans, msgChan)

	return msgChan, nil
}

func (s *stubSubscriber) Close() error {
	return nil
}

func TestPooledSubscriber(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s := &stubSubscriber{}

		p, err := newPooledSubscriber(context.Background(), 3, s, "topic")
		require.NoError(t, err)
		require.Len(t, s.chans, 3)

		p.start()

		s.chans[0] <- message.NewMessage("msg1", nil)
		s.chans[2] <- message.NewMessage("msg2", nil)

		got := make(map[string]struct{})

		for i := 0; i < 2; i++ {
			select {
			case msg := <-p.msgChan:
				got[msg.UUID] = struct{}{}
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for message")
			}
		}

		require.Contains(t, got, "msg1")
		require.Contains(t, got, "msg2")

		p.stop()
	})

	t.Run("subscribe error", func(t *testing.T) {
		errExpected := errors.New("injected subscribe error")

		_, err := newPooledSubscriber(context.Background(), 2, &stubSubscriber{err: errExpected}, "topic")
		require.ErrorIs(t, err, errExpected)
	})
}
