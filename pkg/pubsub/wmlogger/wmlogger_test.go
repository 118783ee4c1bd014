/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package wmlogger

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger := New()
	require.NotNil(t, logger)
}

func TestWMLogger(t *testing.T) {
	v2, e := url.Parse("https://example.com")
	require.NoError(t, e)

	fields := watermill.LogFields{"field1": "value1", "field2": v2}

	err := fmt.Errorf("some error")

	t.Run("log at all levels", func(t *testing.T) {
		logger := New()

		require.NotPanics(t, func() {
			logger.Error("message", err, fields)
			logger.Info("message", fields)
			logger.Debug("message", fields)
			logger.Trace("message", nil)
		})
	})

	t.Run("With", func(t *testing.T) {
		logger := New().With(watermill.LogFields{"field3": "value3"})
		require.NotNil(t, logger)

		require.NotPanics(t, func() {
			logger.Debug("message", fields)
		})
	})

	t.Run("zapFields", func(t *testing.T) {
		logger := newWMLogger(nil)

		require.Empty(t, logger.zapFields(nil))
		require.Len(t, logger.zapFields(fields), 2)
	})
}
