/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tracker

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackerDisabled(t *testing.T) {
	tr := New(Config{})

	requestID := tr.StartRequest()
	require.NotEmpty(t, requestID)

	tr.Checkpoint(requestID, CheckpointInitialReceipt, StatusOK)
	tr.Complete(requestID)

	require.Empty(t, tr.Timeline(requestID))
	require.Empty(t, tr.Incomplete())
}

func TestTrackerTimeline(t *testing.T) {
	tr := New(Config{Enabled: true})

	requestID := tr.StartRequest()

	tr.Checkpoint(requestID, CheckpointInitialReceipt, StatusOK)
	tr.Checkpoint(requestID, CheckpointJSONParse, StatusOK)
	tr.Checkpoint(requestID, CheckpointRequestInfoExtracted, StatusOK,
		WithActivityID("https://sharp.example/activities/1"))
	tr.Checkpoint(requestID, CheckpointSignatureVerify, StatusError,
		WithDetails("key unavailable"))

	timeline := tr.Timeline(requestID)
	require.Len(t, timeline, 4)
	require.Equal(t, CheckpointInitialReceipt, timeline[0].Checkpoint)
	require.Equal(t, "https://sharp.example/activities/1", timeline[2].ActivityID)
	require.Equal(t, StatusError, timeline[3].Status)
	require.Equal(t, "key unavailable", timeline[3].Details)

	require.Empty(t, tr.Timeline("unknown"))
}

func TestTrackerIncomplete(t *testing.T) {
	tr := New(Config{Enabled: true})

	requestID1 := tr.StartRequest()
	requestID2 := tr.StartRequest()

	tr.Checkpoint(requestID1, CheckpointInitialReceipt, StatusOK)
	tr.Checkpoint(requestID2, CheckpointInitialReceipt, StatusOK)

	tr.Complete(requestID1)

	incomplete := tr.Incomplete()
	require.Len(t, incomplete, 1)
	require.Equal(t, requestID2, incomplete[0].RequestID)
}

func TestTrackerByActivityID(t *testing.T) {
	tr := New(Config{Enabled: true})

	const activityID = "https://sharp.example/activities/2"

	requestID := tr.StartRequest()
	tr.Checkpoint(requestID, CheckpointDuplicateCheck, StatusIgnored, WithActivityID(activityID))

	otherID := tr.StartRequest()
	tr.Checkpoint(otherID, CheckpointDuplicateCheck, StatusOK, WithActivityID("https://other.example/3"))

	records := tr.ByActivityID(activityID)
	require.Len(t, records, 1)
	require.Equal(t, StatusIgnored, records[0].Status)
}

func TestTrackerFailedSince(t *testing.T) {
	tr := New(Config{Enabled: true})

	now := time.Now()
	tr.now = func() time.Time { return now }

	requestID := tr.StartRequest()
	tr.Checkpoint(requestID, CheckpointSignatureVerify, StatusError)

	failed := tr.FailedSince(time.Minute)
	require.Len(t, failed, 1)

	now = now.Add(2 * time.Minute)

	require.Empty(t, tr.FailedSince(time.Minute))
}

func TestTrackerCaptureRequest(t *testing.T) {
	tr := New(Config{Enabled: true, CaptureBody: true})

	requestID := tr.StartRequest()

	headers := http.Header{}
	headers.Set("Content-Type", "application/activity+json")
	headers.Set("Cookie", "session=secret")
	headers.Set("Authorization", "Bearer secret")

	tr.CaptureRequest(requestID, []byte(`{"type":"Create"}`), headers)

	tr.Checkpoint(requestID, CheckpointInitialReceipt, StatusOK)

	incomplete := tr.Incomplete()
	require.Len(t, incomplete, 1)
	require.Equal(t, []byte(`{"type":"Create"}`), incomplete[0].Body)
	require.Equal(t, "application/activity+json", incomplete[0].Headers.Get("Content-Type"))
	require.Empty(t, incomplete[0].Headers.Get("Cookie"))
	require.Empty(t, incomplete[0].Headers.Get("Authorization"))
}

func TestTrackerPurge(t *testing.T) {
	tr := New(Config{Enabled: true})

	now := time.Now()
	tr.now = func() time.Time { return now }

	completedID := tr.StartRequest()
	tr.Complete(completedID)

	incompleteID := tr.StartRequest()
	tr.Checkpoint(incompleteID, CheckpointInitialReceipt, StatusOK)

	require.Zero(t, tr.Purge())

	// Completed traces expire after 24 hours, incomplete after 7 days.
	now = now.Add(25 * time.Hour)
	require.Equal(t, 1, tr.Purge())
	require.Empty(t, tr.Timeline(completedID))
	require.NotEmpty(t, tr.Timeline(incompleteID))

	now = now.Add(7 * 24 * time.Hour)
	require.Equal(t, 1, tr.Purge())
}
