/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestStartCmdContents(t *testing.T) {
	startCmd := GetStartCmd()

	require.Equal(t, "start", startCmd.Use)
	require.Equal(t, "Start agora-server", startCmd.Short)
	require.Equal(t, "Start agora-server", startCmd.Long)

	checkFlagPropertiesCorrect(t, startCmd, hostURLFlagName, hostURLFlagShorthand, hostURLFlagUsage)
}

func TestStartCmdWithBlankArg(t *testing.T) {
	startCmd := GetStartCmd()

	startCmd.SetArgs([]string{"--" + hostURLFlagName, ""})

	err := startCmd.Execute()
	require.Error(t, err)
	require.Equal(t, "host-url value is empty", err.Error())
}

func TestStartCmdWithMissingArg(t *testing.T) {
	startCmd := GetStartCmd()

	startCmd.SetArgs([]string{})

	err := startCmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "Neither host-url (command line flag) nor AGORA_HOST_URL (environment variable) have been set.")
}

func TestGetAgoraParameters(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		params, err := testGetParameters(t, "--"+hostURLFlagName, "localhost:8080")
		require.NoError(t, err)

		require.Equal(t, "localhost:8080", params.hostURL)
		require.Equal(t, "http://localhost:8080", params.externalEndpoint)
		require.Equal(t, defaultServiceName, params.serviceName)
		require.Empty(t, params.databaseURL)
		require.Empty(t, params.amqpURL)
		require.Equal(t, defaultSigClockSkew, params.sigClockSkew)
		require.Equal(t, defaultSuspenseTTL, params.suspenseTTL)
		require.Equal(t, defaultOutboundTimeout, params.outboundTimeout)
		require.Equal(t, defaultDeadLetterRetention, params.deadLetterRetention)
		require.Equal(t, defaultTaskCheckInterval, params.taskCheckInterval)
		require.Equal(t, defaultPageSize, params.pageSize)
		require.False(t, params.trackingEnabled)
		require.False(t, params.maintenanceMode)
		require.Zero(t, params.failureThreshold)
		require.Zero(t, params.queuePoolSize)
		require.Empty(t, params.retryPolicies)
		require.Empty(t, params.unsignedAllowlist)
	})

	t.Run("Overrides", func(t *testing.T) {
		params, err := testGetParameters(t,
			"--"+hostURLFlagName, "localhost:8080",
			"--"+externalEndpointFlagName, "https://tame.example",
			"--"+serviceNameFlagName, "tame",
			"--"+databaseURLFlagName, "postgres://localhost/agora",
			"--"+amqpURLFlagName, "amqp://localhost:5672",
			"--"+suspenseTTLFlagName, "30m",
			"--"+sigClockSkewFlagName, "1m",
			"--"+pageSizeFlagName, "10",
			"--"+trackingEnabledFlagName, "true",
			"--"+maintenanceModeFlagName, "true",
			"--"+allowedDomainsFlagName, "sharp.example",
			"--"+allowedDomainsFlagName, "witty.example",
			"--"+adminTokenFlagName, "ADMIN_TOKEN",
			"--"+breakerFailureThresholdFlagName, "7",
			"--"+breakerRecoveryTimeoutFlagName, "2m",
			"--"+maxJSONDepthFlagName, "32",
			"--"+queuePoolSizeFlagName, "4",
			"--"+retryPolicyFlagName, "Create:8:30s:2.0",
			"--"+unsignedAllowlistFlagName, "Create=https://relay.example/actor",
		)
		require.NoError(t, err)

		require.Equal(t, "https://tame.example", params.externalEndpoint)
		require.Equal(t, "tame", params.serviceName)
		require.Equal(t, "postgres://localhost/agora", params.databaseURL)
		require.Equal(t, "amqp://localhost:5672", params.amqpURL)
		require.Equal(t, 30*time.Minute, params.suspenseTTL)
		require.Equal(t, time.Minute, params.sigClockSkew)
		require.Equal(t, 10, params.pageSize)
		require.True(t, params.trackingEnabled)
		require.True(t, params.maintenanceMode)
		require.Equal(t, []string{"sharp.example", "witty.example"}, params.allowedDomains)
		require.Equal(t, "ADMIN_TOKEN", params.adminToken)
		require.Equal(t, 7, params.failureThreshold)
		require.Equal(t, 2*time.Minute, params.recoveryTimeout)
		require.Equal(t, 32, params.maxJSONDepth)
		require.Equal(t, 4, params.queuePoolSize)
		require.Equal(t, []string{"Create:8:30s:2.0"}, params.retryPolicies)
		require.Equal(t, []string{"Create=https://relay.example/actor"}, params.unsignedAllowlist)
	})

	t.Run("From environment", func(t *testing.T) {
		t.Setenv(hostURLEnvKey, "localhost:8080")
		t.Setenv(blockedDomainsEnvKey, "sharp.example,witty.example")

		params, err := testGetParameters(t)
		require.NoError(t, err)

		require.Equal(t, "localhost:8080", params.hostURL)
		require.Equal(t, []string{"sharp.example", "witty.example"}, params.blockedDomains)
	})

	t.Run("Invalid duration", func(t *testing.T) {
		_, err := testGetParameters(t,
			"--"+hostURLFlagName, "localhost:8080",
			"--"+suspenseTTLFlagName, "bogus",
		)
		require.Error(t, err)
		require.Contains(t, err.Error(), suspenseTTLFlagName)
	})

	t.Run("Invalid int", func(t *testing.T) {
		_, err := testGetParameters(t,
			"--"+hostURLFlagName, "localhost:8080",
			"--"+pageSizeFlagName, "bogus",
		)
		require.Error(t, err)
		require.Contains(t, err.Error(), pageSizeFlagName)
	})

	t.Run("Invalid bool", func(t *testing.T) {
		_, err := testGetParameters(t,
			"--"+hostURLFlagName, "localhost:8080",
			"--"+trackingEnabledFlagName, "bogus",
		)
		require.Error(t, err)
		require.Contains(t, err.Error(), trackingEnabledFlagName)
	})
}

func testGetParameters(t *testing.T, args ...string) (*agoraParameters, error) {
	t.Helper()

	var params *agoraParameters

	cmd := &cobra.Command{
		Use: "start",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error

			params, err = getAgoraParameters(cmd)

			return err
		},
	}

	createFlags(cmd)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		return nil, err
	}

	return params, nil
}

func checkFlagPropertiesCorrect(t *testing.T, cmd *cobra.Command, flagName, flagShorthand, flagUsage string) {
	t.Helper()

	flag := cmd.Flag(flagName)

	require.NotNil(t, flag)
	require.Equal(t, flagName, flag.Name)
	require.Equal(t, flagShorthand, flag.Shorthand)
	require.Equal(t, flagUsage, flag.Usage)

	flagAnnotations := flag.Annotations
	require.Nil(t, flagAnnotations)
}
