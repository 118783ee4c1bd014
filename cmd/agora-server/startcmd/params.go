/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/agorafed/agora/internal/pkg/cmdutil"
)

const (
	defaultServiceName         = "agora"
	defaultSigClockSkew        = 12 * time.Hour
	defaultSuspenseTTL         = 2 * time.Hour
	defaultOutboundTimeout     = 10 * time.Second
	defaultDeadLetterRetention = 7 * 24 * time.Hour
	defaultTaskCheckInterval   = 10 * time.Second
	defaultPageSize            = 50

	commonEnvVarUsageText = "Alternatively, this can be set with the following environment variable: "

	hostURLFlagName      = "host-url"
	hostURLFlagShorthand = "u"
	hostURLFlagUsage     = "URL to run the agora-server instance on. Format: HostName:Port."
	hostURLEnvKey        = "AGORA_HOST_URL"

	hostMetricsURLFlagName  = "host-metrics-url"
	hostMetricsURLFlagUsage = "Optional URL that exposes the Prometheus metrics endpoint. Format: HostName:Port. " +
		"If not set then metrics are disabled. " + commonEnvVarUsageText + hostMetricsURLEnvKey
	hostMetricsURLEnvKey = "AGORA_HOST_METRICS_URL"

	externalEndpointFlagName      = "external-endpoint"
	externalEndpointFlagShorthand = "e"
	externalEndpointFlagUsage     = "External endpoint that remote instances use to reach this one." +
		" This endpoint is used to generate the IDs of ActivityPub objects and" +
		" must be resolvable by remote instances. Format: scheme://HostName[:Port]." +
		commonEnvVarUsageText + externalEndpointEnvKey
	externalEndpointEnvKey = "AGORA_EXTERNAL_ENDPOINT"

	tlsCertificateFlagName      = "tls-certificate"
	tlsCertificateFlagShorthand = "y"
	tlsCertificateFlagUsage     = "TLS certificate for the agora server. " + commonEnvVarUsageText + tlsCertificateEnvKey
	tlsCertificateEnvKey        = "AGORA_TLS_CERTIFICATE"

	tlsKeyFlagName      = "tls-key"
	tlsKeyFlagShorthand = "x"
	tlsKeyFlagUsage     = "TLS key for the agora server. " + commonEnvVarUsageText + tlsKeyEnvKey
	tlsKeyEnvKey        = "AGORA_TLS_KEY"

	serviceNameFlagName  = "service-name"
	serviceNameFlagUsage = "The name of this service instance, used in logging and metrics. " +
		commonEnvVarUsageText + serviceNameEnvKey
	serviceNameEnvKey = "AGORA_SERVICE_NAME"

	databaseURLFlagName      = "database-url"
	databaseURLFlagShorthand = "v"
	databaseURLFlagUsage     = "The URL of the PostgreSQL database. If not set then an in-memory store is used," +
		" which is only suitable for testing. " + commonEnvVarUsageText + databaseURLEnvKey
	databaseURLEnvKey = "AGORA_DATABASE_URL"

	amqpURLFlagName  = "amqp-url"
	amqpURLFlagUsage = "The URL of the AMQP broker. If not set then an in-process message queue is used," +
		" which is only suitable for a single instance. " + commonEnvVarUsageText + amqpURLEnvKey
	amqpURLEnvKey = "AGORA_AMQP_URL"

	privateKeyPathFlagName  = "private-key-path"
	privateKeyPathFlagUsage = "The path of the PEM-encoded RSA private key used to sign outgoing requests. " +
		"If not set then an ephemeral key is generated at startup. " + commonEnvVarUsageText + privateKeyPathEnvKey
	privateKeyPathEnvKey = "AGORA_PRIVATE_KEY_PATH"

	allowedDomainsFlagName  = "allowed-domains"
	allowedDomainsFlagUsage = "An optional list of domains. If set then federation is restricted to" +
		" the given domains (allow-list mode). " + commonEnvVarUsageText + allowedDomainsEnvKey
	allowedDomainsEnvKey = "AGORA_ALLOWED_DOMAINS"

	blockedDomainsFlagName  = "blocked-domains"
	blockedDomainsFlagUsage = "An optional list of domains that are never contacted or accepted. " +
		commonEnvVarUsageText + blockedDomainsEnvKey
	blockedDomainsEnvKey = "AGORA_BLOCKED_DOMAINS"

	sigClockSkewFlagName  = "sig-clock-skew"
	sigClockSkewFlagUsage = "The maximum allowed clock skew when verifying HTTP signatures, e.g. '12h'. " +
		commonEnvVarUsageText + sigClockSkewEnvKey
	sigClockSkewEnvKey = "AGORA_SIG_CLOCK_SKEW"

	unsignedAllowlistFlagName  = "allowlist-unsigned"
	unsignedAllowlistFlagUsage = "An optional list of actor/verb pairs that are accepted without an HTTP" +
		" signature, in the form <Type>=<actorIRI>, e.g. 'Create=https://relay.example/actor'. " +
		commonEnvVarUsageText + unsignedAllowlistEnvKey
	unsignedAllowlistEnvKey = "AGORA_ALLOWLIST_UNSIGNED"

	maxActivitySizeFlagName  = "max-activity-size"
	maxActivitySizeFlagUsage = "The maximum size (in bytes) of an incoming activity document. " +
		commonEnvVarUsageText + maxActivitySizeEnvKey
	maxActivitySizeEnvKey = "AGORA_MAX_ACTIVITY_SIZE"

	maxJSONDepthFlagName  = "max-json-depth"
	maxJSONDepthFlagUsage = "The maximum nesting depth of an incoming activity document. " +
		commonEnvVarUsageText + maxJSONDepthEnvKey
	maxJSONDepthEnvKey = "AGORA_MAX_JSON_DEPTH"

	maxJSONKeysFlagName  = "max-json-keys"
	maxJSONKeysFlagUsage = "The maximum total number of object keys in an incoming activity document. " +
		commonEnvVarUsageText + maxJSONKeysEnvKey
	maxJSONKeysEnvKey = "AGORA_MAX_JSON_KEYS"

	maxStringLengthFlagName  = "max-string-length"
	maxStringLengthFlagUsage = "The maximum length of a string value in an incoming activity document. " +
		commonEnvVarUsageText + maxStringLengthEnvKey
	maxStringLengthEnvKey = "AGORA_MAX_STRING_LENGTH"

	breakerFailureThresholdFlagName  = "breaker-failure-threshold"
	breakerFailureThresholdFlagUsage = "The number of consecutive delivery failures that opens the" +
		" per-domain circuit breaker. " + commonEnvVarUsageText + breakerFailureThresholdEnvKey
	breakerFailureThresholdEnvKey = "AGORA_BREAKER_FAILURE_THRESHOLD"

	breakerRecoveryTimeoutFlagName  = "breaker-recovery-timeout"
	breakerRecoveryTimeoutFlagUsage = "How long an open circuit breaker blocks deliveries before" +
		" admitting probes, e.g. '5m'. " + commonEnvVarUsageText + breakerRecoveryTimeoutEnvKey
	breakerRecoveryTimeoutEnvKey = "AGORA_BREAKER_RECOVERY_TIMEOUT"

	breakerHalfOpenProbesFlagName  = "breaker-half-open-probes"
	breakerHalfOpenProbesFlagUsage = "The maximum number of concurrent probe deliveries admitted while a" +
		" circuit breaker is half-open. " + commonEnvVarUsageText + breakerHalfOpenProbesEnvKey
	breakerHalfOpenProbesEnvKey = "AGORA_BREAKER_HALF_OPEN_PROBES"

	breakerDeadThresholdFlagName  = "breaker-dead-threshold"
	breakerDeadThresholdFlagUsage = "How long a domain may go without a successful delivery before it is" +
		" declared dead, e.g. '24h'. " + commonEnvVarUsageText + breakerDeadThresholdEnvKey
	breakerDeadThresholdEnvKey = "AGORA_BREAKER_DEAD_THRESHOLD"

	queuePoolSizeFlagName  = "queue-pool-size"
	queuePoolSizeFlagUsage = "The number of concurrent workers processing queued activities. " +
		commonEnvVarUsageText + queuePoolSizeEnvKey
	queuePoolSizeEnvKey = "AGORA_QUEUE_POOL_SIZE"

	queueMaxBackoffFlagName  = "queue-max-backoff"
	queueMaxBackoffFlagUsage = "The maximum delay between retries of a failed activity, e.g. '10m'. " +
		commonEnvVarUsageText + queueMaxBackoffEnvKey
	queueMaxBackoffEnvKey = "AGORA_QUEUE_MAX_BACKOFF"

	retryPolicyFlagName  = "retry-policy"
	retryPolicyFlagUsage = "An optional list of per-verb retry policies, in the form" +
		" <Type>:<maxAttempts>:<baseBackoff>:<multiplier>, e.g. 'Create:8:30s:2.0'." +
		" Verbs without a policy use the built-in defaults. " +
		commonEnvVarUsageText + retryPolicyEnvKey
	retryPolicyEnvKey = "AGORA_RETRY_POLICY"

	trackingRetentionFlagName  = "tracking-retention"
	trackingRetentionFlagUsage = "How long completed request traces are retained, e.g. '1h'. " +
		commonEnvVarUsageText + trackingRetentionEnvKey
	trackingRetentionEnvKey = "AGORA_TRACKING_RETENTION"

	suspenseTTLFlagName  = "suspense-ttl"
	suspenseTTLFlagUsage = "How long an activity may be parked waiting for its prerequisite, e.g. '2h'. " +
		commonEnvVarUsageText + suspenseTTLEnvKey
	suspenseTTLEnvKey = "AGORA_SUSPENSE_TTL"

	outboundTimeoutFlagName  = "outbound-timeout"
	outboundTimeoutFlagUsage = "The per-destination delivery timeout, e.g. '30s'. " +
		commonEnvVarUsageText + outboundTimeoutEnvKey
	outboundTimeoutEnvKey = "AGORA_OUTBOUND_TIMEOUT"

	deadLetterRetentionFlagName  = "dead-letter-retention"
	deadLetterRetentionFlagUsage = "How long dead-lettered activities are retained, e.g. '168h'. " +
		commonEnvVarUsageText + deadLetterRetentionEnvKey
	deadLetterRetentionEnvKey = "AGORA_DEAD_LETTER_RETENTION"

	taskCheckIntervalFlagName  = "task-check-interval"
	taskCheckIntervalFlagUsage = "How often the task manager checks for due housekeeping tasks, e.g. '10s'. " +
		commonEnvVarUsageText + taskCheckIntervalEnvKey
	taskCheckIntervalEnvKey = "AGORA_TASK_CHECK_INTERVAL"

	trackingEnabledFlagName  = "tracking-enabled"
	trackingEnabledFlagUsage = "Set to 'true' to record per-request checkpoint traces for debugging. " +
		commonEnvVarUsageText + trackingEnabledEnvKey
	trackingEnabledEnvKey = "AGORA_TRACKING_ENABLED"

	maintenanceModeFlagName  = "maintenance-mode"
	maintenanceModeFlagUsage = "Set to 'true' to return 503 for all inbox endpoints, e.g. during a migration. " +
		commonEnvVarUsageText + maintenanceModeEnvKey
	maintenanceModeEnvKey = "AGORA_MAINTENANCE_MODE"

	adminTokenFlagName  = "admin-token"
	adminTokenFlagUsage = "An optional bearer token that protects the administrative endpoints. " +
		"If not set then the administrative endpoints are open. " + commonEnvVarUsageText + adminTokenEnvKey
	adminTokenEnvKey = "AGORA_ADMIN_TOKEN" //nolint: gosec

	pageSizeFlagName  = "page-size"
	pageSizeFlagUsage = "The number of items returned in a collection page. " +
		commonEnvVarUsageText + pageSizeEnvKey
	pageSizeEnvKey = "AGORA_PAGE_SIZE"
)

type agoraParameters struct {
	hostURL             string
	hostMetricsURL      string
	externalEndpoint    string
	tlsCertificate      string
	tlsKey              string
	serviceName         string
	databaseURL         string
	amqpURL             string
	privateKeyPath      string
	logLevel            string
	allowedDomains      []string
	blockedDomains      []string
	unsignedAllowlist   []string
	sigClockSkew        time.Duration
	maxActivitySize     int
	maxJSONDepth        int
	maxJSONKeys         int
	maxStringLength     int
	suspenseTTL         time.Duration
	outboundTimeout     time.Duration
	deadLetterRetention time.Duration
	taskCheckInterval   time.Duration
	failureThreshold    int
	recoveryTimeout     time.Duration
	halfOpenProbes      int
	deadThreshold       time.Duration
	queuePoolSize       int
	queueMaxBackoff     time.Duration
	retryPolicies       []string
	trackingEnabled     bool
	trackingRetention   time.Duration
	maintenanceMode     bool
	adminToken          string
	pageSize            int
}

// nolint: gocyclo,funlen
func getAgoraParameters(cmd *cobra.Command) (*agoraParameters, error) {
	hostURL, err := cmdutil.GetUserSetVarFromString(cmd, hostURLFlagName, hostURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	hostMetricsURL, err := cmdutil.GetUserSetVarFromString(cmd, hostMetricsURLFlagName, hostMetricsURLEnvKey, true)
	if err != nil {
		return nil, err
	}

	externalEndpoint, err := cmdutil.GetUserSetVarFromString(cmd, externalEndpointFlagName, externalEndpointEnvKey, true)
	if err != nil {
		return nil, err
	}

	if externalEndpoint == "" {
		externalEndpoint = "http://" + hostURL
	}

	tlsCertificate, err := cmdutil.GetUserSetVarFromString(cmd, tlsCertificateFlagName, tlsCertificateEnvKey, true)
	if err != nil {
		return nil, err
	}

	tlsKey, err := cmdutil.GetUserSetVarFromString(cmd, tlsKeyFlagName, tlsKeyEnvKey, true)
	if err != nil {
		return nil, err
	}

	serviceName := cmdutil.GetUserSetOptionalVarFromString(cmd, serviceNameFlagName, serviceNameEnvKey)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	databaseURL, err := cmdutil.GetUserSetVarFromString(cmd, databaseURLFlagName, databaseURLEnvKey, true)
	if err != nil {
		return nil, err
	}

	amqpURL, err := cmdutil.GetUserSetVarFromString(cmd, amqpURLFlagName, amqpURLEnvKey, true)
	if err != nil {
		return nil, err
	}

	privateKeyPath, err := cmdutil.GetUserSetVarFromString(cmd, privateKeyPathFlagName, privateKeyPathEnvKey, true)
	if err != nil {
		return nil, err
	}

	logLevel, err := cmdutil.GetUserSetVarFromString(cmd, LogLevelFlagName, LogLevelEnvKey, true)
	if err != nil {
		return nil, err
	}

	allowedDomains := cmdutil.GetUserSetOptionalVarFromArrayString(cmd, allowedDomainsFlagName, allowedDomainsEnvKey)
	blockedDomains := cmdutil.GetUserSetOptionalVarFromArrayString(cmd, blockedDomainsFlagName, blockedDomainsEnvKey)
	unsignedAllowlist := cmdutil.GetUserSetOptionalVarFromArrayString(cmd, unsignedAllowlistFlagName,
		unsignedAllowlistEnvKey)

	sigClockSkew, err := getDuration(cmd, sigClockSkewFlagName, sigClockSkewEnvKey, defaultSigClockSkew)
	if err != nil {
		return nil, err
	}

	maxActivitySize, err := getInt(cmd, maxActivitySizeFlagName, maxActivitySizeEnvKey, 0)
	if err != nil {
		return nil, err
	}

	maxJSONDepth, err := getInt(cmd, maxJSONDepthFlagName, maxJSONDepthEnvKey, 0)
	if err != nil {
		return nil, err
	}

	maxJSONKeys, err := getInt(cmd, maxJSONKeysFlagName, maxJSONKeysEnvKey, 0)
	if err != nil {
		return nil, err
	}

	maxStringLength, err := getInt(cmd, maxStringLengthFlagName, maxStringLengthEnvKey, 0)
	if err != nil {
		return nil, err
	}

	suspenseTTL, err := getDuration(cmd, suspenseTTLFlagName, suspenseTTLEnvKey, defaultSuspenseTTL)
	if err != nil {
		return nil, err
	}

	outboundTimeout, err := getDuration(cmd, outboundTimeoutFlagName, outboundTimeoutEnvKey, defaultOutboundTimeout)
	if err != nil {
		return nil, err
	}

	deadLetterRetention, err := getDuration(cmd, deadLetterRetentionFlagName, deadLetterRetentionEnvKey,
		defaultDeadLetterRetention)
	if err != nil {
		return nil, err
	}

	taskCheckInterval, err := getDuration(cmd, taskCheckIntervalFlagName, taskCheckIntervalEnvKey,
		defaultTaskCheckInterval)
	if err != nil {
		return nil, err
	}

	failureThreshold, err := getInt(cmd, breakerFailureThresholdFlagName, breakerFailureThresholdEnvKey, 0)
	if err != nil {
		return nil, err
	}

	recoveryTimeout, err := getDuration(cmd, breakerRecoveryTimeoutFlagName, breakerRecoveryTimeoutEnvKey, 0)
	if err != nil {
		return nil, err
	}

	halfOpenProbes, err := getInt(cmd, breakerHalfOpenProbesFlagName, breakerHalfOpenProbesEnvKey, 0)
	if err != nil {
		return nil, err
	}

	deadThreshold, err := getDuration(cmd, breakerDeadThresholdFlagName, breakerDeadThresholdEnvKey, 0)
	if err != nil {
		return nil, err
	}

	queuePoolSize, err := getInt(cmd, queuePoolSizeFlagName, queuePoolSizeEnvKey, 0)
	if err != nil {
		return nil, err
	}

	queueMaxBackoff, err := getDuration(cmd, queueMaxBackoffFlagName, queueMaxBackoffEnvKey, 0)
	if err != nil {
		return nil, err
	}

	retryPolicies := cmdutil.GetUserSetOptionalVarFromArrayString(cmd, retryPolicyFlagName, retryPolicyEnvKey)

	trackingEnabled, err := getBool(cmd, trackingEnabledFlagName, trackingEnabledEnvKey, false)
	if err != nil {
		return nil, err
	}

	trackingRetention, err := getDuration(cmd, trackingRetentionFlagName, trackingRetentionEnvKey, 0)
	if err != nil {
		return nil, err
	}

	maintenanceMode, err := getBool(cmd, maintenanceModeFlagName, maintenanceModeEnvKey, false)
	if err != nil {
		return nil, err
	}

	adminToken, err := cmdutil.GetUserSetVarFromString(cmd, adminTokenFlagName, adminTokenEnvKey, true)
	if err != nil {
		return nil, err
	}

	pageSize, err := getInt(cmd, pageSizeFlagName, pageSizeEnvKey, defaultPageSize)
	if err != nil {
		return nil, err
	}

	return &agoraParameters{
		hostURL:             hostURL,
		hostMetricsURL:      hostMetricsURL,
		externalEndpoint:    externalEndpoint,
		tlsCertificate:      tlsCertificate,
		tlsKey:              tlsKey,
		serviceName:         serviceName,
		databaseURL:         databaseURL,
		amqpURL:             amqpURL,
		privateKeyPath:      privateKeyPath,
		logLevel:            logLevel,
		allowedDomains:      allowedDomains,
		blockedDomains:      blockedDomains,
		unsignedAllowlist:   unsignedAllowlist,
		sigClockSkew:        sigClockSkew,
		maxActivitySize:     maxActivitySize,
		maxJSONDepth:        maxJSONDepth,
		maxJSONKeys:         maxJSONKeys,
		maxStringLength:     maxStringLength,
		suspenseTTL:         suspenseTTL,
		outboundTimeout:     outboundTimeout,
		deadLetterRetention: deadLetterRetention,
		taskCheckInterval:   taskCheckInterval,
		failureThreshold:    failureThreshold,
		recoveryTimeout:     recoveryTimeout,
		halfOpenProbes:      halfOpenProbes,
		deadThreshold:       deadThreshold,
		queuePoolSize:       queuePoolSize,
		queueMaxBackoff:     queueMaxBackoff,
		retryPolicies:       retryPolicies,
		trackingEnabled:     trackingEnabled,
		trackingRetention:   trackingRetention,
		maintenanceMode:     maintenanceMode,
		adminToken:          adminToken,
		pageSize:            pageSize,
	}, nil
}

func getDuration(cmd *cobra.Command, flagName, envKey string,
	defaultDuration time.Duration) (time.Duration, error) {
	timeoutStr, err := cmdutil.GetUserSetVarFromString(cmd, flagName, envKey, true)
	if err != nil {
		return -1, err
	}

	if timeoutStr == "" {
		return defaultDuration, nil
	}

	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return -1, fmt.Errorf("invalid value [%s] for parameter [%s]: %w", timeoutStr, flagName, err)
	}

	return timeout, nil
}

func getInt(cmd *cobra.Command, flagName, envKey string, defaultValue int) (int, error) {
	str, err := cmdutil.GetUserSetVarFromString(cmd, flagName, envKey, true)
	if err != nil {
		return 0, err
	}

	if str == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid value [%s] for parameter [%s]: %w", str, flagName, err)
	}

	return value, nil
}

func getBool(cmd *cobra.Command, flagName, envKey string, defaultValue bool) (bool, error) {
	str, err := cmdutil.GetUserSetVarFromString(cmd, flagName, envKey, true)
	if err != nil {
		return false, err
	}

	if str == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseBool(str)
	if err != nil {
		return false, fmt.Errorf("invalid value [%s] for parameter [%s]: %w", str, flagName, err)
	}

	return value, nil
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(hostURLFlagName, hostURLFlagShorthand, "", hostURLFlagUsage)
	startCmd.Flags().StringP(hostMetricsURLFlagName, "", "", hostMetricsURLFlagUsage)
	startCmd.Flags().StringP(externalEndpointFlagName, externalEndpointFlagShorthand, "", externalEndpointFlagUsage)
	startCmd.Flags().StringP(tlsCertificateFlagName, tlsCertificateFlagShorthand, "", tlsCertificateFlagUsage)
	startCmd.Flags().StringP(tlsKeyFlagName, tlsKeyFlagShorthand, "", tlsKeyFlagUsage)
	startCmd.Flags().StringP(serviceNameFlagName, "", "", serviceNameFlagUsage)
	startCmd.Flags().StringP(databaseURLFlagName, databaseURLFlagShorthand, "", databaseURLFlagUsage)
	startCmd.Flags().StringP(amqpURLFlagName, "", "", amqpURLFlagUsage)
	startCmd.Flags().StringP(privateKeyPathFlagName, "", "", privateKeyPathFlagUsage)
	startCmd.Flags().StringP(LogLevelFlagName, LogLevelFlagShorthand, "", LogLevelPrefixFlagUsage)
	startCmd.Flags().StringArrayP(allowedDomainsFlagName, "", []string{}, allowedDomainsFlagUsage)
	startCmd.Flags().StringArrayP(blockedDomainsFlagName, "", []string{}, blockedDomainsFlagUsage)
	startCmd.Flags().StringArrayP(unsignedAllowlistFlagName, "", []string{}, unsignedAllowlistFlagUsage)
	startCmd.Flags().StringP(sigClockSkewFlagName, "", "", sigClockSkewFlagUsage)
	startCmd.Flags().StringP(maxActivitySizeFlagName, "", "", maxActivitySizeFlagUsage)
	startCmd.Flags().StringP(maxJSONDepthFlagName, "", "", maxJSONDepthFlagUsage)
	startCmd.Flags().StringP(maxJSONKeysFlagName, "", "", maxJSONKeysFlagUsage)
	startCmd.Flags().StringP(maxStringLengthFlagName, "", "", maxStringLengthFlagUsage)
	startCmd.Flags().StringP(suspenseTTLFlagName, "", "", suspenseTTLFlagUsage)
	startCmd.Flags().StringP(outboundTimeoutFlagName, "", "", outboundTimeoutFlagUsage)
	startCmd.Flags().StringP(deadLetterRetentionFlagName, "", "", deadLetterRetentionFlagUsage)
	startCmd.Flags().StringP(taskCheckIntervalFlagName, "", "", taskCheckIntervalFlagUsage)
	startCmd.Flags().StringP(breakerFailureThresholdFlagName, "", "", breakerFailureThresholdFlagUsage)
	startCmd.Flags().StringP(breakerRecoveryTimeoutFlagName, "", "", breakerRecoveryTimeoutFlagUsage)
	startCmd.Flags().StringP(breakerHalfOpenProbesFlagName, "", "", breakerHalfOpenProbesFlagUsage)
	startCmd.Flags().StringP(breakerDeadThresholdFlagName, "", "", breakerDeadThresholdFlagUsage)
	startCmd.Flags().StringP(queuePoolSizeFlagName, "", "", queuePoolSizeFlagUsage)
	startCmd.Flags().StringP(queueMaxBackoffFlagName, "", "", queueMaxBackoffFlagUsage)
	startCmd.Flags().StringArrayP(retryPolicyFlagName, "", []string{}, retryPolicyFlagUsage)
	startCmd.Flags().StringP(trackingEnabledFlagName, "", "", trackingEnabledFlagUsage)
	startCmd.Flags().StringP(trackingRetentionFlagName, "", "", trackingRetentionFlagUsage)
	startCmd.Flags().StringP(maintenanceModeFlagName, "", "", maintenanceModeFlagUsage)
	startCmd.Flags().StringP(adminTokenFlagName, "", "", adminTokenFlagUsage)
	startCmd.Flags().StringP(pageSizeFlagName, "", "", pageSizeFlagUsage)
}
