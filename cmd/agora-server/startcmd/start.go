/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/activitypub/client"
	"github.com/agorafed/agora/pkg/activitypub/client/transport"
	"github.com/agorafed/agora/pkg/activitypub/httpsig"
	aphandler "github.com/agorafed/agora/pkg/activitypub/resthandler"
	"github.com/agorafed/agora/pkg/activitypub/safejson"
	"github.com/agorafed/agora/pkg/activitypub/service/activityhandler"
	"github.com/agorafed/agora/pkg/activitypub/service/breaker"
	"github.com/agorafed/agora/pkg/activitypub/service/domainpolicy"
	"github.com/agorafed/agora/pkg/activitypub/service/inbox"
	"github.com/agorafed/agora/pkg/activitypub/service/outbox"
	"github.com/agorafed/agora/pkg/activitypub/service/queue"
	apspi "github.com/agorafed/agora/pkg/activitypub/service/spi"
	"github.com/agorafed/agora/pkg/activitypub/store/memstore"
	"github.com/agorafed/agora/pkg/activitypub/store/pgstore"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	"github.com/agorafed/agora/pkg/httpserver"
	"github.com/agorafed/agora/pkg/httpserver/auth"
	"github.com/agorafed/agora/pkg/httpserver/maintenance"
	"github.com/agorafed/agora/pkg/nodeinfo"
	"github.com/agorafed/agora/pkg/observability/metrics"
	"github.com/agorafed/agora/pkg/observability/metrics/noop"
	"github.com/agorafed/agora/pkg/observability/metrics/prometheus"
	"github.com/agorafed/agora/pkg/observability/tracker"
	"github.com/agorafed/agora/pkg/pubsub/amqp"
	"github.com/agorafed/agora/pkg/pubsub/mempubsub"
	pubsubspi "github.com/agorafed/agora/pkg/pubsub/spi"
	"github.com/agorafed/agora/pkg/taskmgr"
	"github.com/agorafed/agora/pkg/webfinger"
	wfclient "github.com/agorafed/agora/pkg/webfinger/client"
)

var logger = log.New("agora-server")

const (
	servicePath = "/services/agora"
	mainKeyID   = "main"

	serverIdleTimeout       = 2 * time.Minute
	serverReadHeaderTimeout = 20 * time.Second

	suspenseExpiryTaskID  = "suspense-expiry"
	deadLetterTrimTaskID  = "dead-letter-trim"
	trackerPurgeTaskID    = "tracker-purge"
	suspenseExpiryPeriod  = time.Minute
	deadLetterTrimPeriod  = time.Hour
	trackerPurgePeriod    = 10 * time.Minute
	adminTokenID          = "admin"
	nodeInfoRefreshPeriod = 15 * time.Second
)

// activityStores aggregates the store interfaces that the server wires together.
type activityStores interface {
	store.Store
	store.SuspenseStore
	store.DeadLetterStore
}

type pubSub interface {
	SubscribeWithOpts(ctx context.Context, topic string, opts ...pubsubspi.Option) (<-chan *message.Message, error)
	Publish(topic string, messages ...*message.Message) error
	PublishWithOpts(topic string, msg *message.Message, opts ...pubsubspi.Option) error
	Start()
	Stop()
	State() uint32
}

// HTTPServer starts the HTTP server and the ActivityPub services, then waits
// for an interrupt. Services are started in order and stopped in reverse.
type HTTPServer struct {
	services []apspi.ServiceLifecycle
}

// Start starts the HTTP server and blocks until an interrupt is received.
func (s *HTTPServer) Start(srv *httpserver.Server) error {
	for _, svc := range s.services {
		svc.Start()
	}

	if err := srv.Start(); err != nil {
		return err
	}

	logger.Info("Started agora-server")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-interrupt

	logger.Info("Shutting down agora-server")

	for i := len(s.services) - 1; i >= 0; i-- {
		s.services[i].Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Stop(ctx)
}

// GetStartCmd returns the Cobra start command.
func GetStartCmd() *cobra.Command {
	startCmd := createStartCmd()

	createFlags(startCmd)

	return startCmd
}

func createStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start agora-server",
		Long:  "Start agora-server",
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := getAgoraParameters(cmd)
			if err != nil {
				return err
			}

			return startAgoraServices(parameters, &HTTPServer{})
		},
	}
}

// nolint: funlen,gocyclo
func startAgoraServices(parameters *agoraParameters, srv *HTTPServer) error {
	if parameters.logLevel != "" {
		setLogLevels(logger, parameters.logLevel)
	}

	externalURL, err := url.Parse(parameters.externalEndpoint)
	if err != nil {
		return fmt.Errorf("parse external endpoint: %w", err)
	}

	serviceIRI := mustParseURL(parameters.externalEndpoint, servicePath)
	publicKeyIRI := mustParseURL(parameters.externalEndpoint, fmt.Sprintf("%s/keys/%s", servicePath, mainKeyID))

	activityStore, closeStore, err := createActivityStore(parameters)
	if err != nil {
		return err
	}

	privateKey, err := loadOrCreatePrivateKey(parameters.privateKeyPath)
	if err != nil {
		return err
	}

	if err := ensureServiceActor(activityStore, parameters, serviceIRI, publicKeyIRI, privateKey); err != nil {
		return err
	}

	var ps pubSub

	if parameters.amqpURL != "" {
		ps = amqp.New(amqp.Config{URI: parameters.amqpURL})
	} else {
		logger.Warn("Using in-process message queue. This is not suitable for a multi-instance deployment.")

		ps = mempubsub.New(mempubsub.DefaultConfig())
	}

	var metricsProvider metrics.Provider

	if parameters.hostMetricsURL != "" {
		metricsProvider = prometheus.NewPrometheusProvider(httpserver.New(parameters.hostMetricsURL, "", "",
			serverIdleTimeout, serverReadHeaderTimeout))
	} else {
		metricsProvider = noop.NewProvider()
	}

	if err := metricsProvider.Create(); err != nil {
		return fmt.Errorf("create metrics provider: %w", err)
	}

	mtcs := metricsProvider.Metrics()

	// All outbound federation traffic goes through the guarded client so that
	// a malicious IRI can never direct a fetch at private address space.
	httpClient := transport.NewHTTPClient(transport.ClientConfig{Timeout: parameters.outboundTimeout})

	apTransport := transport.New(httpClient, privateKey, publicKeyIRI,
		httpsig.NewSigner(httpsig.DefaultGetSignerConfig()),
		httpsig.NewSigner(httpsig.DefaultPostSignerConfig()))

	wfClient := wfclient.New(wfclient.WithHTTPClient(httpClient))

	apClient := client.New(client.Config{BlockedDomains: parameters.blockedDomains}, apTransport, wfClient)

	sigVerifier := httpsig.NewVerifier(apClient, parameters.sigClockSkew)

	parser := safejson.New(safejson.Config{
		MaxSize:         parameters.maxActivitySize,
		MaxDepth:        parameters.maxJSONDepth,
		MaxKeys:         parameters.maxJSONKeys,
		MaxStringLength: parameters.maxStringLength,
	})

	trk := tracker.New(tracker.Config{
		Enabled:            parameters.trackingEnabled,
		CompletedRetention: parameters.trackingRetention,
	})

	policy := domainpolicy.New(domainpolicy.Config{
		ServiceIRI:     serviceIRI,
		AllowedDomains: parameters.allowedDomains,
	}, activityStore)

	deliveryBreaker := breaker.New(breaker.Config{
		FailureThreshold: parameters.failureThreshold,
		RecoveryTimeout:  parameters.recoveryTimeout,
		HalfOpenProbes:   parameters.halfOpenProbes,
		DeadThreshold:    parameters.deadThreshold,
	})

	outboxHandler := activityhandler.NewOutbox(&activityhandler.Config{
		ServiceName: parameters.serviceName,
		ServiceIRI:  serviceIRI,
	}, activityStore)

	apOutbox, err := outbox.New(&outbox.Config{
		ServiceName: parameters.serviceName,
		ServiceIRI:  serviceIRI,
		PostTimeout: parameters.outboundTimeout,
	}, activityStore, ps, apTransport, outboxHandler, apClient, deliveryBreaker, mtcs)
	if err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}

	inboxHandler := activityhandler.NewInbox(&activityhandler.Config{
		ServiceName: parameters.serviceName,
		ServiceIRI:  serviceIRI,
		SuspenseTTL: parameters.suspenseTTL,
	}, activityStore, apOutbox, apClient)

	retryPolicies, err := parseRetryPolicies(parameters.retryPolicies)
	if err != nil {
		return err
	}

	activityQueue := queue.New(queue.Config{
		ServiceName:   parameters.serviceName,
		PoolSize:      parameters.queuePoolSize,
		MaxBackoff:    parameters.queueMaxBackoff,
		RetryPolicies: retryPolicies,
	}, ps, activityStore, inboxHandler.HandleActivity, mtcs)

	apInbox := inbox.New(&inbox.Config{
		ServiceName:       parameters.serviceName,
		ServiceIRI:        serviceIRI,
		UnsignedAllowlist: parameters.unsignedAllowlist,
	}, activityStore, parser, sigVerifier, httpsig.NewLDVerifier(apClient), apClient,
		activityQueue, policy, trk, mtcs)

	taskMgr := taskmgr.New(parameters.taskCheckInterval)

	registerTasks(taskMgr, activityStore, trk, parameters.deadLetterRetention)

	nodeInfoService := nodeinfo.NewService(parameters.serviceName, activityStore, nodeInfoRefreshPeriod)

	handlers := buildHandlers(parameters, activityStore, apInbox, policy, nodeInfoService,
		activityQueue, deliveryBreaker, externalURL, serviceIRI)

	httpServer := httpserver.New(parameters.hostURL, parameters.tlsCertificate, parameters.tlsKey,
		serverIdleTimeout, serverReadHeaderTimeout, handlers...)

	srv.services = []apspi.ServiceLifecycle{
		ps, outboxHandler, inboxHandler, apOutbox, activityQueue, apInbox, taskMgr, nodeInfoService,
	}

	err = srv.Start(httpServer)

	if destroyErr := metricsProvider.Destroy(); destroyErr != nil {
		logger.Warn("Error stopping metrics provider", log.WithError(destroyErr))
	}

	closeStore()

	return err
}

// parseRetryPolicies parses '<Type>:<maxAttempts>:<baseBackoff>:<multiplier>'
// entries into per-verb retry policies.
func parseRetryPolicies(entries []string) (map[vocab.Type]queue.RetryPolicy, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	policies := make(map[vocab.Type]queue.RetryPolicy, len(entries))

	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid value [%s] for parameter [%s]", entry, retryPolicyFlagName)
		}

		maxAttempts, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid value [%s] for parameter [%s]: %w", entry, retryPolicyFlagName, err)
		}

		baseBackoff, err := time.ParseDuration(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid value [%s] for parameter [%s]: %w", entry, retryPolicyFlagName, err)
		}

		multiplier, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value [%s] for parameter [%s]: %w", entry, retryPolicyFlagName, err)
		}

		policies[vocab.Type(parts[0])] = queue.RetryPolicy{
			MaxAttempts: maxAttempts,
			BaseBackoff: baseBackoff,
			Multiplier:  multiplier,
		}
	}

	return policies, nil
}

func createActivityStore(parameters *agoraParameters) (activityStores, func(), error) {
	if parameters.databaseURL != "" {
		pgStore, err := pgstore.Open(parameters.serviceName, parameters.databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}

		if err := pgStore.Migrate(); err != nil {
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}

		return pgStore, func() {
			if err := pgStore.Close(); err != nil {
				logger.Warn("Error closing database", log.WithError(err))
			}
		}, nil
	}

	logger.Warn("Using in-memory activity store. Activities will not survive a restart.")

	return memstore.New(parameters.serviceName), func() {}, nil
}

func loadOrCreatePrivateKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		logger.Warn("No private key configured. Generating an ephemeral signing key." +
			" Signatures will not verify across restarts.")

		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate private key: %w", err)
		}

		return key, nil
	}

	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key [%s]: %w", path, err)
	}

	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key file [%s]", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsedKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key [%s]: %w", path, err)
	}

	rsaKey, ok := parsedKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key [%s] is not an RSA key", path)
	}

	return rsaKey, nil
}

// ensureServiceActor stores the service actor document if it doesn't already
// exist, so that remote instances can resolve this service and its public key.
func ensureServiceActor(activityStore store.Store, parameters *agoraParameters,
	serviceIRI, publicKeyIRI *url.URL, privateKey *rsa.PrivateKey) error {
	if _, err := activityStore.GetActor(serviceIRI); err == nil {
		return nil
	}

	pubKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	pubKeyPem := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubKeyBytes}))

	actor := vocab.NewActor(vocab.TypeService,
		vocab.WithContext(vocab.ContextActivityStreams, vocab.ContextSecurity),
		vocab.WithID(serviceIRI),
		vocab.WithPreferredUsername(parameters.serviceName),
		vocab.WithInbox(mustParseURL(parameters.externalEndpoint, "/inbox")),
		vocab.WithOutbox(mustParseURL(parameters.externalEndpoint, servicePath+"/outbox")),
		vocab.WithFollowers(mustParseURL(parameters.externalEndpoint, servicePath+"/followers")),
		vocab.WithFollowing(mustParseURL(parameters.externalEndpoint, servicePath+"/following")),
		vocab.WithSharedInbox(mustParseURL(parameters.externalEndpoint, "/inbox")),
		vocab.WithPublicKey(vocab.NewPublicKey(publicKeyIRI, serviceIRI, pubKeyPem)),
	)

	if err := activityStore.PutActor(actor); err != nil {
		return fmt.Errorf("store service actor: %w", err)
	}

	logger.Info("Created service actor", logfields.WithActorIRI(serviceIRI))

	return nil
}

func registerTasks(taskMgr *taskmgr.Manager, activityStore activityStores, trk *tracker.Tracker,
	deadLetterRetention time.Duration) {
	taskMgr.RegisterTask(suspenseExpiryTaskID, suspenseExpiryPeriod, func() {
		if n, err := activityStore.DeleteExpiredSuspense(time.Now()); err != nil {
			logger.Error("Error deleting expired suspense records", log.WithError(err))
		} else if n > 0 {
			logger.Info("Deleted expired suspense records", logfields.WithTotal(n))
		}
	})

	taskMgr.RegisterTask(deadLetterTrimTaskID, deadLetterTrimPeriod, func() {
		if n, err := activityStore.DeleteExpiredDeadLetters(time.Now().Add(-deadLetterRetention)); err != nil {
			logger.Error("Error deleting expired dead-letter records", log.WithError(err))
		} else if n > 0 {
			logger.Info("Deleted expired dead-letter records", logfields.WithTotal(n))
		}
	})

	taskMgr.RegisterTask(trackerPurgeTaskID, trackerPurgePeriod, func() {
		if n := trk.Purge(); n > 0 {
			logger.Debug("Purged expired request traces", logfields.WithTotal(n))
		}
	})
}

// nolint: funlen
func buildHandlers(parameters *agoraParameters, activityStore activityStores, apInbox *inbox.Inbox,
	policy *domainpolicy.Manager, nodeInfoService *nodeinfo.Service, activityQueue *queue.Queue,
	deliveryBreaker *breaker.Breaker, externalURL, serviceIRI *url.URL) []httpserver.HTTPHandler {
	restCfg := &aphandler.Config{
		ServiceName: parameters.serviceName,
		ServiceIRI:  serviceIRI,
		PageSize:    parameters.pageSize,
	}

	var handlers []httpserver.HTTPHandler

	for _, handler := range apInbox.HTTPHandlers() {
		if parameters.maintenanceMode {
			handler = maintenance.NewMaintenanceWrapper(handler)
		}

		handlers = append(handlers, handler)
	}

	handlers = append(handlers,
		aphandler.NewServiceActor(restCfg, activityStore),
		aphandler.NewUserActor(restCfg, activityStore),
		aphandler.NewCommunityActor(restCfg, activityStore),
		aphandler.NewOutbox(restCfg, activityStore),
		aphandler.NewFollowers(servicePath+"/followers", restCfg, activityStore),
		aphandler.NewFollowing(servicePath+"/following", restCfg, activityStore),
		aphandler.NewFollowers("/u/{name}/followers", restCfg, activityStore),
		aphandler.NewFollowing("/u/{name}/following", restCfg, activityStore),
		aphandler.NewFollowers("/c/{name}/followers", restCfg, activityStore),
		aphandler.NewFeatured("/c/{name}/featured", restCfg, activityStore),
		aphandler.NewModerators("/c/{name}/moderators", restCfg, activityStore),
		webfinger.NewHandler(externalURL.Host, &actorRegistry{
			activityStore: activityStore,
			parameters:    parameters,
			serviceIRI:    serviceIRI,
		}),
		nodeinfo.NewWellKnownHandler(externalURL),
		nodeinfo.NewHandler(nodeinfo.V2_0, nodeInfoService),
		nodeinfo.NewHandler(nodeinfo.V2_1, nodeInfoService),
	)

	authCfg := adminAuthConfig(parameters)

	for _, handler := range []httpserver.HTTPHandler{
		newLogSpecWriter(), newLogSpecReader(),
		aphandler.NewDomainPolicyWriter(policy), aphandler.NewDomainPolicyReader(policy),
		aphandler.NewQueueReplayWriter(activityQueue),
		aphandler.NewBreakerReader(deliveryBreaker), aphandler.NewBreakerResetWriter(deliveryBreaker),
	} {
		handlers = append(handlers, auth.NewHandlerWrapper(authCfg, handler))
	}

	return handlers
}

// adminAuthConfig protects the administrative endpoints with the configured
// bearer token. With no token configured the endpoints are open access.
func adminAuthConfig(parameters *agoraParameters) auth.Config {
	if parameters.adminToken == "" {
		return auth.Config{}
	}

	return auth.Config{
		AuthTokensDef: []*auth.TokenDef{
			{
				EndpointExpression: logSpecPath,
				ReadTokens:         []string{adminTokenID},
				WriteTokens:        []string{adminTokenID},
			},
			{
				EndpointExpression: aphandler.DomainPolicyPath,
				ReadTokens:         []string{adminTokenID},
				WriteTokens:        []string{adminTokenID},
			},
			{
				EndpointExpression: aphandler.QueueReplayPath,
				ReadTokens:         []string{adminTokenID},
				WriteTokens:        []string{adminTokenID},
			},
			{
				EndpointExpression: aphandler.BreakerPath,
				ReadTokens:         []string{adminTokenID},
				WriteTokens:        []string{adminTokenID},
			},
		},
		AuthTokens: map[string]string{adminTokenID: parameters.adminToken},
	}
}

// actorRegistry resolves WebFinger acct names against locally stored actors.
type actorRegistry struct {
	activityStore store.Store
	parameters    *agoraParameters
	serviceIRI    *url.URL
}

func (r *actorRegistry) LocalActorIRI(name string) (*url.URL, bool) {
	if name == r.parameters.serviceName {
		return r.serviceIRI, true
	}

	for _, prefix := range []string{"/u/", "/c/"} {
		iri := mustParseURL(r.parameters.externalEndpoint, prefix+name)

		if _, err := r.activityStore.GetActor(iri); err == nil {
			return iri, true
		}
	}

	return nil, false
}

func mustParseURL(basePath, relativePath string) *url.URL {
	u, err := url.Parse(fmt.Sprintf("%s%s", basePath, relativePath))
	if err != nil {
		panic(fmt.Errorf("invalid URL: %s", err.Error()))
	}

	return u
}
