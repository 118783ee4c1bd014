/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/store/memstore"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	"github.com/agorafed/agora/pkg/observability/tracker"
	"github.com/agorafed/agora/pkg/taskmgr"
)

func TestLoadOrCreatePrivateKey(t *testing.T) {
	t.Run("Generate ephemeral key", func(t *testing.T) {
		key, err := loadOrCreatePrivateKey("")
		require.NoError(t, err)
		require.NotNil(t, key)
	})

	t.Run("Load PKCS1 key", func(t *testing.T) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		keyPath := filepath.Join(t.TempDir(), "key.pem")

		require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}), 0o600))

		loaded, err := loadOrCreatePrivateKey(keyPath)
		require.NoError(t, err)
		require.Equal(t, key.N, loaded.N)
	})

	t.Run("Load PKCS8 key", func(t *testing.T) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)

		keyPath := filepath.Join(t.TempDir(), "key.pem")

		require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{
			Type:  "PRIVATE KEY",
			Bytes: keyBytes,
		}), 0o600))

		loaded, err := loadOrCreatePrivateKey(keyPath)
		require.NoError(t, err)
		require.Equal(t, key.N, loaded.N)
	})

	t.Run("File not found", func(t *testing.T) {
		_, err := loadOrCreatePrivateKey(filepath.Join(t.TempDir(), "missing.pem"))
		require.Error(t, err)
	})

	t.Run("No PEM block", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "key.pem")

		require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0o600))

		_, err := loadOrCreatePrivateKey(keyPath)
		require.Error(t, err)
		require.Contains(t, err.Error(), "no PEM block")
	})
}

func TestEnsureServiceActor(t *testing.T) {
	params := &agoraParameters{
		serviceName:      "tame",
		externalEndpoint: "https://tame.example",
	}

	serviceIRI := mustParseURL(params.externalEndpoint, servicePath)
	publicKeyIRI := mustParseURL(params.externalEndpoint, servicePath+"/keys/"+mainKeyID)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	activityStore := memstore.New("tame")

	require.NoError(t, ensureServiceActor(activityStore, params, serviceIRI, publicKeyIRI, key))

	actor, err := activityStore.GetActor(serviceIRI)
	require.NoError(t, err)
	require.Equal(t, serviceIRI.String(), actor.ID().String())
	require.Equal(t, "tame", actor.PreferredUsername())
	require.NotNil(t, actor.PublicKey())
	require.Equal(t, publicKeyIRI.String(), actor.PublicKey().ID)
	require.Contains(t, actor.PublicKey().PublicKeyPem, "PUBLIC KEY")

	// A second call must not replace the existing actor.
	require.NoError(t, ensureServiceActor(activityStore, params, serviceIRI, publicKeyIRI, key))
}

func TestCreateActivityStore(t *testing.T) {
	t.Run("In-memory", func(t *testing.T) {
		activityStore, closeStore, err := createActivityStore(&agoraParameters{serviceName: "tame"})
		require.NoError(t, err)
		require.NotNil(t, activityStore)

		closeStore()
	})

	t.Run("Database unreachable", func(t *testing.T) {
		_, _, err := createActivityStore(&agoraParameters{
			serviceName: "tame",
			databaseURL: "postgres://localhost:1/agora?connect_timeout=1",
		})
		require.Error(t, err)
	})
}

func TestRegisterTasks(t *testing.T) {
	mgr := taskmgr.New(time.Second)

	registerTasks(mgr, memstore.New("tame"), tracker.New(tracker.Config{Enabled: true}), time.Hour)
}

func TestActorRegistry(t *testing.T) {
	params := &agoraParameters{
		serviceName:      "tame",
		externalEndpoint: "https://tame.example",
	}

	serviceIRI := mustParseURL(params.externalEndpoint, servicePath)

	activityStore := memstore.New("tame")

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	aliceParams := &agoraParameters{serviceName: "tame", externalEndpoint: "https://tame.example"}

	require.NoError(t, ensureServiceActor(activityStore, aliceParams,
		mustParseURL(params.externalEndpoint, "/u/alice"),
		mustParseURL(params.externalEndpoint, "/u/alice#main-key"), key))

	registry := &actorRegistry{
		activityStore: activityStore,
		parameters:    params,
		serviceIRI:    serviceIRI,
	}

	t.Run("Service actor", func(t *testing.T) {
		iri, ok := registry.LocalActorIRI("tame")
		require.True(t, ok)
		require.Equal(t, serviceIRI.String(), iri.String())
	})

	t.Run("Stored actor", func(t *testing.T) {
		iri, ok := registry.LocalActorIRI("alice")
		require.True(t, ok)
		require.Equal(t, "https://tame.example/u/alice", iri.String())
	})

	t.Run("Unknown actor", func(t *testing.T) {
		_, ok := registry.LocalActorIRI("bob")
		require.False(t, ok)
	})
}

func TestAdminAuthConfig(t *testing.T) {
	require.Empty(t, adminAuthConfig(&agoraParameters{}).AuthTokensDef)

	cfg := adminAuthConfig(&agoraParameters{adminToken: "ADMIN_TOKEN"})
	require.Len(t, cfg.AuthTokensDef, 4)
	require.Equal(t, "ADMIN_TOKEN", cfg.AuthTokens[adminTokenID])
}

func TestParseRetryPolicies(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		policies, err := parseRetryPolicies(nil)
		require.NoError(t, err)
		require.Nil(t, policies)
	})

	t.Run("Valid", func(t *testing.T) {
		policies, err := parseRetryPolicies([]string{"Create:8:30s:2.0", "Like:2:10s:1.5"})
		require.NoError(t, err)
		require.Len(t, policies, 2)

		policy := policies[vocab.TypeCreate]
		require.Equal(t, 8, policy.MaxAttempts)
		require.Equal(t, 30*time.Second, policy.BaseBackoff)
		require.Equal(t, 2.0, policy.Multiplier)
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, entry := range []string{"Create", "Create:x:30s:2.0", "Create:8:xx:2.0", "Create:8:30s:xx"} {
			_, err := parseRetryPolicies([]string{entry})
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid value")
		}
	})
}
