/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

// ErrMissingSignature indicates that the request carries no Signature header.
var ErrMissingSignature = errors.New("missing HTTP signature")

// ErrBadSignature indicates that the signature does not verify.
var ErrBadSignature = errors.New("invalid HTTP signature")

// ErrClockSkew indicates that the Date header is outside the accepted window.
var ErrClockSkew = errors.New("date header outside of acceptable clock skew")

// ErrKeyUnavailable indicates that the signing key could not be retrieved.
var ErrKeyUnavailable = errors.New("public key unavailable")

const defaultMaxClockSkew = 12 * time.Hour

type publicKeyRetriever interface {
	GetPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error)
}

type actorRetriever interface {
	publicKeyRetriever

	GetActor(actorIRI *url.URL) (*vocab.ActorType, error)
}

// Verifier verifies signatures of HTTP requests.
type Verifier struct {
	actorRetriever actorRetriever
	maxClockSkew   time.Duration
}

// NewVerifier returns a new HTTP signature verifier.
func NewVerifier(actorRetriever actorRetriever, maxClockSkew time.Duration) *Verifier {
	if maxClockSkew == 0 {
		maxClockSkew = defaultMaxClockSkew
	}

	return &Verifier{
		actorRetriever: actorRetriever,
		maxClockSkew:   maxClockSkew,
	}
}

// VerifyRequest verifies the following:
// - The Date header is within the acceptable clock skew.
// - The HTTP signature over the signed headers.
// - The Digest header matches the request body (for POSTs).
// - The key ID in the Signature header is owned by the signing actor.
//
// Returns the IRI of the actor that signed the request.
func (v *Verifier) VerifyRequest(req *http.Request) (*url.URL, error) {
	logger.Debug("Verifying request.", logfields.WithRequestHeaders(req.Header))

	if req.Header.Get("Signature") == "" && req.Header.Get("Authorization") == "" {
		return nil, ErrMissingSignature
	}

	if err := v.checkDate(req); err != nil {
		return nil, err
	}

	if err := v.checkDigest(req); err != nil {
		return nil, err
	}

	sigVerifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSignature, err)
	}

	keyID := sigVerifier.KeyId()

	keyIRI, err := url.Parse(keyID)
	if err != nil || !keyIRI.IsAbs() {
		return nil, fmt.Errorf("%w: invalid key ID [%s]", ErrBadSignature, keyID)
	}

	publicKey, err := v.actorRetriever.GetPublicKey(keyIRI)
	if err != nil {
		return nil, fmt.Errorf("%w: get public key [%s]: %s", ErrKeyUnavailable, keyIRI, err)
	}

	pubKey, err := parseRSAPublicKey(publicKey.PublicKeyPem)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key [%s]: %s", ErrBadSignature, keyIRI, err)
	}

	if err := sigVerifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		logger.Info("Signature verification failed for request",
			logfields.WithRequestURL(req.URL), log.WithError(err))

		return nil, fmt.Errorf("%w: %s", ErrBadSignature, err)
	}

	// Ensure that the key is actually owned by the actor it claims to belong
	// to. Otherwise this could be an attempt to impersonate an actor.
	ownerIRI, err := url.Parse(publicKey.Owner)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid key owner [%s]", ErrBadSignature, publicKey.Owner)
	}

	actor, err := v.actorRetriever.GetActor(ownerIRI)
	if err != nil {
		return nil, fmt.Errorf("%w: get actor [%s]: %s", ErrKeyUnavailable, ownerIRI, err)
	}

	if actor.PublicKey() == nil || actor.PublicKey().ID != publicKey.ID {
		logger.Info("Public key of actor does not match the key ID in the request",
			logfields.WithActorIRI(actor.ID().URL()), logfields.WithKeyID(keyID))

		return nil, fmt.Errorf("%w: key [%s] is not owned by actor [%s]", ErrBadSignature, keyID, ownerIRI)
	}

	logger.Debug("Successfully verified signature in header", logfields.WithActorIRI(actor.ID().URL()))

	return actor.ID().URL(), nil
}

func (v *Verifier) checkDate(req *http.Request) error {
	dateStr := req.Header.Get(dateHeader)
	if dateStr == "" {
		return fmt.Errorf("%w: missing Date header", ErrClockSkew)
	}

	date, err := http.ParseTime(dateStr)
	if err != nil {
		return fmt.Errorf("%w: invalid Date header [%s]", ErrClockSkew, dateStr)
	}

	if skew := time.Since(date); skew > v.maxClockSkew || skew < -v.maxClockSkew {
		return fmt.Errorf("%w: date [%s]", ErrClockSkew, dateStr)
	}

	return nil
}

// checkDigest validates the Digest header against the request body. The body
// reader is restored so that downstream handlers may consume it again.
func (v *Verifier) checkDigest(req *http.Request) error {
	if req.Method != http.MethodPost {
		return nil
	}

	digestHeader := req.Header.Get("Digest")
	if digestHeader == "" {
		return fmt.Errorf("%w: missing Digest header", ErrBadSignature)
	}

	const prefix = "SHA-256="

	if !strings.HasPrefix(digestHeader, prefix) {
		return fmt.Errorf("%w: unsupported digest algorithm [%s]", ErrBadSignature, digestHeader)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}

	req.Body = io.NopCloser(strings.NewReader(string(body)))

	sum := sha256.Sum256(body)

	if base64.StdEncoding.EncodeToString(sum[:]) != strings.TrimPrefix(digestHeader, prefix) {
		return fmt.Errorf("%w: digest mismatch", ErrBadSignature)
	}

	return nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}

	pk, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Some servers publish PKCS#1 keys.
		if rsaKey, err1 := x509.ParsePKCS1PublicKey(block.Bytes); err1 == nil {
			return rsaKey, nil
		}

		return nil, err
	}

	rsaKey, ok := pk.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported public key type %T", pk)
	}

	return rsaKey, nil
}
