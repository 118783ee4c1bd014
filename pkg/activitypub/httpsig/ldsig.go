/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

const ldSignatureType = "RsaSignature2017"

// LDSignature is a signature embedded in the body of an activity. It is the
// fallback for relayed activities where the HTTP signature of the original
// sender cannot be reproduced.
type LDSignature struct {
	Type           string `json:"type"`
	Creator        string `json:"creator"`
	Created        string `json:"created"`
	SignatureValue string `json:"signatureValue"`
}

// LDVerifier verifies LD signatures embedded in activity documents.
type LDVerifier struct {
	keyRetriever publicKeyRetriever
}

// NewLDVerifier returns a new LD signature verifier.
func NewLDVerifier(keyRetriever publicKeyRetriever) *LDVerifier {
	return &LDVerifier{keyRetriever: keyRetriever}
}

// VerifyDocument verifies the embedded signature of the given document and
// returns the IRI of the creator key. ErrMissingSignature is returned if the
// document carries no signature.
func (v *LDVerifier) VerifyDocument(doc vocab.Document) (*url.URL, error) {
	rawSig, ok := doc["signature"]
	if !ok {
		return nil, ErrMissingSignature
	}

	sig := &LDSignature{}

	if err := vocab.UnmarshalFromDoc(vocab.Document{"signature": rawSig}, &struct {
		Signature *LDSignature `json:"signature"`
	}{Signature: sig}); err != nil {
		return nil, fmt.Errorf("%w: unmarshal signature: %s", ErrBadSignature, err)
	}

	if sig.Type != ldSignatureType {
		return nil, fmt.Errorf("%w: unsupported signature type [%s]", ErrBadSignature, sig.Type)
	}

	creatorIRI, err := url.Parse(sig.Creator)
	if err != nil || !creatorIRI.IsAbs() {
		return nil, fmt.Errorf("%w: invalid creator [%s]", ErrBadSignature, sig.Creator)
	}

	publicKey, err := v.keyRetriever.GetPublicKey(creatorIRI)
	if err != nil {
		return nil, fmt.Errorf("%w: get public key [%s]: %s", ErrKeyUnavailable, creatorIRI, err)
	}

	pubKey, err := parseRSAPublicKey(publicKey.PublicKeyPem)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key [%s]: %s", ErrBadSignature, creatorIRI, err)
	}

	hash, err := signatureHash(doc, sig.Creator, sig.Created)
	if err != nil {
		return nil, err
	}

	sigBytes, err := base64.StdEncoding.DecodeString(sig.SignatureValue)
	if err != nil {
		return nil, fmt.Errorf("%w: decode signature value: %s", ErrBadSignature, err)
	}

	if err := rsa.VerifyPKCS1v15(pubKey, crypto.SHA256, hash, sigBytes); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSignature, err)
	}

	return creatorIRI, nil
}

// LDSigner signs activity documents with an embedded signature.
type LDSigner struct {
	privateKey *rsa.PrivateKey
	keyID      string
}

// NewLDSigner returns a new LD signature signer.
func NewLDSigner(privateKey *rsa.PrivateKey, keyID string) *LDSigner {
	return &LDSigner{privateKey: privateKey, keyID: keyID}
}

// SignDocument adds an embedded signature to the given document.
func (s *LDSigner) SignDocument(doc vocab.Document) error {
	created := time.Now().UTC().Format(time.RFC3339)

	hash, err := signatureHash(doc, s.keyID, created)
	if err != nil {
		return err
	}

	sigBytes, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, hash)
	if err != nil {
		return fmt.Errorf("sign document: %w", err)
	}

	doc["signature"] = &LDSignature{
		Type:           ldSignatureType,
		Creator:        s.keyID,
		Created:        created,
		SignatureValue: base64.StdEncoding.EncodeToString(sigBytes),
	}

	return nil
}

// signatureHash computes the hash over the canonicalized signature options
// concatenated with the canonicalized document (minus its signature).
func signatureHash(doc vocab.Document, creator, created string) ([]byte, error) {
	stripped := make(vocab.Document, len(doc))

	for k, v := range doc {
		if k == "signature" {
			continue
		}

		stripped[k] = v
	}

	docHash, err := canonicalHash(stripped)
	if err != nil {
		return nil, err
	}

	optionsHash, err := canonicalHash(map[string]interface{}{
		"creator": creator,
		"created": created,
	})
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(append(optionsHash, docHash...))

	return sum[:], nil
}

func canonicalHash(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}

	sum := sha256.Sum256(canonical)

	return sum[:], nil
}
