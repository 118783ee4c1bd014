/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package safejson parses untrusted JSON with hard bounds on every input
// dimension. Inbox bodies are attacker controlled, so size, depth, key count
// and string length are all limited before any crypto work is done.
package safejson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

// ErrLimitExceeded indicates that the document exceeds a configured bound.
var ErrLimitExceeded = errors.New("document limit exceeded")

// ErrMalformed indicates that the document is not well-formed JSON or does not
// conform to the schema for its activity type.
var ErrMalformed = errors.New("malformed document")

const (
	defaultMaxSize         = 1 << 20  // 1 MiB
	defaultMaxDepth        = 50
	defaultMaxKeys         = 1000
	defaultMaxStringLength = 500 << 10 // 500 KiB
)

// Config holds the parser bounds.
type Config struct {
	MaxSize         int
	MaxDepth        int
	MaxKeys         int
	MaxStringLength int
}

// Parser parses JSON documents within configured bounds.
type Parser struct {
	Config
}

// New returns a new bounded parser. Zero values in cfg are replaced with
// defaults.
func New(cfg Config) *Parser {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaultMaxSize
	}

	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = defaultMaxDepth
	}

	if cfg.MaxKeys == 0 {
		cfg.MaxKeys = defaultMaxKeys
	}

	if cfg.MaxStringLength == 0 {
		cfg.MaxStringLength = defaultMaxStringLength
	}

	return &Parser{Config: cfg}
}

// Parse parses the given bytes into a document, enforcing all bounds.
func (p *Parser) Parse(data []byte) (vocab.Document, error) {
	if len(data) > p.MaxSize {
		return nil, fmt.Errorf("%w: size %d exceeds maximum %d", ErrLimitExceeded, len(data), p.MaxSize)
	}

	if err := p.checkBounds(data); err != nil {
		return nil, err
	}

	doc := make(vocab.Document)

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	return doc, nil
}

const (
	inObjectKey = iota
	inObjectValue
	inArray
)

// checkBounds walks the token stream, tracking depth, total key count and
// string lengths. The walk allocates no tree, so a depth bomb is rejected
// before it costs anything.
func (p *Parser) checkBounds(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	var stack []int

	keys := 0

	pos := func() int {
		if len(stack) == 0 {
			return -1
		}

		return stack[len(stack)-1]
	}

	// A completed value inside an object means the next token is a key again.
	valueDone := func() {
		if pos() == inObjectValue {
			stack[len(stack)-1] = inObjectKey
		}
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("%w: %s", ErrMalformed, err)
		}

		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{':
				stack = append(stack, inObjectKey)
			case '[':
				stack = append(stack, inArray)
			case '}', ']':
				stack = stack[:len(stack)-1]
				valueDone()
			}

			if len(stack) > p.MaxDepth {
				return fmt.Errorf("%w: depth exceeds maximum %d", ErrLimitExceeded, p.MaxDepth)
			}
		case string:
			if len(t) > p.MaxStringLength {
				return fmt.Errorf("%w: string length %d exceeds maximum %d",
					ErrLimitExceeded, len(t), p.MaxStringLength)
			}

			if pos() == inObjectKey {
				keys++
				if keys > p.MaxKeys {
					return fmt.Errorf("%w: key count exceeds maximum %d", ErrLimitExceeded, p.MaxKeys)
				}

				stack[len(stack)-1] = inObjectValue
			} else {
				valueDone()
			}
		default:
			valueDone()
		}
	}
}
