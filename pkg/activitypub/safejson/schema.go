/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package safejson

import (
	"fmt"
	"net/url"

	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

// fieldKind constrains the JSON type of a required field.
type fieldKind int

const (
	kindIRI fieldKind = iota
	kindIRIOrObject
	kindObjectOrArray
	kindIRIObjectOrArray
)

type fieldRule struct {
	name string
	kind fieldKind
}

// schema lists the required fields for a verb beyond the common envelope
// fields (id, type, actor).
var schemas = map[vocab.Type][]fieldRule{
	vocab.TypeCreate:   {{name: "object", kind: kindObjectOrArray}},
	vocab.TypeUpdate:   {{name: "object", kind: kindIRIOrObject}},
	vocab.TypeDelete:   {{name: "object", kind: kindIRIOrObject}},
	vocab.TypeFollow:   {{name: "object", kind: kindIRI}},
	vocab.TypeAccept:   {{name: "object", kind: kindIRIOrObject}},
	vocab.TypeReject:   {{name: "object", kind: kindIRIOrObject}},
	vocab.TypeAnnounce: {{name: "object", kind: kindIRIObjectOrArray}},
	vocab.TypeLike:     {{name: "object", kind: kindIRIOrObject}},
	vocab.TypeDislike:  {{name: "object", kind: kindIRIOrObject}},
	vocab.TypeUndo:     {{name: "object", kind: kindIRIOrObject}},
	vocab.TypeFlag:     {{name: "object", kind: kindIRIOrObject}},
	vocab.TypeAdd:      {{name: "object", kind: kindIRIOrObject}, {name: "target", kind: kindIRI}},
	vocab.TypeRemove:   {{name: "object", kind: kindIRIOrObject}, {name: "target", kind: kindIRI}},
	vocab.TypeBlock:    {{name: "object", kind: kindIRI}},
}

// ValidateActivity validates the envelope of an inbound activity against the
// schema for its verb. Errors wrap ErrMalformed and carry the path of the
// offending field.
func ValidateActivity(doc vocab.Document) error {
	verb, err := requireType(doc)
	if err != nil {
		return err
	}

	if _, err := requireIRI(doc, "id"); err != nil {
		return err
	}

	if _, err := requireIRI(doc, "actor"); err != nil {
		return err
	}

	rules, ok := schemas[verb]
	if !ok {
		return fmt.Errorf("%w: type: unsupported activity type %q", ErrMalformed, verb)
	}

	for _, rule := range rules {
		if err := checkField(doc, rule); err != nil {
			return err
		}
	}

	return nil
}

func requireType(doc vocab.Document) (vocab.Type, error) {
	raw, ok := doc["type"]
	if !ok {
		return "", fmt.Errorf("%w: type: missing required field", ErrMalformed)
	}

	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: type: expected string", ErrMalformed)
	}

	return vocab.Type(s), nil
}

func requireIRI(doc vocab.Document, path string) (*url.URL, error) {
	raw, ok := doc[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing required field", ErrMalformed, path)
	}

	s, ok := raw.(string)
	if !ok {
		// An embedded actor document degrades to its ID.
		if obj, isObj := raw.(map[string]interface{}); isObj {
			if id, idOK := obj["id"].(string); idOK {
				s = id
			}
		}

		if s == "" {
			return nil, fmt.Errorf("%w: %s: expected IRI", ErrMalformed, path)
		}
	}

	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("%w: %s: invalid IRI %q", ErrMalformed, path, s)
	}

	return u, nil
}

func checkField(doc vocab.Document, rule fieldRule) error {
	raw, ok := doc[rule.name]
	if !ok {
		return fmt.Errorf("%w: %s: missing required field", ErrMalformed, rule.name)
	}

	switch rule.kind {
	case kindIRI:
		if _, err := requireIRI(doc, rule.name); err != nil {
			return err
		}
	case kindIRIOrObject:
		switch raw.(type) {
		case string, map[string]interface{}:
		default:
			return fmt.Errorf("%w: %s: expected IRI or object", ErrMalformed, rule.name)
		}
	case kindObjectOrArray:
		switch raw.(type) {
		case map[string]interface{}, []interface{}:
		default:
			return fmt.Errorf("%w: %s: expected object or array", ErrMalformed, rule.name)
		}
	case kindIRIObjectOrArray:
		switch raw.(type) {
		case string, map[string]interface{}, []interface{}:
		default:
			return fmt.Errorf("%w: %s: expected IRI, object or array", ErrMalformed, rule.name)
		}
	}

	return nil
}
