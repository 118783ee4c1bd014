/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"fmt"
)

// ContextProperty holds one or more contexts. A context may be a string or an
// embedded JSON-LD term map; term maps are preserved as raw values.
type ContextProperty struct {
	contexts []interface{}
}

// NewContextProperty returns a new 'context' property. Nil is returned if no
// contexts were provided.
func NewContextProperty(contexts ...Context) *ContextProperty {
	if len(contexts) == 0 {
		return nil
	}

	p := &ContextProperty{}

	for _, c := range contexts {
		p.contexts = append(p.contexts, string(c))
	}

	return p
}

// String returns the string representation of the context property.
func (p *ContextProperty) String() string {
	if p == nil || len(p.contexts) == 0 {
		return ""
	}

	if len(p.contexts) == 1 {
		return fmt.Sprintf("%v", p.contexts[0])
	}

	return fmt.Sprintf("%v", p.contexts)
}

// Contains returns true if the property contains all of the given contexts.
func (p *ContextProperty) Contains(contexts ...Context) bool {
	if p == nil || len(contexts) == 0 {
		return false
	}

	for _, c := range contexts {
		if !p.contains(c) {
			return false
		}
	}

	return true
}

func (p *ContextProperty) contains(c Context) bool {
	for _, pc := range p.contexts {
		if s, ok := pc.(string); ok && s == string(c) {
			return true
		}
	}

	return false
}

// MarshalJSON marshals the context property.
func (p *ContextProperty) MarshalJSON() ([]byte, error) {
	if len(p.contexts) == 1 {
		return json.Marshal(p.contexts[0])
	}

	return json.Marshal(p.contexts)
}

// UnmarshalJSON unmarshals the context property.
func (p *ContextProperty) UnmarshalJSON(bytes []byte) error {
	var single interface{}

	if err := json.Unmarshal(bytes, &single); err != nil {
		return err
	}

	if arr, ok := single.([]interface{}); ok {
		p.contexts = arr

		return nil
	}

	p.contexts = []interface{}{single}

	return nil
}
