/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package model

import (
	"errors"
)

// ErrResourceNotFound indicates that the requested resource is not known.
var ErrResourceNotFound = errors.New("resource not found")

// JRD is a JSON Resource Descriptor as defined in RFC 7033.
type JRD struct {
	Subject    string                 `json:"subject,omitempty"`
	Aliases    []string               `json:"aliases,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Links      []Link                 `json:"links,omitempty"`
}

// Link is a link within a JRD.
type Link struct {
	Rel      string `json:"rel,omitempty"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Template string `json:"template,omitempty"`
}

const (
	// RelSelf is the link relation pointing at the actor document.
	RelSelf = "self"
	// ActivityJSONType is the media type of an actor document link.
	ActivityJSONType = "application/activity+json"
)

// SelfLink returns the href of the 'self' link pointing at an ActivityPub
// actor document, or an empty string if the JRD has none.
func (j *JRD) SelfLink() string {
	for _, link := range j.Links {
		if link.Rel != RelSelf {
			continue
		}

		if link.Type == ActivityJSONType ||
			link.Type == `application/ld+json; profile="https://www.w3.org/ns/activitystreams"` {
			return link.Href
		}
	}

	return ""
}
