/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package nodeinfo

const (
	activityPubProtocol = "activitypub"
	agoraRepository     = "https://github.com/agorafed/agora"
)

// AgoraVersion is the version reported in the 'software' section of the
// NodeInfo document. Overridden at build time.
var AgoraVersion = "latest"

// Version specifies the version of the NodeInfo data.
type Version = string

const (
	// V2_0 is NodeInfo version 2.0 (http://nodeinfo.diaspora.software/ns/schema/2.0#).
	V2_0 Version = "2.0"

	// V2_1 is NodeInfo version 2.1 (http://nodeinfo.diaspora.software/ns/schema/2.1#).
	V2_1 Version = "2.1"
)

// NodeInfo contains NodeInfo data.
type NodeInfo struct {
	Version           string                 `json:"version"`
	Software          Software               `json:"software"`
	Protocols         []string               `json:"protocols"`
	Services          Services               `json:"services"`
	OpenRegistrations bool                   `json:"openRegistrations"`
	Usage             Usage                  `json:"usage"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Software contains information about the server software, including version.
type Software struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Repository string `json:"repository,omitempty"`
}

// Services contains the third-party services this node connects to. (Unused.)
type Services struct {
	Inbound  []string `json:"inbound"`
	Outbound []string `json:"outbound"`
}

// Usage contains usage statistics: the number of local users and the number
// of posts and comments they published.
type Usage struct {
	Users         Users `json:"users"`
	LocalPosts    int   `json:"localPosts"`
	LocalComments int   `json:"localComments"`
}

// Users contains the number of local users that published at least one activity.
type Users struct {
	Total int `json:"total"`
}

// WellKnownLinks is the document served at /.well-known/nodeinfo. It points
// at the schema-versioned NodeInfo endpoints.
type WellKnownLinks struct {
	Links []Link `json:"links"`
}

// Link relates a NodeInfo schema to the endpoint that serves it.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}
