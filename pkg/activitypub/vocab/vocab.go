/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

// Context defines the object context.
type Context string

const (
	// ContextActivityStreams is the ActivityStreams context.
	ContextActivityStreams Context = "https://www.w3.org/ns/activitystreams"
	// ContextSecurity is the security context.
	ContextSecurity Context = "https://w3id.org/security/v1"
)

// PublicIRI indicates that the object is public, i.e. it may be viewed by anyone.
var PublicIRI = MustParseURL("https://www.w3.org/ns/activitystreams#Public") //nolint:gochecknoglobals

// Type indicates the type of an object or activity.
type Type string

const (
	// TypePerson specifies the 'Person' actor type.
	TypePerson Type = "Person"
	// TypeGroup specifies the 'Group' actor type. Communities are Group actors.
	TypeGroup Type = "Group"
	// TypeService specifies the 'Service' actor type.
	TypeService Type = "Service"
	// TypeApplication specifies the 'Application' actor type.
	TypeApplication Type = "Application"

	// TypeNote specifies the 'Note' object type.
	TypeNote Type = "Note"
	// TypeArticle specifies the 'Article' object type.
	TypeArticle Type = "Article"
	// TypePage specifies the 'Page' object type. Link posts are Pages.
	TypePage Type = "Page"
	// TypeQuestion specifies the 'Question' object type.
	TypeQuestion Type = "Question"
	// TypeTombstone specifies the 'Tombstone' object type.
	TypeTombstone Type = "Tombstone"

	// TypeCollection specifies the 'Collection' object type.
	TypeCollection Type = "Collection"
	// TypeOrderedCollection specifies the 'OrderedCollection' object type.
	TypeOrderedCollection Type = "OrderedCollection"
	// TypeCollectionPage specifies the 'CollectionPage' object type.
	TypeCollectionPage Type = "CollectionPage"
	// TypeOrderedCollectionPage specifies the 'OrderedCollectionPage' object type.
	TypeOrderedCollectionPage Type = "OrderedCollectionPage"

	// TypeCreate specifies the 'Create' activity type.
	TypeCreate Type = "Create"
	// TypeUpdate specifies the 'Update' activity type.
	TypeUpdate Type = "Update"
	// TypeDelete specifies the 'Delete' activity type.
	TypeDelete Type = "Delete"
	// TypeFollow specifies the 'Follow' activity type.
	TypeFollow Type = "Follow"
	// TypeAccept specifies the 'Accept' activity type.
	TypeAccept Type = "Accept"
	// TypeReject specifies the 'Reject' activity type.
	TypeReject Type = "Reject"
	// TypeAnnounce specifies the 'Announce' activity type.
	TypeAnnounce Type = "Announce"
	// TypeLike specifies the 'Like' activity type.
	TypeLike Type = "Like"
	// TypeDislike specifies the 'Dislike' activity type.
	TypeDislike Type = "Dislike"
	// TypeUndo specifies the 'Undo' activity type.
	TypeUndo Type = "Undo"
	// TypeFlag specifies the 'Flag' activity type.
	TypeFlag Type = "Flag"
	// TypeAdd specifies the 'Add' activity type.
	TypeAdd Type = "Add"
	// TypeRemove specifies the 'Remove' activity type.
	TypeRemove Type = "Remove"
	// TypeBlock specifies the 'Block' activity type.
	TypeBlock Type = "Block"
)

// ActivityTypes returns all of the recognized activity (verb) types.
func ActivityTypes() []Type {
	return []Type{
		TypeCreate, TypeUpdate, TypeDelete, TypeFollow, TypeAccept, TypeReject,
		TypeAnnounce, TypeLike, TypeDislike, TypeUndo, TypeFlag, TypeAdd,
		TypeRemove, TypeBlock,
	}
}

// ActorTypes returns all of the recognized actor types.
func ActorTypes() []Type {
	return []Type{TypePerson, TypeGroup, TypeService, TypeApplication}
}

// ContentTypes returns the object types that may appear in a 'Create' or 'Update'.
func ContentTypes() []Type {
	return []Type{TypeNote, TypeArticle, TypePage, TypeQuestion}
}

const (
	propertyContext      = "@context"
	propertyID           = "id"
	propertyType         = "type"
	propertyTo           = "to"
	propertyCC           = "cc"
	propertyActor        = "actor"
	propertyObject       = "object"
	propertyTarget       = "target"
	propertyPublished    = "published"
	propertyUpdated      = "updated"
	propertyAudience     = "audience"
	propertyInReplyTo    = "inReplyTo"
	propertyAttributedTo = "attributedTo"
	propertyName         = "name"
	propertyContent      = "content"
	propertySummary      = "summary"
	propertySensitive    = "sensitive"
	propertyFirst        = "first"
	propertyLast         = "last"
	propertyNext         = "next"
	propertyPrev         = "prev"
	propertyItems        = "items"
	propertyOrderedItems = "orderedItems"
	propertyTotalItems   = "totalItems"
	propertySignature    = "signature"
)

func reservedProperties() []string {
	return []string{
		propertyContext,
		propertyID,
		propertyType,
		propertyTo,
		propertyCC,
		propertyActor,
		propertyObject,
		propertyTarget,
		propertyPublished,
		propertyUpdated,
		propertyAudience,
		propertyInReplyTo,
		propertyAttributedTo,
		propertyName,
		propertyContent,
		propertySummary,
		propertySensitive,
	}
}

// Document defines a JSON document as a map.
type Document map[string]interface{}

// MergeWith merges the document with the given document. Any duplicate fields
// in the given document are ignored.
func (doc Document) MergeWith(other Document) {
	for k, v := range other {
		if _, ok := doc[k]; !ok {
			doc[k] = v
		}
	}
}
