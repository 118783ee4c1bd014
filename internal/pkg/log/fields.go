/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log fields.
const (
	FieldServiceName    = "service"
	FieldActivityID     = "activity-id"
	FieldActivityType   = "activity-type"
	FieldActorIRI       = "actor-iri"
	FieldObjectIRI      = "object-iri"
	FieldTargetIRI      = "target-iri"
	FieldKeyID          = "key-id"
	FieldDomain         = "domain"
	FieldMessageID      = "message-id"
	FieldRequestID      = "request-id"
	FieldRequestURL     = "request-url"
	FieldRequestHeaders = "request-headers"
	FieldCheckpoint     = "checkpoint"
	FieldQueue          = "queue"
	FieldTopic          = "topic"
	FieldPriority       = "priority"
	FieldAttempts       = "attempts"
	FieldHTTPStatus     = "http-status"
	FieldBreakerState   = "breaker-state"
	FieldSize           = "size"
	FieldExpiration     = "expiration"
	FieldPayload        = "payload"
	FieldConfig         = "config"
	FieldTaskID         = "task-id"
	FieldHandle         = "handle"
	FieldParameter      = "parameter"
	FieldAddress        = "address"
	FieldTotal          = "total"
	FieldSuspenseKey    = "suspense-key"
	FieldEndpoint       = "endpoint"
	FieldMetadata       = "metadata"
	FieldProperty       = "property"
	FieldValue          = "value"
	FieldIndex          = "index"
	FieldLogSpec        = "log-spec"
)

// WithServiceName sets the service field.
func WithServiceName(value string) zap.Field {
	return zap.String(FieldServiceName, value)
}

// WithActivityID sets the activity-id field.
func WithActivityID(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldActivityID, value)
}

// WithActivityType sets the activity-type field.
func WithActivityType(value string) zap.Field {
	return zap.String(FieldActivityType, value)
}

// WithActorIRI sets the actor-iri field.
func WithActorIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldActorIRI, value)
}

// WithObjectIRI sets the object-iri field.
func WithObjectIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldObjectIRI, value)
}

// WithTargetIRI sets the target-iri field.
func WithTargetIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldTargetIRI, value)
}

// WithKeyID sets the key-id field.
func WithKeyID(value string) zap.Field {
	return zap.String(FieldKeyID, value)
}

// WithDomain sets the domain field.
func WithDomain(value string) zap.Field {
	return zap.String(FieldDomain, value)
}

// WithMessageID sets the message-id field.
func WithMessageID(value string) zap.Field {
	return zap.String(FieldMessageID, value)
}

// WithRequestID sets the request-id field.
func WithRequestID(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}

// WithRequestURL sets the request-url field.
func WithRequestURL(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldRequestURL, value)
}

// WithRequestHeaders sets the request-headers field. Sensitive headers
// (Cookie, Authorization) are elided.
func WithRequestHeaders(value http.Header) zap.Field {
	return zap.Object(FieldRequestHeaders, newHeaderMarshaller(value))
}

// WithCheckpoint sets the checkpoint field.
func WithCheckpoint(value string) zap.Field {
	return zap.String(FieldCheckpoint, value)
}

// WithQueue sets the queue field.
func WithQueue(value string) zap.Field {
	return zap.String(FieldQueue, value)
}

// WithTopic sets the topic field.
func WithTopic(value string) zap.Field {
	return zap.String(FieldTopic, value)
}

// WithPriority sets the priority field.
func WithPriority(value string) zap.Field {
	return zap.String(FieldPriority, value)
}

// WithAttempts sets the attempts field.
func WithAttempts(value int) zap.Field {
	return zap.Int(FieldAttempts, value)
}

// WithHTTPStatus sets the http-status field.
func WithHTTPStatus(value int) zap.Field {
	return zap.Int(FieldHTTPStatus, value)
}

// WithBreakerState sets the breaker-state field.
func WithBreakerState(value string) zap.Field {
	return zap.String(FieldBreakerState, value)
}

// WithSize sets the size field.
func WithSize(value int) zap.Field {
	return zap.Int(FieldSize, value)
}

// WithExpiration sets the expiration field.
func WithExpiration(value time.Duration) zap.Field {
	return zap.Duration(FieldExpiration, value)
}

// WithPayload sets the payload field.
func WithPayload(value []byte) zap.Field {
	return zap.String(FieldPayload, string(value))
}

// WithConfig sets the config field. The value is marshalled with reflection.
func WithConfig(value interface{}) zap.Field {
	return zap.Any(FieldConfig, value)
}

// WithTaskID sets the task-id field.
func WithTaskID(value string) zap.Field {
	return zap.String(FieldTaskID, value)
}

// WithHandle sets the handle field.
func WithHandle(value string) zap.Field {
	return zap.String(FieldHandle, value)
}

// WithParameter sets the parameter field.
func WithParameter(value string) zap.Field {
	return zap.String(FieldParameter, value)
}

// WithAddress sets the address field.
func WithAddress(value string) zap.Field {
	return zap.String(FieldAddress, value)
}

// WithTotal sets the total field.
func WithTotal(value int) zap.Field {
	return zap.Int(FieldTotal, value)
}

// WithSuspenseKey sets the suspense-key field.
func WithSuspenseKey(value string) zap.Field {
	return zap.String(FieldSuspenseKey, value)
}

// WithServiceEndpoint sets the endpoint field.
func WithServiceEndpoint(value string) zap.Field {
	return zap.String(FieldEndpoint, value)
}

// WithMetadata sets the metadata field. The value is marshalled with reflection.
func WithMetadata(value interface{}) zap.Field {
	return zap.Any(FieldMetadata, value)
}

// WithProperty sets the property field.
func WithProperty(value string) zap.Field {
	return zap.String(FieldProperty, value)
}

// WithValue sets the value field.
func WithValue(value string) zap.Field {
	return zap.String(FieldValue, value)
}

// WithIndex sets the index field.
func WithIndex(value int) zap.Field {
	return zap.Int(FieldIndex, value)
}

// WithLogSpec sets the log-spec field.
func WithLogSpec(value string) zap.Field {
	return zap.String(FieldLogSpec, value)
}

type headerMarshaller struct {
	header http.Header
}

func newHeaderMarshaller(header http.Header) *headerMarshaller {
	return &headerMarshaller{header: header}
}

func (m *headerMarshaller) MarshalLogObject(e zapcore.ObjectEncoder) error {
	for name, values := range m.header {
		if name == "Cookie" || name == "Authorization" {
			continue
		}

		err := e.AddArray(name, zapcore.ArrayMarshalerFunc(func(ae zapcore.ArrayEncoder) error {
			for _, v := range values {
				ae.AppendString(v)
			}

			return nil
		}))
		if err != nil {
			return err
		}
	}

	return nil
}
