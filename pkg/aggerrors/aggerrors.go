// Shoal is a Redfish aggregator service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package aggerrors defines the error vocabulary shared by the resource
// store, agent client, ownership router, BFS ingestor and event pipeline,
// and maps each kind to a Redfish-compliant HTTP status and MessageId.
package aggerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ResourceNotFound is returned when a canonical path has no entry in the
// resource store.
type ResourceNotFound struct {
	Path string
}

func (e *ResourceNotFound) Error() string {
	return fmt.Sprintf("resource not found: %s", e.Path)
}

// PropertyNotFound is returned when a required property is missing from an
// inbound payload, e.g. ResourceCreated arriving with an empty Context.
type PropertyNotFound struct {
	Attribute string
}

func (e *PropertyNotFound) Error() string {
	return fmt.Sprintf("property not found: %s", e.Attribute)
}

// CollectionNotSupported is returned when a write targets (or would create)
// a collection resource directly.
type CollectionNotSupported struct {
	Path string
}

func (e *CollectionNotSupported) Error() string {
	return fmt.Sprintf("collection not supported at %s", e.Path)
}

// AlreadyExists is returned when a write would insert a duplicate
// @odata.id into a collection, or create an object that already exists.
type AlreadyExists struct {
	Path string
}

func (e *AlreadyExists) Error() string {
	return fmt.Sprintf("already exists: %s", e.Path)
}

// ActionNotAllowed is returned when a write's ancestors do not exist, or an
// operation is attempted against an empty path.
type ActionNotAllowed struct {
	Reason string
}

func (e *ActionNotAllowed) Error() string {
	return fmt.Sprintf("action not allowed: %s", e.Reason)
}

// InvalidPath is returned when a path fails basic structural validation.
type InvalidPath struct {
	Path string
}

func (e *InvalidPath) Error() string {
	return fmt.Sprintf("invalid path: %s", e.Path)
}

// IllegalCollectionType is returned when a collection's synthesized
// @odata.type does not match the type of the members being inserted.
type IllegalCollectionType struct {
	Path string
}

func (e *IllegalCollectionType) Error() string {
	return fmt.Sprintf("illegal collection type at %s", e.Path)
}

// IllegalSubscription is returned when a subscription payload's
// RegistryPrefixes/MessageIds and their Exclude counterparts overlap.
type IllegalSubscription struct {
	Reason string
}

func (e *IllegalSubscription) Error() string {
	return fmt.Sprintf("illegal subscription: %s", e.Reason)
}

// DestinationError is returned when forwarding an event to a subscriber's
// Destination fails; callers of the forwarder absorb this per-subscriber
// rather than propagate it.
type DestinationError struct {
	SubscriberID string
	Reason       string
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("destination error for subscriber %s: %s", e.SubscriberID, e.Reason)
}

// AgentForwardingFailure is returned when an agent responds to a forwarded
// request with anything other than the expected success status, or the
// request could not be sent at all.
type AgentForwardingFailure struct {
	Operation  string
	StatusCode int
	Reason     string
}

func (e *AgentForwardingFailure) Error() string {
	return fmt.Sprintf("agent forwarding failed for %s: status=%d reason=%s", e.Operation, e.StatusCode, e.Reason)
}

// NotManaged is returned when the ownership router cannot find a managing
// agent for a path that requires one (e.g. create/patch/delete targets).
type NotManaged struct {
	Path string
}

func (e *NotManaged) Error() string {
	return fmt.Sprintf("resource is not managed by any agent: %s", e.Path)
}

// InvalidPayload is returned when a request body fails structural checks
// the aggregator itself enforces (malformed JSON, missing required keys).
type InvalidPayload struct {
	Reason string
}

func (e *InvalidPayload) Error() string {
	return fmt.Sprintf("invalid payload: %s", e.Reason)
}

// MethodNotAllowed is returned when an HTTP verb is not supported for the
// targeted resource kind.
type MethodNotAllowed struct {
	Method string
	Path   string
}

func (e *MethodNotAllowed) Error() string {
	return fmt.Sprintf("method %s not allowed on %s", e.Method, e.Path)
}

// StatusFor maps an error produced by this package's types (or a wrapped
// variant of one) to the HTTP status it should surface as, per the mapping
// in the external interfaces design. Unrecognized errors map to 500.
func StatusFor(err error) int {
	var (
		notFound    *ResourceNotFound
		propNotFnd  *PropertyNotFound
		collNotSup  *CollectionNotSupported
		alreadyExst *AlreadyExists
		actionNA    *ActionNotAllowed
		invalidPath *InvalidPath
		illegalColl *IllegalCollectionType
		illegalSub  *IllegalSubscription
		destErr     *DestinationError
		agentFail   *AgentForwardingFailure
		notManaged  *NotManaged
		invalid     *InvalidPayload
		methodErr   *MethodNotAllowed
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &propNotFnd):
		return http.StatusBadRequest
	case errors.As(err, &collNotSup):
		return http.StatusMethodNotAllowed
	case errors.As(err, &alreadyExst):
		return http.StatusConflict
	case errors.As(err, &actionNA):
		return http.StatusForbidden
	case errors.As(err, &invalidPath):
		return http.StatusBadRequest
	case errors.As(err, &illegalColl):
		return http.StatusBadRequest
	case errors.As(err, &illegalSub):
		return http.StatusBadRequest
	case errors.As(err, &destErr):
		return http.StatusBadGateway
	case errors.As(err, &agentFail):
		return http.StatusBadGateway
	case errors.As(err, &notManaged):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &methodErr):
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// MessageIDFor maps an error to a Base registry MessageId, the same
// convention the northbound API uses for @Message.ExtendedInfo.
func MessageIDFor(err error) string {
	switch StatusFor(err) {
	case http.StatusNotFound:
		return "Base.1.0.ResourceNotFound"
	case http.StatusMethodNotAllowed:
		return "Base.1.0.MethodNotAllowed"
	case http.StatusConflict:
		return "Base.1.0.ResourceCannotBeCreated"
	case http.StatusForbidden:
		return "Base.1.0.InsufficientPrivilege"
	case http.StatusBadRequest:
		return "Base.1.0.PropertyValueNotInList"
	case http.StatusBadGateway:
		return "Base.1.0.GeneralError"
	default:
		return "Base.1.0.InternalError"
	}
}
