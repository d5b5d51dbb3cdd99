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

package redfish

// ODataIDRef represents a reference to another resource.
type ODataIDRef struct {
	ODataID string `json:"@odata.id"`
}

// ServiceRoot represents the Redfish service root of the aggregator.
type ServiceRoot struct {
	ODataContext       string           `json:"@odata.context"`
	ODataID            string           `json:"@odata.id"`
	ODataType          string           `json:"@odata.type"`
	ID                 string           `json:"Id"`
	Name               string           `json:"Name"`
	RedfishVersion     string           `json:"RedfishVersion"`
	UUID               string           `json:"UUID"`
	Systems            *ODataIDRef      `json:"Systems,omitempty"`
	Chassis            *ODataIDRef      `json:"Chassis,omitempty"`
	Fabrics            *ODataIDRef      `json:"Fabrics,omitempty"`
	Managers           *ODataIDRef      `json:"Managers,omitempty"`
	AggregationService *ODataIDRef      `json:"AggregationService,omitempty"`
	EventService       *ODataIDRef      `json:"EventService,omitempty"`
	Registries         *ODataIDRef      `json:"Registries,omitempty"`
	JsonSchemas        *ODataIDRef      `json:"JsonSchemas,omitempty"`
	Links              ServiceRootLinks `json:"Links"`
}

// ServiceRootLinks contains links within the service root.
type ServiceRootLinks struct{}

// Collection represents a generic Redfish collection.
type Collection struct {
	ODataContext string       `json:"@odata.context"`
	ODataID      string       `json:"@odata.id"`
	ODataType    string       `json:"@odata.type"`
	Name         string       `json:"Name"`
	Members      []ODataIDRef `json:"Members"`
	MembersCount int          `json:"Members@odata.count"`
}

// ErrorResponse represents a Redfish error response envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code/message plus extended info entries.
type ErrorDetail struct {
	Code                string        `json:"code"`
	Message             string        `json:"message"`
	ExtendedInfo        []MessageInfo `json:"@Message.ExtendedInfo,omitempty"`
}

// MessageInfo is one entry of a Redfish @Message.ExtendedInfo array.
type MessageInfo struct {
	ODataType  string `json:"@odata.type"`
	MessageID  string `json:"MessageId"`
	Message    string `json:"Message"`
	Severity   string `json:"Severity"`
	Resolution string `json:"Resolution"`
}

// AggregationService represents the Redfish AggregationService.
type AggregationService struct {
	ODataContext      string     `json:"@odata.context"`
	ODataID           string     `json:"@odata.id"`
	ODataType         string     `json:"@odata.type"`
	ID                string     `json:"Id"`
	Name              string     `json:"Name"`
	Description       string     `json:"Description"`
	AggregationSources ODataIDRef `json:"AggregationSources"`
}

// EventService represents the Redfish EventService.
type EventService struct {
	ODataContext    string     `json:"@odata.context"`
	ODataID         string     `json:"@odata.id"`
	ODataType       string     `json:"@odata.type"`
	ID              string     `json:"Id"`
	Name            string     `json:"Name"`
	ServiceEnabled  bool       `json:"ServiceEnabled"`
	Subscriptions   ODataIDRef `json:"Subscriptions"`
}

// EventRecord is a single event within an Event payload's Events array.
type EventRecord struct {
	EventType         string `json:"EventType"`
	EventId           string `json:"EventId"`
	Severity          string `json:"Severity"`
	Message           string `json:"Message"`
	MessageId         string `json:"MessageId"`
	MessageArgs       []string `json:"MessageArgs,omitempty"`
	OriginOfCondition *ODataIDRef `json:"OriginOfCondition,omitempty"`
	Context           string `json:"Context,omitempty"`
}

// Event is the top-level Redfish event payload agents POST to the
// aggregator's event-ingress endpoint.
type Event struct {
	ODataContext string        `json:"@odata.context"`
	ODataID      string        `json:"@odata.id"`
	ODataType    string        `json:"@odata.type"`
	ID           string        `json:"Id"`
	Name         string        `json:"Name"`
	Context      string        `json:"Context,omitempty"`
	Events       []EventRecord `json:"Events"`
}
