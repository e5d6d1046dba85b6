package persistence

import (
	"context"
)

// EventType names an event published on a directory's bus.
type EventType string

const (
	DocumentAddStart     EventType = "document:add:start"
	DocumentAddSuccess   EventType = "document:add:success"
	DocumentAddFailed    EventType = "document:add:failed"
	DocumentGetStart     EventType = "document:get:start"
	DocumentGetSuccess   EventType = "document:get:success"
	DocumentGetFailed    EventType = "document:get:failed"
	DocumentEditStart    EventType = "document:edit:start"
	DocumentEditSuccess  EventType = "document:edit:success"
	DocumentEditFailed   EventType = "document:edit:failed"
	DocumentDelStart     EventType = "document:del:start"
	DocumentDelSuccess   EventType = "document:del:success"
	DocumentDelFailed    EventType = "document:del:failed"
	DocumentEraseStart   EventType = "document:erase:start"
	DocumentEraseSuccess EventType = "document:erase:success"
	DocumentEraseFailed  EventType = "document:erase:failed"
	CollectionRegister   EventType = "collection:register"
	CollectionRemove     EventType = "collection:remove"
	HookAbort            EventType = "hook:abort"
)

// operationEvents maps an operation name to its start, success and failed
// event types.
var operationEvents = map[string][3]EventType{
	"add":   {DocumentAddStart, DocumentAddSuccess, DocumentAddFailed},
	"get":   {DocumentGetStart, DocumentGetSuccess, DocumentGetFailed},
	"edit":  {DocumentEditStart, DocumentEditSuccess, DocumentEditFailed},
	"del":   {DocumentDelStart, DocumentDelSuccess, DocumentDelFailed},
	"erase": {DocumentEraseStart, DocumentEraseSuccess, DocumentEraseFailed},
}

// Event is published around every collection operation.
type Event struct {
	Type       EventType `json:"type"`                 // The type of event (e.g., 'document:add:start').
	Timestamp  int64     `json:"timestamp"`            // Unix milliseconds.
	Operation  string    `json:"operation"`            // add, get, edit, del, erase, register, remove or a hook phase.
	Collection *string   `json:"collection,omitempty"` // Name of the collection affected.
	Input      any       `json:"input,omitempty"`
	Output     any       `json:"output,omitempty"`
	Error      *string   `json:"error,omitempty"`
	Issues     []Message `json:"issues,omitempty"` // Validation messages of a failed operation.
	Query      any       `json:"query,omitempty"`
	Duration   *int64    `json:"duration,omitempty"` // Milliseconds.
}

// EventCallback receives events a subscription matched.
type EventCallback func(ctx context.Context, event Event) error

// SubscriptionInfo describes a subscription configuration.
type SubscriptionInfo struct {
	ID          string    `json:"id"`
	Event       EventType `json:"event"`
	Label       *string   `json:"label,omitempty"`
	Description *string   `json:"description,omitempty"`
	Unsubscribe func()    `json:"-"`
}

// RegisterSubscriptionOptions defines options for registering a subscription.
type RegisterSubscriptionOptions struct {
	Event       EventType `json:"event"`
	Label       *string   `json:"label,omitempty"`
	Description *string   `json:"description,omitempty"`
	Callback    EventCallback
}
