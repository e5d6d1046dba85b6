package persistence

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
)

// Message is one validation message of an envelope. Description is the
// short cause; FullDescription carries the detail.
type Message struct {
	Description     string `json:"description"`
	FullDescription string `json:"fullDescription"`
}

// Envelope is the uniform result of every collection operation. Callers
// check OK, then the first validation message for the cause of a failure.
// Error is set only when the store or the environment failed.
type Envelope struct {
	OK                 bool
	Input              any
	Output             []schema.Document
	Error              error
	ValidationMessages []Message
}

func newEnvelope(input any) *Envelope {
	return &Envelope{
		OK:                 true,
		Input:              input,
		Output:             []schema.Document{},
		ValidationMessages: []Message{},
	}
}

// invalid marks the envelope failed with a validation message.
func (e *Envelope) invalid(description, fullDescription string) *Envelope {
	e.OK = false
	e.ValidationMessages = append(e.ValidationMessages, Message{
		Description:     description,
		FullDescription: fullDescription,
	})
	return e
}

// fail marks the envelope failed by a store error.
func (e *Envelope) fail(err error) *Envelope {
	e.Error = err
	return e.invalid("store error", err.Error())
}

// Err summarizes a failed envelope as an error. It returns nil when OK.
func (e *Envelope) Err() error {
	if e.OK {
		return nil
	}
	if e.Error != nil {
		return e.Error
	}
	if len(e.ValidationMessages) > 0 {
		return errors.New(e.ValidationMessages[0].FullDescription)
	}
	return errors.New("operation failed")
}

// MarshalJSON renders the envelope with the error as a string.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	var errText *string
	if e.Error != nil {
		s := e.Error.Error()
		errText = &s
	}
	output := e.Output
	if output == nil {
		output = []schema.Document{}
	}
	messages := e.ValidationMessages
	if messages == nil {
		messages = []Message{}
	}
	normalized := make([]any, len(output))
	for i, doc := range output {
		normalized[i] = query.Normalize(doc)
	}
	return json.Marshal(struct {
		OK                 bool      `json:"ok"`
		Input              any       `json:"input"`
		Output             []any     `json:"output"`
		Error              *string   `json:"error"`
		ValidationMessages []Message `json:"validationMessages"`
	}{e.OK, e.Input, normalized, errText, messages})
}

// AddRequest inserts one or more documents.
type AddRequest struct {
	Docs []schema.Document `json:"docs"`
}

// UnmarshalJSON accepts docs as a single object or an array of objects.
func (r *AddRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Docs json.RawMessage `json:"docs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	docs, err := oneOrMany[schema.Document](raw.Docs)
	if err != nil {
		return err
	}
	r.Docs = docs
	return nil
}

// oneOrMany decodes either a JSON array of T or a lone T.
func oneOrMany[T any](data json.RawMessage) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '[' {
		var many []T
		err := json.Unmarshal(data, &many)
		return many, err
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}

// Query selects documents for a get. A non-nil Aggregate runs a pipeline
// instead of Find and skips reference resolution.
type Query struct {
	Find      map[string]any            `json:"find,omitempty"`
	Sort      []query.SortConfiguration `json:"sort,omitempty"`
	Skip      int                       `json:"skip,omitempty"`
	Limit     int                       `json:"limit,omitempty"`
	Aggregate []map[string]any          `json:"aggregate,omitempty"`
	NoRefDocs bool                      `json:"noDbrefDocs,omitempty"`
	RefIDOnly bool                      `json:"dbrefIdOnly,omitempty"`

	// Where is a filter built in code, for example with
	// query.NewQueryBuilder. It is combined with Find by conjunction.
	Where *query.QueryFilter `json:"-"`
}

// QueryFromDSL converts a built query into a get query.
func QueryFromDSL(dsl query.QueryDSL) *Query {
	q := &Query{Where: dsl.Filters, Sort: dsl.Sort}
	if dsl.Pagination != nil {
		q.Skip = dsl.Pagination.Offset
		q.Limit = dsl.Pagination.Limit
	}
	return q
}

// GetRequest reads documents.
type GetRequest struct {
	Query *Query `json:"query"`
}

// EditSpec is one managed edit: every document matching Filter is either
// replaced field by field with Obj, or has Fields merged onto it.
type EditSpec struct {
	Filter map[string]any `json:"filter"`
	Obj    map[string]any `json:"obj,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// EditRequest edits documents. With Original set, Update is applied to
// every document matching Filter without validation; otherwise each of
// Docs is validated before it is written.
type EditRequest struct {
	Original bool           `json:"originalMethod,omitempty"`
	Filter   map[string]any `json:"filter,omitempty"`
	Update   map[string]any `json:"update,omitempty"`
	Upsert   bool           `json:"upsert,omitempty"`
	Docs     []EditSpec     `json:"docs,omitempty"`
}

// UnmarshalJSON accepts docs as a single edit or an array of edits.
func (r *EditRequest) UnmarshalJSON(data []byte) error {
	type plain EditRequest
	var raw struct {
		plain
		Docs json.RawMessage `json:"docs,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	docs, err := oneOrMany[EditSpec](raw.Docs)
	if err != nil {
		return err
	}
	*r = EditRequest(raw.plain)
	r.Docs = docs
	return nil
}

// DelRequest deletes the documents matching Filter. Without Original,
// documents still referenced from another collection are kept.
type DelRequest struct {
	Filter   map[string]any `json:"filter"`
	Original bool           `json:"originalMethod,omitempty"`
}
