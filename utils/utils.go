// Package utils converts between Go structs, loom documents and their JSON
// encoding.
package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
)

// ToDocument converts a struct into a schema.Document using its JSON tags.
//
// The input must be a struct or a pointer to a struct. Nested structs become
// nested maps and numbers become float64, the same shape a document has after
// a round trip through a store.
//
// Example:
//
//	type Car struct {
//		Name string `json:"name"`
//		Code int    `json:"code"`
//	}
//	doc, err := ToDocument(Car{Name: "bmw", Code: 7})
//	// doc is schema.Document{"name": "bmw", "code": float64(7)}
func ToDocument[T any](record T) (schema.Document, error) {
	val := reflect.ValueOf(record)

	if !val.IsValid() {
		return nil, fmt.Errorf("input record cannot be nil")
	}

	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("input record cannot be a nil pointer to a struct")
		}
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("input record must be a struct or a pointer to a struct, got %s", val.Kind())
	}

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("ToDocument: failed to marshal input record to JSON: %w", err)
	}

	doc, err := DecodeDocument(jsonBytes)
	if err != nil {
		return nil, fmt.Errorf("ToDocument: %w", err)
	}
	return doc, nil
}

// FromDocument converts a document into a new instance of the struct type T.
// It is the inverse of ToDocument. If T is a pointer type the document is
// decoded into the pointed-to struct.
//
// Example:
//
//	car, err := FromDocument[Car](schema.Document{"name": "bmw", "code": 7})
func FromDocument[T any](input schema.Document) (T, error) {
	var zero T

	if input == nil {
		return zero, fmt.Errorf("FromDocument: input document cannot be nil")
	}

	typ := reflect.TypeOf(zero)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return zero, fmt.Errorf("FromDocument: generic type T must be a struct type (or pointer to struct), got %s", typ.Kind())
	}

	jsonBytes, err := EncodeDocument(input)
	if err != nil {
		return zero, fmt.Errorf("FromDocument: %w", err)
	}

	var result T
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return zero, fmt.Errorf("FromDocument: failed to unmarshal JSON to target struct: %w", err)
	}

	return result, nil
}

// FromDocuments converts each document with FromDocument.
func FromDocuments[T any](docs []schema.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for i, doc := range docs {
		v, err := FromDocument[T](doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// EncodeDocument serializes a document to JSON. Identifiers and pointers are
// written in their stored form first.
func EncodeDocument(doc schema.Document) ([]byte, error) {
	data, err := json.Marshal(query.Normalize(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

// DecodeDocument parses a JSON object into a document. Numbers decode as
// float64.
func DecodeDocument(data []byte) (schema.Document, error) {
	var doc schema.Document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("failed to decode document: not a JSON object")
	}
	return doc, nil
}
