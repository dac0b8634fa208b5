package docstore

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeJSON renders a document as JSON. The output isn't byte-stable across versions; don't use it as a key.
func EncodeJSON(doc Document) ([]byte, error) {
	message, err := structpb.NewStruct(doc)
	if err != nil {
		return nil, fmt.Errorf("document is not JSON compatible: %w", err)
	}
	return protojson.Marshal(message)
}

// EncodeJSONList renders a list of documents as a JSON array.
func EncodeJSONList(docs []Document) ([]byte, error) {
	values := make([]any, len(docs))
	for i, doc := range docs {
		values[i] = map[string]any(doc)
	}
	message, err := structpb.NewList(values)
	if err != nil {
		return nil, fmt.Errorf("documents are not JSON compatible: %w", err)
	}
	return protojson.Marshal(message)
}

// DecodeJSON parses a JSON object into a document. Numbers are decoded as float64.
func DecodeJSON(raw []byte) (Document, error) {
	message := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, message); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return message.AsMap(), nil
}
