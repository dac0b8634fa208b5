// Package model holds the typed views of the documents stored in each collection.
// Documents are schemaless; decoding is lenient so numbers stored as strings (and vice versa) still load.

package model

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/nobletooth/kindly/pkg/docstore"
)

type NGO struct {
	ID          string   `mapstructure:"id"`
	Name        string   `mapstructure:"name"`
	Description string   `mapstructure:"description"`
	City        string   `mapstructure:"city"`
	Country     string   `mapstructure:"country"`
	Verified    bool     `mapstructure:"verified"`
	Rating      float64  `mapstructure:"rating"`
	Causes      []string `mapstructure:"causes"`
}

type User struct {
	ID    string `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
	Role  string `mapstructure:"role"` // donor | ngo | beneficiary | volunteer
	NGOID string `mapstructure:"ngoId"`
}

type Project struct {
	ID            string  `mapstructure:"id"`
	NGOID         string  `mapstructure:"ngoId"`
	Title         string  `mapstructure:"title"`
	Status        string  `mapstructure:"status"` // open | funded | completed
	GoalAmount    float64 `mapstructure:"goalAmount"`
	RaisedAmount  float64 `mapstructure:"raisedAmount"`
	Beneficiaries int     `mapstructure:"beneficiaries"`
}

// Progress returns the funded share of the project's goal, between 0 and 1.
func (p Project) Progress() float64 {
	if p.GoalAmount <= 0 {
		return 0
	}
	return min(p.RaisedAmount/p.GoalAmount, 1)
}

type Donation struct {
	ID        string  `mapstructure:"id"`
	DonorID   string  `mapstructure:"donorId"`
	ProjectID string  `mapstructure:"projectId"`
	NGOID     string  `mapstructure:"ngoId"`
	Amount    float64 `mapstructure:"amount"`
	Currency  string  `mapstructure:"currency"`
	CreatedAt string  `mapstructure:"createdAt"` // RFC 3339.
}

// CreatedTime parses CreatedAt.
func (d Donation) CreatedTime() (time.Time, error) {
	return time.Parse(time.RFC3339, d.CreatedAt)
}

type Volunteer struct {
	ID     string   `mapstructure:"id"`
	UserID string   `mapstructure:"userId"`
	NGOID  string   `mapstructure:"ngoId"`
	Skills []string `mapstructure:"skills"`
	Hours  float64  `mapstructure:"hours"`
}

// Decode converts a document into its typed model.
func Decode[T any](doc docstore.Document) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(doc); err != nil {
		return out, fmt.Errorf("failed to decode %T: %w", out, err)
	}
	return out, nil
}

// DecodeAll converts a list of documents, failing on the first invalid one.
func DecodeAll[T any](docs []docstore.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := Decode[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// ToDocument converts a typed model into a document suitable for writing. The id field is dropped since it is
// carried by the write itself. Slices and integers are widened to the JSON compatible []any and float64.
func ToDocument(v any) (docstore.Document, error) {
	doc := make(map[string]any)
	if err := mapstructure.Decode(v, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	delete(doc, docstore.IdField)
	for key, value := range doc {
		switch typed := value.(type) {
		case []string:
			items := make([]any, len(typed))
			for i, item := range typed {
				items[i] = item
			}
			doc[key] = items
		case int:
			doc[key] = float64(typed)
		}
	}
	return doc, nil
}
