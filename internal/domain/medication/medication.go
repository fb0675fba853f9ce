// Package medication defines the record type held in cached collections.
//
// The cache treats Fields as opaque; only ID, CreatedAt and OwnerID carry
// meaning for ordering, ownership and reconciliation.
package medication

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	appErrors "github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/errors"
)

// Kind is the entity kind used in collection keys and as the remote table name.
const Kind = "medications"

// placeholderPrefix namespaces locally synthesized identifiers.
const placeholderPrefix = "temp-"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Fields are the caller-supplied domain fields of a record.
type Fields struct {
	Name      string `json:"name" validate:"required,max=200"`
	Dosage    string `json:"dosage" validate:"max=200"`
	Frequency string `json:"frequency" validate:"max=200"`
}

// Validate checks the fields before any cache or remote work happens.
func (f Fields) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return appErrors.NewValidation(describe(verrs[0]))
		}
		return appErrors.NewValidation(err.Error())
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// Record is a medication entry as stored by the remote store.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	OwnerID   string    `json:"ownerId"`
	Fields
}

// NewPlaceholder synthesizes a record standing in for an unconfirmed insert.
// Its identifier is a temp-prefixed UUIDv7, a different scheme from the
// server-assigned identifiers, so the two can never collide.
func NewPlaceholder(ownerID string, fields Fields, now time.Time) Record {
	return Record{
		ID:        NewPlaceholderID(),
		CreatedAt: now,
		OwnerID:   ownerID,
		Fields:    fields,
	}
}

// NewPlaceholderID returns a fresh temporary identifier.
func NewPlaceholderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return placeholderPrefix + id.String()
}

// IsPlaceholderID reports whether id was generated locally.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

// IsPlaceholder reports whether the record has not been confirmed by the remote store.
func (r Record) IsPlaceholder() bool {
	return IsPlaceholderID(r.ID)
}

// SortByCreatedAt orders records by CreatedAt ascending. Equal timestamps keep
// their relative order.
func SortByCreatedAt(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// InsertOrdered returns a new slice with r placed after every record whose
// CreatedAt is not later than r's. The input slice is not modified.
func InsertOrdered(records []Record, r Record) []Record {
	i := len(records)
	for i > 0 && records[i-1].CreatedAt.After(r.CreatedAt) {
		i--
	}
	out := make([]Record, 0, len(records)+1)
	out = append(out, records[:i]...)
	out = append(out, r)
	out = append(out, records[i:]...)
	return out
}
