// errors_helper.go shared error constructors for the persistence layer
package datastore

import (
	"fmt"

	"github.com/audiohub/audiohub-go/internal/errors"
)

// dbError wraps a database failure with the operation name plus optional
// key/value context pairs. Non-string keys are skipped.
func dbError(err error, operation string, kv ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		builder = builder.Context(key, kv[i+1])
	}

	return builder.Build()
}

// validationError reports bad caller input before it reaches the database.
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Kind(errors.KindInvalidInput).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}
