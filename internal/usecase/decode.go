package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"

	"myroom/internal/adapter/store"
	"myroom/internal/domain"
)

var validate = validator.New()

// CatalogWriter applies a mutation to the freshly reloaded catalog and
// persists it when the mutation reports a change.
type CatalogWriter interface {
	Mutate(ctx context.Context, op string, fn store.MutateFunc) error
}

// decode parses a message body holding exactly one JSON value into v and
// checks its validate tags. Both failures are validation errors: the
// message can never succeed.
func decode(op string, body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		return domain.Validation(op, fmt.Errorf("malformed message: %w", err))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.Validation(op, errors.New("malformed message: trailing data after JSON value"))
	}
	if err := validate.Struct(v); err != nil {
		return domain.Validation(op, fmt.Errorf("invalid message: %w", err))
	}
	return nil
}

// DecodeGenerationRequest parses and validates a generation request body.
func DecodeGenerationRequest(body []byte) (domain.GenerationRequest, error) {
	var req domain.GenerationRequest
	err := decode("decode generation request", body, &req)
	return req, err
}
