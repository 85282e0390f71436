package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/odla-network/settlement"
)

// payRequestSchema describes the body of POST /pay
const payRequestSchema = `{
  "type": "object",
  "required": ["amount", "recipient", "sender_address"],
  "properties": {
    "amount": {
      "oneOf": [
        {"type": "number"},
        {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"}
      ]
    },
    "recipient": {"type": "string", "minLength": 1},
    "memo": {"type": "string", "maxLength": 256},
    "sender_address": {"type": "string", "minLength": 1},
    "sender_key": {"type": "string"},
    "session_id": {"type": "string"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func payRequestValidator() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(payRequestSchema))
	})
	return schema, schemaErr
}

// ValidatePayRequest checks the shape of a raw POST /pay body.
//
// It reports the first problem as a validation error whose code names the
// offending field: missing fields give ErrMissingField, a malformed amount
// ErrInvalidAmount, a malformed address ErrInvalidAddress and an oversized
// memo ErrInvalidMemo. Address checksums and the signing credentials are
// checked later by the relay.
func ValidatePayRequest(body []byte) error {
	s, err := payRequestValidator()
	if err != nil {
		return settlement.WrapError(settlement.ErrCodeInternal, err, "pay request schema is invalid")
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return settlement.NewError(settlement.ErrCodeMissingField,
			fmt.Sprintf("request body is not valid JSON: %v", err), nil)
	}
	if result.Valid() {
		return nil
	}

	desc := result.Errors()[0]
	field := desc.Field()
	if desc.Type() == "required" {
		if property, ok := desc.Details()["property"].(string); ok {
			field = property
		}
		return settlement.NewError(settlement.ErrCodeMissingField,
			fmt.Sprintf("missing required field: %s", field),
			map[string]interface{}{"field": field})
	}

	field = strings.TrimPrefix(field, "(root).")
	return fieldError(field, fmt.Sprintf("%s: %s", field, desc.Description()))
}

// DecodePayRequest validates body and decodes it. A value that passes the
// schema but still fails to decode is reported against its own field.
func DecodePayRequest(body []byte) (PayRequest, error) {
	if err := ValidatePayRequest(body); err != nil {
		return PayRequest{}, err
	}

	var req PayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return PayRequest{}, fieldError(typeErr.Field, fmt.Sprintf("%s: %v", typeErr.Field, err))
		}
		// amount is the only field with a custom decoder
		return PayRequest{}, fieldError("amount", fmt.Sprintf("amount: %v", err))
	}
	return req, nil
}

func fieldError(field, message string) error {
	details := map[string]interface{}{"field": field}
	switch field {
	case "amount":
		return settlement.NewError(settlement.ErrCodeInvalidAmount, message, details)
	case "recipient", "sender_address":
		return settlement.NewError(settlement.ErrCodeInvalidAddress, message, details)
	case "memo":
		return settlement.NewError(settlement.ErrCodeInvalidMemo, message, details)
	}
	return settlement.NewError(settlement.ErrCodeMissingField, message, details)
}
