// Package schema holds the required-field tables for struct-shaped variants.
//
// encoding/json zero-fills absent fields, so decoders check presence against
// these tables before unmarshalling a variant body.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/danmuck/zremote/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Variant names with struct bodies.
const (
	VariantGet               = "Get"
	VariantGetFinished       = "GetFinished"
	VariantPut               = "Put"
	VariantDelete            = "Delete"
	VariantDeclareSubscriber = "DeclareSubscriber"
	VariantDeclarePublisher  = "DeclarePublisher"
	VariantDeclareQueryable  = "DeclareQueryable"
	VariantPublisherPut      = "PublisherPut"
	VariantQuery             = "Query"
	VariantReply             = "Reply"
	VariantReplyOk           = "QueryReply.Reply"
	VariantReplyErr          = "QueryReply.ReplyErr"
	VariantReplyDelete       = "QueryReply.ReplyDelete"
	VariantSampleWS          = "SampleWS"
	VariantQueryWS           = "QueryWS"
	VariantReplyWS           = "ReplyWS"
	VariantReplyErrorWS      = "ReplyErrorWS"
	VariantQueryReplyWS      = "QueryReplyWS"
)

// Wire field names.
const (
	FieldKeyExpr           = "key_expr"
	FieldParameters        = "parameters"
	FieldHandler           = "handler"
	FieldID                = "id"
	FieldPayload           = "payload"
	FieldComplete          = "complete"
	FieldQueryableUUID     = "queryable_uuid"
	FieldQuery             = "query"
	FieldReply             = "reply"
	FieldQueryUUID         = "query_uuid"
	FieldResult            = "result"
	FieldValue             = "value"
	FieldKind              = "kind"
	FieldEncoding          = "encoding"
	FieldCongestionControl = "congestion_control"
	FieldPriority          = "priority"
	FieldExpress           = "express"
)

var requirements = map[string][]string{
	VariantGet:               {FieldKeyExpr, FieldHandler, FieldID},
	VariantGetFinished:       {FieldID},
	VariantPut:               {FieldKeyExpr, FieldPayload},
	VariantDelete:            {FieldKeyExpr},
	VariantDeclareSubscriber: {FieldKeyExpr, FieldHandler, FieldID},
	VariantDeclarePublisher:  {FieldKeyExpr, FieldID},
	VariantDeclareQueryable:  {FieldKeyExpr, FieldID, FieldComplete},
	VariantPublisherPut:      {FieldID, FieldPayload},
	VariantQuery:             {FieldQueryableUUID, FieldQuery},
	VariantReply:             {FieldReply},
	VariantReplyOk:           {FieldKeyExpr, FieldPayload},
	VariantReplyErr:          {FieldPayload},
	VariantReplyDelete:       {FieldKeyExpr},
	VariantSampleWS: {
		FieldKeyExpr, FieldValue, FieldKind, FieldEncoding,
		FieldCongestionControl, FieldPriority, FieldExpress,
	},
	VariantQueryWS:      {FieldQueryUUID, FieldKeyExpr, FieldParameters},
	VariantReplyWS:      {FieldQueryUUID, FieldResult},
	VariantReplyErrorWS: {FieldPayload, FieldEncoding},
	VariantQueryReplyWS: {FieldQueryUUID, FieldResult},
}

// Required returns the required fields of variant in declaration order.
func Required(variant string) ([]string, bool) {
	reqs, ok := requirements[variant]
	if !ok {
		return nil, false
	}
	out := make([]string, len(reqs))
	copy(out, reqs)
	return out, true
}

// Validate checks that every required field of variant is present and
// non-null in fields. Unknown fields are ignored.
func Validate(variant string, fields map[string]json.RawMessage) error {
	reqs, ok := requirements[variant]
	if !ok {
		log.Error().Str("variant", variant).Msg("schema.Validate unknown variant")
		return &protocol.UnknownTagError{Union: "schema", Tag: variant}
	}
	for _, name := range reqs {
		raw, found := fields[name]
		if !found || protocol.IsNull(raw) {
			return &protocol.MissingFieldError{Variant: variant, Field: name}
		}
	}
	return nil
}

// DecodeStruct validates body against variant's table and unmarshals it into out.
func DecodeStruct(variant string, body json.RawMessage, out any) error {
	if protocol.IsNull(body) {
		reqs := requirements[variant]
		field := "body"
		if len(reqs) > 0 {
			field = reqs[0]
		}
		return &protocol.MissingFieldError{Variant: variant, Field: field}
	}
	fields, err := protocol.ReadObject(variant, body)
	if err != nil {
		return err
	}
	if err := Validate(variant, fields); err != nil {
		return err
	}
	if dropCaseVariants(fields, out) {
		if body, err = json.Marshal(fields); err != nil {
			return protocol.Malformed(variant, "%v", err)
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return annotate(variant, err)
	}
	return nil
}

// dropCaseVariants removes keys that differ from one of out's wire names
// only by case. encoding/json would bind them to that field; on the wire
// they are unknown keys and are ignored.
func dropCaseVariants(fields map[string]json.RawMessage, out any) bool {
	names := wireNames(reflect.TypeOf(out))
	dropped := false
	for key := range fields {
		if _, exact := names[key]; exact {
			continue
		}
		for name := range names {
			if strings.EqualFold(key, name) {
				delete(fields, key)
				dropped = true
				break
			}
		}
	}
	return dropped
}

func wireNames(t reflect.Type) map[string]struct{} {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	names := make(map[string]struct{})
	if t == nil || t.Kind() != reflect.Struct {
		return names
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		names[name] = struct{}{}
	}
	return names
}

// annotate keeps typed codec errors reachable while naming the variant.
// Anything else, such as a bad identifier or key expression, is reported
// as a malformed message wrapping the cause.
func annotate(variant string, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return protocol.Malformed(variant, "field %q: %v", typeErr.Field, err)
	}
	for _, kind := range codecErrors {
		if errors.Is(err, kind) {
			return fmt.Errorf("%s: %w", variant, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", protocol.ErrMalformedMessage, variant, err)
}

var codecErrors = []error{
	protocol.ErrMalformedEnumCode,
	protocol.ErrMalformedBinaryPayload,
	protocol.ErrUnknownEnvelopeTag,
	protocol.ErrUnknownVariantTag,
	protocol.ErrMissingField,
	protocol.ErrMalformedMessage,
	protocol.ErrInvalidReply,
}
