// Package wire holds the wire representations of engine objects: samples,
// queries, replies and the replies a client sends back for a query.
//
// Encoders from engine objects are total. Decoders validate every required
// field through the schema tables and never fill in defaults.
package wire

import (
	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
	"github.com/danmuck/zremote/internal/protocol/schema"
)

// Sample is the wire form of a matched put or delete event.
//
// Attachement keeps its historical spelling; deployed clients read that key.
type Sample struct {
	KeyExpr           keyexpr.KeyExpr            `json:"key_expr"`
	Value             protocol.B64String         `json:"value"`
	Kind              protocol.SampleKind        `json:"kind"`
	Encoding          string                     `json:"encoding"`
	Timestamp         *string                    `json:"timestamp"`
	CongestionControl protocol.CongestionControl `json:"congestion_control"`
	Priority          protocol.Priority          `json:"priority"`
	Express           bool                       `json:"express"`
	Attachement       *protocol.B64String        `json:"attachement"`
}

// FromSample captures every field of s.
func FromSample(s engine.Sample) Sample {
	out := Sample{
		KeyExpr:           s.KeyExpr,
		Value:             protocol.WrapBytes(s.Payload),
		Kind:              s.Kind,
		Encoding:          s.Encoding,
		CongestionControl: s.CongestionControl,
		Priority:          s.Priority,
		Express:           s.Express,
		Attachement:       protocol.WrapOptional(s.Attachment, s.Attachment != nil),
	}
	if s.Timestamp != "" {
		out.Timestamp = protocol.Ptr(s.Timestamp)
	}
	return out
}

// Engine converts s back into an engine sample, unwrapping its binary fields.
func (s Sample) Engine() (engine.Sample, error) {
	value, err := s.Value.Unwrap()
	if err != nil {
		return engine.Sample{}, err
	}
	out := engine.Sample{
		KeyExpr:           s.KeyExpr,
		Payload:           value,
		Kind:              s.Kind,
		Encoding:          s.Encoding,
		CongestionControl: s.CongestionControl,
		Priority:          s.Priority,
		Express:           s.Express,
	}
	if s.Timestamp != nil {
		out.Timestamp = *s.Timestamp
	}
	if s.Attachement != nil {
		if out.Attachment, err = s.Attachement.Unwrap(); err != nil {
			return engine.Sample{}, err
		}
	}
	return out, nil
}

type sampleFields Sample

func (s *Sample) UnmarshalJSON(data []byte) error {
	var v sampleFields
	if err := schema.DecodeStruct(schema.VariantSampleWS, data, &v); err != nil {
		return err
	}
	*s = Sample(v)
	return nil
}
