package message

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
	"github.com/danmuck/zremote/internal/protocol/wire"
	"github.com/danmuck/zremote/internal/testutil/testlog"
)

var scenarioID = uuid.MustParse("a2663bb1-128c-4dd3-a42b-d1d3337e2e51")

func TestOpenSessionScenario(t *testing.T) {
	testlog.Start(t)
	data, err := Marshal(OpenSession{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"Control":"OpenSession"}` {
		t.Fatalf("unexpected wire %s", data)
	}
	m, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m.(OpenSession); !ok {
		t.Fatalf("expected OpenSession, got %T", m)
	}
}

func TestSessionAckScenario(t *testing.T) {
	testlog.Start(t)
	data, err := Marshal(SessionAck{ID: scenarioID})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"Control":{"Session":"a2663bb1-128c-4dd3-a42b-d1d3337e2e51"}}`
	if string(data) != want {
		t.Fatalf("unexpected wire %s", data)
	}
	m, err := Unmarshal([]byte(want))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ack, ok := m.(SessionAck); !ok || ack.ID != scenarioID {
		t.Fatalf("unexpected decode %#v", m)
	}
}

func allMessages() []Message {
	key := keyexpr.MustNew("demo/test")
	sample := wire.FromSample(engine.Sample{
		KeyExpr:           key,
		Payload:           []byte{1, 2, 3},
		Kind:              protocol.SampleKindPut,
		Encoding:          "zenoh/bytes",
		CongestionControl: protocol.CongestionBlock,
		Priority:          protocol.PriorityRealTime,
	})
	reply, err := wire.FromReply(engine.Reply{Err: &engine.ReplyError{Payload: []byte("no"), Encoding: "text/plain"}}, scenarioID)
	if err != nil {
		panic(err)
	}
	payload := protocol.WrapBytes([]byte("value"))
	attachment := protocol.WrapBytes([]byte{0, 0xff})
	return []Message{
		OpenSession{},
		CloseSession{},
		SessionAck{ID: scenarioID},
		Get{
			KeyExpr:           keyexpr.MustNew("demo/**"),
			Parameters:        protocol.Ptr("a=1;b=2"),
			Handler:           Ring(16),
			ID:                scenarioID,
			Consolidation:     protocol.Ptr(protocol.ConsolidationLatest),
			CongestionControl: protocol.Ptr(protocol.CongestionDrop),
			Priority:          protocol.Ptr(protocol.PriorityBackground),
			Express:           protocol.Ptr(true),
			Encoding:          protocol.Ptr("text/plain"),
			Payload:           &payload,
			Attachment:        &attachment,
		},
		Get{KeyExpr: key, Handler: Fifo(256), ID: scenarioID},
		GetFinished{ID: scenarioID},
		Put{KeyExpr: key, Payload: payload, Priority: protocol.Ptr(protocol.PriorityDataHigh)},
		Put{KeyExpr: key, Payload: ""},
		Delete{KeyExpr: key, Attachment: &attachment, Express: protocol.Ptr(false)},
		DeclareSubscriber{KeyExpr: key, Handler: Fifo(1), ID: scenarioID},
		SubscriberAck{ID: scenarioID},
		UndeclareSubscriber{ID: scenarioID},
		DeclarePublisher{
			KeyExpr:     key,
			Reliability: protocol.Ptr(protocol.ReliabilityBestEffort),
			ID:          scenarioID,
		},
		PublisherAck{ID: scenarioID},
		UndeclarePublisher{ID: scenarioID},
		DeclareQueryable{KeyExpr: key, ID: scenarioID, Complete: true},
		QueryableAck{ID: scenarioID},
		UndeclareQueryable{ID: scenarioID},
		PublisherPut{ID: scenarioID, Payload: payload, Encoding: protocol.Ptr("zenoh/string")},
		Sample{Sample: sample, SubscriberID: scenarioID},
		GetReply{Reply: reply},
		QueryableQuery{QueryableID: scenarioID, Query: wire.Query{QueryID: scenarioID, KeyExpr: key, Parameters: ""}},
		QueryableReply{Reply: wire.NewReplyDelete(scenarioID, key)},
		QueryableReply{Reply: wire.NewReplyOk(scenarioID, key, []byte("ok"))},
	}
}

func TestEveryVariantRoundTrips(t *testing.T) {
	testlog.Start(t)
	for _, m := range allMessages() {
		data, err := Marshal(m)
		if err != nil {
			t.Fatalf("%s marshal: %v", Describe(m), err)
		}
		got, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("%s unmarshal %s: %v", Describe(m), data, err)
		}
		if !reflect.DeepEqual(got, m) {
			t.Fatalf("%s round trip mismatch:\n got %#v\nwant %#v", Describe(m), got, m)
		}
		again, err := Marshal(got)
		if err != nil || string(again) != string(data) {
			t.Fatalf("%s encoding not deterministic: %s vs %s (%v)", Describe(m), again, data, err)
		}
	}
}

func TestEnvelopeJSON(t *testing.T) {
	testlog.Start(t)
	in := []Envelope{{Message: CloseSession{}}, {Message: GetFinished{ID: scenarioID}}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[{"Control":"CloseSession"},{"Control":{"GetFinished":{"id":"a2663bb1-128c-4dd3-a42b-d1d3337e2e51"}}}]`
	if string(data) != want {
		t.Fatalf("unexpected wire %s", data)
	}
	var out []Envelope
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("round trip mismatch %#v", out)
	}
}

func TestWireShapes(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		msg  Message
		want string
	}{
		{
			DeclareSubscriber{KeyExpr: keyexpr.MustNew("demo/**"), Handler: Fifo(256), ID: scenarioID},
			`{"Control":{"DeclareSubscriber":{"key_expr":"demo/**","handler":{"Fifo":256},"id":"a2663bb1-128c-4dd3-a42b-d1d3337e2e51"}}}`,
		},
		{
			UndeclarePublisher{ID: scenarioID},
			`{"Control":{"UndeclarePublisher":"a2663bb1-128c-4dd3-a42b-d1d3337e2e51"}}`,
		},
		{
			Delete{KeyExpr: keyexpr.MustNew("demo/test")},
			`{"Control":{"Delete":{"key_expr":"demo/test","congestion_control":null,"priority":null,"express":null,"attachment":null}}}`,
		},
		{
			PublisherPut{ID: scenarioID, Payload: protocol.WrapBytes([]byte{1, 2, 3})},
			`{"Data":{"PublisherPut":{"id":"a2663bb1-128c-4dd3-a42b-d1d3337e2e51","payload":"AQID","attachment":null,"encoding":null}}}`,
		},
		{
			QueryableReply{Reply: wire.NewReplyErr(scenarioID, nil)},
			`{"Data":{"Queryable":{"Reply":{"reply":{"query_uuid":"a2663bb1-128c-4dd3-a42b-d1d3337e2e51","result":{"ReplyErr":{"payload":""}}}}}}}`,
		},
	}
	for _, tc := range cases {
		data, err := Marshal(tc.msg)
		if err != nil {
			t.Fatalf("%s marshal: %v", Describe(tc.msg), err)
		}
		if string(data) != tc.want {
			t.Fatalf("%s:\n got %s\nwant %s", Describe(tc.msg), data, tc.want)
		}
	}
}

func TestSampleTupleShape(t *testing.T) {
	testlog.Start(t)
	in := `{"Data":{"Sample":[{"key_expr":"demo/test","value":"AQID","kind":"Put","encoding":"zenoh/bytes",` +
		`"timestamp":null,"congestion_control":1,"priority":1,"express":false,"attachement":null},` +
		`"a2663bb1-128c-4dd3-a42b-d1d3337e2e51"]}}`
	m, err := Unmarshal([]byte(in))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	s, ok := m.(Sample)
	if !ok || s.SubscriberID != scenarioID {
		t.Fatalf("unexpected decode %#v", m)
	}
	if got := s.Sample.Value.MustUnwrap(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected value %v", got)
	}
	out, err := Marshal(s)
	if err != nil || string(out) != in {
		t.Fatalf("re-encode mismatch:\n got %s\nwant %s (%v)", out, in, err)
	}
	for _, bad := range []string{
		`{"Data":{"Sample":["a2663bb1-128c-4dd3-a42b-d1d3337e2e51"]}}`,
		`{"Data":{"Sample":{"sample":{}}}}`,
	} {
		if _, err := Unmarshal([]byte(bad)); !errors.Is(err, protocol.ErrMalformedMessage) {
			t.Fatalf("%s: expected malformed, got %v", bad, err)
		}
	}
}

func TestUnknownTags(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		in   string
		want error
	}{
		{`{"Telemetry":"OpenSession"}`, protocol.ErrUnknownEnvelopeTag},
		{`{"Control":"Reboot"}`, protocol.ErrUnknownVariantTag},
		{`{"Data":{"Gossip":{}}}`, protocol.ErrUnknownVariantTag},
		{`{"Data":{"Queryable":{"Ask":{}}}}`, protocol.ErrUnknownVariantTag},
		{`{"Control":{"DeclareSubscriber":{"key_expr":"a","handler":{"Lifo":1},"id":"a2663bb1-128c-4dd3-a42b-d1d3337e2e51"}}}`, protocol.ErrUnknownVariantTag},
		{`{"Control":"OpenSession","Data":"Sample"}`, protocol.ErrMalformedMessage},
		{`["Control","OpenSession"]`, protocol.ErrMalformedMessage},
		{`{}`, protocol.ErrMalformedMessage},
		{`not json`, protocol.ErrMalformedMessage},
	}
	for _, tc := range cases {
		if _, err := Unmarshal([]byte(tc.in)); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.in, tc.want, err)
		}
	}
}

func TestMissingAndMalformedFields(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		in   string
		want error
	}{
		{`{"Control":{"Put":{"key_expr":"demo/test"}}}`, protocol.ErrMissingField},
		{`{"Control":{"Put":{"key_expr":"demo/test","payload":null}}}`, protocol.ErrMissingField},
		{`{"Control":"Get"}`, protocol.ErrMissingField},
		{`{"Control":{"Session":null}}`, protocol.ErrMissingField},
		{`{"Control":{"Session":"not-a-uuid"}}`, protocol.ErrMalformedMessage},
		{`{"Control":{"OpenSession":{"x":1}}}`, protocol.ErrMalformedMessage},
		{`{"Control":{"Put":{"key_expr":"demo/test","payload":"@@@"}}}`, protocol.ErrMalformedBinaryPayload},
		{`{"Control":{"Put":{"key_expr":"demo/test","payload":"","priority":99}}}`, protocol.ErrMalformedEnumCode},
		{`{"Control":{"DeclarePublisher":{"key_expr":"a","reliability":2,"id":"a2663bb1-128c-4dd3-a42b-d1d3337e2e51"}}}`, protocol.ErrMalformedEnumCode},
		{`{"Control":{"Get":{"key_expr":"a","handler":{"Fifo":0},"id":"a2663bb1-128c-4dd3-a42b-d1d3337e2e51"}}}`, protocol.ErrMalformedMessage},
		{`{"Control":{"Get":{"key_expr":"a","handler":{"Fifo":1},"id":"a2663bb1-128c-4dd3-a42b-d1d3337e2e51","consolidation":4}}}`, protocol.ErrMalformedEnumCode},
		{`{"Control":{"DeclareQueryable":{"key_expr":"a","id":"a2663bb1-128c-4dd3-a42b-d1d3337e2e51"}}}`, protocol.ErrMissingField},
		{`{"Data":{"GetReply":null}}`, protocol.ErrMissingField},
	}
	for _, tc := range cases {
		if _, err := Unmarshal([]byte(tc.in)); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.in, tc.want, err)
		}
	}
	_, err := Unmarshal([]byte(`{"Control":{"Put":{"key_expr":"demo/test"}}}`))
	var missing *protocol.MissingFieldError
	if !errors.As(err, &missing) || missing.Variant != "Put" || missing.Field != "payload" {
		t.Fatalf("expected Put.payload missing, got %v", err)
	}
}

func TestCaseVariantKeysAreIgnored(t *testing.T) {
	testlog.Start(t)
	m, err := Unmarshal([]byte(`{"Control":{"Put":{"key_expr":"demo/a","payload":"AQID","Key_Expr":"evil/b","PAYLOAD":"/w==","Encoding":"text/plain"}}}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	put := m.(Put)
	if put.KeyExpr.String() != "demo/a" || put.Payload != "AQID" || put.Encoding != nil {
		t.Fatalf("case-variant keys leaked into the message: %#v", put)
	}
	if _, err := Unmarshal([]byte(`{"Control":{"Put":{"PAYLOAD":"AQID","key_expr":"demo/a"}}}`)); !errors.Is(err, protocol.ErrMissingField) {
		t.Fatalf("case-variant key must not satisfy a required field, got %v", err)
	}
}

func TestDuplicateKeysRejected(t *testing.T) {
	testlog.Start(t)
	for _, in := range []string{
		`{"Control":"OpenSession","Control":"CloseSession"}`,
		`{"Control":{"Put":{"key_expr":"demo/a","payload":"AQID","key_expr":"evil/b"}}}`,
	} {
		if _, err := Unmarshal([]byte(in)); !errors.Is(err, protocol.ErrMalformedMessage) {
			t.Fatalf("%s: expected ErrMalformedMessage, got %v", in, err)
		}
	}
}

func TestOptionalFieldsAbsentDecodeUnset(t *testing.T) {
	testlog.Start(t)
	m, err := Unmarshal([]byte(`{"Control":{"Put":{"key_expr":"demo/test","payload":"AQID"}}}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	put := m.(Put)
	if put.Encoding != nil || put.CongestionControl != nil || put.Priority != nil || put.Express != nil || put.Attachment != nil {
		t.Fatalf("absent optional fields must decode unset: %#v", put)
	}
}

func TestMarshalRejectsIncompleteMessages(t *testing.T) {
	testlog.Start(t)
	for _, m := range []Message{
		Put{Payload: "AA=="},
		DeclareSubscriber{KeyExpr: keyexpr.MustNew("a"), ID: scenarioID},
		Put{KeyExpr: keyexpr.MustNew("a"), Priority: protocol.Ptr(protocol.Priority(0))},
		Put{KeyExpr: keyexpr.MustNew("a"), Payload: "not base64!"},
		nil,
	} {
		if _, err := Marshal(m); err == nil {
			t.Fatalf("%s: expected marshal failure", Describe(m))
		}
	}
}
