package protocol

import (
	"encoding/json"
	"fmt"
)

// SampleKind distinguishes put samples from delete samples.
type SampleKind int

const (
	SampleKindPut SampleKind = iota + 1
	SampleKindDelete
)

const unionSampleKind = "SampleKind"

func (k SampleKind) String() string {
	switch k {
	case SampleKindPut:
		return "Put"
	case SampleKindDelete:
		return "Delete"
	default:
		return fmt.Sprintf("SampleKind(%d)", int(k))
	}
}

func (k SampleKind) Valid() bool {
	return k == SampleKindPut || k == SampleKindDelete
}

// ParseSampleKind maps a variant name to a SampleKind.
func ParseSampleKind(name string) (SampleKind, error) {
	switch name {
	case "Put":
		return SampleKindPut, nil
	case "Delete":
		return SampleKindDelete, nil
	default:
		return 0, &UnknownTagError{Union: unionSampleKind, Tag: name}
	}
}

func (k SampleKind) MarshalJSON() ([]byte, error) {
	if !k.Valid() {
		return nil, invalidMember(unionSampleKind, int(k))
	}
	return json.Marshal(k.String())
}

func (k *SampleKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return malformed(unionSampleKind, err)
	}
	v, err := ParseSampleKind(name)
	if err != nil {
		return err
	}
	*k = v
	return nil
}
