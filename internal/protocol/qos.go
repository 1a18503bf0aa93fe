package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

// Enumeration names used in codec errors.
const (
	EnumConsolidationMode = "ConsolidationMode"
	EnumCongestionControl = "CongestionControl"
	EnumPriority          = "Priority"
	EnumReliability       = "Reliability"
)

// Member values start at 1 so the zero value is never a valid member.
// Wire codes come from the explicit tables below, not from these ordinals.

// ConsolidationMode controls how replies to a query are merged.
type ConsolidationMode int

const (
	ConsolidationAuto ConsolidationMode = iota + 1
	ConsolidationNone
	ConsolidationMonotonic
	ConsolidationLatest
)

// CongestionControl controls what happens when a transmission queue is full.
type CongestionControl int

const (
	CongestionDrop CongestionControl = iota + 1
	CongestionBlock
)

// Priority orders messages on the network.
type Priority int

const (
	PriorityRealTime Priority = iota + 1
	PriorityInteractiveHigh
	PriorityInteractiveLow
	PriorityDataHigh
	PriorityData
	PriorityDataLow
	PriorityBackground
)

// Reliability selects the delivery mode of a publisher.
type Reliability int

const (
	ReliabilityReliable Reliability = iota + 1
	ReliabilityBestEffort
)

// Engine defaults, used where a live object must carry a concrete value.
const (
	DefaultCongestionControl = CongestionDrop
	DefaultPriority          = PriorityData
	DefaultReliability       = ReliabilityReliable
	DefaultConsolidation     = ConsolidationAuto
)

// ParseConsolidationMode decodes a consolidation wire code.
func ParseConsolidationMode(code int) (ConsolidationMode, error) {
	switch code {
	case 0:
		return ConsolidationAuto, nil
	case 1:
		return ConsolidationNone, nil
	case 2:
		return ConsolidationMonotonic, nil
	case 3:
		return ConsolidationLatest, nil
	default:
		return 0, &MalformedEnumCodeError{Enum: EnumConsolidationMode, Raw: strconv.Itoa(code)}
	}
}

// Code returns the wire code. It panics on a value that is not a member.
func (m ConsolidationMode) Code() uint8 {
	switch m {
	case ConsolidationAuto:
		return 0
	case ConsolidationNone:
		return 1
	case ConsolidationMonotonic:
		return 2
	case ConsolidationLatest:
		return 3
	default:
		panic(invalidMember(EnumConsolidationMode, int(m)))
	}
}

func (m ConsolidationMode) Valid() bool {
	return m >= ConsolidationAuto && m <= ConsolidationLatest
}

func (m ConsolidationMode) String() string {
	switch m {
	case ConsolidationAuto:
		return "Auto"
	case ConsolidationNone:
		return "None"
	case ConsolidationMonotonic:
		return "Monotonic"
	case ConsolidationLatest:
		return "Latest"
	default:
		return fmt.Sprintf("ConsolidationMode(%d)", int(m))
	}
}

func (m ConsolidationMode) MarshalJSON() ([]byte, error) {
	if !m.Valid() {
		return nil, invalidMember(EnumConsolidationMode, int(m))
	}
	return strconv.AppendUint(nil, uint64(m.Code()), 10), nil
}

func (m *ConsolidationMode) UnmarshalJSON(data []byte) error {
	code, err := decodeCode(EnumConsolidationMode, data)
	if err != nil {
		return err
	}
	v, err := ParseConsolidationMode(code)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseCongestionControl decodes a congestion-control wire code.
func ParseCongestionControl(code int) (CongestionControl, error) {
	switch code {
	case 0:
		return CongestionDrop, nil
	case 1:
		return CongestionBlock, nil
	default:
		return 0, &MalformedEnumCodeError{Enum: EnumCongestionControl, Raw: strconv.Itoa(code)}
	}
}

// Code returns the wire code. It panics on a value that is not a member.
func (c CongestionControl) Code() uint8 {
	switch c {
	case CongestionDrop:
		return 0
	case CongestionBlock:
		return 1
	default:
		panic(invalidMember(EnumCongestionControl, int(c)))
	}
}

func (c CongestionControl) Valid() bool {
	return c == CongestionDrop || c == CongestionBlock
}

func (c CongestionControl) String() string {
	switch c {
	case CongestionDrop:
		return "Drop"
	case CongestionBlock:
		return "Block"
	default:
		return fmt.Sprintf("CongestionControl(%d)", int(c))
	}
}

func (c CongestionControl) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, invalidMember(EnumCongestionControl, int(c))
	}
	return strconv.AppendUint(nil, uint64(c.Code()), 10), nil
}

func (c *CongestionControl) UnmarshalJSON(data []byte) error {
	code, err := decodeCode(EnumCongestionControl, data)
	if err != nil {
		return err
	}
	v, err := ParseCongestionControl(code)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParsePriority decodes a priority wire code. Code 0 is reserved and rejected.
func ParsePriority(code int) (Priority, error) {
	switch code {
	case 1:
		return PriorityRealTime, nil
	case 2:
		return PriorityInteractiveHigh, nil
	case 3:
		return PriorityInteractiveLow, nil
	case 4:
		return PriorityDataHigh, nil
	case 5:
		return PriorityData, nil
	case 6:
		return PriorityDataLow, nil
	case 7:
		return PriorityBackground, nil
	default:
		return 0, &MalformedEnumCodeError{Enum: EnumPriority, Raw: strconv.Itoa(code)}
	}
}

// Code returns the wire code. It panics on a value that is not a member.
func (p Priority) Code() uint8 {
	switch p {
	case PriorityRealTime:
		return 1
	case PriorityInteractiveHigh:
		return 2
	case PriorityInteractiveLow:
		return 3
	case PriorityDataHigh:
		return 4
	case PriorityData:
		return 5
	case PriorityDataLow:
		return 6
	case PriorityBackground:
		return 7
	default:
		panic(invalidMember(EnumPriority, int(p)))
	}
}

func (p Priority) Valid() bool {
	return p >= PriorityRealTime && p <= PriorityBackground
}

func (p Priority) String() string {
	switch p {
	case PriorityRealTime:
		return "RealTime"
	case PriorityInteractiveHigh:
		return "InteractiveHigh"
	case PriorityInteractiveLow:
		return "InteractiveLow"
	case PriorityDataHigh:
		return "DataHigh"
	case PriorityData:
		return "Data"
	case PriorityDataLow:
		return "DataLow"
	case PriorityBackground:
		return "Background"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, invalidMember(EnumPriority, int(p))
	}
	return strconv.AppendUint(nil, uint64(p.Code()), 10), nil
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	code, err := decodeCode(EnumPriority, data)
	if err != nil {
		return err
	}
	v, err := ParsePriority(code)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParseReliability decodes a reliability wire code.
func ParseReliability(code int) (Reliability, error) {
	switch code {
	case 0:
		return ReliabilityReliable, nil
	case 1:
		return ReliabilityBestEffort, nil
	default:
		return 0, &MalformedEnumCodeError{Enum: EnumReliability, Raw: strconv.Itoa(code)}
	}
}

// Code returns the wire code. It panics on a value that is not a member.
func (r Reliability) Code() uint8 {
	switch r {
	case ReliabilityReliable:
		return 0
	case ReliabilityBestEffort:
		return 1
	default:
		panic(invalidMember(EnumReliability, int(r)))
	}
}

func (r Reliability) Valid() bool {
	return r == ReliabilityReliable || r == ReliabilityBestEffort
}

func (r Reliability) String() string {
	switch r {
	case ReliabilityReliable:
		return "Reliable"
	case ReliabilityBestEffort:
		return "BestEffort"
	default:
		return fmt.Sprintf("Reliability(%d)", int(r))
	}
}

func (r Reliability) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, invalidMember(EnumReliability, int(r))
	}
	return strconv.AppendUint(nil, uint64(r.Code()), 10), nil
}

func (r *Reliability) UnmarshalJSON(data []byte) error {
	code, err := decodeCode(EnumReliability, data)
	if err != nil {
		return err
	}
	v, err := ParseReliability(code)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Ptr returns a pointer to v, for populating optional message fields.
func Ptr[T any](v T) *T {
	return &v
}

// decodeCode reads a JSON integer; anything else is reported against enum.
func decodeCode(enum string, data []byte) (int, error) {
	raw := string(bytes.TrimSpace(data))
	code, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &MalformedEnumCodeError{Enum: enum, Raw: raw}
	}
	return code, nil
}

func invalidMember(enum string, v int) error {
	return fmt.Errorf("protocol: %d is not a %s member", v, enum)
}
