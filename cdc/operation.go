package cdc

// OperationType is the high level classification of a change envelope.
type OperationType string

const (
	OpCreate  OperationType = "CREATE"
	OpUpdate  OperationType = "UPDATE"
	OpDelete  OperationType = "DELETE"
	OpRead    OperationType = "READ"
	OpUnknown OperationType = "UNKNOWN"
)

// Debezium op codes
const (
	opCodeCreate = "c"
	opCodeUpdate = "u"
	opCodeDelete = "d"
	opCodeRead   = "r"
)

// ClassifyOp maps a Debezium op code to an OperationType.
// Every input maps to exactly one type; unrecognized codes are OpUnknown.
func ClassifyOp(code string) OperationType {
	switch code {
	case opCodeCreate:
		return OpCreate
	case opCodeUpdate:
		return OpUpdate
	case opCodeDelete:
		return OpDelete
	case opCodeRead:
		return OpRead
	default:
		return OpUnknown
	}
}

func (o OperationType) String() string {
	return string(o)
}

// OperationTypes lists every classification, UNKNOWN last.
func OperationTypes() []OperationType {
	return []OperationType{OpCreate, OpUpdate, OpDelete, OpRead, OpUnknown}
}
