package replwrite

// Op is the replicated-write message operation code carried in FieldOp.
type Op uint32

const (
	OpWrite Op = iota + 1
	OpWriteAck
)

// Info bits carried in FieldInfo, per the external-interfaces table.
const (
	InfoXDR           uint32 = 0x01
	InfoSindexTouched  uint32 = 0x02
	InfoNsupDelete     uint32 = 0x04
	InfoUDFWrite       uint32 = 0x08
	InfoDrop           uint32 = 0x10
)

// Result is the outcome carried back in a WRITE_ACK's FieldResult.
type Result uint32

const (
	ResultOK Result = iota
	ResultOutOfSpace
	ResultForbidden
	ResultNotFound
	ResultClusterKeyMismatch
	ResultMalformed
)
