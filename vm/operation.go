package vm

import (
	"github.com/govm-net/sandbox/core"
)

// Operation is a unit of work executed by the engine.
type Operation interface {
	// Caller returns the address paying for the operation
	Caller() core.Address
	// GasLimit returns the gas the operation may use
	GasLimit() uint64
	kind() string
}

// ExecuteSC runs bytecode once, in the name of Sender. The bytecode's "main"
// export is called with a single frame owning Sender.
type ExecuteSC struct {
	Sender    core.Address
	Bytecode  []byte
	MaxGas    uint64
	Datastore map[string][]byte
}

func (op *ExecuteSC) Caller() core.Address { return op.Sender }
func (op *ExecuteSC) GasLimit() uint64     { return op.MaxGas }
func (op *ExecuteSC) kind() string         { return "execute_sc" }

// CallSC calls Function of the contract at Target, sending Coins.
type CallSC struct {
	Sender   core.Address
	Target   core.Address
	Function string
	Param    []byte
	MaxGas   uint64
	Coins    core.Amount
}

func (op *CallSC) Caller() core.Address { return op.Sender }
func (op *CallSC) GasLimit() uint64     { return op.MaxGas }
func (op *CallSC) kind() string         { return "call_sc" }

// OperationResult is what one operation produced.
type OperationResult struct {
	Output []byte
	Err    error
}
