// Package types contains the definitions shared by the host and the
// WebAssembly contracts it runs: host function ids and their JSON parameters.
package types

// WasmFunctionID identifies a host function called through call_host_set or
// call_host_get_buffer. Host and contracts must agree on every value.
type WasmFunctionID int32

const (
	// FuncPrint logs a message for the current contract
	FuncPrint WasmFunctionID = iota + 1 // 1
	// FuncCall runs a function of another contract
	FuncCall // 2
	// FuncGetBalance returns the balance of the current address
	FuncGetBalance // 3
	// FuncGetBalanceFor returns the balance of an address
	FuncGetBalanceFor // 4
	// FuncCreateModule creates a new smart contract
	FuncCreateModule // 5
	// FuncGetKeys lists the datastore keys of the current address
	FuncGetKeys // 6
	// FuncGetKeysFor lists the datastore keys of an address
	FuncGetKeysFor // 7
	// FuncGetData reads a datastore key of the current address
	FuncGetData // 8
	// FuncGetDataFor reads a datastore key of an address
	FuncGetDataFor // 9
	// FuncSetData writes a datastore key of the current address
	FuncSetData // 10
	// FuncSetDataFor writes a datastore key of an address
	FuncSetDataFor // 11
	// FuncAppendData appends to a datastore key of the current address
	FuncAppendData // 12
	// FuncAppendDataFor appends to a datastore key of an address
	FuncAppendDataFor // 13
	// FuncDeleteData deletes a datastore key of the current address
	FuncDeleteData // 14
	// FuncDeleteDataFor deletes a datastore key of an address
	FuncDeleteDataFor // 15
	// FuncHasData checks a datastore key of the current address
	FuncHasData // 16
	// FuncHasDataFor checks a datastore key of an address
	FuncHasDataFor // 17
	// FuncCallerHasWriteAccess checks whether the caller owns the current address
	FuncCallerHasWriteAccess // 18
	// FuncGetBytecode returns the bytecode of the current address
	FuncGetBytecode // 19
	// FuncGetBytecodeFor returns the bytecode of an address
	FuncGetBytecodeFor // 20
	// FuncSetBytecode replaces the bytecode of the current address
	FuncSetBytecode // 21
	// FuncSetBytecodeFor replaces the bytecode of an address
	FuncSetBytecodeFor // 22
	// FuncGetOpKeys lists the operation datastore keys
	FuncGetOpKeys // 23
	// FuncHasOpKey checks an operation datastore key
	FuncHasOpKey // 24
	// FuncGetOpData reads an operation datastore key
	FuncGetOpData // 25
	// FuncHash hashes data
	FuncHash // 26
	// FuncSha256Hash returns the SHA-256 digest of data
	FuncSha256Hash // 27
	// FuncSignatureVerify checks a signature
	FuncSignatureVerify // 28
	// FuncAddressFromPublicKey derives a user address
	FuncAddressFromPublicKey // 29
	// FuncTransferCoins sends coins from the current address
	FuncTransferCoins // 30
	// FuncTransferCoinsFor sends coins between two addresses
	FuncTransferCoinsFor // 31
	// FuncGetOwnedAddresses lists the addresses the current call owns
	FuncGetOwnedAddresses // 32
	// FuncGetCallStack lists the call stack addresses
	FuncGetCallStack // 33
	// FuncGetCallCoins returns the coins sent with the current call
	FuncGetCallCoins // 34
	// FuncGenerateEvent emits an event
	FuncGenerateEvent // 35
	// FuncGetTime returns the slot timestamp
	FuncGetTime // 36
	// FuncUnsafeRandom returns a pseudo random integer
	FuncUnsafeRandom // 37
	// FuncUnsafeRandomF64 returns a pseudo random float
	FuncUnsafeRandomF64 // 38
	// FuncSendMessage queues an async message
	FuncSendMessage // 39
	// FuncGetCurrentPeriod returns the current period
	FuncGetCurrentPeriod // 40
	// FuncGetCurrentThread returns the current thread
	FuncGetCurrentThread // 41
	// FuncUnsafeRandomBytes returns pseudo random bytes
	FuncUnsafeRandomBytes // 42
)

// HostBufferSize is the size of the buffer contracts hand to call_host_get_buffer.
const HostBufferSize int32 = 1 << 16

// AddressParams names the target of a *For call. The get variants read the
// current address when it is empty.
type AddressParams struct {
	Address string `json:"address,omitempty"`
}

type DataParams struct {
	Address string `json:"address,omitempty"`
	Key     []byte `json:"key,omitempty"`
	Value   []byte `json:"value,omitempty"`
}

type BytecodeParams struct {
	Address  string `json:"address,omitempty"`
	Bytecode []byte `json:"bytecode,omitempty"`
}

type CallParams struct {
	Address  string `json:"address"`
	Function string `json:"function"`
	Param    []byte `json:"param,omitempty"`
	Coins    uint64 `json:"coins,omitempty"`
	GasLimit uint64 `json:"gas_limit,omitempty"`
}

type TransferParams struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type DataOnlyParams struct {
	Data []byte `json:"data,omitempty"`
}

type SignatureParams struct {
	Data      []byte `json:"data,omitempty"`
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

type PublicKeyParams struct {
	PublicKey string `json:"public_key"`
}

type MessageParams struct {
	Message string `json:"message"`
}

type SlotParams struct {
	Period uint64 `json:"period"`
	Thread uint8  `json:"thread"`
}

type FilterParams struct {
	Address      string `json:"address"`
	DatastoreKey []byte `json:"datastore_key,omitempty"`
}

type SendMessageParams struct {
	Target        string        `json:"target"`
	Handler       string        `json:"handler"`
	ValidityStart SlotParams    `json:"validity_start"`
	ValidityEnd   SlotParams    `json:"validity_end"`
	MaxGas        uint64        `json:"max_gas"`
	Fee           uint64        `json:"fee"`
	Coins         uint64        `json:"coins"`
	Data          []byte        `json:"data,omitempty"`
	Filter        *FilterParams `json:"filter,omitempty"`
}

type LengthParams struct {
	Length int `json:"length"`
}
