package word

import "fmt"

// Opcode identifies the variant of an Instruction. Every opcode has a fixed
// arity and operand shape, enumerated in the decode table (internal/decode)
// and in the execute dispatcher (internal/cpu).
type Opcode int

const (
	OpEmpty Opcode = iota
	OpData
	OpAdd
	OpSub
	OpMult
	OpAddI
	OpSubI
	OpLDI
	OpLDD
	OpLDX
	OpSTD
	OpSTX
	OpJMP
	OpJMPI
	OpJMPIG
	OpJMPIL
	OpJMPIE
	OpJMPIM
	OpJMPIGM
	OpJMPILM
	OpJMPIEM
	OpSwap
	OpStop
	OpTrap
)

var opcodeNames = map[Opcode]string{
	OpEmpty:  "EMPTY",
	OpData:   "DATA",
	OpAdd:    "ADD",
	OpSub:    "SUB",
	OpMult:   "MULT",
	OpAddI:   "ADDI",
	OpSubI:   "SUBI",
	OpLDI:    "LDI",
	OpLDD:    "LDD",
	OpLDX:    "LDX",
	OpSTD:    "STD",
	OpSTX:    "STX",
	OpJMP:    "JMP",
	OpJMPI:   "JMPI",
	OpJMPIG:  "JMPIG",
	OpJMPIL:  "JMPIL",
	OpJMPIE:  "JMPIE",
	OpJMPIM:  "JMPIM",
	OpJMPIGM: "JMPIGM",
	OpJMPILM: "JMPILM",
	OpJMPIEM: "JMPIEM",
	OpSwap:   "SWAP",
	OpStop:   "STOP",
	OpTrap:   "TRAP",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OP(%d)", int(op))
}

// OperandKind distinguishes the three operand shapes an instruction may
// carry: a signed immediate, a register name, or a memory address.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandImmediate
	OperandRegister
	OperandAddress
)

// Operand is one typed argument of an Instruction. Reg holds the register
// index (0-9) when Kind is OperandRegister; Value holds the immediate or
// address value otherwise.
type Operand struct {
	Kind  OperandKind
	Value int
	Reg   int
}

func Imm(v int) Operand      { return Operand{Kind: OperandImmediate, Value: v} }
func Reg(r int) Operand      { return Operand{Kind: OperandRegister, Reg: r} }
func Addr(a int) Operand     { return Operand{Kind: OperandAddress, Value: a} }

func (o Operand) String() string {
	switch o.Kind {
	case OperandRegister:
		return fmt.Sprintf("r%d", o.Reg)
	case OperandAddress:
		return fmt.Sprintf("[%d]", o.Value)
	case OperandImmediate:
		return fmt.Sprintf("%d", o.Value)
	default:
		return ""
	}
}

// Instruction is a tagged sum with one variant per opcode, carrying up to
// three typed operands and its textual origin for dumps. It is immutable
// once decoded: instructions never hold execution context -- the CPU
// executes them against its own register file and process manager (see
// internal/cpu's CPU.execute).
type Instruction struct {
	Op       Opcode
	Operands [3]Operand
	NumOps   int
	Source   string
}

// Data builds a DATA(p) instruction.
func Data(v int) Instruction {
	return Instruction{Op: OpData, Operands: [3]Operand{Imm(v)}, NumOps: 1, Source: fmt.Sprintf("DATA %d", v)}
}

// DataValue returns the payload of a DATA instruction. It is only
// meaningful when Op == OpData; callers must check Op first.
func (i Instruction) DataValue() int {
	return i.Operands[0].Value
}

func (i Instruction) String() string {
	if i.Source != "" {
		return i.Source
	}
	s := i.Op.String()
	for n := 0; n < i.NumOps; n++ {
		if n == 0 {
			s += " "
		} else {
			s += ","
		}
		s += i.Operands[n].String()
	}
	return s
}
