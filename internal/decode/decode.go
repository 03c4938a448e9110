/*
 * corevm - assembly line decoder
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package decode turns one line of assembly text into a word.Instruction,
// against a static table of opcode -> (regex, constructor), keyed by
// mnemonic.
package decode

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/eduvm/corevm/internal/word"
)

// ErrInvalidCommand is returned synchronously to the caller (the loader,
// for unrecognised mnemonics or malformed operand
// lists. It never reaches the CPU's interrupt queue directly -- decode
// failures are load-time, not run-time.
var ErrInvalidCommand = errors.New("INVALID-COMMAND")

type builder func(groups []string) (word.Instruction, error)

type entry struct {
	re    *regexp.Regexp
	build builder
}

var regNum = `[0-9]`
var table map[string]entry

func init() {
	table = map[string]entry{
		"ADD":  opEntry(`^r(` + regNum + `)\s*,\s*r(` + regNum + `)$`, word.OpAdd, buildRR),
		"SUB":  opEntry(`^r(`+regNum+`)\s*,\s*r(`+regNum+`)$`, word.OpSub, buildRR),
		"MULT": opEntry(`^r(`+regNum+`)\s*,\s*r(`+regNum+`)$`, word.OpMult, buildRR),
		"ADDI": opEntry(`^r(`+regNum+`)\s*,\s*(-?[0-9]+)$`, word.OpAddI, buildRI),
		"SUBI": opEntry(`^r(`+regNum+`)\s*,\s*(-?[0-9]+)$`, word.OpSubI, buildRI),
		"LDI":  opEntry(`^r(`+regNum+`)\s*,\s*(-?[0-9]+)$`, word.OpLDI, buildRI),
		"LDD":  opEntry(`^r(`+regNum+`)\s*,\s*\[\s*(-?[0-9]+)\s*\]$`, word.OpLDD, buildRAddr),
		"LDX":  opEntry(`^r(`+regNum+`)\s*,\s*\[\s*r(`+regNum+`)\s*\]$`, word.OpLDX, buildRR),
		"STD":  opEntry(`^\[\s*(-?[0-9]+)\s*\]\s*,\s*r(`+regNum+`)$`, word.OpSTD, buildAddrR),
		"STX":  opEntry(`^\[\s*r(`+regNum+`)\s*\]\s*,\s*r(`+regNum+`)$`, word.OpSTX, buildRR),
		"JMP":  opEntry(`^(-?[0-9]+)$`, word.OpJMP, buildAddrOnly),
		"JMPI": opEntry(`^r(`+regNum+`)$`, word.OpJMPI, buildROnly),
		"JMPIG":  opEntry(`^r(`+regNum+`)\s*,\s*r(`+regNum+`)$`, word.OpJMPIG, buildRR),
		"JMPIL":  opEntry(`^r(`+regNum+`)\s*,\s*r(`+regNum+`)$`, word.OpJMPIL, buildRR),
		"JMPIE":  opEntry(`^r(`+regNum+`)\s*,\s*r(`+regNum+`)$`, word.OpJMPIE, buildRR),
		"JMPIM":  opEntry(`^\[\s*(-?[0-9]+)\s*\]$`, word.OpJMPIM, buildAddrOnlyBracket),
		"JMPIGM": opEntry(`^\[\s*(-?[0-9]+)\s*\]\s*,\s*r(`+regNum+`)$`, word.OpJMPIGM, buildAddrR),
		"JMPILM": opEntry(`^\[\s*(-?[0-9]+)\s*\]\s*,\s*r(`+regNum+`)$`, word.OpJMPILM, buildAddrR),
		"JMPIEM": opEntry(`^\[\s*(-?[0-9]+)\s*\]\s*,\s*r(`+regNum+`)$`, word.OpJMPIEM, buildAddrR),
		"SWAP":   opEntry(`^r(`+regNum+`)\s*,\s*r(`+regNum+`)$`, word.OpSwap, buildRR),
		"STOP":   opEntry(`^$`, word.OpStop, buildNone),
		"TRAP":   opEntry(`^r8\s*,\s*r9$`, word.OpTrap, buildTrap),
	}
}

func opEntry(pattern string, op word.Opcode, b func(word.Opcode, []string) (word.Instruction, error)) entry {
	re := regexp.MustCompile(pattern)
	return entry{
		re: re,
		build: func(groups []string) (word.Instruction, error) {
			return b(op, groups)
		},
	}
}

// Line decodes one line of assembly text. A blank line, or one whose first
// non-space character is ';', decodes to the EMPTY instruction. Register
// operands are matched case-insensitively; TRAP accepts only the literal
// register names r8 and r9.
func Line(raw string) (word.Instruction, error) {
	text := strings.TrimSpace(raw)
	if text == "" || strings.HasPrefix(text, ";") {
		return word.Instruction{Op: word.OpEmpty, Source: text}, nil
	}

	mnemonic, rest := splitToken(text)
	mnemonic = strings.ToUpper(mnemonic)

	if mnemonic == "DATA" {
		v, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return word.Instruction{}, fmt.Errorf("%w: bad DATA operand %q", ErrInvalidCommand, rest)
		}
		instr := word.Data(v)
		instr.Source = text
		return instr, nil
	}

	e, ok := table[mnemonic]
	if !ok {
		return word.Instruction{}, fmt.Errorf("%w: unknown opcode %q", ErrInvalidCommand, mnemonic)
	}

	rest = strings.ToLower(strings.TrimSpace(rest))
	m := e.re.FindStringSubmatch(rest)
	if m == nil {
		return word.Instruction{}, fmt.Errorf("%w: malformed operands for %s: %q", ErrInvalidCommand, mnemonic, rest)
	}

	instr, err := e.build(m[1:])
	if err != nil {
		return word.Instruction{}, err
	}
	instr.Source = text
	return instr, nil
}

// splitToken returns the first whitespace-delimited token and the
// remainder of the line, with the remainder's leading whitespace trimmed.
func splitToken(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' })
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

func parseReg(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "r"))
	if err != nil || n < 0 || n > 9 {
		return 0, fmt.Errorf("%w: bad register %q", ErrInvalidCommand, s)
	}
	return n, nil
}

func buildRR(op word.Opcode, groups []string) (word.Instruction, error) {
	r1, err := parseReg(groups[0])
	if err != nil {
		return word.Instruction{}, err
	}
	r2, err := parseReg(groups[1])
	if err != nil {
		return word.Instruction{}, err
	}
	return word.Instruction{Op: op, NumOps: 2, Operands: [3]word.Operand{word.Reg(r1), word.Reg(r2)}}, nil
}

func buildRI(op word.Opcode, groups []string) (word.Instruction, error) {
	r1, err := parseReg(groups[0])
	if err != nil {
		return word.Instruction{}, err
	}
	v, err := strconv.Atoi(groups[1])
	if err != nil {
		return word.Instruction{}, fmt.Errorf("%w: bad immediate %q", ErrInvalidCommand, groups[1])
	}
	return word.Instruction{Op: op, NumOps: 2, Operands: [3]word.Operand{word.Reg(r1), word.Imm(v)}}, nil
}

func buildRAddr(op word.Opcode, groups []string) (word.Instruction, error) {
	r1, err := parseReg(groups[0])
	if err != nil {
		return word.Instruction{}, err
	}
	a, err := strconv.Atoi(groups[1])
	if err != nil {
		return word.Instruction{}, fmt.Errorf("%w: bad address %q", ErrInvalidCommand, groups[1])
	}
	return word.Instruction{Op: op, NumOps: 2, Operands: [3]word.Operand{word.Reg(r1), word.Addr(a)}}, nil
}

func buildAddrR(op word.Opcode, groups []string) (word.Instruction, error) {
	a, err := strconv.Atoi(groups[0])
	if err != nil {
		return word.Instruction{}, fmt.Errorf("%w: bad address %q", ErrInvalidCommand, groups[0])
	}
	r1, err := parseReg(groups[1])
	if err != nil {
		return word.Instruction{}, err
	}
	return word.Instruction{Op: op, NumOps: 2, Operands: [3]word.Operand{word.Addr(a), word.Reg(r1)}}, nil
}

func buildAddrOnly(op word.Opcode, groups []string) (word.Instruction, error) {
	v, err := strconv.Atoi(groups[0])
	if err != nil {
		return word.Instruction{}, fmt.Errorf("%w: bad operand %q", ErrInvalidCommand, groups[0])
	}
	return word.Instruction{Op: op, NumOps: 1, Operands: [3]word.Operand{word.Imm(v)}}, nil
}

func buildAddrOnlyBracket(op word.Opcode, groups []string) (word.Instruction, error) {
	a, err := strconv.Atoi(groups[0])
	if err != nil {
		return word.Instruction{}, fmt.Errorf("%w: bad address %q", ErrInvalidCommand, groups[0])
	}
	return word.Instruction{Op: op, NumOps: 1, Operands: [3]word.Operand{word.Addr(a)}}, nil
}

func buildROnly(op word.Opcode, groups []string) (word.Instruction, error) {
	r1, err := parseReg(groups[0])
	if err != nil {
		return word.Instruction{}, err
	}
	return word.Instruction{Op: op, NumOps: 1, Operands: [3]word.Operand{word.Reg(r1)}}, nil
}

func buildNone(op word.Opcode, groups []string) (word.Instruction, error) {
	return word.Instruction{Op: op, NumOps: 0}, nil
}

func buildTrap(op word.Opcode, groups []string) (word.Instruction, error) {
	return word.Instruction{Op: op, NumOps: 2, Operands: [3]word.Operand{word.Reg(8), word.Reg(9)}}, nil
}

// Encode renders an instruction back to assembly text: its original source
// text when it carries one, otherwise the canonical form built from opcode
// and operands. Decode composed with Encode on the result is the identity:
// Line(Encode(i)) produces an Instruction equal to i in opcode and operands.
func Encode(i word.Instruction) string {
	return i.String()
}
