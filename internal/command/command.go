/*
 * corevm - interactive command dispatch
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

// Package command implements the line-oriented command table shared by the
// local console and the remote shell: one prefix-matched dispatch table,
// one cmdLine cursor type, so both front ends parse identically and a new
// verb only has to be taught once.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/eduvm/corevm/internal/vm"
)

// ErrQuit is returned by the exit verb to tell the caller's read loop to
// stop reading further lines. It is not an error condition -- callers
// should print nothing for it.
var ErrQuit = errors.New("quit")

type cmdLine struct {
	line string
	pos  int
}

type entry struct {
	name    string
	min     int
	process func(*cmdLine, *vm.VM) (string, error)
}

var table []entry

func init() {
	table = []entry{
		{name: "load", min: 2, process: doLoad},
		{name: "ps", min: 2, process: doPS},
		{name: "mem", min: 3, process: doMem},
		{name: "shutdown", min: 2, process: doShutdown},
		{name: "help", min: 1, process: doHelp},
		{name: "echo", min: 2, process: doEcho},
		{name: "exit", min: 4, process: doExit},
	}
}

// Dispatch parses one command line and runs it. It returns the text to
// print back to the caller (empty for no output) and ErrQuit when the
// session should end, wrapped in no other error.
func Dispatch(raw string, v *vm.VM) (string, error) {
	line := &cmdLine{line: raw}
	name := line.getWord()

	match := matchList(name)
	switch len(match) {
	case 0:
		if name == "" {
			return "", nil
		}
		return "", fmt.Errorf("command not found: %s", name)
	case 1:
		return match[0].process(line, v)
	default:
		names := make([]string, len(match))
		for i, m := range match {
			names[i] = m.name
		}
		return "", fmt.Errorf("ambiguous command %q: matches %s", name, strings.Join(names, ", "))
	}
}

func matchList(name string) []entry {
	if name == "" {
		return nil
	}
	var match []entry
	for _, e := range table {
		if matches(e, name) {
			match = append(match, e)
		}
	}
	return match
}

func matches(e entry, name string) bool {
	if len(name) > len(e.name) {
		return false
	}
	if len(name) < e.min {
		return false
	}
	return e.name[:len(name)] == name
}

func (l *cmdLine) skipSpace() {
	for l.pos < len(l.line) && unicode.IsSpace(rune(l.line[l.pos])) {
		l.pos++
	}
}

func (l *cmdLine) isEOL() bool { return l.pos >= len(l.line) }

// getWord returns the next whitespace-delimited token, lower-cased, or ""
// at end of line.
func (l *cmdLine) getWord() string {
	l.skipSpace()
	if l.isEOL() {
		return ""
	}
	start := l.pos
	for l.pos < len(l.line) && !unicode.IsSpace(rune(l.line[l.pos])) {
		l.pos++
	}
	return strings.ToLower(l.line[start:l.pos])
}

// rest returns everything remaining on the line, without lower-casing (a
// file path is case-sensitive even though command names aren't).
func (l *cmdLine) rest() string {
	l.skipSpace()
	if l.isEOL() {
		return ""
	}
	return l.line[l.pos:]
}

func doLoad(l *cmdLine, v *vm.VM) (string, error) {
	path := l.rest()
	if path == "" {
		return "", errors.New("load requires a file path")
	}
	pid, err := v.LoadFile(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("loaded %s as pid %d", path, pid), nil
}

func doPS(_ *cmdLine, v *vm.VM) (string, error) {
	var b strings.Builder
	for _, p := range v.ProcessViews() {
		fmt.Fprintf(&b, "%d\t%-12s %-8s size=%d frames=%d\n", p.PID, p.Name, p.State, p.Size, p.NumFrames)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func doMem(l *cmdLine, v *vm.VM) (string, error) {
	pidWord := l.getWord()
	addrWord := l.getWord()
	if pidWord == "" || addrWord == "" {
		return "", errors.New("mem requires <pid> <addr>")
	}
	pid, err := strconv.Atoi(pidWord)
	if err != nil {
		return "", fmt.Errorf("bad pid %q", pidWord)
	}
	addr, err := strconv.Atoi(addrWord)
	if err != nil {
		return "", fmt.Errorf("bad address %q", addrWord)
	}
	val, err := v.Access(pid, addr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", val), nil
}

func doShutdown(_ *cmdLine, v *vm.VM) (string, error) {
	v.Shutdown()
	return "shutdown requested", nil
}

func doHelp(_ *cmdLine, _ *vm.VM) (string, error) {
	names := make([]string, len(table))
	for i, e := range table {
		names[i] = e.name
	}
	return strings.Join(names, ", "), nil
}

func doEcho(l *cmdLine, _ *vm.VM) (string, error) {
	return l.rest(), nil
}

func doExit(_ *cmdLine, _ *vm.VM) (string, error) {
	return "", ErrQuit
}

// Complete returns the set of command names a partial line could still
// match, for a line editor's tab-completion hook.
func Complete(raw string) []string {
	line := &cmdLine{line: raw}
	name := line.getWord()
	if !line.isEOL() {
		return nil
	}
	match := matchList(name)
	names := make([]string, len(match))
	for i, m := range match {
		names[i] = m.name
	}
	return names
}
