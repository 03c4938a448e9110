/*
 * corevm - command-line entrypoint
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

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/eduvm/corevm/internal/console"
	"github.com/eduvm/corevm/internal/logger"
	"github.com/eduvm/corevm/internal/shell"
	"github.com/eduvm/corevm/internal/viewer"
	"github.com/eduvm/corevm/internal/vm"
)

const defaultShellPort = "6940"

func main() {
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optGUI := getopt.BoolLong("gui", 'g', "Enable terminal viewer")
	optShell := getopt.StringLong("shell", 's', "", "Enable remote shell on port (default 6940)")
	optConsole := getopt.BoolLong("console", 'i', "Enable local interactive console")
	optDump := getopt.StringLong("dump", 'd', "corevm.dump", "Dump file path")
	optQuantum := getopt.IntLong("quantum", 'q', 5, "Instructions per scheduling slice")
	optPageSize := getopt.IntLong("page-size", 'p', 16, "Cells per memory frame")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		var err error
		file, err = os.Create(*optLogFile)
		if err != nil {
			slog.Error("create log file", "err", err)
			os.Exit(1)
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	slog.SetDefault(slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, false)))

	slog.Info("corevm starting")

	v := vm.New(vm.Config{
		PageSize: *optPageSize,
		Quantum:  *optQuantum,
		DumpPath: *optDump,
	})

	args := getopt.Args()
	if len(args) == 0 {
		matches, err := filepath.Glob(filepath.Join("testdata", "asm", "*.asm"))
		if err != nil {
			slog.Error("glob default programs", "err", err)
			os.Exit(1)
		}
		args = matches
	}
	for _, path := range args {
		pid, err := v.LoadFile(path)
		if err != nil {
			slog.Error("load program", "path", path, "err", err)
			os.Exit(1)
		}
		slog.Info("loaded program", "path", path, "pid", pid)
	}

	interactive := *optShell != "" || *optConsole || *optGUI
	if !interactive {
		v.RunToHalt()
		slog.Info("all processes halted")
		return
	}

	v.Start()

	var shellServer *shell.Server
	if *optShell != "" {
		port := *optShell
		if _, err := strconv.Atoi(port); err != nil {
			port = defaultShellPort
		}
		var err error
		shellServer, err = shell.New(port, v)
		if err != nil {
			slog.Error("start shell", "err", err)
			os.Exit(1)
		}
		shellServer.Start()
	}

	if *optGUI {
		if err := viewer.Run(v); err != nil {
			slog.Error("viewer", "err", err)
		}
	} else if *optConsole {
		console.Run(v)
	} else {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		slog.Info("got quit signal")
	}

	slog.Info("shutting down")
	if shellServer != nil {
		shellServer.Stop()
	}
	v.Stop()
	slog.Info("stopped")
}
