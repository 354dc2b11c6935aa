/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package symbolize // import "github.com/elastic/otel-profiling-report/symbolize"

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/elastic/otel-profiling-report/libpf"
)

// loadKallsyms parses a captured /proc/kallsyms-format file:
//
//	ffffffff81000000 T startup_64
//	ffffffffa0012340 t some_module_func   [some_module]
//
// Only text symbols (types T/t/W/w, i.e. actual code) are kept; the report
// engine has no use for data symbols.
func loadKallsyms(path string) (*libpf.SymbolMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open kallsyms file: %w", err)
	}
	defer f.Close()

	var syms []libpf.Symbol
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		switch fields[1] {
		case "T", "t", "W", "w":
		default:
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		syms = append(syms, libpf.Symbol{
			Name:    fields[2],
			Raw:     fields[2],
			Address: libpf.SymbolValue(addr),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan kallsyms file: %w", err)
	}

	sortAddrDesc(syms)
	m := libpf.NewSymbolMap(len(syms))
	for _, s := range syms {
		m.Add(s)
	}
	m.Finalize()
	return m, nil
}
