// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package instruction

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	placeholderRE = regexp.MustCompile(`\{(\w+)\}`)
	reportFileRE  = regexp.MustCompile(`\{report:([^}]+)\}`)
	lineRE        = regexp.MustCompile(`\{line:(\d+)\}`)
	colRE         = regexp.MustCompile(`\{col:(\d+):([^}]+)\}`)
)

// Substitute replaces {name} placeholders in a template with provided
// values. Unknown placeholders are kept verbatim so a typo is visible in
// the rendered prompt rather than silently dropped.
func Substitute(template string, vars map[string]string) string {
	result := reportFileRE.ReplaceAllStringFunc(template, func(match string) string {
		file := reportFileRE.FindStringSubmatch(match)[1]
		dir, ok := vars["report_dir"]
		if !ok {
			return match
		}
		return path.Join(dir, file)
	})

	return placeholderRE.ReplaceAllStringFunc(result, func(match string) string {
		name := strings.Trim(match, "{}")
		value, ok := vars[name]
		if !ok {
			return match
		}
		return value
	})
}

// ExpandBatch renders an arpeggio batch template. rows are the data rows
// of this batch; header holds the CSV column names. Supported
// placeholders: {line:N} (1-based row within the batch, joined with
// commas), {col:N:name} (column of row N addressed by header name), and
// {batch_index} (0-based batch ordinal).
func ExpandBatch(template string, header []string, rows [][]string, batchIndex int) string {
	result := strings.ReplaceAll(template, "{batch_index}", fmt.Sprintf("%d", batchIndex))

	result = lineRE.ReplaceAllStringFunc(result, func(match string) string {
		n := atoi(lineRE.FindStringSubmatch(match)[1])
		if n < 1 || n > len(rows) {
			return match
		}
		return strings.Join(rows[n-1], ", ")
	})

	result = colRE.ReplaceAllStringFunc(result, func(match string) string {
		parts := colRE.FindStringSubmatch(match)
		n := atoi(parts[1])
		name := parts[2]
		if n < 1 || n > len(rows) {
			return match
		}
		for i, h := range header {
			if h == name && i < len(rows[n-1]) {
				return rows[n-1][i]
			}
		}
		return match
	})

	return result
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
