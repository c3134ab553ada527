package harness

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"metricdrop/internal/warehouse"
)

var testHeader = regexp.MustCompile(`(?i)^\s*--\s*test\s+(\d+)\s*:\s*(.*?)\s*$`)

// QueryBlock is one executable query of a test file. Index is 0-based and is what
// expected results refer to as query_index.
type QueryBlock struct {
	Index  int
	Number int
	Name   string
	SQL    string
}

// SplitQueries splits a rendered test file into query blocks. Blocks start at
// "-- Test <n>: <name>" headers; a file without headers, and any SQL above the first
// header, is split on semicolons. Blocks that hold only comments are dropped.
func SplitQueries(content string) []QueryBlock {
	lines := strings.Split(content, "\n")

	var headers []int
	for i, line := range lines {
		if testHeader.MatchString(line) {
			headers = append(headers, i)
		}
	}

	if len(headers) == 0 {
		return splitOnSemicolons(lines)
	}

	blocks := splitOnSemicolons(lines[:headers[0]])
	for h, start := range headers {
		end := len(lines)
		if h+1 < len(headers) {
			end = headers[h+1]
		}

		m := testHeader.FindStringSubmatch(lines[start])
		number, _ := strconv.Atoi(m[1])
		name := m[2]
		if name == "" {
			name = fmt.Sprintf("test_%d", number)
		}

		sql := cleanQuery(lines[start+1 : end])
		if sql == "" {
			continue
		}
		blocks = append(blocks, QueryBlock{Index: len(blocks), Number: number, Name: name, SQL: sql})
	}
	return blocks
}

func splitOnSemicolons(lines []string) []QueryBlock {
	var kept []string
	for _, line := range lines {
		if !isComment(line) {
			kept = append(kept, line)
		}
	}

	var blocks []QueryBlock
	for _, stmt := range warehouse.SplitStatements(strings.Join(kept, "\n")) {
		sql := cleanQuery(strings.Split(stmt, "\n"))
		if sql == "" {
			continue
		}
		n := len(blocks) + 1
		blocks = append(blocks, QueryBlock{Index: n - 1, Number: n, Name: fmt.Sprintf("query_%d", n), SQL: sql})
	}
	return blocks
}

// cleanQuery drops comment-only and blank lines and a trailing semicolon.
func cleanQuery(lines []string) string {
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isComment(trimmed) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t\r"))
	}
	sql := strings.TrimSpace(strings.Join(kept, "\n"))
	sql = strings.TrimSpace(strings.TrimRight(sql, ";"))
	return sql
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "--")
}
