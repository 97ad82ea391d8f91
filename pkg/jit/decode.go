package jit

import (
	"bytes"
	"math"
	"strings"
)

const documentMarker = "---"

// Decode 解析运行时发布的symfile文本，格式为每行一个"key: value"
//
// Recognised keys are name, start, size and file. Unknown keys, lines without
// a colon and the "---" document marker are skipped. Decode never fails on
// malformed input; it reports false unless both start and size are non-zero.
func Decode(blob []byte) (CodeRecord, bool) {
	rec := CodeRecord{Name: unknown, File: unknown}

	// the blob is a C string, anything after the first NUL is garbage
	if i := bytes.IndexByte(blob, 0); i >= 0 {
		blob = blob[:i]
	}

	for _, line := range strings.Split(string(blob), "\n") {
		if line == "" || line == documentMarker {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := line[:idx]
		// a value made only of blanks is kept as is
		value := line[idx+1:]
		if trimmed := strings.TrimLeft(value, " \t"); trimmed != "" {
			value = trimmed
		}

		switch key {
		case "name":
			rec.Name = value
		case "start":
			rec.Addr = ParseUint(value)
		case "size":
			rec.Size = ParseUint(value)
		case "file":
			rec.File = value
		}
	}

	return rec, rec.Addr != 0 && rec.Size != 0
}

// ParseUint 按照C语言strtoull(s, NULL, 0)的规则解析整数
//
// Leading whitespace and a sign are accepted, "0x" selects hex and a leading
// "0" selects octal. Parsing stops at the first invalid digit, so garbage
// yields 0. Overflow saturates at math.MaxUint64 and "-n" wraps modulo 2^64.
func ParseUint(s string) uint64 {
	s = strings.TrimLeft(s, " \t\n\v\f\r")

	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	base := uint64(10)
	switch {
	case len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') && digitVal(s[2]) < 16:
		base = 16
		s = s[2:]
	case len(s) > 0 && s[0] == '0':
		base = 8
	}

	var (
		n        uint64
		overflow bool
	)
	for i := 0; i < len(s); i++ {
		d := digitVal(s[i])
		if d >= base {
			break
		}
		if n > (math.MaxUint64-d)/base {
			overflow = true
			continue
		}
		n = n*base + d
	}

	if overflow {
		return math.MaxUint64
	}
	if neg {
		return -n
	}
	return n
}

func digitVal(c byte) uint64 {
	switch {
	case '0' <= c && c <= '9':
		return uint64(c - '0')
	case 'a' <= c && c <= 'z':
		return uint64(c-'a') + 10
	case 'A' <= c && c <= 'Z':
		return uint64(c-'A') + 10
	}
	return math.MaxUint64
}
