package errors

import (
	"fmt"
	"strings"
)

// Code identifies a failure as "<package>.<name>", with optional dotted
// sub-packages: "stream.middleware.pool_at_capacity". Segments are lower
// snake case and start with a letter.
type Code struct {
	value string
}

// CommonInternal marks failures that carry no package code of their own.
var CommonInternal = MustNewCode("common.internal")

// noise words are rejected because a code already names an error.
var noise = map[string]bool{"err": true, "error": true, "errors": true}

// NewCode validates s and returns it as a Code.
func NewCode(s string) (Code, error) {
	segments := strings.Split(s, ".")
	if len(segments) < 2 {
		return Code{}, fmt.Errorf("invalid code %q: want package.name", s)
	}
	for _, seg := range segments {
		if !validSegment(seg) {
			return Code{}, fmt.Errorf("invalid code %q: segment %q is not lower snake case", s, seg)
		}
		for _, word := range strings.Split(seg, "_") {
			if noise[word] {
				return Code{}, fmt.Errorf("invalid code %q: drop the word %q", s, word)
			}
		}
	}
	return Code{value: s}, nil
}

func validSegment(seg string) bool {
	if seg == "" || seg[0] < 'a' || seg[0] > 'z' {
		return false
	}
	for i := 1; i < len(seg); i++ {
		c := seg[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}

// MustNewCode is NewCode for package level declarations. It panics on an
// invalid code.
func MustNewCode(s string) Code {
	code, err := NewCode(s)
	if err != nil {
		panic(err)
	}
	return code
}

func (c Code) String() string {
	return c.value
}

// split returns everything before and after the last dot.
func (c Code) split() (string, string) {
	i := strings.LastIndexByte(c.value, '.')
	if i < 0 {
		return "", c.value
	}
	return c.value[:i], c.value[i+1:]
}

// Package is the code without its final segment.
func (c Code) Package() string {
	pkg, _ := c.split()
	return pkg
}

// Name is the final segment of the code.
func (c Code) Name() string {
	_, name := c.split()
	return name
}

// IsValid reports whether c would be accepted by NewCode. The zero Code is
// not valid.
func (c Code) IsValid() bool {
	_, err := NewCode(c.value)
	return err == nil
}

func (c Code) Equals(other Code) bool {
	return c.value == other.value
}
