/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sessioncode produces the numeric codes customers type to join a session.
package sessioncode

import (
	"crypto/rand"
	"fmt"
	"io"
)

// DefaultLength is the number of digits in a session code.
const DefaultLength = 9

// Generator creates fixed-length numeric codes. It is stateless; callers
// check the session store for live collisions and retry.
type Generator struct {
	Length int

	// Rand is the entropy source. Nil means crypto/rand.
	Rand io.Reader
}

// New returns a Generator producing codes of the given length.
func New(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{Length: length}
}

// Generate returns a new code. Leading zeros are kept so every code has
// exactly Length digits.
func (g *Generator) Generate() (string, error) {
	length := g.Length
	if length <= 0 {
		length = DefaultLength
	}
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}

	out := make([]byte, length)
	buf := make([]byte, length)
	filled := 0
	for filled < length {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			// Reject 250..255 so each digit is uniform.
			if b >= 250 {
				continue
			}
			out[filled] = '0' + b%10
			filled++
			if filled == length {
				break
			}
		}
	}
	return string(out), nil
}

// Valid reports whether code has the expected length and only digits.
func (g *Generator) Valid(code string) bool {
	length := g.Length
	if length <= 0 {
		length = DefaultLength
	}
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
