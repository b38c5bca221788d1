// SPDX-License-Identifier: MIT
//
// Package onset detects note and beat onsets by combining several spectral
// novelty functions, each with its own adaptive threshold, under a quorum.
package onset

import (
	"fmt"
	"math/bits"
	"strings"
)

// Method identifies an onset detection function.
type Method uint8

// The closed set of detection functions.
const (
	Energy   Method = iota // rectified rise of spectral energy
	HFC                    // high frequency content
	Complex                // complex domain prediction error
	Phase                  // phase deviation
	WPhase                 // magnitude weighted phase deviation
	SpecFlux               // spectral flux
	KL                     // Kullback-Liebler
	MKL                    // modified Kullback-Liebler
	numMethods
)

var methodNames = [numMethods]string{
	Energy:   "energy",
	HFC:      "hfc",
	Complex:  "complex",
	Phase:    "phase",
	WPhase:   "wphase",
	SpecFlux: "specflux",
	KL:       "kl",
	MKL:      "mkl",
}

func (m Method) String() string {
	if m < numMethods {
		return methodNames[m]
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}

// AllMethods returns every method in declaration order.
func AllMethods() []Method {
	out := make([]Method, numMethods)
	for i := range out {
		out[i] = Method(i)
	}
	return out
}

// ParseMethod converts a case-insensitive name to a Method.
func ParseMethod(name string) (Method, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range methodNames {
		if n == name {
			return Method(i), nil
		}
	}
	return 0, fmt.Errorf("unknown onset method '%s'", name)
}

// ParseMethods parses a list of names, rejecting unknown and repeated ones.
func ParseMethods(names []string) ([]Method, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no onset methods configured")
	}
	var seen MethodSet
	methods := make([]Method, 0, len(names))
	for _, name := range names {
		m, err := ParseMethod(name)
		if err != nil {
			return nil, err
		}
		if seen.Has(m) {
			return nil, fmt.Errorf("onset method '%s' listed twice", m)
		}
		seen = seen.Add(m)
		methods = append(methods, m)
	}
	return methods, nil
}

// MethodSet is a bitmask of methods.
type MethodSet uint16

// Add returns the set with m included.
func (s MethodSet) Add(m Method) MethodSet { return s | 1<<m }

// Has reports whether m is in the set.
func (s MethodSet) Has(m Method) bool { return s&(1<<m) != 0 }

// Len returns the number of methods in the set.
func (s MethodSet) Len() int { return bits.OnesCount16(uint16(s)) }

// Methods returns the members in declaration order.
func (s MethodSet) Methods() []Method {
	out := make([]Method, 0, s.Len())
	for m := range numMethods {
		if s.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

// Names returns the member names in declaration order.
func (s MethodSet) Names() []string {
	out := make([]string, 0, s.Len())
	for m := range numMethods {
		if s.Has(m) {
			out = append(out, m.String())
		}
	}
	return out
}

func (s MethodSet) String() string {
	return "[" + strings.Join(s.Names(), ",") + "]"
}

// SetOf builds a MethodSet from names; unknown names are an error.
func SetOf(names ...string) (MethodSet, error) {
	var s MethodSet
	for _, name := range names {
		m, err := ParseMethod(name)
		if err != nil {
			return 0, err
		}
		s = s.Add(m)
	}
	return s, nil
}
