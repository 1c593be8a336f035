// core/edgelist.go
package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var ErrMalformedLine = errors.New("malformed line")

// Triple is one data line of the line-oriented graph and intent formats:
// "<a> <b> <value>". For a graph file Value is the edge capacity, for an
// intent file it is the required bandwidth.
type Triple struct {
	A     string
	B     string
	Value int64
	// Line is the 1-based source line, kept for error reporting.
	Line int
}

// ParseTriples reads triples from r. Lines starting with '#' or shorter than
// two characters are ignored.
func ParseTriples(r io.Reader) ([]Triple, error) {
	var out []Triple

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if len(line) < 2 || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: %w: want 3 fields, got %d", lineNo, ErrMalformedLine, len(fields))
		}
		v, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", lineNo, ErrMalformedLine, err)
		}
		out = append(out, Triple{A: fields[0], B: fields[1], Value: v, Line: lineNo})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read triples: %w", err)
	}
	return out, nil
}

// ReadTriplesFile opens path and parses it with ParseTriples.
func ReadTriplesFile(path string) ([]Triple, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	triples, err := ParseTriples(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return triples, nil
}

// LoadGraph builds a capacity graph from a graph-format reader.
func LoadGraph(r io.Reader) (*CapacityGraph, error) {
	triples, err := ParseTriples(r)
	if err != nil {
		return nil, err
	}
	g := NewCapacityGraph()
	for _, t := range triples {
		if err := g.AddEdge(t.A, t.B, t.Value); err != nil {
			return nil, fmt.Errorf("line %d: %w", t.Line, err)
		}
	}
	return g, nil
}

// LoadGraphFile is LoadGraph over a file.
func LoadGraphFile(path string) (*CapacityGraph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g, err := LoadGraph(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}
