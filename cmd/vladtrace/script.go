package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/vlad/buddy"
	"github.com/vkngwrapper/vlad/reveal"
)

type opKind int

const (
	opInit opKind = iota
	opMalloc
	opFree
	opStats
	opReveal
	opJSON
	opValidate
	opEnd
)

var simpleOps = map[string]opKind{
	"stats":    opStats,
	"reveal":   opReveal,
	"json":     opJSON,
	"validate": opValidate,
	"end":      opEnd,
}

type command struct {
	op    opKind
	label string
	n     uint32
}

// parseLine reads one script line. ok is false for blank lines and comments.
func parseLine(line string) (cmd command, ok bool, err error) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, false, nil
	}

	switch {
	case len(fields) == 1:
		op, known := simpleOps[fields[0]]
		if !known {
			return command{}, false, errors.Newf("unknown command %q", fields[0])
		}
		return command{op: op}, true, nil

	case fields[0] == "init" && len(fields) == 2:
		n, err := parseSize(fields[1])
		if err != nil {
			return command{}, false, err
		}
		return command{op: opInit, n: n}, true, nil

	case fields[0] == "free" && len(fields) == 2:
		label, err := parseLabel(fields[1])
		if err != nil {
			return command{}, false, err
		}
		return command{op: opFree, label: label}, true, nil

	case len(fields) == 4 && fields[1] == "=" && fields[2] == "malloc":
		label, err := parseLabel(fields[0])
		if err != nil {
			return command{}, false, err
		}
		n, err := parseSize(fields[3])
		if err != nil {
			return command{}, false, err
		}
		return command{op: opMalloc, label: label, n: n}, true, nil
	}

	return command{}, false, errors.Newf("cannot parse %q", strings.TrimSpace(line))
}

func parseSize(field string) (uint32, error) {
	n, err := strconv.ParseUint(field, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid size %q", field)
	}
	return uint32(n), nil
}

// Labels are single lowercase letters so that each one has a place in the reveal table
func parseLabel(field string) (string, error) {
	if len(field) != 1 || field[0] < 'a' || field[0] > 'z' {
		return "", errors.Newf("invalid label %q: labels are a single letter from a to z", field)
	}
	return field, nil
}

type runner struct {
	out       io.Writer
	allocator *buddy.Allocator
	labels    [reveal.MaxLabels]buddy.Pointer
	color     bool
}

func newRunner(out io.Writer, allocator *buddy.Allocator, color bool) *runner {
	return &runner{
		out:       out,
		allocator: allocator,
		color:     color,
	}
}

func labelIndex(label string) int {
	return int(label[0] - 'a')
}

// run executes every command read from script. The first usage error stops the run and is returned with
// its line number.
func (r *runner) run(script io.Reader) error {
	scanner := bufio.NewScanner(script)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++

		cmd, ok, err := parseLine(scanner.Text())
		if err == nil && ok {
			err = r.execute(cmd)
		}
		if err != nil {
			return errors.Wrapf(err, "line %d", lineNumber)
		}
	}

	return scanner.Err()
}

func (r *runner) execute(cmd command) error {
	switch cmd.op {
	case opInit:
		r.allocator.Init(cmd.n)
		return nil

	case opMalloc:
		index := labelIndex(cmd.label)
		if r.labels[index] != buddy.NilPointer {
			return errors.Newf("label %s still holds a live allocation", cmd.label)
		}

		ptr, err := r.allocator.Malloc(cmd.n)
		if errors.Is(err, buddy.ErrNoSpace) {
			_, err = fmt.Fprintln(r.out, "malloc failed")
			return err
		}
		if err != nil {
			return err
		}

		r.labels[index] = ptr
		_, err = fmt.Fprintf(r.out, "%s = %d\n", cmd.label, ptr)
		return err

	case opFree:
		index := labelIndex(cmd.label)
		ptr := r.labels[index]
		if ptr == buddy.NilPointer {
			return errors.Newf("label %s does not hold a live allocation", cmd.label)
		}

		r.allocator.Free(ptr)
		r.labels[index] = buddy.NilPointer
		return nil

	case opStats:
		return r.allocator.Stats(r.out)

	case opReveal:
		return reveal.Render(r.out, r.allocator, r.labels[:], reveal.Options{Color: r.color})

	case opJSON:
		_, err := fmt.Fprintln(r.out, r.allocator.BuildStatsString(true))
		return err

	case opValidate:
		if err := r.allocator.Validate(); err != nil {
			return err
		}
		_, err := fmt.Fprintln(r.out, "ok")
		return err

	case opEnd:
		r.allocator.End()
		r.labels = [reveal.MaxLabels]buddy.Pointer{}
		return nil
	}

	return errors.Newf("unknown operation %d", cmd.op)
}
