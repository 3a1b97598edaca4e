// Package taskid provides task identifier generation and validation.
//
// Identifiers encode the allocation date and a daily sequence:
//
//	20250128001     top-level task (date + 3-digit sequence)
//	20250128001.002 subtask (parent id + 3-digit subtask sequence)
//
// Sequences run from 001 to 999. Allocation scans the caller-supplied id set
// for the highest existing sequence and increments it, so the repository's
// stored ids are the single source of truth.
package taskid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxSequence is the highest sequence number for a single date or parent.
const MaxSequence = 999

// ID is a validated task or subtask identifier.
type ID string

var (
	taskIDPattern    = regexp.MustCompile(`^(\d{8})(\d{3})$`)
	subtaskIDPattern = regexp.MustCompile(`^(\d{8})(\d{3})\.(\d{3})$`)
)

// FormatError indicates a value that does not match either accepted id shape.
type FormatError struct {
	Value string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid task id %q: want YYYYMMDDSSS or YYYYMMDDSSS.NNN", e.Value)
}

// CapacityError indicates the 999-per-date (or per-parent) allocation limit
// was exhausted. There is no rollover; the caller must fail the allocation.
type CapacityError struct {
	Scope string // date prefix or parent id
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("task id capacity exceeded for %s: all %d sequence numbers allocated", e.Scope, MaxSequence)
}

// Parse validates value against the two accepted formats and returns it as an
// ID. The date portion must be a real calendar date and sequence portions must
// be in [1,999].
func Parse(value string) (ID, error) {
	if m := subtaskIDPattern.FindStringSubmatch(value); m != nil {
		if !validDate(m[1]) || !validSeq(m[2]) || !validSeq(m[3]) {
			return "", &FormatError{Value: value}
		}
		return ID(value), nil
	}
	if m := taskIDPattern.FindStringSubmatch(value); m != nil {
		if !validDate(m[1]) || !validSeq(m[2]) {
			return "", &FormatError{Value: value}
		}
		return ID(value), nil
	}
	return "", &FormatError{Value: value}
}

// IsValid reports whether value parses as a task or subtask id.
func IsValid(value string) bool {
	_, err := Parse(value)
	return err == nil
}

func validDate(yyyymmdd string) bool {
	_, err := time.Parse("20060102", yyyymmdd)
	return err == nil
}

func validSeq(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 1 && n <= MaxSequence
}

// IsSubtask reports whether the id has a subtask suffix.
func (id ID) IsSubtask() bool {
	return strings.Contains(string(id), ".")
}

// Parent returns the parent id of a subtask id. For top-level ids it returns
// the id itself.
func (id ID) Parent() ID {
	if i := strings.IndexByte(string(id), '.'); i >= 0 {
		return id[:i]
	}
	return id
}

// Date returns the 8-digit date portion of the id.
func (id ID) Date() string {
	return string(id)[:8]
}

// Sequence returns the final sequence number of the id (the subtask sequence
// for subtask ids, the daily sequence otherwise).
func (id ID) Sequence() int {
	s := string(id)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		n, _ := strconv.Atoi(s[i+1:])
		return n
	}
	n, _ := strconv.Atoi(s[8:])
	return n
}

func (id ID) String() string {
	return string(id)
}

// NextID allocates the next top-level id for today, scanning existing ids for
// today's date prefix and incrementing the highest sequence found. Returns a
// CapacityError once 999 ids exist for the date.
func NextID(existing []string, today time.Time) (ID, error) {
	prefix := today.UTC().Format("20060102")

	maxSeq := 0
	for _, raw := range existing {
		m := taskIDPattern.FindStringSubmatch(raw)
		if m == nil || m[1] != prefix {
			continue
		}
		if n, err := strconv.Atoi(m[2]); err == nil && n > maxSeq {
			maxSeq = n
		}
	}

	if maxSeq >= MaxSequence {
		return "", &CapacityError{Scope: prefix}
	}
	return ID(fmt.Sprintf("%s%03d", prefix, maxSeq+1)), nil
}

// NextSubtaskID allocates the next subtask id under parent, scanning existing
// subtask ids with the parent's prefix. Subtasks cannot themselves have
// subtasks, so a subtask parent is rejected.
func NextSubtaskID(parent ID, existing []string) (ID, error) {
	if parent.IsSubtask() {
		return "", fmt.Errorf("cannot allocate subtask under %s: subtasks cannot have subtasks", parent)
	}
	if _, err := Parse(string(parent)); err != nil {
		return "", err
	}

	prefix := string(parent) + "."
	maxSeq := 0
	for _, raw := range existing {
		if !strings.HasPrefix(raw, prefix) {
			continue
		}
		m := subtaskIDPattern.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[3]); err == nil && n > maxSeq {
			maxSeq = n
		}
	}

	if maxSeq >= MaxSequence {
		return "", &CapacityError{Scope: string(parent)}
	}
	return ID(fmt.Sprintf("%s%03d", prefix, maxSeq+1)), nil
}
