package commands

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"
)

// TaskRef represents a parsed task reference.
type TaskRef struct {
	Letter    rune // 0 if no letter, 'a'-'g' otherwise
	TaskNum   int  // 1-based task number in display order
	HasLetter bool // true if a day letter was provided
}

// DayIndex returns the 0-based position of the referenced day in the week.
func (r TaskRef) DayIndex() int {
	return int(r.Letter - 'a')
}

// ErrTaskRefRequired indicates no task reference was provided.
var ErrTaskRefRequired = errors.New("task reference required")

// ParseTaskRef parses a task reference from args.
//
// Parsing rules:
// 1. If first arg is all digits → task on the selected day
// 2. If first arg is <letter><digits> (e.g., a1, c12) → task on that day of the week
// 3. If first arg is single letter and second arg is all digits → separated reference (a 1)
// 4. If first arg is single letter with no second arg → error: task reference required
// 5. Otherwise → error: invalid task reference: <ref>
//
// Day letters run from a (first day of the week) to g.
func ParseTaskRef(args []string) (TaskRef, error) {
	if len(args) == 0 {
		return TaskRef{}, ErrTaskRefRequired
	}

	firstArg := args[0]

	if isAllDigits(firstArg) {
		num, err := strconv.Atoi(firstArg)
		if err != nil {
			return TaskRef{}, fmt.Errorf("invalid task reference: %s", firstArg)
		}
		return TaskRef{TaskNum: num}, nil
	}

	if len(firstArg) > 0 && isDayLetter(rune(firstArg[0])) {
		letter := rune(firstArg[0])

		if len(firstArg) > 1 && isAllDigits(firstArg[1:]) {
			num, err := strconv.Atoi(firstArg[1:])
			if err != nil {
				return TaskRef{}, fmt.Errorf("invalid task reference: %s", firstArg)
			}
			return TaskRef{Letter: letter, TaskNum: num, HasLetter: true}, nil
		}

		if len(firstArg) == 1 {
			if len(args) < 2 {
				return TaskRef{}, ErrTaskRefRequired
			}
			secondArg := args[1]
			if isAllDigits(secondArg) {
				num, err := strconv.Atoi(secondArg)
				if err != nil {
					return TaskRef{}, fmt.Errorf("invalid task reference: %s", secondArg)
				}
				return TaskRef{Letter: letter, TaskNum: num, HasLetter: true}, nil
			}
			return TaskRef{}, fmt.Errorf("invalid task reference: %s", firstArg)
		}
	}

	return TaskRef{}, fmt.Errorf("invalid task reference: %s", firstArg)
}

// isAllDigits returns true if s consists only of ASCII digits and is non-empty.
func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// isDayLetter returns true if r names one of the seven days of a week.
func isDayLetter(r rune) bool {
	return r >= 'a' && r <= 'g'
}

// dayLetter returns the letter shown for the i-th day of the week.
func dayLetter(i int) rune {
	return rune('a' + i)
}

// ParseTaskRefs parses one or more task references, e.g. "a1 2 c 3".
func ParseTaskRefs(args []string) ([]TaskRef, error) {
	if len(args) == 0 {
		return nil, ErrTaskRefRequired
	}

	refs := make([]TaskRef, 0, len(args))
	for i := 0; i < len(args); i++ {
		tokens := args[i : i+1]
		if len(args[i]) == 1 && isDayLetter(rune(args[i][0])) && i+1 < len(args) && isAllDigits(args[i+1]) {
			tokens = args[i : i+2]
			i++
		}
		ref, err := ParseTaskRef(tokens)
		if errors.Is(err, ErrTaskRefRequired) {
			return nil, fmt.Errorf("invalid task reference: %s", tokens[0])
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
