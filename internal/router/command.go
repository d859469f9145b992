package router

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"chainrig/internal/chain"
)

// Kind identifies a route. The set is closed.
type Kind int

const (
	KindPing Kind = iota + 1
	KindSetNext
	KindSwitchNow
	KindNew
	KindAdd
	KindRemove
	KindSetFrom
	KindSwitchAfter
	KindSwitchOnBeat
	KindStatus
)

var kindNames = map[Kind]string{
	KindPing:         "ping",
	KindSetNext:      "setNext",
	KindSwitchNow:    "switchNow",
	KindNew:          "new",
	KindAdd:          "add",
	KindRemove:       "remove",
	KindSetFrom:      "setFrom",
	KindSwitchAfter:  "switchAfter",
	KindSwitchOnBeat: "switchOnBeat",
	KindStatus:       "status",
}

// String returns the command name as it appears on the wire.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Kinds returns every route kind in table order.
func Kinds() []Kind {
	return []Kind{
		KindPing, KindSetNext, KindSwitchNow, KindNew, KindAdd,
		KindRemove, KindSetFrom, KindSwitchAfter, KindSwitchOnBeat, KindStatus,
	}
}

// KindOf looks up a route by command name. Matching is exact.
func KindOf(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Command is a parsed command. Exactly one struct per Kind implements it.
type Command interface {
	Kind() Kind
	command()
}

// Ping carries its arguments through untouched.
type Ping struct{ Args []any }

// SetNext stages the chain called Name.
type SetNext struct{ Name string }

// SwitchNow switches immediately.
type SwitchNow struct{}

// NewChain creates a chain. Slots is meaningful only when HasSlots is set.
type NewChain struct {
	Name     string
	Slots    int
	HasSlots bool
}

// AddSlot puts Processor into slot Slot.
type AddSlot struct {
	Slot      int
	Processor string
}

// RemoveSlot clears slot Slot.
type RemoveSlot struct{ Slot int }

// SetFrom fills slots Start, Start+1, ... with Processors in order.
type SetFrom struct {
	Start      int
	Processors []string
}

// SwitchAfter switches after Delay.
type SwitchAfter struct{ Delay time.Duration }

// SwitchOnBeat switches Ahead beats from now. Ahead is meaningful only when
// HasAhead is set; otherwise it is the next beat.
type SwitchOnBeat struct {
	Ahead    int
	HasAhead bool
}

// Status asks for the controller and scheduler state.
type Status struct{}

func (Ping) Kind() Kind         { return KindPing }
func (SetNext) Kind() Kind      { return KindSetNext }
func (SwitchNow) Kind() Kind    { return KindSwitchNow }
func (NewChain) Kind() Kind     { return KindNew }
func (AddSlot) Kind() Kind      { return KindAdd }
func (RemoveSlot) Kind() Kind   { return KindRemove }
func (SetFrom) Kind() Kind      { return KindSetFrom }
func (SwitchAfter) Kind() Kind  { return KindSwitchAfter }
func (SwitchOnBeat) Kind() Kind { return KindSwitchOnBeat }
func (Status) Kind() Kind       { return KindStatus }

func (Ping) command()         {}
func (SetNext) command()      {}
func (SwitchNow) command()    {}
func (NewChain) command()     {}
func (AddSlot) command()      {}
func (RemoveSlot) command()   {}
func (SetFrom) command()      {}
func (SwitchAfter) command()  {}
func (SwitchOnBeat) command() {}
func (Status) command()       {}

var (
	// ErrMissingArgument means a required positional argument was absent.
	ErrMissingArgument = errors.New("missing argument")
	// ErrMalformedArgument means an argument had the wrong type or value.
	ErrMalformedArgument = errors.New("malformed argument")
)

// ArgError reports a bad positional argument.
type ArgError struct {
	Kind  Kind
	Index int
	Name  string
	Value any
	Err   error
}

func (e *ArgError) Error() string {
	if errors.Is(e.Err, ErrMissingArgument) {
		return fmt.Sprintf("%s: argument %d (%s): %v", e.Kind, e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("%s: argument %d (%s): %v: %v", e.Kind, e.Index, e.Name, e.Err, e.Value)
}

func (e *ArgError) Unwrap() error { return e.Err }

// Symbol normalizes a chain or processor name: surrounding whitespace and
// leading backslashes are removed. Symbol(Symbol(s)) == Symbol(s).
func Symbol(s string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), `\`))
}

// Parse converts positional arguments into the command for kind. Missing
// optional arguments are left absent; missing or unusable required ones
// yield an *ArgError.
func Parse(kind Kind, args []any) (Command, error) {
	p := argParser{kind: kind, args: args}
	switch kind {
	case KindPing:
		return Ping{Args: args}, nil

	case KindSetNext:
		name, err := p.symbol(0, "name")
		if err != nil {
			return nil, err
		}
		return SetNext{Name: name}, nil

	case KindSwitchNow:
		return SwitchNow{}, nil

	case KindNew:
		name, err := p.symbol(0, "name")
		if err != nil {
			return nil, err
		}
		cmd := NewChain{Name: name}
		if p.has(1) {
			if cmd.Slots, err = p.int(1, "slots"); err != nil {
				return nil, err
			}
			if cmd.Slots > chain.MaxSlots {
				return nil, p.fail(1, "slots", ErrMalformedArgument)
			}
			cmd.HasSlots = true
		}
		return cmd, nil

	case KindAdd:
		slot, err := p.int(0, "slot")
		if err != nil {
			return nil, err
		}
		proc, err := p.symbol(1, "processor")
		if err != nil {
			return nil, err
		}
		return AddSlot{Slot: slot, Processor: proc}, nil

	case KindRemove:
		slot, err := p.int(0, "slot")
		if err != nil {
			return nil, err
		}
		return RemoveSlot{Slot: slot}, nil

	case KindSetFrom:
		start, err := p.int(0, "start")
		if err != nil {
			return nil, err
		}
		procs := make([]string, 0, len(args)-1)
		for i := 1; i < len(args); i++ {
			proc, err := p.symbol(i, "processor")
			if err != nil {
				return nil, err
			}
			procs = append(procs, proc)
		}
		return SetFrom{Start: start, Processors: procs}, nil

	case KindSwitchAfter:
		secs, err := p.float(0, "seconds")
		if err != nil {
			return nil, err
		}
		if math.Abs(secs) >= maxDelaySeconds {
			return nil, p.fail(0, "seconds", ErrMalformedArgument)
		}
		return SwitchAfter{Delay: time.Duration(secs * float64(time.Second))}, nil

	case KindSwitchOnBeat:
		cmd := SwitchOnBeat{}
		if p.has(0) {
			ahead, err := p.int(0, "beats")
			if err != nil {
				return nil, err
			}
			cmd.Ahead, cmd.HasAhead = ahead, true
		}
		return cmd, nil

	case KindStatus:
		return Status{}, nil
	}
	return nil, fmt.Errorf("unknown command kind %d", int(kind))
}

// maxDelaySeconds is the longest delay a time.Duration can hold.
var maxDelaySeconds = float64(math.MaxInt64) / float64(time.Second)

type argParser struct {
	kind Kind
	args []any
}

func (p argParser) has(i int) bool { return i < len(p.args) && p.args[i] != nil }

func (p argParser) fail(i int, name string, err error) *ArgError {
	var v any
	if i < len(p.args) {
		v = p.args[i]
	}
	return &ArgError{Kind: p.kind, Index: i, Name: name, Value: v, Err: err}
}

func (p argParser) symbol(i int, name string) (string, error) {
	if !p.has(i) {
		return "", p.fail(i, name, ErrMissingArgument)
	}
	var s string
	switch v := p.args[i].(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case fmt.Stringer:
		s = v.String()
	default:
		return "", p.fail(i, name, ErrMalformedArgument)
	}
	s = Symbol(s)
	if s == "" {
		return "", p.fail(i, name, ErrMissingArgument)
	}
	return s, nil
}

// int accepts integral values in the int32 range, the width of an OSC int.
func (p argParser) int(i int, name string) (int, error) {
	if !p.has(i) {
		return 0, p.fail(i, name, ErrMissingArgument)
	}
	var f float64
	switch v := p.args[i].(type) {
	case int:
		f = float64(v)
	case int32:
		return int(v), nil
	case int64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return 0, p.fail(i, name, ErrMalformedArgument)
		}
		return int(n), nil
	default:
		return 0, p.fail(i, name, ErrMalformedArgument)
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, p.fail(i, name, ErrMalformedArgument)
	}
	return int(f), nil
}

func (p argParser) float(i int, name string) (float64, error) {
	if !p.has(i) {
		return 0, p.fail(i, name, ErrMissingArgument)
	}
	var f float64
	switch v := p.args[i].(type) {
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, p.fail(i, name, ErrMalformedArgument)
		}
		f = parsed
	default:
		return 0, p.fail(i, name, ErrMalformedArgument)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, p.fail(i, name, ErrMalformedArgument)
	}
	return f, nil
}
