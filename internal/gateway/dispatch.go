package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"otbr-gateway/internal/otstack"
)

// ErrUnknownCommand is returned by Call for a name with no descriptor.
var ErrUnknownCommand = errors.New("unknown command")

// ParamType is the declared type of a command parameter.
type ParamType uint8

const (
	ParamString ParamType = iota
	ParamInt32
)

func (t ParamType) String() string {
	if t == ParamInt32 {
		return "int32"
	}
	return "string"
}

// ParamSpec declares one parameter of a command.
type ParamSpec struct {
	Name string    `json:"name"`
	Type ParamType `json:"-"`
}

// HandlerFunc runs one command. It writes its reply into req.Reply; the
// returned error becomes the reply's Error code.
type HandlerFunc func(ctx context.Context, req *Request) error

// Command describes one entry of the command table.
type Command struct {
	Name    string
	Params  []ParamSpec
	Handler HandlerFunc
	// Mutates marks commands that change stack configuration.
	Mutates bool
}

// Params holds the parameters that passed the type check. Fields that were
// missing or of the wrong type are absent.
type Params struct {
	strs map[string]string
	ints map[string]int32
}

// String returns a string parameter.
func (p Params) String(name string) (string, bool) {
	v, ok := p.strs[name]
	return v, ok
}

// Int32 returns an integer parameter.
func (p Params) Int32(name string) (int32, bool) {
	v, ok := p.ints[name]
	return v, ok
}

// Request is the per-call context handed to a handler.
type Request struct {
	Command *Command
	Raw     []byte
	Params  Params
	Reply   *Document
}

// Lookup returns the descriptor for name, or nil.
func (g *Gateway) Lookup(name string) *Command {
	return g.commands[name]
}

// Commands returns all descriptors in registration order.
func (g *Gateway) Commands() []*Command {
	out := make([]*Command, len(g.order))
	copy(out, g.order)
	return out
}

func (g *Gateway) register(cmds ...*Command) {
	for _, c := range cmds {
		if _, dup := g.commands[c.Name]; dup {
			panic("gateway: duplicate command " + c.Name)
		}
		g.commands[c.Name] = c
		g.order = append(g.order, c)
	}
}

// Call validates raw against the command's schema, runs the handler and
// returns the finished reply. The only error is ErrUnknownCommand; every
// other failure is reported in the reply's Error field.
func (g *Gateway) Call(ctx context.Context, name string, raw []byte) (*Document, error) {
	cmd := g.commands[name]
	if cmd == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	start := time.Now()
	req := &Request{Command: cmd, Raw: raw, Reply: NewDocument()}

	var err error
	req.Params, err = parseParams(cmd.Params, raw)
	if err == nil {
		err = g.run(detach(ctx), cmd, req)
	}
	code := statusOf(err)
	req.Reply.Finish(code)

	if code != otstack.ErrorNone {
		g.logger.Warn("command failed", "command", name, "code", uint8(code), "err", err)
	} else {
		g.logger.Debug("command done", "command", name)
		if cmd.Mutates {
			g.emit(EventConfigChanged, map[string]any{"command": name})
		}
	}
	if g.metrics != nil {
		g.metrics.requests.WithLabelValues(name, strconv.Itoa(int(code))).Inc()
		g.metrics.duration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return req.Reply, nil
}

func (g *Gateway) run(ctx context.Context, cmd *Command, req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("command handler panic", "command", cmd.Name, "panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return cmd.Handler(ctx, req)
}

// parseParams type-checks the declared fields of a JSON object. Unknown
// fields are ignored and mistyped fields are left absent.
func parseParams(specs []ParamSpec, raw []byte) (Params, error) {
	p := Params{strs: map[string]string{}, ints: map[string]int32{}}
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, nil
	}
	res := gjson.ParseBytes(raw)
	if !gjson.ValidBytes(raw) || !res.IsObject() {
		return p, fmt.Errorf("parameters are not a json object: %w", otstack.ErrorParse)
	}
	for _, spec := range specs {
		v := res.Get(gjson.Escape(spec.Name))
		switch spec.Type {
		case ParamString:
			if v.Type == gjson.String {
				p.strs[spec.Name] = v.Str
			}
		case ParamInt32:
			if v.Type == gjson.Number && v.Num == math.Trunc(v.Num) &&
				v.Num >= math.MinInt32 && v.Num <= math.MaxInt32 {
				p.ints[spec.Name] = int32(v.Num)
			}
		}
	}
	return p, nil
}

// statusOf maps a handler error to the numeric status in the reply.
func statusOf(err error) otstack.Error {
	if err == nil {
		return otstack.ErrorNone
	}
	var code otstack.Error
	if errors.As(err, &code) {
		return code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return otstack.ErrorResponseTimeout
	}
	return otstack.ErrorFailed
}
