package ssetest

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/invopop/jsonschema"

	"sse-rpc/message"
)

// Describer lets a tool receiver supply descriptions by tool name.
type Describer interface {
	Description(tool string) string
}

type tool struct {
	name        string
	description string
	schema      json.RawMessage
	rcvr        reflect.Value
	method      reflect.Method
	argType     reflect.Type
	replyType   reflect.Type
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// scanTools collects the exported methods of rcvr shaped like
//
//	func (r *T) AddNumbers(args *Args, reply *R) error
//
// Each becomes a tool named in snake_case ("add_numbers") whose input schema
// is reflected from Args.
func scanTools(rcvr any) ([]*tool, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("ssetest: receiver must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("ssetest: receiver must point to a struct, got %s", typ.Elem().Kind())
	}
	val := reflect.ValueOf(rcvr)
	describer, _ := rcvr.(Describer)

	var tools []*tool
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if method.Type.NumIn() != 3 || method.Type.NumOut() != 1 || method.Type.Out(0) != errorType ||
			method.Type.In(1).Kind() != reflect.Ptr || method.Type.In(2).Kind() != reflect.Ptr {
			continue
		}

		t := &tool{
			name:      snakeCase(method.Name),
			rcvr:      val,
			method:    method,
			argType:   method.Type.In(1).Elem(),
			replyType: method.Type.In(2).Elem(),
		}
		if describer != nil {
			t.description = describer.Description(t.name)
		}
		schema, err := inputSchema(t.argType)
		if err != nil {
			return nil, fmt.Errorf("ssetest: schema for %s: %w", t.name, err)
		}
		t.schema = schema
		tools = append(tools, t)
	}
	if len(tools) == 0 {
		return nil, fmt.Errorf("ssetest: %s has no tool methods", typ.Elem().Name())
	}
	return tools, nil
}

func inputSchema(argType reflect.Type) (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.ReflectFromType(argType)
	s.Version = ""
	return json.Marshal(s)
}

func (t *tool) descriptor() message.Tool {
	return message.Tool{Name: t.name, Description: t.description, InputSchema: t.schema}
}

// call decodes arguments into a fresh Args value and invokes the method. A
// method error becomes a tool-level failure rather than an RPC error.
func (t *tool) call(args map[string]any) (*message.CallToolResult, error) {
	argv := reflect.New(t.argType)
	replyv := reflect.New(t.replyType)

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, argv.Interface()); err != nil {
		return nil, err
	}

	results := t.method.Func.Call([]reflect.Value{t.rcvr, argv, replyv})
	if errv := results[0]; !errv.IsNil() {
		return &message.CallToolResult{
			Content: []message.Content{message.TextContent(errv.Interface().(error).Error())},
			IsError: true,
		}, nil
	}

	if s, ok := replyv.Interface().(*string); ok {
		return &message.CallToolResult{Content: []message.Content{message.TextContent(*s)}}, nil
	}
	text, err := json.Marshal(replyv.Interface())
	if err != nil {
		return nil, err
	}
	return &message.CallToolResult{Content: []message.Content{message.TextContent(string(text))}}, nil
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
