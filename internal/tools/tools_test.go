package tools

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "Echo the text argument",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"text": {Type: "string"},
			},
			Required: []string{"text"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"echo": args["text"]}, nil
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("b")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoTool("a")); err != nil {
		t.Fatal(err)
	}

	if got, want := r.Names(), []string{"b", "a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want registration order %v", got, want)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	tests := []struct {
		name string
		tool *Tool
	}{
		{"duplicate", echoTool("a")},
		{"no name", &Tool{Handler: echoTool("x").Handler}},
		{"no handler", &Tool{Name: "nohandler"}},
		{"nil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.tool); err == nil {
				t.Error("Register succeeded, want error")
			}
		})
	}
}

func TestRegistry_Nil(t *testing.T) {
	var r *Registry
	if r.Len() != 0 || r.Names() != nil || r.Definitions() != nil || r.Get("x") != nil {
		t.Error("nil registry should behave as empty")
	}
	if _, err := r.Lookup("x"); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Lookup on nil registry err = %v", err)
	}
}

func TestRegistry_Definitions(t *testing.T) {
	r := NewRegistry().MustRegister(echoTool("echo"), &Tool{
		Name:    "noargs",
		Handler: func(context.Context, map[string]any) (any, error) { return "ok", nil },
	})

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	if defs[0].Name != "echo" || defs[0].Description != "Echo the text argument" {
		t.Errorf("defs[0] = %+v", defs[0])
	}
	if defs[0].Parameters["type"] != "object" {
		t.Errorf("type = %v, want object", defs[0].Parameters["type"])
	}
	props, ok := defs[0].Parameters["properties"].(map[string]any)
	if !ok || props["text"] == nil {
		t.Errorf("properties = %#v", defs[0].Parameters["properties"])
	}
	if defs[1].Parameters["type"] != "object" {
		t.Errorf("tool without schema should default to an object schema, got %#v", defs[1].Parameters)
	}
}

func TestRegistry_Execute(t *testing.T) {
	failing := &Tool{
		Name: "boom",
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("database is down")
		},
	}
	panicking := &Tool{
		Name: "nilmap",
		Handler: func(context.Context, map[string]any) (any, error) {
			var m map[string]int
			m["x"] = 1
			return m, nil
		},
	}
	r := NewRegistry().MustRegister(echoTool("echo"), failing, panicking)
	ctx := context.Background()

	tests := []struct {
		name    string
		tool    string
		args    string
		want    string
		wantErr string
	}{
		{"success", "echo", `{"text":"hi"}`, `{"echo":"hi"}`, ""},
		{"unknown tool", "nope", `{}`, `{"error":"Tool not found"}`, "Tool not found"},
		{"handler error", "boom", ``, `{"error":"database is down"}`, "database is down"},
		{"malformed json", "echo", `{"text":`, "", "invalid arguments"},
		{"missing required", "echo", `{}`, "", "invalid arguments"},
		{"wrong type", "echo", `{"text":42}`, "", "invalid arguments"},
		{"handler panic", "nilmap", `{}`, "", "tool panicked: assignment to entry in nil map"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(ctx, tt.tool, tt.args)
			if tt.wantErr == "" && res.Failed() {
				t.Fatalf("Execute failed: %s", res.Err)
			}
			if tt.wantErr != "" && !strings.Contains(res.Err, tt.wantErr) {
				t.Errorf("Err = %q, want containing %q", res.Err, tt.wantErr)
			}
			if tt.want != "" && res.String() != tt.want {
				t.Errorf("String() = %s, want %s", res.String(), tt.want)
			}
			if res.Failed() {
				var payload map[string]any
				if err := json.Unmarshal([]byte(res.String()), &payload); err != nil || payload["error"] == nil {
					t.Errorf("failure payload %s lacks an error field", res.String())
				}
			}
		})
	}
}

func TestResult_String(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want string
	}{
		{"success value", Success(map[string]int{"n": 1}), `{"n":1}`},
		{"nil value", Success(nil), `null`},
		{"failure", Failure("Order not found"), `{"error":"Order not found"}`},
		{"unencodable", Success(make(chan int)), `{"error":"unencodable tool result: `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.String(); !strings.HasPrefix(got, tt.want) {
				t.Errorf("String() = %s, want prefix %s", got, tt.want)
			}
		})
	}
}

func TestConversationIDFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"default when unset", context.Background(), "default"},
		{"round trip", WithConversationID(context.Background(), "conv-123"), "conv-123"},
		{"empty string returns default", WithConversationID(context.Background(), ""), "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConversationIDFromContext(tt.ctx); got != tt.want {
				t.Errorf("ConversationIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}
