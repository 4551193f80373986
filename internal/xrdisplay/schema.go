package xrdisplay

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// payloadSchemas maps a message type to its schema file. Types without an
// entry carry no payload.
var payloadSchemas = map[MessageType]string{
	MsgHandshake:              "handshake.json",
	MsgHandshakeAck:           "handshake-ack.json",
	MsgSendClientWindowStatus: "window-status.json",
	MsgImeDisplay:             "display.json",
	MsgSetImeDisplay:          "display.json",
	MsgSetImeDisplayStatus:    "display-status.json",
	MsgError:                  "error.json",
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func schemaURL(name string) string {
	return "imxr://schemas/" + name
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		names := make(map[string]bool)
		for _, name := range payloadSchemas {
			if names[name] {
				continue
			}
			names[name] = true
			data, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", name, err)
				return
			}
			if err := compiler.AddResource(schemaURL(name), bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", name, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(names))
		for name := range names {
			schema, err := compiler.Compile(schemaURL(name))
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			out[name] = schema
		}
		compiled = out
	})
	return compiled, compileErr
}

// ValidatePayload checks a message payload against the schema registered
// for its type.
func ValidatePayload(msgType MessageType, payload []byte) error {
	name, ok := payloadSchemas[msgType]
	if !ok {
		return nil
	}
	schemas, err := compileSchemas()
	if err != nil {
		return err
	}
	var instance any
	if err := json.Unmarshal(payload, &instance); err != nil {
		return fmt.Errorf("%s payload: %w", msgType, err)
	}
	if err := schemas[name].Validate(instance); err != nil {
		return fmt.Errorf("%s payload: %w", msgType, err)
	}
	return nil
}
