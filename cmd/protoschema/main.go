// protoschema 生成线上帧的 JSON Schema，供前端和第三方客户端校验消息。
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	gojson "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/urfave/cli/v3"

	"buildpixel/protocol"
)

var (
	clientMessages = []protocol.ClientMessage{protocol.Join{}, protocol.Move{}, protocol.ChatSend{}, protocol.Resync{}}
	serverMessages = []protocol.ServerMessage{protocol.Roster{}, protocol.PlayerJoined{}, protocol.PlayerMoved{}, protocol.PlayerLeft{}, protocol.Chat{}}
)

func main() {
	cmd := &cli.Command{
		Name:  "protoschema",
		Usage: "write the JSON schema of the relay wire frames",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output path; stdout when empty"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			data, err := gojson.MarshalIndent(buildSchema(), "", "  ")
			if err != nil {
				return fmt.Errorf("marshal schema: %w", err)
			}
			out := cmd.String("out")
			if out == "" {
				_, err = os.Stdout.Write(append(data, '\n'))
				return err
			}
			return writeSchema(out, data)
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}

	clientFrames := make([]*jsonschema.Schema, 0, len(clientMessages))
	for _, m := range clientMessages {
		clientFrames = append(clientFrames, frameSchema(&reflector, m))
	}
	serverFrames := make([]*jsonschema.Schema, 0, len(serverMessages))
	for _, m := range serverMessages {
		serverFrames = append(serverFrames, frameSchema(&reflector, m))
	}

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "BuildPixel relay frames",
		Description: `Every frame is {"t": kind, "p": payload}; the same shape is used by the json, cbor and msgpack codecs.`,
		OneOf: []*jsonschema.Schema{
			{Title: "client to server", OneOf: clientFrames},
			{Title: "server to client", OneOf: serverFrames},
		},
	}
}

// frameSchema {"t": const kind, "p": payload}
func frameSchema(r *jsonschema.Reflector, m protocol.Message) *jsonschema.Schema {
	payload := r.Reflect(m)
	payload.Version = ""

	props := jsonschema.NewProperties()
	props.Set("t", &jsonschema.Schema{Type: "string", Const: string(m.Kind())})
	props.Set("p", payload)
	return &jsonschema.Schema{
		Type:                 "object",
		Title:                string(m.Kind()),
		Properties:           props,
		Required:             []string{"t", "p"},
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

func writeSchema(outPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
