package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// configSchema constrains CUE configuration files before they are decoded.
const configSchema = `
#Command: [string & !="", ...string & !=""]

#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$" | "0" | ""

#Config: {
	engine?: {
		command?: #Command
		env?: {[string]: string}
		dir?:     string
		timeout?: #Duration
	}
	script?: {
		command?: #Command
		env?: {[string]: string}
	}
	store?: {
		path?: string
	}
	output?: {
		play_name?:  string & !=""
		job_id_env?: string & =~"^[A-Za-z_][A-Za-z0-9_]*$"
	}
	telemetry?: {...}
}
`

// compileSchema returns the #Config definition.
func compileSchema(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(configSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile config schema: %w", err)
	}

	def := val.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return cue.Value{}, fmt.Errorf("config schema has no #Config definition")
	}
	return def, nil
}

// decodeCUE validates CUE source against the schema and returns it as JSON.
func decodeCUE(src []byte, filename string) ([]byte, error) {
	ctx := cuecontext.New()

	val := ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", filename, err)
	}

	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%s does not match the config schema: %w", filename, err)
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", filename, err)
	}
	return data, nil
}
