package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

const schemaSource = `
#Identifier: =~"^[A-Za-z_][A-Za-z0-9_]*$"
#Duration:   =~"^(0|-?([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+)$"

#Config: {
	name?:            string
	description?:     string
	hot_reload?:      bool
	reload_interval?: #Duration
	values?: [...(string | {...})]
	modules?: [...(string | #Module)]
	logging?:   #Logging
	telemetry?: #Telemetry
	mqtt?:      _
	devices?: [...#Device]
}

#Module: {
	path:         string
	name?:        string
	description?: string
}

#Logging: {
	level?:  string
	format?: "json" | "text" | "console" | ""
	loki?: {
		enabled?:    bool
		url?:        string
		labels?: {[string]: string}
		tenant_id?:  string
		batch_wait?: #Duration
	}
}

#Telemetry: {
	enabled?:  bool
	provider?: string
	listen?:   string
}

#Device: {
	id:       #Identifier
	name?:    string
	model?:   string
	disable?: bool
	transport: #Transport
	decoder?: {
		max_record_length?: int & >0
		max_records?:       int & >0
	}
	channels?: [...string]
	republish_interval?: #Duration
	ping_interval?:      #Duration
	derived?: [...#Derived]
	home_assistant?: {
		disabled?:       bool
		name?:           string
		manufacturer?:   string
		model?:          string
		suggested_area?: string
	}
}

#Transport: {
	kind?:           "serial" | "tcp" | "file" | "simulate"
	port?:           string
	baud?:           int & >0
	address?:        string
	file?:           string
	read_timeout?:   #Duration
	frame_timeout?:  #Duration
	retry_interval?: #Duration
	simulate?: {
		profile?:      "mppt" | "bmv" | ""
		source?:       string
		seed?:         int
		interval?:     #Duration
		corrupt_rate?: number & >=0 & <=1
	}
}

#Derived: {
	id:         #Identifier
	expression: string & !=""
	name?:      string
	unit?:      string
}
`

var (
	schemaMu   sync.Mutex
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		compiled := schemaCtx.CompileString(schemaSource, cue.Filename("vedirect.cue"))
		if err := compiled.Err(); err != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", err)
			return
		}
		schemaDef = compiled.LookupPath(cue.ParsePath("#Config"))
		if err := schemaDef.Err(); err != nil {
			schemaErr = fmt.Errorf("lookup config schema: %w", err)
		}
	})
	return schemaCtx, schemaDef, schemaErr
}

// ValidateSchema checks a decoded configuration document against the CUE
// schema. Unknown keys are rejected.
func ValidateSchema(doc map[string]any) error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	schemaMu.Lock()
	defer schemaMu.Unlock()
	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config schema: %s", cueerrors.Details(err, nil))
	}
	return nil
}
