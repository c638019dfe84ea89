package schemas

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed files/*
var fsSchemas embed.FS

const embedFilesDirName = "files"

const (
	NoteData           = "note-data"
	KeyData            = "key-data"
	InitializationData = "initialization-data"
	LocalState         = "local-state"
	NoteShareInfo      = "note-share-info"
)

var (
	loadOnce sync.Once
	loaded   map[string]*jsonschema.Schema
	loadErr  error
)

func LoadSchemas() (map[string]*jsonschema.Schema, error) {
	cSchemas := make(map[string]*jsonschema.Schema)

	rSchemas, err := fsSchemas.ReadDir(embedFilesDirName)
	if err != nil {
		return nil, fmt.Errorf("LoadSchemas | %w", err)
	}

	for _, e := range rSchemas {
		var sB []byte

		sB, err = fs.ReadFile(fsSchemas, fmt.Sprintf("%s/%s", embedFilesDirName, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("LoadSchemas | %w", err)
		}

		sName := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))

		cSchemas[sName], err = jsonschema.CompileString(e.Name(), string(sB))
		if err != nil {
			return nil, fmt.Errorf("LoadSchemas | %s: %w", e.Name(), err)
		}
	}

	return cSchemas, nil
}

// Validate checks v against the named schema. v is any value that encodes to
// JSON; it is round-tripped so struct tags decide the field names.
func Validate(name string, v interface{}) error {
	loadOnce.Do(func() {
		loaded, loadErr = LoadSchemas()
	})

	if loadErr != nil {
		return loadErr
	}

	schema, ok := loaded[name]
	if !ok {
		return fmt.Errorf("Validate | unknown schema: %s", name)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("Validate | %w", err)
	}

	var doc interface{}
	if err = json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("Validate | %w", err)
	}

	if err = schema.Validate(doc); err != nil {
		return fmt.Errorf("Validate | %s: %w", name, err)
	}

	return nil
}
