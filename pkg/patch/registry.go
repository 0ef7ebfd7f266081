package patch

import (
	"sort"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/spf13/afero"
)

// Context carries what a patcher needs besides the buffer and its section
type Context struct {
	Stage   string
	Payload string
	// Strict promotes value mismatches from warnings to fatal errors
	Strict bool
	// Fs and Dir locate files referenced by a stage config (entity databases)
	Fs  afero.Fs
	Dir string
}

// Patcher rewrites a payload buffer in place according to one config section.
// Implementations never change len(buf) and keep no reference to it after returning.
type Patcher interface {
	Apply(buf []byte, section *Section, ctx *Context) (*Result, error)
}

// Stage kinds
const (
	KindSignature   = "signature"
	KindField       = "field"
	KindSearch      = "search"
	KindTable       = "table"
	KindNamedEntity = "named_entity"
)

var registry = map[string]Patcher{
	KindSignature:   SignaturePatcher{},
	KindField:       FieldPatcher{},
	KindSearch:      SearchPatcher{},
	KindTable:       TablePatcher{},
	KindNamedEntity: NamedEntityPatcher{},
}

// Lookup returns the patcher registered for kind
func Lookup(kind string) (Patcher, error) {
	p, ok := registry[kind]
	if !ok {
		return nil, common.NewError(common.ErrKindConfigInvalid, "unknown stage kind %q (known: %v)", kind, Kinds())
	}
	return p, nil
}

// Kinds lists the registered stage kinds
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// ApplyStage runs the patcher for kind over every enabled section, in file order.
// The first fatal error stops the stage; the counters gathered so far are returned with it.
func ApplyStage(buf []byte, kind string, config *StageConfig, ctx *Context) (*Result, error) {
	patcher, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	if ctx.Dir == "" {
		ctx.Dir = config.Dir()
	}

	total := &Result{}
	for i := range config.Sections {
		section := &config.Sections[i]
		if !section.Enabled {
			common.LogInfo(common.InfoSectionSkipped, section.Name)
			continue
		}
		result, err := patcher.Apply(buf, section, ctx)
		total.Add(result)
		if err != nil {
			total.Failed++
			return total, common.Annotate(err, ctx.Stage, ctx.Payload)
		}
	}
	return total, nil
}
