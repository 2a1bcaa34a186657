package node

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	"github.com/pkg/errors"

	"github.com/cascoin/l2core/consensus/sequencer"
	"github.com/cascoin/l2core/core/reorg"
)

// Ledger backends.
const (
	BackendMemory  = "memory"
	BackendPebble  = "pebble"
	BackendBolt    = "bbolt"
	BackendLevelDB = "leveldb"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// LedgerConfig selects the database the anchor ledger is kept in.
type LedgerConfig struct {
	Backend string // memory, pebble, bbolt or leveldb
	Path    string `toml:",omitempty"`
	Cache   int    // pebble and leveldb cache in megabytes
	Handles int    // pebble and leveldb open file handles
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level      string // trace, debug, info, warn, error or crit
	JSON       bool
	File       string `toml:",omitempty"` // rotated log file, stderr only if empty
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config contains the settings of an L2 safety node.
type Config struct {
	Consensus sequencer.Config
	Reorg     reorg.Config
	Ledger    LedgerConfig
	Log       LogConfig
}

// Defaults contains the default settings of a node.
var Defaults = Config{
	Consensus: sequencer.DefaultConfig,
	Reorg:     reorg.DefaultConfig,
	Ledger: LedgerConfig{
		Backend: BackendMemory,
		Cache:   64,
		Handles: 256,
	},
	Log: LogConfig{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
	},
}

// LoadConfig reads a TOML config file into cfg. Keys missing from the file
// keep the values already in cfg.
func LoadConfig(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// DumpConfig writes cfg as TOML.
func DumpConfig(w io.Writer, cfg *Config) error {
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	_, err = w.Write(out)
	return err
}
