package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*StoreOptions)(nil)

// StoreOptions selects where received parameter sets are kept.
type StoreOptions struct {
	// Path of the SQLite database. Empty disables the local store.
	Path string `json:"path" mapstructure:"path"`

	// Archive uploads every parameter set to S3 as well.
	Archive bool `json:"archive" mapstructure:"archive"`

	// History is the number of snapshots kept per link. Zero keeps all.
	History int `json:"history" mapstructure:"history"`
}

func NewStoreOptions() *StoreOptions {
	return &StoreOptions{
		Path:    "groundlink.db",
		History: 20,
	}
}

func (o *StoreOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.History < 0 {
		errs = append(errs, fmt.Errorf("--store.history must not be negative"))
	}
	return errs
}

func (o *StoreOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, "store.path", o.Path, "SQLite file for parameter snapshots. Empty disables it.")
	fs.BoolVar(&o.Archive, "store.archive", o.Archive, "Also archive every parameter snapshot to S3.")
	fs.IntVar(&o.History, "store.history", o.History, "Snapshots kept per link (0 keeps all).")
}
