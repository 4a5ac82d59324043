package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/groundlink/internal/groundlink"
	"github.com/autopeer-io/groundlink/pkg/app"
	"github.com/autopeer-io/groundlink/pkg/log"
	"github.com/autopeer-io/groundlink/pkg/options"
)

type GroundlinkOptions struct {
	MavlinkOptions *options.MavlinkOptions `json:"mavlink" mapstructure:"mavlink"`
	LinkOptions    *options.LinkOptions    `json:"link" mapstructure:"link"`
	MqttOptions    *options.MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions    *options.HttpOptions    `json:"http" mapstructure:"http"`
	GrpcOptions    *options.GrpcOptions    `json:"grpc" mapstructure:"grpc"`
	StoreOptions   *options.StoreOptions   `json:"store" mapstructure:"store"`
	S3Options      *options.S3Options      `json:"s3" mapstructure:"s3"`
	Log            *log.Options            `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*GroundlinkOptions)(nil)

func NewGroundlinkOptions() *GroundlinkOptions {
	o := &GroundlinkOptions{
		MavlinkOptions: options.NewMavlinkOptions(),
		LinkOptions:    options.NewLinkOptions(),
		MqttOptions:    options.NewMqttOptions(),
		HttpOptions:    options.NewHttpOptions(),
		GrpcOptions:    options.NewGrpcOptions(),
		StoreOptions:   options.NewStoreOptions(),
		S3Options:      options.NewS3Options(),
		Log:            log.NewOptions(),
	}

	return o
}

func (o *GroundlinkOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MavlinkOptions.AddFlags(fss.FlagSet("mavlink"))
	o.LinkOptions.AddFlags(fss.FlagSet("link"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.GrpcOptions.AddFlags(fss.FlagSet("grpc"))
	o.StoreOptions.AddFlags(fss.FlagSet("store"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("Log"))
	return fss
}

// Complete tags every log entry with the link id.
func (o *GroundlinkOptions) Complete() error {
	if o.Log.Name == "" {
		o.Log.Name = "groundlink"
	}
	o.Log.Fields = append(o.Log.Fields, "link", o.LinkOptions.LinkID)
	return nil
}

func (o *GroundlinkOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MavlinkOptions.Validate()...)
	errs = append(errs, o.LinkOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.StoreOptions.Validate()...)
	if o.StoreOptions.Archive {
		errs = append(errs, o.S3Options.Validate()...)
	}
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *GroundlinkOptions) Config() (*groundlink.Config, error) {
	return &groundlink.Config{
		MavlinkOptions: o.MavlinkOptions,
		LinkOptions:    o.LinkOptions,
		MqttOptions:    o.MqttOptions,
		HttpOptions:    o.HttpOptions,
		GrpcOptions:    o.GrpcOptions,
		StoreOptions:   o.StoreOptions,
		S3Options:      o.S3Options,
	}, nil
}
