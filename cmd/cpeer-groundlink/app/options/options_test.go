package options

import (
	"strings"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	o := NewGroundlinkOptions()
	if err := o.Complete(); err != nil {
		t.Fatal(err)
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if o.Log.Name != "groundlink" || len(o.Log.Fields) != 2 || o.Log.Fields[1] != "fc-1" {
		t.Fatalf("log options = %+v", o.Log)
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	o := NewGroundlinkOptions()
	o.MavlinkOptions.Endpoints = nil
	o.LinkOptions.MaxRetries = -1
	o.StoreOptions.Archive = true
	o.S3Options.BucketName = ""

	err := o.Validate()
	if err == nil {
		t.Fatalf("Validate accepted broken options")
	}
	for _, want := range []string{"--mavlink.endpoints", "--link.max-retries", "--s3.bucket-name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestS3OnlyValidatedWhenArchiving(t *testing.T) {
	o := NewGroundlinkOptions()
	o.S3Options.Endpoint = ""
	if err := o.Validate(); err != nil {
		t.Fatalf("S3 options checked without archiving: %v", err)
	}
}

func TestConfigSharesOptions(t *testing.T) {
	o := NewGroundlinkOptions()
	cfg, err := o.Config()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MavlinkOptions != o.MavlinkOptions || cfg.StoreOptions != o.StoreOptions || cfg.S3Options != o.S3Options {
		t.Fatalf("Config copied options instead of sharing them")
	}
}

func TestFlagsAreNamed(t *testing.T) {
	fss := NewGroundlinkOptions().Flags()
	for _, name := range []string{"mavlink", "link", "mqtt", "http", "grpc", "store", "s3", "Log"} {
		if _, ok := fss.FlagSets[name]; !ok {
			t.Errorf("flag set %q missing", name)
		}
	}
	if fss.FlagSet("link").Lookup("link.ack-timeout") == nil {
		t.Fatalf("--link.ack-timeout not registered")
	}
}
