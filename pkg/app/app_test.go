package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"
)

type serverOptions struct {
	Addr    string        `json:"addr" mapstructure:"addr"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

type testOptions struct {
	Server *serverOptions `json:"server" mapstructure:"server"`
	Name   string         `json:"name" mapstructure:"name"`

	completed bool
}

func newTestOptions() *testOptions {
	return &testOptions{
		Server: &serverOptions{Addr: "127.0.0.1:1", Timeout: time.Second},
		Name:   "default",
	}
}

func (o *testOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fs := fss.FlagSet("server")
	fs.StringVar(&o.Server.Addr, "server.addr", o.Server.Addr, "address")
	fs.DurationVar(&o.Server.Timeout, "server.timeout", o.Server.Timeout, "timeout")
	fss.FlagSet("misc").StringVar(&o.Name, "name", o.Name, "name")
	return fss
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error {
	var errs []error
	if o.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	return utilerrors.NewAggregate(errs)
}

func execute(t *testing.T, a *App, args ...string) error {
	t.Helper()
	a.Command().SetArgs(args)
	return a.Command().Execute()
}

func TestFlagsReachRunFunc(t *testing.T) {
	opts := newTestOptions()
	ran := false
	a := NewApp("cpeer-test", "test", WithOptions(opts), WithDefaultValidArgs(), WithRunFunc(func() error {
		ran = true
		return nil
	}))

	if err := execute(t, a, "--server.addr=0.0.0.0:9", "--name=cli"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ran || !opts.completed {
		t.Fatalf("ran = %v, completed = %v", ran, opts.completed)
	}
	if opts.Server.Addr != "0.0.0.0:9" || opts.Name != "cli" || opts.Server.Timeout != time.Second {
		t.Fatalf("options = %+v %+v", opts, opts.Server)
	}
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "name: from-file\nserver:\n  addr: 10.0.0.1:7\n  timeout: 3s\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	opts := newTestOptions()
	a := NewApp("cpeer-test", "test", WithOptions(opts), WithRunFunc(func() error { return nil }))
	if err := execute(t, a, "--config", path, "--name=from-flag"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if opts.Name != "from-flag" {
		t.Fatalf("explicit flag should win, name = %q", opts.Name)
	}
	if opts.Server.Addr != "10.0.0.1:7" || opts.Server.Timeout != 3*time.Second {
		t.Fatalf("file values not applied: %+v", opts.Server)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("TEST_SERVER_ADDR", "192.168.1.1:5")

	opts := newTestOptions()
	a := NewApp("cpeer-test", "test", WithOptions(opts), WithRunFunc(func() error { return nil }))
	if err := execute(t, a); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if opts.Server.Addr != "192.168.1.1:5" {
		t.Fatalf("env override not applied: %+v", opts.Server)
	}
}

func TestValidateFailureStopsRun(t *testing.T) {
	opts := newTestOptions()
	ran := false
	a := NewApp("cpeer-test", "test", WithOptions(opts), WithRunFunc(func() error {
		ran = true
		return nil
	}))
	a.Command().SetErr(new(discard))

	if err := execute(t, a, "--name="); err == nil {
		t.Fatalf("expected a validation error")
	}
	if ran {
		t.Fatalf("run must not be called with invalid options")
	}
}

func TestDefaultValidArgsRejectsPositional(t *testing.T) {
	a := NewApp("cpeer-test", "test", WithOptions(newTestOptions()), WithDefaultValidArgs(), WithRunFunc(func() error { return nil }))
	if err := execute(t, a, "extra"); err == nil {
		t.Fatalf("positional argument must be rejected")
	}
}

func TestSubCommands(t *testing.T) {
	called := false
	sub := &cobra.Command{Use: "status", RunE: func(*cobra.Command, []string) error {
		called = true
		return nil
	}}
	a := NewApp("cpeer-test", "test", WithNoConfig(), WithSubCommands(sub), WithRunFunc(func() error { return nil }))
	if err := execute(t, a, "status"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Fatalf("sub command not run")
	}
	if a.Command().Flags().Lookup(configFlagName) != nil {
		t.Fatalf("--config must be absent with WithNoConfig")
	}
}

func TestEnvPrefix(t *testing.T) {
	if got := envPrefix("cpeer-groundlink"); got != "GROUNDLINK" {
		t.Fatalf("envPrefix = %q", got)
	}
	if got := envPrefix("link-tool"); got != "LINK_TOOL" {
		t.Fatalf("envPrefix = %q", got)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
