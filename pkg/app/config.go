package app

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/groundlink/pkg/log"
)

const configFlagName = "config"

// addConfigFlag registers --config and prepares viper to read it, plus
// environment variables named <ENVPREFIX>_<SECTION>_<KEY>.
func addConfigFlag(v *viper.Viper, name string, fs *pflag.FlagSet) *string {
	cfgFile := fs.String(configFlagName, "", "Read configuration from the specified `FILE`, "+
		"support JSON, TOML, YAML, HCL, or Java properties formats.")

	v.SetEnvPrefix(envPrefix(name))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return cfgFile
}

// loadConfig reads the config file if one was given and binds every flag so
// that an explicit flag wins over the file.
func loadConfig(v *viper.Viper, cfgFile string, cmd *cobra.Command) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read configuration file %q: %w", cfgFile, err)
		}
	}
	return v.BindPFlags(cmd.Flags())
}

// watchConfig logs every change of the config file. Options already applied
// are not reloaded.
func watchConfig(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Config file changed, restart to apply", "name", e.Name, "op", e.Op.String())
	})
	v.WatchConfig()
}

func envPrefix(name string) string {
	name = strings.TrimPrefix(name, "cpeer-")
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
