package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DefaultAPIURL — адрес API по умолчанию.
const DefaultAPIURL = "http://localhost:8080"

// NewRootCmd собирает корневую команду rollout.
//
// Флаги связаны с viper: значение берётся из флага, затем из окружения
// (ROLLOUT_API_URL, ROLLOUT_USER, ROLLOUT_JSON), затем из файла --config.
func NewRootCmd(version string) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ROLLOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfgFile string

	root := &cobra.Command{
		Use:           "rollout",
		Short:         "Rollout CLI — template-driven deployments",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				return nil
			}
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", cfgFile, err)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "CLI config file (YAML)")
	flags.String("api-url", DefaultAPIURL, "API server URL")
	flags.String("user", "", "User name sent as "+UserHeader)
	flags.Bool("json", false, "Output in JSON format")

	for _, name := range []string{"api-url", "user", "json"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	clientFn := func() *Client { return NewClient(v.GetString("api-url"), v.GetString("user")) }
	outputFn := func() *Output { return NewOutput(v.GetBool("json"), root.OutOrStdout(), root.ErrOrStderr()) }

	root.AddCommand(
		NewTemplateCmd(clientFn, outputFn),
		NewDeployCmd(clientFn, outputFn),
		NewScheduleCmd(clientFn, outputFn),
	)

	return root
}
