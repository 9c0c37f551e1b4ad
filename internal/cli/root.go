package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time with -ldflags "-X ..."
var version = "v0.1.0"

// keyDelimiter replaces viper's "." so that domain names can be map keys
const keyDelimiter = "::"

var (
	cfgFile string
	verbose bool

	settings = newSettings()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "credence",
	Short: "Credence - sourced answers and citation checks for U.S. immigration questions",
	Long: `Credence answers U.S. immigration questions from a curated corpus.

A question is first matched against human-verified golden answers. Otherwise
relevant documents are retrieved, reranked and gated; only strong context is
synthesized into a cited answer, and weak context falls back to a clearly
labelled general-knowledge answer.

Credence also re-derives the credibility of cited claims from the cited pages
themselves (credence verify).

Credence provides information, not legal advice.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("credence %s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.credence/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")

	rootCmd.AddCommand(versionCmd)
}

// initConfig points viper at the config file and environment
func initConfig() {
	if cfgFile != "" {
		settings.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		settings.AddConfigPath(home + "/.credence")
		settings.AddConfigPath(".")
		settings.SetConfigType("yaml")
		settings.SetConfigName("config")
	}

	if err := settings.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", settings.ConfigFileUsed())
	}
}

// newSettings returns a viper instance that maps CREDENCE_LLM_MODEL onto
// llm::model and so on
func newSettings() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetEnvPrefix("CREDENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()
	return v
}
