package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig initializes configuration from env files and environment
// variables. Flags registered with SetupGridFlags override both.
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dgrid")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// SetupGridFlags adds the grid configuration flags to a command
func SetupGridFlags(cmd *cobra.Command) {
	defaults := grid.DefaultConfig()

	key := "request-timeout-ms"
	cmd.PersistentFlags().Int(key, int(defaults.RequestTimeout/time.Millisecond),
		WrapString("Deadline for correlated requests in milliseconds"))

	key = "max-message-keys"
	cmd.PersistentFlags().Int(key, defaults.MaxMessageKeys,
		WrapString("Maximum number of keys per outbound message"))

	key = "max-message-values"
	cmd.PersistentFlags().Int(key, defaults.MaxMessageValues,
		WrapString("Maximum number of values per outbound message"))

	key = "max-collected-events"
	cmd.PersistentFlags().Int(key, defaults.MaxCollectedEvents,
		WrapString("Storage event batch size threshold"))

	key = "max-collected-time-ms"
	cmd.PersistentFlags().Int(key, int(defaults.MaxCollectedTime/time.Millisecond),
		WrapString("Storage event batch time window in milliseconds"))

	key = "iterator-batch-size"
	cmd.PersistentFlags().Int(key, defaults.IteratorBatchSize,
		WrapString("Chunk size for cross-cluster iteration"))

	key = "raft-min-election-timeout-ms"
	cmd.PersistentFlags().Int(key, int(defaults.MinElectionTimeout/time.Millisecond),
		WrapString("Lower bound of the randomized raft election timeout in milliseconds"))

	key = "raft-heartbeat-ms"
	cmd.PersistentFlags().Int(key, int(defaults.Heartbeat/time.Millisecond),
		WrapString("Raft heartbeat interval in milliseconds"))

	key = "peer-timeout-ms"
	cmd.PersistentFlags().Int(key, int(defaults.PeerTimeout/time.Millisecond),
		WrapString("Silence after which a peer counts as detached, in milliseconds"))

	_ = viper.BindPFlags(cmd.PersistentFlags())
}

// GetGridConfig reads the grid configuration from viper
func GetGridConfig() grid.Config {
	return grid.Config{
		RequestTimeout:     time.Duration(viper.GetInt("request-timeout-ms")) * time.Millisecond,
		MaxMessageKeys:     viper.GetInt("max-message-keys"),
		MaxMessageValues:   viper.GetInt("max-message-values"),
		MaxCollectedEvents: viper.GetInt("max-collected-events"),
		MaxCollectedTime:   time.Duration(viper.GetInt("max-collected-time-ms")) * time.Millisecond,
		IteratorBatchSize:  viper.GetInt("iterator-batch-size"),
		MinElectionTimeout: time.Duration(viper.GetInt("raft-min-election-timeout-ms")) * time.Millisecond,
		Heartbeat:          time.Duration(viper.GetInt("raft-heartbeat-ms")) * time.Millisecond,
		PeerTimeout:        time.Duration(viper.GetInt("peer-timeout-ms")) * time.Millisecond,
	}
}
