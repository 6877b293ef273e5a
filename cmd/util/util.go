package util

import (
	"crypto/sha1"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jsteenb2/voltdb/client"
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

// SetupClientFlags adds common cluster connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "servers"
	cmd.PersistentFlags().String(key, "localhost", WrapString("Comma-separated list of cluster hosts to connect to"))

	key = "port"
	cmd.PersistentFlags().Int(key, 21212, WrapString("Client port of the cluster hosts"))

	key = "user"
	cmd.PersistentFlags().String(key, "", WrapString("Username presented during authentication"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("Password presented during authentication"))

	key = "procedure-timeout"
	cmd.PersistentFlags().Duration(key, client.DefaultProcedureCallTimeout, WrapString("Per-call timeout after which the client synthesizes a connection-timeout response"))

	key = "connection-timeout"
	cmd.PersistentFlags().Duration(key, client.DefaultConnectionResponseTimeout, WrapString("Connection-response timeout; idle connections are pinged at a third of it"))

	key = "max-queued-bytes"
	cmd.PersistentFlags().Int(key, client.DefaultMaxQueuedBytes, WrapString("Per-connection write-queue high-water mark in bytes"))

	key = "multiple-threads"
	cmd.PersistentFlags().Bool(key, false, WrapString("Deliver inbound frames on up to cores/2 goroutines instead of one"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("volt")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() client.Config {
	return client.Config{
		ProcedureCallTimeout:      viper.GetDuration("procedure-timeout"),
		ConnectionResponseTimeout: viper.GetDuration("connection-timeout"),
		MaxQueuedBytes:            viper.GetInt("max-queued-bytes"),
		MultipleThreads:           viper.GetBool("multiple-threads"),
	}
}

// GetServers returns the configured cluster hosts
func GetServers() []string {
	return strings.Split(viper.GetString("servers"), ",")
}

// GetPort returns the configured client port
func GetPort() int {
	return viper.GetInt("port")
}

// GetCredentials returns the configured user and the hashed password
func GetCredentials() (string, []byte) {
	return viper.GetString("user"), HashPassword(viper.GetString("password"))
}

// HashPassword derives the password digest carried in the login request
func HashPassword(password string) []byte {
	sum := sha1.Sum([]byte(password))
	return sum[:]
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return nil
}

// FormatError prefixes an error for console output
func FormatError(err error) string {
	return fmt.Sprintf("error: %v", err)
}
