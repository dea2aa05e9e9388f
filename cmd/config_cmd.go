package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatmirror/chatmirror/internal/config"
	"github.com/chatmirror/chatmirror/internal/mapping"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Walk through prompts to create a chatmirror configuration file at
~/.chatmirror/chatmirror.yaml. Secrets may be given as ${ENV:NAME},
${VAULT:path#key} or ${AWS_SM:name} references.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Println("chatmirror Configuration Setup")
		fmt.Println("==============================")
		fmt.Println()

		fmt.Println("Source MySQL Database")
		fmt.Println("---------------------")
		host := prompt(reader, "Host", "localhost")
		portStr := prompt(reader, "Port", "3306")
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port: %s", portStr)
		}
		database := prompt(reader, "Database name", "")
		username := prompt(reader, "Username", "")
		password := prompt(reader, "Password", "${ENV:CHATMIRROR_MYSQL_PASSWORD}")
		fmt.Println()

		fmt.Println("Destination")
		fmt.Println("-----------")
		targetType := prompt(reader, "Type (postgres/mongodb)", config.TargetPostgres)
		var connStr, targetDB string
		switch targetType {
		case config.TargetPostgres:
			connStr = prompt(reader, "Connection string", "postgres://localhost:5432/chatmirror")
		case config.TargetMongoDB:
			connStr = prompt(reader, "Connection string", "mongodb://localhost:27017")
			targetDB = prompt(reader, "Database name", database)
		default:
			return fmt.Errorf("unsupported target type: %s", targetType)
		}
		fmt.Println()

		cfg := config.Default()
		cfg.Source = config.SourceConfig{
			Host:     host,
			Port:     port,
			Database: database,
			Username: username,
			Password: password,
		}
		cfg.Target.Type = targetType
		cfg.Target.ConnectionString = connStr
		cfg.Target.Database = targetDB

		cfgPath := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			cfgPath = cfgFile
		}
		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Printf("Config written to %s\n", cfgPath)
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  chatmirror check     Test both connections")
		fmt.Println("  chatmirror migrate   Copy everything")
		fmt.Println("  chatmirror serve     Start the API server")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println("Current configuration:")
		fmt.Println()
		fmt.Printf("  Source:\n")
		fmt.Printf("    Host:           %s\n", cfg.Source.Host)
		fmt.Printf("    Port:           %d\n", cfg.Source.Port)
		fmt.Printf("    Database:       %s\n", cfg.Source.Database)
		fmt.Printf("    Username:       %s\n", cfg.Source.Username)
		fmt.Printf("    Password:       %s\n", maskSecret(cfg.Source.Password))
		fmt.Println()
		fmt.Printf("  Target:\n")
		fmt.Printf("    Type:           %s\n", cfg.Target.Type)
		fmt.Printf("    Connection:     %s\n", maskSecret(cfg.Target.ConnectionString))
		if cfg.Target.Database != "" {
			fmt.Printf("    Database:       %s\n", cfg.Target.Database)
		}
		fmt.Println()
		fmt.Printf("  Pool:\n")
		fmt.Printf("    Max Conns:      %d\n", cfg.Pool.MaxConnections)
		fmt.Printf("    Conn Timeout:   %s\n", cfg.Pool.ConnectionTimeout)
		fmt.Printf("    Idle Timeout:   %s\n", cfg.Pool.IdleTimeout)
		fmt.Println()
		fmt.Printf("  Migration:\n")
		fmt.Printf("    Row Delay:      %s\n", cfg.Migration.RowDelay)
		fmt.Printf("    Max Text:       %d\n", cfg.Migration.MaxTextLength)
		for _, e := range mapping.All() {
			b := cfg.Migration.Entity(e.Name)
			fmt.Printf("    %-15s %d rows, %s delay, %s ids\n", e.Name+":", b.BatchSize, b.BatchDelay, e.Identity)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}

		var errors []string
		if cfg.Source.Host == "" {
			errors = append(errors, "source.host is required")
		}
		if cfg.Source.Database == "" {
			errors = append(errors, "source.database is required")
		}
		if cfg.Target.ConnectionString == "" {
			errors = append(errors, "target.connection_string is required")
		}

		if len(errors) > 0 {
			fmt.Println("Validation errors:")
			for _, e := range errors {
				fmt.Printf("  - %s\n", e)
			}
			return fmt.Errorf("%d validation error(s)", len(errors))
		}

		fmt.Println("Configuration is valid.")
		return nil
	},
}

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("  %s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
