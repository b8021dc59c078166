package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kilnhq/kiln/internal/change"
	"github.com/kilnhq/kiln/internal/db"
	"github.com/kilnhq/kiln/internal/dedup"
	"github.com/kilnhq/kiln/internal/hash"
	"github.com/kilnhq/kiln/internal/kiln"
	"github.com/kilnhq/kiln/internal/merkle"
	"github.com/kilnhq/kiln/internal/version"
)

const (
	stateDirName   = ".kiln"
	configFileName = "config"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "kiln",
	Short:   "Kiln - change detection and deduplicated storage for your notes",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		if viper.GetBool("verbose") {
			setupLogging(slog.LevelDebug)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("kiln", "k", ".", "kiln root directory")
	rootCmd.PersistentFlags().String("db", "", "state database path (default <kiln>/.kiln/kiln.db)")
	rootCmd.PersistentFlags().StringP("algorithm", "a", hash.DefaultAlgorithm.String(), "hash algorithm (xxhash64 or sha256)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		configPath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configPath)
	} else {
		kilnDir, _ := cmd.Flags().GetString("kiln")
		viper.AddConfigPath(filepath.Join(kilnDir, stateDirName))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("kiln_dir", cmd.Flags().Lookup("kiln"))
	viper.BindPFlag("db_path", cmd.Flags().Lookup("db"))
	viper.BindPFlag("algorithm", cmd.Flags().Lookup("algorithm"))
	viper.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))

	viper.SetEnvPrefix("KILN")
	viper.AutomaticEnv()

	return nil
}

// stores bundles the opened database and every layer built on it.
type stores struct {
	database *sqlx.DB
	hasher   *hash.Hasher
	hashes   *change.SqliteHashStore
	trees    *merkle.SqliteStore
	blocks   *dedup.SqliteBackend
}

func (s *stores) Close() {
	s.database.Close()
}

// openStores resolves config into the store stack every command uses.
func openStores() (*stores, error) {
	kilnDir, err := filepath.Abs(viper.GetString("kiln_dir"))
	if err != nil {
		return nil, err
	}

	dbPath := viper.GetString("db_path")
	if dbPath == "" {
		dbPath = filepath.Join(kilnDir, stateDirName, "kiln.db")
	}

	algo, err := hash.ParseAlgorithm(viper.GetString("algorithm"))
	if err != nil {
		return nil, err
	}
	hasher, err := hash.NewHasher(algo)
	if err != nil {
		return nil, err
	}

	database, err := db.NewSqliteDB(db.WithPath(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	hashes, err := change.NewSqliteHashStore(database)
	if err != nil {
		database.Close()
		return nil, err
	}
	trees, err := merkle.NewSqliteStore(database)
	if err != nil {
		database.Close()
		return nil, err
	}
	blocks, err := dedup.NewSqliteBackend(database)
	if err != nil {
		database.Close()
		return nil, err
	}

	return &stores{
		database: database,
		hasher:   hasher,
		hashes:   hashes,
		trees:    trees,
		blocks:   blocks,
	}, nil
}

// newEngine builds the ingest pipeline over the opened stores.
func newEngine(s *stores) (*kiln.Engine, error) {
	kilnDir, err := filepath.Abs(viper.GetString("kiln_dir"))
	if err != nil {
		return nil, err
	}
	var detectorOpts []change.DetectorOption
	if size := viper.GetInt("lookup_cache_size"); size > 0 {
		detectorOpts = append(detectorOpts, change.WithLookupCache(size))
	}
	return kiln.NewEngine(kiln.Config{
		RootDir:         kilnDir,
		Hasher:          s.hasher,
		Hashes:          s.hashes,
		Trees:           s.trees,
		Blocks:          s.blocks,
		DetectorOptions: detectorOpts,
	})
}
