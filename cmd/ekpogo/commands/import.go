package commands

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/azelphur/ekpogo/internal/config"
	"github.com/azelphur/ekpogo/internal/storage"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load gyms and pokemon from a JSON file",
	Long: `Load gyms and pokemon from a JSON data file.

The file is an array of entries of the form:

  {"type": "gym", "data": {"title": "...", "latitude": 0.0, "longitude": 0.0}}
  {"type": "pokemon", "data": {"id": 1, "name": "Bulbasaur", "raid_level": null}}

Existing gyms are left untouched; pokemon are updated in place by name.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

type importEntry struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type gymData struct {
	Title     string  `json:"title"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type pokemonData struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	RaidLevel *int   `json:"raid_level"`
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogging(cfg.LogLevel)

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}

	var entries []importEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("failed to parse data file: %w", err)
	}

	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer repo.Close()

	countGyms := 0
	countPokemon := 0
	for i, entry := range entries {
		switch entry.Type {
		case "gym":
			var d gymData
			if err := json.Unmarshal(entry.Data, &d); err != nil {
				return fmt.Errorf("entry %d: bad gym data: %w", i, err)
			}
			if _, err := repo.GetGymByNaturalKey(d.Title, d.Latitude, d.Longitude); err == nil {
				continue
			} else if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("entry %d: gym lookup: %w", i, err)
			}
			if err := repo.CreateGym(&storage.Gym{Title: d.Title, Latitude: d.Latitude, Longitude: d.Longitude}); err != nil {
				return fmt.Errorf("entry %d: create gym %q: %w", i, d.Title, err)
			}
			countGyms++
		case "pokemon":
			var d pokemonData
			if err := json.Unmarshal(entry.Data, &d); err != nil {
				return fmt.Errorf("entry %d: bad pokemon data: %w", i, err)
			}
			if err := repo.UpsertPokemon(&storage.Pokemon{ID: d.ID, Name: d.Name, RaidLevel: d.RaidLevel}); err != nil {
				return fmt.Errorf("entry %d: upsert pokemon %q: %w", i, d.Name, err)
			}
			countPokemon++
		default:
			slog.Warn("Skipping unknown entry type", "index", i, "type", entry.Type)
		}
	}

	slog.Info("Import complete", "gyms", countGyms, "pokemon", countPokemon)
	return nil
}
