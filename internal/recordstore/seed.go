package recordstore

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"
)

//go:embed demo.yaml
var demoSeed []byte

// DemoSeed returns the built-in demo projects.
func DemoSeed() []byte { return demoSeed }

type seedFile struct {
	Projects []seedProject `yaml:"projects"`
}

type seedProject struct {
	Title              string         `yaml:"title"`
	Description        string         `yaml:"description"`
	IsPublished        bool           `yaml:"is_published"`
	ParticipantScoring string         `yaml:"participant_scoring"`
	Username           string         `yaml:"username"`
	Instructions       string         `yaml:"instructions"`
	InitialClue        string         `yaml:"initial_clue"`
	HomescreenDisplay  string         `yaml:"homescreen_display"`
	Locations          []seedLocation `yaml:"locations"`
}

type seedLocation struct {
	Name        string `yaml:"name"`
	Trigger     string `yaml:"trigger"`
	Position    string `yaml:"position"`
	Order       int    `yaml:"order"`
	Content     string `yaml:"content"`
	Extra       string `yaml:"extra"`
	Clue        string `yaml:"clue"`
	ScorePoints *int   `yaml:"score_points"`
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Seed loads projects and locations from YAML when the store holds no
// projects yet. Location content is Markdown and stored as HTML.
func Seed(ctx context.Context, logger *slog.Logger, store *Store, data []byte) error {
	existing, err := store.Select(ctx, resources["project"], query{limit: 1})
	if err != nil {
		return fmt.Errorf("checking existing projects: %w", err)
	}
	if len(existing) > 0 {
		logger.Debug("store already seeded")
		return nil
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing seed: %w", err)
	}

	locations := 0
	for _, p := range file.Projects {
		created, err := store.Insert(ctx, resources["project"], []map[string]any{p.record()}, nil)
		if err != nil {
			return fmt.Errorf("seeding project %q: %w", p.Title, err)
		}
		projectID := created[0]["id"]

		records := make([]map[string]any, 0, len(p.Locations))
		for _, l := range p.Locations {
			rec, err := l.record(p.Username)
			if err != nil {
				return fmt.Errorf("seeding location %q: %w", l.Name, err)
			}
			rec["project_id"] = float64(projectID.(int64))
			records = append(records, rec)
		}
		if len(records) == 0 {
			continue
		}
		if _, err := store.Insert(ctx, resources["location"], records, nil); err != nil {
			return fmt.Errorf("seeding locations of %q: %w", p.Title, err)
		}
		locations += len(records)
	}

	logger.Info("store seeded", "projects", len(file.Projects), "locations", locations)
	return nil
}

func (p seedProject) record() map[string]any {
	rec := map[string]any{
		"title":        p.Title,
		"is_published": p.IsPublished,
		"username":     p.Username,
		"description":  optional(p.Description),
		"instructions": optional(p.Instructions),
		"initial_clue": optional(p.InitialClue),
	}
	if p.ParticipantScoring != "" {
		rec["participant_scoring"] = p.ParticipantScoring
	}
	if p.HomescreenDisplay != "" {
		rec["homescreen_display"] = p.HomescreenDisplay
	}
	return rec
}

func (l seedLocation) record(username string) (map[string]any, error) {
	rec := map[string]any{
		"location_name":     l.Name,
		"location_order":    float64(l.Order),
		"username":          username,
		"location_position": optional(l.Position),
		"extra":             optional(l.Extra),
		"clue":              optional(l.Clue),
	}
	if l.Trigger != "" {
		rec["location_trigger"] = l.Trigger
	}
	if l.ScorePoints != nil {
		rec["score_points"] = float64(*l.ScorePoints)
	}
	if strings.TrimSpace(l.Content) != "" {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(l.Content), &buf); err != nil {
			return nil, fmt.Errorf("rendering content: %w", err)
		}
		rec["location_content"] = buf.String()
	}
	return rec, nil
}

// optional maps an empty string to SQL NULL.
func optional(s string) any {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}
