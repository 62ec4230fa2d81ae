package subscription

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/feedward/feedward/app/database"
	"github.com/feedward/feedward/app/webfeed"
)

// Loader reads subscription files from the feeds directory.
type Loader struct {
	feedsDir string
}

func NewLoader(feedsDir string) *Loader {
	return &Loader{feedsDir: feedsDir}
}

// LoadAll loads every *.yml / *.yaml file under the feeds directory. A
// missing directory yields an empty list, not an error.
func (l *Loader) LoadAll() ([]*Subscription, error) {
	if _, err := os.Stat(l.feedsDir); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(l.feedsDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YAML files: %w", err)
	}
	ymlFiles, err := filepath.Glob(filepath.Join(l.feedsDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YML files: %w", err)
	}
	files = append(files, ymlFiles...)

	var subscriptions []*Subscription
	for _, file := range files {
		sub, err := l.loadFile(file)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}
		if err := l.validate(sub); err != nil {
			return nil, fmt.Errorf("invalid subscription %s: %w", file, err)
		}
		subscriptions = append(subscriptions, sub)
		slog.Debug("Loaded subscription", "file", file, "feed_url", sub.FeedURL)
	}

	return subscriptions, nil
}

func (l *Loader) loadFile(path string) (*Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var sub Subscription
	if err := yaml.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	l.setDefaults(&sub)
	return &sub, nil
}

func (l *Loader) setDefaults(sub *Subscription) {
	if sub.Source == "" {
		sub.Source = string(database.FeedSourceNative)
	}
	if sub.Title == "" {
		sub.Title = sub.FeedURL
	}
	if sub.Exporter != nil && sub.Exporter.Trigger == "" {
		sub.Exporter.Trigger = string(database.TriggerChange)
	}
}

func (l *Loader) validate(sub *Subscription) error {
	if sub.FeedURL == "" {
		return fmt.Errorf("feed_url is required")
	}

	switch database.FeedSource(sub.Source) {
	case database.FeedSourceNative:
	case database.FeedSourceWeb:
		if sub.Selectors.Context == "" || sub.Selectors.Link == "" {
			return fmt.Errorf("web source requires selectors.context and selectors.link")
		}
		if _, err := webfeed.ParseExtendContext(sub.Selectors.ExtendContext); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown source %q", sub.Source)
	}

	if sub.HarvestInterval < 0 {
		return fmt.Errorf("harvest_interval must be non-negative")
	}

	if sub.Exporter != nil {
		if sub.Bucket == "" {
			return fmt.Errorf("exporter requires a bucket")
		}
		switch database.TriggerType(sub.Exporter.Trigger) {
		case database.TriggerChange:
		case database.TriggerScheduled:
			if sub.Exporter.Schedule == "" {
				return fmt.Errorf("scheduled exporter requires a schedule expression")
			}
		default:
			return fmt.Errorf("unknown exporter trigger %q", sub.Exporter.Trigger)
		}
	}

	return nil
}
