package server

import (
	_ "embed"
	"fmt"
	"sort"
	"time"

	"github.com/nfrund/fellowship/internal/domain"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the YAML document the dev backend starts from.
type Seed struct {
	Members []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"members"`
	Channels []struct {
		ID       string   `yaml:"id"`
		Name     string   `yaml:"name"`
		Category string   `yaml:"category"`
		Members  []string `yaml:"members"`
	} `yaml:"channels"`
	Messages []struct {
		Channel string `yaml:"channel"`
		Sender  string `yaml:"sender"`
		Body    string `yaml:"body"`
		// Ago places the message in the past relative to startup.
		Ago time.Duration `yaml:"ago"`
	} `yaml:"messages"`
	// Read lists channels each member has already read, by member id.
	Read map[string][]string `yaml:"read"`
}

// ParseSeed decodes a seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &s, nil
}

// LoadSeed reads a seed file from fsys. An empty path loads the built-in seed.
func LoadSeed(fsys afero.Fs, path string) (*Seed, error) {
	if path == "" {
		return ParseSeed(defaultSeed)
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// Apply loads the seed into store. Messages are stored oldest first.
func (s *Seed) Apply(store *Store) error {
	for _, m := range s.Members {
		store.AddMember(Member{ID: m.ID, Name: m.Name})
	}
	for _, c := range s.Channels {
		category := domain.ChannelCategory(c.Category)
		switch category {
		case domain.CategoryPublic, domain.CategoryGroup, domain.CategoryDirect:
		case "":
			category = domain.CategoryPublic
		default:
			return fmt.Errorf("channel %s: unknown category %q", c.ID, c.Category)
		}
		for _, id := range c.Members {
			if !store.IsMember(id) {
				return fmt.Errorf("channel %s: %w %s", c.ID, ErrUnknownMember, id)
			}
		}
		store.AddChannel(domain.Channel{ID: c.ID, Name: c.Name, Category: category}, c.Members)
	}

	msgs := s.Messages
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Ago > msgs[j].Ago })
	now := store.now()
	for _, m := range msgs {
		if _, err := store.appendAt(m.Channel, m.Sender, m.Body, now.Add(-m.Ago)); err != nil {
			return fmt.Errorf("seed message in channel %s: %w", m.Channel, err)
		}
	}

	for memberID, channels := range s.Read {
		for _, channelID := range channels {
			if err := store.MarkRead(memberID, channelID); err != nil {
				return fmt.Errorf("seed read state for %s: %w", memberID, err)
			}
		}
	}
	return nil
}
