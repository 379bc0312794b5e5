package config

import (
	"os"
	"path/filepath"
	"time"

	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/store"

	"gopkg.in/yaml.v2"
)

type ttlEntry struct {
	Entity string `yaml:"entity"`
	TTL    string `yaml:"ttl"`
}

type ttlFile struct {
	TTLs []ttlEntry `yaml:"ttls"`
}

// ApplyTTLOverrides reads a yaml file of per-entity TTLs and applies it over
// the defaults. Unknown entities are a configuration error so a typoed file
// never silently leaves a default in place.
func ApplyTTLOverrides(cache *models.CacheConfig, file string) error {
	path := file
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return store.Wrap(store.KindConfiguration, err, "unable to resolve working directory")
		}
		path = filepath.Join(wd, file)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return store.Wrap(store.KindConfiguration, err, "unable to read %s", file)
	}

	var parsed ttlFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return store.Wrap(store.KindConfiguration, err, "unable to parse %s", file)
	}

	for _, entry := range parsed.TTLs {
		ttl, err := time.ParseDuration(entry.TTL)
		if err != nil {
			return store.E(store.KindConfiguration, "invalid ttl %q for entity %q in %s", entry.TTL, entry.Entity, file)
		}
		switch entry.Entity {
		case "user":
			cache.UserTTL = ttl
		case "listing":
			cache.ListingTTL = ttl
		case "offer":
			cache.OfferTTL = ttl
		case "payment":
			cache.PaymentTTL = ttl
		default:
			return store.E(store.KindConfiguration, "unknown entity %q in %s", entry.Entity, file)
		}
	}
	return nil
}
