package guildcache

import (
	"strings"
	"time"

	"sentinel-automod/internal/storage"
	"sentinel-automod/internal/utils"
)

// Snapshot is the automod configuration of one guild as read at LoadedAt.
// Snapshots are shared between goroutines and must not be modified.
type Snapshot struct {
	GuildID     string
	Filters     map[storage.FilterName]storage.FilterSetting
	Setup       storage.FilterSetup
	Keywords    []string
	Whitelist   []storage.WhitelistEntry
	Domains     []string
	Responders  []storage.Autoresponder
	Reacts      []storage.Autoreact
	ReactEvents []storage.AutoreactEvent
	LoadedAt    time.Time
}

// Filter returns the setting of name when it is enabled.
func (s *Snapshot) Filter(name storage.FilterName) (storage.FilterSetting, bool) {
	setting, ok := s.Filters[name]
	if !ok || !setting.Enabled {
		return storage.FilterSetting{}, false
	}
	return setting, true
}

// Whitelisted reports whether any of ids is exempt from filter, either by
// name or through "all".
func (s *Snapshot) Whitelisted(filter storage.FilterName, ids ...string) bool {
	for _, entry := range s.Whitelist {
		if !entry.Covers(filter) {
			continue
		}
		for _, id := range ids {
			if entry.SubjectID == id {
				return true
			}
		}
	}
	return false
}

// InAnyWhitelist reports whether any of ids has a whitelist entry at all.
func (s *Snapshot) InAnyWhitelist(ids ...string) bool {
	for _, entry := range s.Whitelist {
		for _, id := range ids {
			if entry.SubjectID == id {
				return true
			}
		}
	}
	return false
}

func (s *Snapshot) AllowedDomain(host string, defaults []string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	return utils.HostAllowed(host, defaults, s.Domains)
}
