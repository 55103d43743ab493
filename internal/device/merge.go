package device

import (
	"fmt"
	"sort"
)

// MergePolicy decides which record represents an identity present in both
// the persisted and the discovered list.
type MergePolicy int

const (
	// PreferDiscovered keeps the discovered record (freshest address) and
	// fills its empty name, model and firmware from the persisted copy.
	PreferDiscovered MergePolicy = iota

	// PreferPersisted keeps the persisted record unchanged. This matches the
	// behaviour of older releases, where the stored file always won.
	PreferPersisted
)

// ParseMergePolicy maps a config value to a MergePolicy.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "", "prefer_discovered":
		return PreferDiscovered, nil
	case "prefer_persisted":
		return PreferPersisted, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

func (p MergePolicy) String() string {
	switch p {
	case PreferDiscovered:
		return "prefer_discovered"
	case PreferPersisted:
		return "prefer_persisted"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// Merge reconciles persisted and discovered records into one list sorted by
// identity, with exactly one record per identity.
//
// The preferred side is placed first and the combined list is stably sorted,
// so the winner of a tie is always the preferred side's first occurrence.
// The inputs are not modified.
func Merge(persisted, discovered []Record, policy MergePolicy) []Record {
	first, second := discovered, persisted
	if policy == PreferPersisted {
		first, second = persisted, discovered
	}

	all := make([]Record, 0, len(first)+len(second))
	all = append(all, first...)
	all = append(all, second...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	merged := make([]Record, 0, len(all))
	for _, r := range all {
		n := len(merged)
		if n == 0 || merged[n-1].ID != r.ID {
			merged = append(merged, r)
			continue
		}
		if policy == PreferDiscovered {
			merged[n-1] = fillFrom(merged[n-1], r)
		}
	}
	return merged
}

// fillFrom copies descriptive fields from other into winner where winner
// has none. Address and state always stay the winner's.
func fillFrom(winner, other Record) Record {
	if winner.Name == "" {
		winner.Name = other.Name
	}
	if winner.Model == "" {
		winner.Model = other.Model
	}
	if winner.Firmware == "" {
		winner.Firmware = other.Firmware
	}
	if other.LastSeen.After(winner.LastSeen) {
		winner.LastSeen = other.LastSeen
	}
	return winner
}

// GetDevice returns the first record in list whose display name is name.
func GetDevice(name string, list []Record) (Record, bool) {
	for _, r := range list {
		if r.Name == name {
			return r, true
		}
	}
	return Record{}, false
}
