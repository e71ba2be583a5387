package provider

import "github.com/jessefreitas/noc-orquestrador-sub001/internal/models"

// Descriptor tells the paginator where a resource collection lives and under
// which key its items are returned.
type Descriptor struct {
	Type          models.AssetType
	Path          string
	CollectionKey string
	Query         map[string]string
}

var catalog = []Descriptor{
	{Type: models.AssetServers, Path: "/servers", CollectionKey: "servers"},
	{Type: models.AssetVolumes, Path: "/volumes", CollectionKey: "volumes"},
	{Type: models.AssetLoadBalancers, Path: "/load_balancers", CollectionKey: "load_balancers"},
	{Type: models.AssetFloatingIPs, Path: "/floating_ips", CollectionKey: "floating_ips"},
	{Type: models.AssetPrimaryIPs, Path: "/primary_ips", CollectionKey: "primary_ips"},
	{Type: models.AssetFirewalls, Path: "/firewalls", CollectionKey: "firewalls"},
	{Type: models.AssetNetworks, Path: "/networks", CollectionKey: "networks"},
	{Type: models.AssetPlacementGroups, Path: "/placement_groups", CollectionKey: "placement_groups"},
	{Type: models.AssetSnapshots, Path: "/images", CollectionKey: "images", Query: map[string]string{"type": "snapshot"}},
	{Type: models.AssetBackups, Path: "/images", CollectionKey: "images", Query: map[string]string{"type": "backup"}},
	{Type: models.AssetAppImages, Path: "/images", CollectionKey: "images", Query: map[string]string{"type": "app"}},
	{Type: models.AssetSystemImages, Path: "/images", CollectionKey: "images", Query: map[string]string{"type": "system"}},
	{Type: models.AssetSSHKeys, Path: "/ssh_keys", CollectionKey: "ssh_keys"},
}

// Catalog returns every synced collection in sync order.
func Catalog() []Descriptor {
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds the descriptor of t.
func Lookup(t models.AssetType) (Descriptor, bool) {
	for _, d := range catalog {
		if d.Type == t {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Known reports whether t is a synced asset type.
func Known(t models.AssetType) bool {
	_, ok := Lookup(t)
	return ok
}
