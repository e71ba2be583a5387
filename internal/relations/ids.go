package relations

import (
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
)

// IDSet is a set of external ids.
type IDSet map[string]bool

func (s IDSet) Has(id string) bool { return s[id] }

func (s IDSet) add(v any) {
	if id := provider.String(v); id != "" {
		s[id] = true
	}
}

// collect accepts a scalar id, or a list of scalar ids and {"id": ...} objects.
func (s IDSet) collect(v any) {
	list, ok := v.([]any)
	if !ok {
		s.add(v)
		return
	}
	for _, entry := range list {
		if obj := provider.Object(entry); obj != nil {
			s.add(obj["id"])
			continue
		}
		s.add(entry)
	}
}

// ReferencedIDs extracts, per asset type, the ids the server payload points at.
func ReferencedIDs(raw provider.Item) map[models.AssetType]IDSet {
	out := map[models.AssetType]IDSet{}
	for _, t := range Tracked {
		out[t] = IDSet{}
	}

	for _, fw := range provider.List(provider.Dig(raw, "public_net", "firewalls")) {
		out[models.AssetFirewalls].add(provider.Dig(fw, "id"))
	}
	for _, family := range []string{"ipv4", "ipv6"} {
		out[models.AssetPrimaryIPs].add(provider.Dig(raw, "public_net", family, "id"))
	}
	out[models.AssetFloatingIPs].collect(provider.Dig(raw, "public_net", "floating_ips"))
	out[models.AssetVolumes].collect(raw["volumes"])
	for _, pn := range provider.List(raw["private_net"]) {
		out[models.AssetNetworks].add(provider.Dig(pn, "network"))
	}
	out[models.AssetPlacementGroups].add(provider.Dig(raw, "placement_group", "id"))
	return out
}
