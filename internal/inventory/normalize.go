package inventory

import (
	"encoding/json"
	"sort"
	"strings"

	"gorm.io/datatypes"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
)

// text returns v trimmed when it is a string.
func text(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func firstText(item provider.Item, paths ...[]string) string {
	for _, p := range paths {
		if s := text(provider.Dig(item, p...)); s != "" {
			return s
		}
	}
	return ""
}

// externalID is the provider id, or the name for objects without one.
func externalID(item provider.Item) string {
	if id := provider.String(item["id"]); id != "" {
		return id
	}
	return text(item["name"])
}

// assetRow maps a remote object onto the generic asset columns. ok is false
// when the object has no usable identity.
func assetRow(t models.AssetType, item provider.Item) (row models.ResourceAsset, ok bool) {
	id := externalID(item)
	if id == "" {
		return row, false
	}
	row.AssetType = t
	row.ExternalID = id
	row.Name = firstText(item, []string{"name"}, []string{"description"}, []string{"domain"})
	if row.Name == "" {
		row.Name = string(t) + "-" + id
	}
	row.Status = assetStatus(item)
	row.Datacenter = firstText(item,
		[]string{"datacenter", "name"},
		[]string{"datacenter", "location", "name"},
		[]string{"location", "name"},
		[]string{"home_location", "name"},
	)
	row.IPv4 = firstText(item, []string{"public_net", "ipv4", "ip"}, []string{"ip"}, []string{"public_ip"})
	row.RawAttributes = raw(item)
	return row, true
}

func assetStatus(item provider.Item) string {
	for _, k := range []string{"status", "state"} {
		if s := text(item[k]); s != "" {
			return s
		}
	}
	switch p := item["protection"].(type) {
	case string:
		if s := strings.TrimSpace(p); s != "" {
			return s
		}
	case map[string]any:
		var on []string
		for k, v := range p {
			if b, _ := v.(bool); b {
				on = append(on, k)
			}
		}
		sort.Strings(on)
		return "protection:" + strings.Join(on, ",")
	}
	return "unknown"
}

// serverRow maps a server object onto the servers table. Servers without a
// positive numeric id are skipped.
func serverRow(item provider.Item) (row models.Server, ok bool) {
	id, ok := provider.Float(item["id"])
	if !ok || id <= 0 {
		return row, false
	}
	row.ExternalID = provider.String(item["id"])
	row.Name = text(item["name"])
	if row.Name == "" {
		row.Name = "srv-" + row.ExternalID
	}
	row.Status = text(item["status"])
	if row.Status == "" {
		row.Status = "unknown"
	}
	row.Datacenter = firstText(item, []string{"datacenter", "location", "name"}, []string{"datacenter", "name"})
	row.IPv4 = text(provider.Dig(item, "public_net", "ipv4", "ip"))
	if labels := provider.Object(item["labels"]); labels != nil {
		row.Labels = raw(labels)
	} else {
		row.Labels = datatypes.JSON("{}")
	}
	row.RawAttributes = raw(item)
	return row, true
}

func raw(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}
