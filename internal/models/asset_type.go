package models

// AssetType names a mirrored resource collection.
type AssetType string

const (
	AssetServers         AssetType = "servers"
	AssetVolumes         AssetType = "volumes"
	AssetLoadBalancers   AssetType = "load_balancers"
	AssetFloatingIPs     AssetType = "floating_ips"
	AssetPrimaryIPs      AssetType = "primary_ips"
	AssetFirewalls       AssetType = "firewalls"
	AssetNetworks        AssetType = "networks"
	AssetPlacementGroups AssetType = "placement_groups"
	AssetSnapshots       AssetType = "snapshots"
	AssetBackups         AssetType = "backups"
	AssetAppImages       AssetType = "app_images"
	AssetSystemImages    AssetType = "system_images"
	AssetSSHKeys         AssetType = "ssh_keys"

	// AssetLegacyImages is the retired catch-all images type; rows of this
	// type are removed on sync.
	AssetLegacyImages AssetType = "images"
)
