package models

// Node describes one declared virtual environment unit: how to provision it,
// which apps run on it, and which commands bring it into service.
//
// Nodes are loaded from the workspace topology document (nodes.json). Example:
//
//	{
//	  "nodes": {
//	    "ood1": {
//	      "template": "node-base",
//	      "params": {"cpus": 2, "memory": "2G", "disk": "10G"},
//	      "network": {"subnet": "10.77.0.0/24"},
//	      "apps": {"nodeos": {"zone_id": "zone-a"}},
//	      "init_commands": ["mkdir -p /opt/nodeos"],
//	      "instance_commands": ["echo {{sn1.ip}} >> /etc/hosts"],
//	      "directories": {"logs": "/var/log/nodeos"}
//	    }
//	  },
//	  "boot_order": ["sn1", "ood1"]
//	}
type Node struct {
	// ID is the unique node identifier within the topology
	ID string `json:"node_id" validate:"required"`

	// Template is the provisioning template reference (e.g. a cloud-init
	// template name for the multipass backend, an image for docker)
	Template string `json:"template"`

	// Params holds compute sizing for provisioning
	Params ProvisionParams `json:"params"`

	// Network holds backend-specific network parameters
	Network map[string]string `json:"network,omitempty"`

	// Apps maps an app name to that app's per-node instance parameters
	Apps map[string]map[string]string `json:"apps,omitempty"`

	// InitCommands run inside the node immediately after provisioning
	InitCommands []string `json:"init_commands,omitempty"`

	// InstanceCommands run during global bring-up, in topology boot order,
	// and may reference attributes of nodes created earlier in that order
	InstanceCommands []string `json:"instance_commands,omitempty"`

	// Directories maps logical directory names ("logs", ...) to paths
	Directories map[string]string `json:"directories,omitempty"`
}

// ProvisionParams is the compute sizing used when provisioning a node.
type ProvisionParams struct {
	// CPUs is the virtual CPU count (default 1)
	CPUs int `json:"cpus,omitempty" validate:"omitempty,min=1"`

	// Memory is the memory size in provider notation, e.g. "2G"
	Memory string `json:"memory,omitempty"`

	// Disk is the disk size in provider notation, e.g. "10G"
	Disk string `json:"disk,omitempty"`
}

// Dir returns the path for a logical directory name, or "" when undeclared.
func (n *Node) Dir(name string) string {
	return n.Directories[name]
}

// HasApp reports whether the app is declared on this node.
func (n *Node) HasApp(appName string) bool {
	_, ok := n.Apps[appName]
	return ok
}

// Topology is the complete set of nodes plus the declared bring-up order.
//
// BootOrder controls which node's instance commands execute first during
// global bring-up. A node later in the order may reference an earlier node's
// resolved attributes (its address, for instance), never the reverse. The
// engine does not verify that references respect the order; topology authors
// own that invariant.
type Topology struct {
	// Nodes maps node id to its declaration
	Nodes map[string]*Node `json:"nodes" validate:"required,dive"`

	// BootOrder is the global bring-up order, a permutation of node ids
	BootOrder []string `json:"boot_order,omitempty"`
}

// Node returns the declaration for a node id, or nil when unknown.
func (t *Topology) Node(nodeID string) *Node {
	return t.Nodes[nodeID]
}

// NodeIDs returns every declared node id. Order is not significant; callers
// that need a deterministic sequence must sort or use BootOrder.
func (t *Topology) NodeIDs() []string {
	ids := make([]string, 0, len(t.Nodes))
	for id := range t.Nodes {
		ids = append(ids, id)
	}
	return ids
}

// AppParams returns the per-node instance parameters declared for an app on a
// node, or nil when the node or the app is unknown.
func (t *Topology) AppParams(nodeID, appName string) map[string]string {
	node := t.Node(nodeID)
	if node == nil {
		return nil
	}
	return node.Apps[appName]
}

// HasApp reports whether the app is declared on the node.
func (t *Topology) HasApp(nodeID, appName string) bool {
	node := t.Node(nodeID)
	return node != nil && node.HasApp(appName)
}
