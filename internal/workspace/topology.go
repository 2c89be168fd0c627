package workspace

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/virtlab/virtlab/models"
)

// TopologyFile is the topology document name inside a workspace directory.
const TopologyFile = "nodes.json"

var validate = validator.New()

// LoadTopology reads and validates the topology document at path.
//
// Node ids come from the map keys; a declaration may repeat its own id in a
// node_id field, but the two must agree. Validation further requires every
// boot order entry to name a declared node, forbids duplicate entries, and
// requires every node carrying instance commands to appear in the boot order
// so that global bring-up reaches it.
func LoadTopology(path string) (*models.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology %s: %w", path, err)
	}

	var topo models.Topology
	if err := json.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("failed to parse topology %s: %w", path, err)
	}

	for id, node := range topo.Nodes {
		if node == nil {
			return nil, fmt.Errorf("topology node %q has no declaration", id)
		}
		if node.ID == "" {
			node.ID = id
		} else if node.ID != id {
			return nil, fmt.Errorf("topology node %q declares mismatching node_id %q", id, node.ID)
		}
	}

	if err := ValidateTopology(&topo); err != nil {
		return nil, fmt.Errorf("invalid topology %s: %w", path, err)
	}
	return &topo, nil
}

// ValidateTopology checks structural and cross-reference invariants of a
// topology. It is exposed separately so the CLI can validate a document
// without building a workspace around it.
func ValidateTopology(topo *models.Topology) error {
	if len(topo.Nodes) == 0 {
		return fmt.Errorf("topology declares no nodes")
	}

	for id, node := range topo.Nodes {
		if err := validate.Struct(node); err != nil {
			return fmt.Errorf("node %q: %w", id, err)
		}
	}

	seen := make(map[string]bool, len(topo.BootOrder))
	for _, id := range topo.BootOrder {
		if topo.Node(id) == nil {
			return fmt.Errorf("boot_order references undeclared node %q", id)
		}
		if seen[id] {
			return fmt.Errorf("boot_order lists node %q more than once", id)
		}
		seen[id] = true
	}

	for id, node := range topo.Nodes {
		if len(node.InstanceCommands) > 0 && !seen[id] {
			return fmt.Errorf("node %q has instance_commands but is missing from boot_order", id)
		}
	}
	return nil
}
