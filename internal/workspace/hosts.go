package workspace

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"

	"github.com/virtlab/virtlab/internal/device"
)

// HostsFile is the optional external host registry inside a workspace
// directory. Nodes listed in it are reached over ssh instead of through the
// VM backend, so a topology can mix provisioned VMs with pre-existing
// machines.
//
// One section per node id:
//
//	[sn1]
//	host = 198.51.100.7
//	port = 2222
//	user = ubuntu
//	identity_file = ~/.ssh/lab_ed25519
const HostsFile = "hosts.ini"

// LoadHostRegistry reads the host registry at path. A missing file is not an
// error; it simply means every node is backend-managed.
func LoadHostRegistry(path string) (map[string]device.SSHOptions, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]device.SSHOptions{}, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read host registry %s: %w", path, err)
	}

	hosts := make(map[string]device.SSHOptions)
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		opts := device.SSHOptions{
			Host:         section.Key("host").String(),
			User:         section.Key("user").String(),
			IdentityFile: section.Key("identity_file").String(),
		}
		if opts.Host == "" {
			return nil, fmt.Errorf("host registry %s: section %q has no host", path, section.Name())
		}
		if section.HasKey("port") {
			port, err := section.Key("port").Int()
			if err != nil {
				return nil, fmt.Errorf("host registry %s: section %q has invalid port: %w", path, section.Name(), err)
			}
			opts.Port = port
		}
		hosts[section.Name()] = opts
	}
	return hosts, nil
}
