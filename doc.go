// Package virtlab provisions disposable multi-node virtual machine
// environments for testing distributed systems.
//
// # Overview
//
// A workspace directory declares everything about one test environment:
//
//   - nodes.json: the multi-node topology with provisioning parameters,
//     per-node app assignments, init and instance commands and a global
//     bring-up order
//   - apps/<name>/app.yaml: installable apps with their directories and
//     named command templates
//   - hosts.ini: optional pre-existing machines reached over ssh instead of
//     a VM backend
//
// The virtlab CLI drives the whole lifecycle: provision the topology, deploy
// apps onto the nodes, run ad-hoc commands, snapshot and restore machine
// state, and collect every node's logs to the controlling host.
//
// # Architecture
//
//	┌──────────────┐
//	│  virtlab CLI │
//	└──────┬───────┘
//	       │
//	┌──────▼───────┐      ┌───────────────┐
//	│  Workspace   │◄─────┤  nodes.json   │
//	│ orchestrator │      │  apps/  hosts │
//	└──────┬───────┘      └───────────────┘
//	       │
//	┌──────▼───────┐      ┌───────────────┐
//	│   Devices    │──────►  VM backend   │
//	│ (vm or ssh)  │      │ (multipass,   │
//	└──────────────┘      │  docker)      │
//	                      └───────────────┘
//
// # Command Templates
//
// Command strings in topology and app descriptors may reference live
// environment attributes with `{{object.attribute}}`, for example
// `{{sn1.ip}}` or `{{system.base_dir}}`. References resolve at execution
// time against the running environment; an unresolved reference aborts the
// command batch rather than running a half-substituted command.
package virtlab
