package cli

import (
	"encoding/hex"
	"fmt"
	"strings"

	"corenet/pkg/cluster"
	"corenet/pkg/gdb"
	"corenet/pkg/link"
	"corenet/pkg/nodeaddr"
	"corenet/pkg/transport"
)

// Error ranges below follow spec §6's convention ("a convention reserves
// 0 for success and small negatives for per-command failures, with a
// dedicated error block"); each command family gets its own contiguous
// block so codes never collide across families.
const (
	errClusterBadArgs  = -100
	errClusterNotFound = -101
	errClusterDup      = -102

	errLinkBadArgs  = -110
	errLinkNotFound = -111

	errGDBBadArgs = -120
	errGDBApply   = -121
)

// RegisterClusterCommands wires "cluster_list", "cluster_members", and
// "cluster_member_add" against reg, exposing the cluster package the way
// spec §4.5 says the CLI channel "exposes everything above".
func RegisterClusterCommands(r *CommandRegistry, reg *cluster.Registry) error {
	if err := r.Register(&Command{
		Name: "cluster_list",
		Docs: "list every registered cluster's GUUID, mnemonic, role, and member count",
		Handler: func(argc int, argv []string, reply *Reply, version uint8) int {
			out := make([]map[string]any, 0)
			for _, c := range reg.All() {
				out = append(out, map[string]any{
					"guuid":    c.GUUID.String(),
					"mnemonic": c.Mnemonic,
					"role":     int(c.Role),
					"members":  len(c.Members()),
				})
			}
			reply.Type = ResultJSON
			reply.Value = out
			return 0
		},
	}); err != nil {
		return err
	}

	if err := r.Register(&Command{
		Name: "cluster_members",
		Docs: "cluster_members <guuid>: list a cluster's member addresses",
		Handler: func(argc int, argv []string, reply *Reply, version uint8) int {
			if argc < 1 {
				return errClusterBadArgs
			}
			guuid, err := nodeaddr.ParseGUUID(argv[0])
			if err != nil {
				return errClusterBadArgs
			}
			c, ok := reg.Get(guuid)
			if !ok {
				return errClusterNotFound
			}
			out := make([]string, 0)
			for _, m := range c.Members() {
				out = append(out, m.Addr.String())
			}
			reply.Type = ResultJSON
			reply.Value = out
			return 0
		},
	}); err != nil {
		return err
	}

	return r.Register(&Command{
		Name: "cluster_member_add",
		Docs: "cluster_member_add <guuid> <addr>: add addr as an enabled member",
		Handler: func(argc int, argv []string, reply *Reply, version uint8) int {
			if argc < 2 {
				return errClusterBadArgs
			}
			guuid, err := nodeaddr.ParseGUUID(argv[0])
			if err != nil {
				return errClusterBadArgs
			}
			addr, err := nodeaddr.ParseAddress(argv[1])
			if err != nil {
				return errClusterBadArgs
			}
			c, ok := reg.Get(guuid)
			if !ok {
				return errClusterNotFound
			}
			if err := c.MemberAdd(addr, cluster.RoleEnabled, nil, nil); err != nil {
				return errClusterDup
			}
			reply.Type = ResultBool
			reply.Value = true
			return 0
		},
	})
}

// RegisterLinkCommands wires "link_status" and "link_ignored" against m.
func RegisterLinkCommands(r *CommandRegistry, m *link.Manager) error {
	if err := r.Register(&Command{
		Name: "link_status",
		Docs: "link_status <addr>: report a single link's state and attempt count",
		Handler: func(argc int, argv []string, reply *Reply, version uint8) int {
			if argc < 1 {
				return errLinkBadArgs
			}
			addr, err := nodeaddr.ParseAddress(argv[0])
			if err != nil {
				return errLinkBadArgs
			}
			l, ok := m.FindLink(addr)
			if !ok {
				return errLinkNotFound
			}
			reply.Type = ResultJSON
			reply.Value = map[string]any{
				"addr":     l.Addr.String(),
				"state":    int(l.State),
				"attempts": l.Attempts,
			}
			return 0
		},
	}); err != nil {
		return err
	}

	return r.Register(&Command{
		Name: "link_ignored",
		Docs: "link_ignored <addr>: report whether addr is currently on the ignored list",
		Handler: func(argc int, argv []string, reply *Reply, version uint8) int {
			if argc < 1 {
				return errLinkBadArgs
			}
			addr, err := nodeaddr.ParseAddress(argv[0])
			if err != nil {
				return errLinkBadArgs
			}
			reply.Type = ResultBool
			reply.Value = m.IsIgnored(addr)
			return 0
		},
	})
}

// RegisterGDBCommands wires "global_db_groups", "global_db_read", and
// "global_db_dump" against drv.
func RegisterGDBCommands(r *CommandRegistry, drv gdb.Driver) error {
	if err := r.Register(&Command{
		Name: "global_db_groups",
		Docs: "global_db_groups <mask>: list group names matching a shell-glob mask",
		Handler: func(argc int, argv []string, reply *Reply, version uint8) int {
			if argc < 1 {
				return errGDBBadArgs
			}
			groups, err := drv.GetGroupsByMask(argv[0])
			if err != nil {
				return errGDBApply
			}
			reply.Type = ResultJSON
			reply.Value = groups
			return 0
		},
	}); err != nil {
		return err
	}

	return r.Register(&Command{
		Name: "global_db_read",
		Docs: "global_db_read <group> [key]: read one key or the whole group",
		Handler: func(argc int, argv []string, reply *Reply, version uint8) int {
			if argc < 1 {
				return errGDBBadArgs
			}
			var keyPtr *string
			if argc >= 2 {
				keyPtr = &argv[1]
			}
			objs, err := drv.ReadStoreObj(argv[0], keyPtr, nil, false)
			if err != nil {
				return errGDBApply
			}
			out := make([]map[string]any, 0, len(objs))
			for _, o := range objs {
				out = append(out, map[string]any{
					"key":   o.Key,
					"value": string(o.Value),
					"ts":    o.Timestamp.UnixNano(),
				})
			}
			reply.Type = ResultJSON
			reply.Value = out
			return 0
		},
	}); err != nil {
		return err
	}

	return r.Register(&Command{
		Name: "global_db_dump",
		Docs: "global_db_dump <group> <key>: hex-encode one object's RLP encoding",
		Handler: func(argc int, argv []string, reply *Reply, version uint8) int {
			if argc < 2 {
				return errGDBBadArgs
			}
			key := argv[1]
			count := 1
			objs, err := drv.ReadStoreObj(argv[0], &key, &count, false)
			if err != nil || len(objs) == 0 {
				return errGDBApply
			}
			buf, err := gdb.EncodeRLP(objs[0])
			if err != nil {
				return errGDBApply
			}
			reply.Type = ResultString
			reply.Value = hex.EncodeToString(buf)
			return 0
		},
	})
}

// RegisterTransportCommands wires "transport_list" against reg.
func RegisterTransportCommands(r *CommandRegistry, reg *transport.Registry) error {
	return r.Register(&Command{
		Name: "transport_list",
		Docs: "list every registered transport's name, type id, and capability bitmask",
		Handler: func(argc int, argv []string, reply *Reply, version uint8) int {
			out := make([]map[string]any, 0)
			for _, t := range reg.All() {
				out = append(out, map[string]any{
					"name":         t.Name,
					"type_id":      int(t.ID),
					"capabilities": uint32(t.Caps),
				})
			}
			reply.Type = ResultJSON
			reply.Value = out
			return 0
		},
	})
}

// RegisterHelpCommand wires "help", which lists every registered
// command's name and docs — the legacy free-text reply style spec §7
// allows alongside structured JSON-RPC errors.
func RegisterHelpCommand(r *CommandRegistry) error {
	return r.Register(&Command{
		Name: "help",
		Docs: "list every registered command",
		Handler: func(argc int, argv []string, reply *Reply, version uint8) int {
			docs := r.Docs()
			var b strings.Builder
			for name, doc := range docs {
				fmt.Fprintf(&b, "%s: %s\n", name, doc)
			}
			reply.Type = ResultString
			reply.Value = b.String()
			return 0
		},
	})
}
