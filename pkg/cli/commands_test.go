package cli

import (
	"testing"

	"corenet/pkg/cluster"
	"corenet/pkg/gdb"
	"corenet/pkg/nodeaddr"
)

func TestRegisterClusterCommandsListAndMembers(t *testing.T) {
	reg := cluster.NewRegistry(nil)
	guuid := nodeaddr.GUUID{NetworkID: 1, ServiceID: 2}
	c, err := reg.New("mesh", guuid, cluster.RoleEnabled)
	if err != nil {
		t.Fatalf("new cluster: %v", err)
	}
	addr := nodeaddr.Address(9)
	if err := c.MemberAdd(addr, cluster.RoleEnabled, nil, nil); err != nil {
		t.Fatalf("member add: %v", err)
	}

	r := NewCommandRegistry()
	if err := RegisterClusterCommands(r, reg); err != nil {
		t.Fatalf("register cluster commands: %v", err)
	}

	cmd, _, ok := r.Resolve("cluster_list")
	if !ok {
		t.Fatalf("cluster_list not registered")
	}
	var reply Reply
	if code := cmd.run(0, nil, &reply, 1); code != 0 {
		t.Fatalf("cluster_list code = %d", code)
	}
	list, ok := reply.Value.([]map[string]any)
	if !ok || len(list) != 1 {
		t.Fatalf("unexpected cluster_list result: %+v", reply.Value)
	}

	cmd, _, ok = r.Resolve("cluster_members")
	if !ok {
		t.Fatalf("cluster_members not registered")
	}
	reply = Reply{}
	if code := cmd.run(1, []string{guuid.String()}, &reply, 1); code != 0 {
		t.Fatalf("cluster_members code = %d", code)
	}
	members, ok := reply.Value.([]string)
	if !ok || len(members) != 1 || members[0] != addr.String() {
		t.Fatalf("unexpected cluster_members result: %+v", reply.Value)
	}
}

func TestRegisterGDBCommandsReadAndGroups(t *testing.T) {
	drv := gdb.NewMemDriver()
	obj := &gdb.Object{Group: "demo", Key: "k1", Value: []byte("v1"), CRC: 1}
	if err := drv.ApplyStoreObj(obj); err != nil {
		t.Fatalf("apply: %v", err)
	}

	r := NewCommandRegistry()
	if err := RegisterGDBCommands(r, drv); err != nil {
		t.Fatalf("register gdb commands: %v", err)
	}

	cmd, _, ok := r.Resolve("global_db_groups")
	if !ok {
		t.Fatalf("global_db_groups not registered")
	}
	var reply Reply
	if code := cmd.run(1, []string{"*"}, &reply, 1); code != 0 {
		t.Fatalf("global_db_groups code = %d", code)
	}
	groups, ok := reply.Value.([]string)
	if !ok || len(groups) != 1 || groups[0] != "demo" {
		t.Fatalf("unexpected groups: %+v", reply.Value)
	}

	cmd, _, ok = r.Resolve("global_db_read")
	if !ok {
		t.Fatalf("global_db_read not registered")
	}
	reply = Reply{}
	if code := cmd.run(2, []string{"demo", "k1"}, &reply, 1); code != 0 {
		t.Fatalf("global_db_read code = %d", code)
	}
	rows, ok := reply.Value.([]map[string]any)
	if !ok || len(rows) != 1 || rows[0]["value"] != "v1" {
		t.Fatalf("unexpected read result: %+v", reply.Value)
	}
}

func TestHelpCommandListsRegisteredCommands(t *testing.T) {
	r := NewCommandRegistry()
	if err := r.Register(&Command{
		Name:    "noop",
		Docs:    "does nothing",
		Handler: func(argc int, argv []string, reply *Reply, version uint8) int { return 0 },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterHelpCommand(r); err != nil {
		t.Fatalf("register help: %v", err)
	}
	cmd, _, ok := r.Resolve("help")
	if !ok {
		t.Fatalf("help not registered")
	}
	var reply Reply
	if code := cmd.run(0, nil, &reply, 1); code != 0 {
		t.Fatalf("help code = %d", code)
	}
	text, ok := reply.Value.(string)
	if !ok || text == "" {
		t.Fatalf("expected non-empty help text")
	}
}
