package cli

import "testing"

func TestNewRootCmdHasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd(BuildInfo{Version: "test"})

	want := map[string]bool{"run": false, "daemon": false, "skill": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected a %q subcommand", name)
		}
	}
}

func TestDaemonCmdHasLifecycleSubcommands(t *testing.T) {
	root := NewRootCmd(BuildInfo{Version: "test"})
	daemonCmd, _, err := root.Find([]string{"daemon"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	want := map[string]bool{
		"start": false, "stop": false, "restart": false,
		"status": false, "install": false, "uninstall": false, "logs": false,
	}
	for _, c := range daemonCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected a daemon %q subcommand", name)
		}
	}
}

func TestSkillCmdHasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd(BuildInfo{Version: "test"})
	skillCmd, _, err := root.Find([]string{"skill"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	want := map[string]bool{"list": false, "info": false, "reload": false, "pack": false, "install": false, "new": false}
	for _, c := range skillCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected a skill %q subcommand", name)
		}
	}
}
