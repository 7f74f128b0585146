package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	root := buildRootCmd()

	want := map[string]bool{"serve": false, "skills": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected root command to include %q", name)
		}
	}
}
