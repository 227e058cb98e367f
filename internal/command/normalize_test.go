package command

import "testing"

func TestNormalize_NamespaceStripping(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"/minecraft:stop", "stop"},
		{"BUKKIT:Kill arg1", "kill"},
		{"/op Steve", "op"},
		{"stop", "stop"},
		{"/Save-All flush", "save-all"},
		{"//stop", "stop"},
		{"/minecraft:bukkit:ban Steve", "ban"},
		{"  /kick   Steve reason", "kick"},
		{"/spigot:reload", "spigot:reload"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.raw); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestNormalize_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n", "/", "/minecraft:"} {
		if got := Normalize(raw); got != "" {
			t.Errorf("Normalize(%q) = %q, want empty", raw, got)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"", " ", "/stop", "//MINECRAFT:/bukkit:Stop now", "minecraft:minecraft:op x",
		"/Ünïcode", "bukkit:", "/a:b:c", "/minecraft:/bukkit:/kill",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizer_CustomNamespaces(t *testing.T) {
	n := NewNormalizer([]string{"spigot:", " Paper ", ""})
	if got := n.Normalize("/paper:Reload confirm"); got != "reload" {
		t.Fatalf("expected reload, got %q", got)
	}
	if got := n.Normalize("/minecraft:stop"); got != "minecraft:stop" {
		t.Fatalf("minecraft prefix should be kept with custom list, got %q", got)
	}
}

func TestArgs(t *testing.T) {
	args := Args("/allowplayer Alice")
	if len(args) != 1 || args[0] != "Alice" {
		t.Fatalf("Args = %v", args)
	}
	if Args("/allowplayer") != nil {
		t.Fatal("expected nil args")
	}
}
