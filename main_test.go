package main

import "testing"

func TestOverrideFlags(t *testing.T) {
	o := overrideFlags{}
	if err := o.Set("gs_config.cameras.kCamera1FocalLength=6.2"); err != nil {
		t.Fatal(err)
	}
	if err := o.Set("_preset=indoor"); err != nil {
		t.Fatal(err)
	}
	if o["gs_config.cameras.kCamera1FocalLength"] != "6.2" || o["_preset"] != "indoor" {
		t.Errorf("overrides = %v", o)
	}

	// Values may themselves contain '='.
	if err := o.Set("k=a=b"); err != nil {
		t.Fatal(err)
	}
	if o["k"] != "a=b" {
		t.Errorf("k = %q", o["k"])
	}

	if err := o.Set("no-equals"); err == nil {
		t.Error("missing '=' should error")
	}
	if err := o.Set("=value"); err == nil {
		t.Error("empty key should error")
	}
}
