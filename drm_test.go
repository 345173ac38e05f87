package drm_test

import (
	"testing"

	"github.com/NeowayLabs/drm/v2"
)

func TestCardPath(t *testing.T) {
	if got := drm.CardPath(1); got != "/dev/dri/card1" {
		t.Errorf("unexpected card path %q", got)
	}
}

func TestDRIOpen(t *testing.T) {
	requireCard(t)
	file, err := drm.OpenCard(0)
	if err != nil {
		t.Fatal(err)
	}
	file.Close()
}

func TestAvailableCard(t *testing.T) {
	requireCard(t)
	v, err := drm.Available()
	if err != nil {
		t.Fatal(err)
	}
	if v.Major == 0 && v.Minor == 0 && v.Patch == 0 {
		t.Fatalf("failed to get driver version: %#v", v)
	}
	if cardInfo.version.Name != "" && v.Name != cardInfo.version.Name {
		t.Errorf("driver name %q differs from %q", v.Name, cardInfo.version.Name)
	}

	t.Logf("Driver: %s", v)
	t.Logf("Driver description: %s", v.Desc)
}
