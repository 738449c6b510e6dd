package datamodel_test

import (
	"testing"

	"github.com/bdobrica/matterbridge/internal/matterbridge/datamodel"
)

func TestStatic_ClusterNameByID(t *testing.T) {
	d := datamodel.NewStatic()
	name, ok := d.ClusterNameByID(0x0006)
	if !ok || name != "OnOff" {
		t.Errorf("ClusterNameByID(0x0006): got (%q, %v)", name, ok)
	}
	if _, ok := d.ClusterNameByID(0xFFFF); ok {
		t.Error("expected unknown cluster id to report not-ok")
	}
}

func TestStatic_AttributeTypeAndWritable(t *testing.T) {
	d := datamodel.NewStatic()
	typ, ok := d.AttributeType(0x0008, 0x0000)
	if !ok || typ != "uint8" {
		t.Errorf("AttributeType: got (%q, %v)", typ, ok)
	}
	if !d.IsWritable(0x0008, 0x0000) {
		t.Error("expected CurrentLevel to be writable")
	}
	if d.IsWritable(0x0006, 0x0000) {
		t.Error("expected OnOff attribute to be read-only")
	}
}

func TestStatic_CommandNameByCode(t *testing.T) {
	d := datamodel.NewStatic()
	name, ok := d.CommandNameByCode(0x0006, 0x01)
	if !ok || name != "On" {
		t.Errorf("CommandNameByCode: got (%q, %v)", name, ok)
	}
}

func TestStatic_ClustersForDeviceType(t *testing.T) {
	d := datamodel.NewStatic()
	clusters := d.ClustersForDeviceType("DimmableLight")
	if len(clusters) == 0 {
		t.Fatal("expected DimmableLight to list clusters")
	}
	if d.ClustersForDeviceType("Nonexistent") != nil {
		t.Error("expected unknown device type to return nil")
	}
}

func TestStatic_IsEnum(t *testing.T) {
	d := datamodel.NewStatic()
	if _, ok := d.IsEnum(0x0006, 0x0000); ok {
		t.Error("expected OnOff attribute to not be an enum")
	}
}

func TestStatic_AttributesForCluster(t *testing.T) {
	d := datamodel.NewStatic()
	attrs := d.AttributesForCluster("OnOff")
	if len(attrs) != 1 || attrs[0].Name != "OnOff" {
		t.Errorf("AttributesForCluster(OnOff): got %+v", attrs)
	}
}
